package network

import "github.com/google/uuid"

// Namespace prefixes every block and item this package places or hands out.
const Namespace = "voidstorage"

// Item and block type names, without namespace.
const (
	BlockAnchorCore     = "Anomaly_Core"
	BlockAnchorPillar   = "Anomaly_Anchor"
	BlockInputTransfer  = "Sigil_Absorption"
	BlockOutputTransfer = "Sigil_Manifestation"
	ItemBell            = "Void_Bell"
	ItemEssence         = "Void_Essence"
)

// Qualified returns the namespaced form of a block or item name.
func Qualified(name string) string { return Namespace + ":" + name }

var (
	AccessHandlerID         = uuid.MustParse("00000000-0000-0000-0001-000000000001")
	AnchorHandlerID         = uuid.MustParse("00000000-0000-0000-0001-000000000002")
	InputTransferHandlerID  = uuid.MustParse("00000000-0000-0000-0001-000000000003")
	OutputTransferHandlerID = uuid.MustParse("00000000-0000-0000-0001-000000000004")
	TransferConfigHandlerID = uuid.MustParse("00000000-0000-0000-0001-000000000005")
	DepositHandlerID        = uuid.MustParse("00000000-0000-0000-0001-000000000006")
	WithdrawHandlerID       = uuid.MustParse("00000000-0000-0000-0001-000000000007")
	BreakAnchorHandlerID    = uuid.MustParse("00000000-0000-0000-0001-000000000008")

	TransferMechanicID = uuid.MustParse("00000000-0000-0000-0002-000000000001")
	VerifyMechanicID   = uuid.MustParse("00000000-0000-0000-0002-000000000002")
)
