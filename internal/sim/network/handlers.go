package network

import (
	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/adapter"
	"voidstorage.ai/internal/sim/dispatch"
	"voidstorage.ai/internal/sim/orphan"
	"voidstorage.ai/internal/sim/result"
	"voidstorage.ai/internal/sim/storage"
	"voidstorage.ai/internal/sim/transfer"
	"voidstorage.ai/internal/sim/validation"
)

// Handlers returns every interaction handler of the network.
func (s *Service) Handlers() []dispatch.Handler {
	return []dispatch.Handler{
		&AccessHandler{svc: s},
		&AnchorHandler{svc: s},
		NewTransferHandler(s, transfer.Input),
		NewTransferHandler(s, transfer.Output),
		&TransferConfigHandler{svc: s},
		&DepositHandler{svc: s},
		&WithdrawHandler{svc: s},
		&BreakAnchorHandler{svc: s},
	}
}

// AccessHandler opens the nearest storage for the caller.
type AccessHandler struct{ svc *Service }

func (h *AccessHandler) ID() uuid.UUID { return AccessHandlerID }
func (h *AccessHandler) Priority() int { return 0 }
func (h *AccessHandler) Name() string  { return "access" }

func (h *AccessHandler) Handle(ic adapter.InteractionContext) (dispatch.Result, error) {
	at, ok := ic.CallerPosition()
	if !ok {
		return dispatch.Skipped("Caller position unknown"), nil
	}
	if r := h.svc.OpenStorage(ic.CallerID(), at); r.IsFailure() {
		return dispatch.Skipped(r.Err()), nil
	}
	return dispatch.Success(), nil
}

// AnchorHandler places an anchor core above the target block. Holding a
// tagged essence relinks the orphaned ledger it names.
type AnchorHandler struct{ svc *Service }

func (h *AnchorHandler) ID() uuid.UUID { return AnchorHandlerID }
func (h *AnchorHandler) Priority() int { return 10 }
func (h *AnchorHandler) Name() string  { return "anchor" }

func (h *AnchorHandler) Handle(ic adapter.InteractionContext) (dispatch.Result, error) {
	target, ok := ic.TargetBlock()
	if !ok {
		return dispatch.Skipped("No target block"), nil
	}
	core := target.Above()
	if _, exists := h.svc.anchors.At(core); exists {
		return dispatch.Skipped("Anchor already exists"), nil
	}

	inv := ic.Inventory()
	var essence *uuid.UUID
	if inv != nil {
		if item, ok := inv.ItemInHand(); ok && validation.StripNamespace(item) == ItemEssence {
			if tag, ok := inv.Tag(orphan.TagStorageID); ok {
				id, ok := validation.ParseUUID(tag)
				if !ok {
					return dispatch.Failed("Void Essence carries an invalid storage id"), nil
				}
				essence = &id
			}
		}
	}

	if _, err := h.svc.PlaceAnchor(ic.World(), core, essence); err != nil {
		if result.Is(err, result.KindFault) {
			return dispatch.Result{}, err
		}
		return dispatch.Failed(err.Error()), nil
	}
	if inv != nil {
		inv.ConsumeInHand()
	}
	return dispatch.Success(), nil
}

// TransferHandler places an input or output transfer on top of a container.
// The transfer belongs to the nearest anchor in range.
type TransferHandler struct {
	svc  *Service
	mode transfer.Mode
}

func NewTransferHandler(s *Service, mode transfer.Mode) *TransferHandler {
	return &TransferHandler{svc: s, mode: mode}
}

func (h *TransferHandler) ID() uuid.UUID {
	if h.mode == transfer.Output {
		return OutputTransferHandlerID
	}
	return InputTransferHandlerID
}

func (h *TransferHandler) Priority() int { return 10 }
func (h *TransferHandler) Name() string  { return "transfer_" + h.mode.String() }

func (h *TransferHandler) Handle(ic adapter.InteractionContext) (dispatch.Result, error) {
	target, ok := ic.TargetBlock()
	if !ok {
		return dispatch.Skipped("No target block"), nil
	}
	w := ic.World()
	if w == nil {
		return dispatch.Skipped("No world"), nil
	}
	at := target.Above()
	if _, exists := h.svc.transfers.At(at); exists {
		return dispatch.Skipped("Transfer already exists"), nil
	}
	if !w.HasContainerAt(target) {
		return dispatch.Skipped("No container below"), nil
	}
	owner, ok := h.svc.resolver.Nearest(at)
	if !ok {
		return dispatch.Skipped("No anchor in range"), nil
	}
	t, err := transfer.New(owner.ID, h.mode, at)
	if err != nil {
		return dispatch.Failed(err.Error()), nil
	}
	h.svc.transfers.Register(t)
	w.PlaceBlock(at, Qualified(transferBlock(h.mode)))
	if inv := ic.Inventory(); inv != nil {
		inv.ConsumeInHand()
	}
	h.svc.cfg.Logger.Printf("%s transfer %s placed at %s for anchor %s", h.mode, t.ID, at, owner.ID)
	return dispatch.Success(), nil
}

func transferBlock(m transfer.Mode) string {
	if m == transfer.Output {
		return BlockOutputTransfer
	}
	return BlockInputTransfer
}

// Transfer config actions carried in Args.Action.
const (
	ActionAddFilter    = "add"
	ActionRemoveFilter = "remove"
	ActionClearFilters = "clear"
	ActionToggleMode   = "toggle"
)

// TransferConfigHandler edits the filters of the transfer at (or above)
// the target block.
type TransferConfigHandler struct{ svc *Service }

func (h *TransferConfigHandler) ID() uuid.UUID { return TransferConfigHandlerID }
func (h *TransferConfigHandler) Priority() int { return 20 }
func (h *TransferConfigHandler) Name() string  { return "transfer_config" }

func (h *TransferConfigHandler) Handle(ic adapter.InteractionContext) (dispatch.Result, error) {
	target, ok := ic.TargetBlock()
	if !ok {
		return dispatch.Skipped("No target block"), nil
	}
	t, ok := h.svc.transfers.At(target)
	if !ok {
		if t, ok = h.svc.transfers.At(target.Above()); !ok {
			return dispatch.Skipped("No transfer at position"), nil
		}
	}

	args := ic.Args()
	var next *transfer.Transfer
	switch args.Action {
	case ActionAddFilter:
		item := validation.StripNamespace(args.ItemID)
		if err := validation.ItemID(item); err != nil {
			return dispatch.Failed(err.Error()), nil
		}
		next = t.WithFilter(item)
	case ActionRemoveFilter:
		next = t.WithoutFilter(validation.StripNamespace(args.ItemID))
	case ActionClearFilters:
		next = t.WithFilters(nil)
	case ActionToggleMode:
		next = t.WithFilterMode(t.FilterMode.Toggle())
	default:
		return dispatch.Skipped("Unknown action: " + args.Action), nil
	}
	if !h.svc.transfers.Update(next) {
		return dispatch.Skipped("Transfer was removed"), nil
	}
	return dispatch.Success(), nil
}

// DepositHandler moves items from the caller's inventory into the nearest
// ledger. A zero quantity deposits everything carried.
type DepositHandler struct{ svc *Service }

func (h *DepositHandler) ID() uuid.UUID { return DepositHandlerID }
func (h *DepositHandler) Priority() int { return 0 }
func (h *DepositHandler) Name() string  { return "deposit" }

func (h *DepositHandler) Handle(ic adapter.InteractionContext) (dispatch.Result, error) {
	req, res, ok := h.svc.itemRequest(ic)
	if !ok {
		return res, nil
	}
	qty := req.qty
	if qty <= 0 {
		qty = req.inv.Count(req.item)
	}
	taken := req.inv.Take(req.item, qty)
	if taken == 0 {
		return dispatch.Skipped("Nothing to deposit"), nil
	}
	if _, err := req.ledger.Deposit(req.item, taken); err != nil {
		req.inv.Give(req.item, taken)
		return dispatch.Failed(err.Error()), nil
	}
	return dispatch.Success(), nil
}

// WithdrawHandler moves items from the nearest ledger to the caller.
type WithdrawHandler struct{ svc *Service }

func (h *WithdrawHandler) ID() uuid.UUID { return WithdrawHandlerID }
func (h *WithdrawHandler) Priority() int { return 0 }
func (h *WithdrawHandler) Name() string  { return "withdraw" }

func (h *WithdrawHandler) Handle(ic adapter.InteractionContext) (dispatch.Result, error) {
	req, res, ok := h.svc.itemRequest(ic)
	if !ok {
		return res, nil
	}
	if req.qty <= 0 {
		return dispatch.Failed("Quantity must be positive"), nil
	}
	got, err := req.ledger.Withdraw(req.item, req.qty)
	if err != nil {
		return dispatch.Failed(err.Error()), nil
	}
	if got == 0 {
		return dispatch.Skipped("Item not in storage"), nil
	}
	if !req.inv.Give(req.item, got) {
		if _, err := req.ledger.Deposit(req.item, got); err != nil {
			h.svc.cfg.Logger.Printf("ERROR lost %d %s returning undeliverable withdrawal: %v", got, req.item, err)
		}
		return dispatch.Failed("Inventory rejected items"), nil
	}
	return dispatch.Success(), nil
}

type itemRequest struct {
	ledger *storage.Storage
	inv    adapter.Inventory
	item   string
	qty    int64
}

func (s *Service) itemRequest(ic adapter.InteractionContext) (itemRequest, dispatch.Result, bool) {
	at, ok := ic.CallerPosition()
	if !ok {
		return itemRequest{}, dispatch.Skipped("Caller position unknown"), false
	}
	inv := ic.Inventory()
	if inv == nil {
		return itemRequest{}, dispatch.Skipped("No inventory"), false
	}
	args := ic.Args()
	item := validation.StripNamespace(args.ItemID)
	if err := validation.ItemID(item); err != nil {
		return itemRequest{}, dispatch.Failed(err.Error()), false
	}
	_, ledger, found := s.resolver.Resolve(ic.CallerID(), at)
	if !found {
		return itemRequest{}, dispatch.Skipped("No storage available"), false
	}
	return itemRequest{ledger: ledger, inv: inv, item: item, qty: args.Quantity}, dispatch.Result{}, true
}

// BreakAnchorHandler handles the removal of an anchor core block.
type BreakAnchorHandler struct{ svc *Service }

func (h *BreakAnchorHandler) ID() uuid.UUID { return BreakAnchorHandlerID }
func (h *BreakAnchorHandler) Priority() int { return 10 }
func (h *BreakAnchorHandler) Name() string  { return "break_anchor" }

func (h *BreakAnchorHandler) Handle(ic adapter.InteractionContext) (dispatch.Result, error) {
	target, ok := ic.TargetBlock()
	if !ok {
		return dispatch.Skipped("No target block"), nil
	}
	a, ok := h.svc.anchors.At(target)
	if !ok {
		return dispatch.Skipped("No anchor at position"), nil
	}
	h.svc.BreakAnchor(ic.World(), a, ic.Inventory())
	return dispatch.Success(), nil
}
