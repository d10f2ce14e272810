// Package network ties anchors, transfers and ledgers into storage networks:
// the interaction handlers that build and use them, and the mechanics that
// move items and prune broken structures.
package network

import (
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/adapter"
	"voidstorage.ai/internal/sim/anchor"
	"voidstorage.ai/internal/sim/orphan"
	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/result"
	"voidstorage.ai/internal/sim/storage"
	"voidstorage.ai/internal/sim/transfer"
)

// WindowOpener shows a ledger to a caller. The transport layer installs one.
type WindowOpener func(caller, storageID uuid.UUID, s *storage.Storage) error

type Config struct {
	// AnchorCapacity is the ledger capacity of newly placed anchors.
	AnchorCapacity int64
	AccessRange    int
	// World scopes the network to one world id. Anchor and transfer
	// positions carry no world, so mechanics ignore every other world.
	// Empty means all worlds.
	World  string
	Logger *log.Logger
	Now    func() time.Time
}

type Service struct {
	cfg       Config
	anchors   *anchor.Registry
	transfers *transfer.Registry
	ledgers   *storage.Registry
	orphans   *orphan.Registry
	resolver  *anchor.Resolver
	opener    atomic.Pointer[WindowOpener]
}

func NewService(cfg Config, anchors *anchor.Registry, transfers *transfer.Registry, ledgers *storage.Registry, orphans *orphan.Registry) *Service {
	if anchors == nil || transfers == nil || ledgers == nil || orphans == nil {
		panic("network: nil registry")
	}
	if cfg.AnchorCapacity <= 0 {
		cfg.AnchorCapacity = anchor.DefaultStorageCapacity
	}
	if cfg.AccessRange <= 0 {
		cfg.AccessRange = anchor.DefaultAccessRange
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		cfg:       cfg,
		anchors:   anchors,
		transfers: transfers,
		ledgers:   ledgers,
		orphans:   orphans,
		resolver:  anchor.NewResolver(anchors, ledgers),
	}
}

func (s *Service) Anchors() *anchor.Registry     { return s.anchors }
func (s *Service) Transfers() *transfer.Registry { return s.transfers }
func (s *Service) Ledgers() *storage.Registry    { return s.ledgers }
func (s *Service) Orphans() *orphan.Registry     { return s.orphans }
func (s *Service) Resolver() *anchor.Resolver    { return s.resolver }

func (s *Service) SetWindowOpener(fn WindowOpener) {
	if fn == nil {
		s.opener.Store(nil)
		return
	}
	s.opener.Store(&fn)
}

// Owns reports whether w is the world this network lives in.
func (s *Service) Owns(w adapter.World) bool {
	return w != nil && (s.cfg.World == "" || s.cfg.World == w.ID())
}

// OpenStorage shows the caller the ledger of the nearest anchor in range
// and returns its id.
func (s *Service) OpenStorage(caller uuid.UUID, at position.Pos) result.Result[uuid.UUID] {
	p := s.opener.Load()
	if p == nil {
		return result.Failure[uuid.UUID]("Window opener not initialized")
	}
	id, ledger, ok := s.resolver.Resolve(caller, at)
	if !ok {
		return result.Failure[uuid.UUID]("No storage available")
	}
	if err := (*p)(caller, id, ledger); err != nil {
		return result.Failure[uuid.UUID](err.Error())
	}
	return result.Success(id)
}

// PlaceAnchor registers a new anchor with its core at core. If essence is
// non-nil the anchor relinks that orphaned ledger instead of creating one;
// ledgers that are anchored or were never orphaned are refused.
func (s *Service) PlaceAnchor(w adapter.World, core position.Pos, essence *uuid.UUID) (*anchor.Anchor, error) {
	if _, ok := s.anchors.At(core); ok {
		return nil, result.Errorf(result.KindPolicy, "Anchor already exists at %s", core)
	}
	var (
		a   *anchor.Anchor
		err error
	)
	if essence != nil {
		if !s.ledgers.Exists(*essence) {
			return nil, result.Errorf(result.KindValidation, "Void Essence links to non-existent storage")
		}
		if s.anchors.Exists(*essence) {
			return nil, result.Errorf(result.KindPolicy, "Void Essence links to a storage that is still anchored")
		}
		if a, err = anchor.NewWithID(*essence, core, s.cfg.AnchorCapacity, s.cfg.AccessRange); err != nil {
			return nil, err
		}
		// Reclaim is the claim itself: of two placements racing on one
		// essence only the first gets the ledger.
		if !s.orphans.Reclaim(*essence) {
			return nil, result.Errorf(result.KindPolicy, "Void Essence links to a storage that is not orphaned")
		}
	} else {
		if a, err = anchor.New(core, s.cfg.AnchorCapacity, s.cfg.AccessRange); err != nil {
			return nil, err
		}
		s.ledgers.GetOrCreate(a.ID, a.StorageCapacity)
	}
	if evicted := s.anchors.Register(a); evicted != nil {
		s.cfg.Logger.Printf("WARN anchor %s evicted by %s at %s", evicted.ID, a.ID, core)
	}
	if w != nil {
		w.PlaceBlock(core, Qualified(BlockAnchorCore))
	}
	s.cfg.Logger.Printf("anchor %s placed at %s", a.ID, core)
	return a, nil
}

// BreakAnchor removes a and its transfers. The ledger survives: it is
// handed to inv as a tagged essence and marked orphaned. If the essence
// cannot be given the ledger is left unorphaned so it is not expired.
func (s *Service) BreakAnchor(w adapter.World, a *anchor.Anchor, inv adapter.Inventory) {
	if w != nil {
		w.BreakBlock(a.Pos)
	}
	switch {
	case inv == nil:
		s.orphans.MarkOrphaned(a.ID, s.cfg.Now())
	case inv.GiveTagged(Qualified(ItemEssence), 1, map[string]string{
		orphan.TagStorageID: a.ID.String(),
		orphan.TagCreatedAt: strconv.FormatInt(s.cfg.Now().UnixMilli(), 10),
	}):
		s.orphans.MarkOrphaned(a.ID, s.cfg.Now())
	default:
		s.cfg.Logger.Printf("WARN could not give essence for storage %s; storage stays active", a.ID)
	}
	s.anchors.Unregister(a.ID)
	n := s.transfers.UnregisterByAnchor(a.ID)
	s.cfg.Logger.Printf("anchor %s broken at %s (%d transfers removed)", a.ID, a.Pos, n)
}

// RemoveAnchor drops a together with its ledger and transfers.
func (s *Service) RemoveAnchor(a *anchor.Anchor) int {
	s.anchors.Unregister(a.ID)
	s.ledgers.Unregister(a.ID)
	return s.transfers.UnregisterByAnchor(a.ID)
}

// CleanupOrphans releases the ledgers of orphans past retention and returns
// how many were released.
func (s *Service) CleanupOrphans() int {
	expired := s.orphans.CleanupExpired(s.cfg.Now())
	for _, id := range expired {
		s.ledgers.Unregister(id)
	}
	return len(expired)
}

// Stats summarizes the network for health and metrics endpoints.
type Stats struct {
	Anchors   int   `json:"anchors"`
	Transfers int   `json:"transfers"`
	Ledgers   int   `json:"ledgers"`
	Orphans   int   `json:"orphans"`
	Items     int64 `json:"items"`
}

func (s *Service) Stats() Stats {
	st := Stats{
		Anchors:   s.anchors.Len(),
		Transfers: s.transfers.Len(),
		Ledgers:   s.ledgers.Len(),
		Orphans:   s.orphans.Len(),
	}
	s.ledgers.Range(func(_ uuid.UUID, l *storage.Storage) bool {
		st.Items += l.TotalItems()
		return true
	})
	return st
}
