package storage

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"voidstorage.ai/internal/sim/result"
	"voidstorage.ai/internal/sim/validation"
)

const (
	MaxCapacity        int64 = math.MaxInt64
	MaxUniqueItems     int64 = 10_000
	MaxQuantityPerItem int64 = 1_000_000_000
)

// dead marks a counter that has been detached from the ledger. Depositors
// holding a dead counter must look the item up again.
const dead int64 = -1

type Limits struct {
	MaxUniqueItems     int64
	MaxQuantityPerItem int64
}

func DefaultLimits() Limits {
	return Limits{MaxUniqueItems: MaxUniqueItems, MaxQuantityPerItem: MaxQuantityPerItem}
}

// Storage is a lock-free multi-item ledger with a global capacity.
//
// Invariants: the sum of all live counters equals TotalItems, TotalItems never
// exceeds Capacity, and every counter holding a positive quantity is counted
// in UniqueItemCount.
type Storage struct {
	items    sync.Map // string -> *atomic.Int64
	total    atomic.Int64
	unique   atomic.Int64
	capacity int64
	limits   Limits
}

func New(capacity int64) *Storage {
	return NewWithLimits(capacity, DefaultLimits())
}

// NewWithLimits panics on a non-positive capacity.
func NewWithLimits(capacity int64, limits Limits) *Storage {
	if err := validation.Positive(capacity, "capacity"); err != nil {
		panic(err)
	}
	if limits.MaxUniqueItems <= 0 {
		limits.MaxUniqueItems = MaxUniqueItems
	}
	if limits.MaxQuantityPerItem <= 0 {
		limits.MaxQuantityPerItem = MaxQuantityPerItem
	}
	return &Storage{capacity: capacity, limits: limits}
}

// Deposit adds quantity of itemID and returns the new quantity held for it.
// The whole amount is reserved or nothing is.
func (s *Storage) Deposit(itemID string, quantity int64) (int64, error) {
	if err := validation.ItemID(itemID); err != nil {
		return 0, err
	}
	if quantity <= 0 {
		return 0, result.Errorf(result.KindValidation, "Quantity must be positive")
	}
	if quantity > s.limits.MaxQuantityPerItem {
		return 0, result.Errorf(result.KindCapacity, "Cannot add more of this item")
	}

	for {
		counter, ok := s.counterForDeposit(itemID)
		if !ok {
			return 0, result.Errorf(result.KindCapacity, "Maximum unique item types reached")
		}

		cur := counter.Load()
		if cur == dead {
			continue
		}
		if cur+quantity > s.limits.MaxQuantityPerItem {
			s.discardIfEmpty(itemID, counter)
			return 0, result.Errorf(result.KindCapacity, "Cannot add more of this item")
		}
		if !s.reserve(quantity) {
			s.discardIfEmpty(itemID, counter)
			return 0, result.Errorf(result.KindCapacity, "Storage is full")
		}
		if counter.CompareAndSwap(cur, cur+quantity) {
			return cur + quantity, nil
		}
		// Lost the race on the item counter: hand the reservation back and retry.
		s.total.Add(-quantity)
	}
}

// Withdraw removes up to quantity of itemID and returns the amount removed.
// An absent item yields 0 without error.
func (s *Storage) Withdraw(itemID string, quantity int64) (int64, error) {
	if err := validation.ItemID(itemID); err != nil {
		return 0, err
	}
	if quantity <= 0 {
		return 0, result.Errorf(result.KindValidation, "Quantity must be positive")
	}

	v, ok := s.items.Load(itemID)
	if !ok {
		return 0, nil
	}
	counter := v.(*atomic.Int64)
	for {
		cur := counter.Load()
		if cur <= 0 {
			s.discardIfEmpty(itemID, counter)
			return 0, nil
		}
		take := min(quantity, cur)
		remaining := cur - take
		if counter.CompareAndSwap(cur, remaining) {
			s.total.Add(-take)
			if remaining == 0 {
				s.discardIfEmpty(itemID, counter)
			}
			return take, nil
		}
	}
}

func (s *Storage) Item(itemID string) (StoredItem, bool) {
	q := s.Quantity(itemID)
	if q <= 0 {
		return StoredItem{}, false
	}
	return StoredItem{ItemID: itemID, Quantity: q}, true
}

func (s *Storage) Quantity(itemID string) int64 {
	v, ok := s.items.Load(itemID)
	if !ok {
		return 0
	}
	return max(v.(*atomic.Int64).Load(), 0)
}

func (s *Storage) HasItem(itemID string) bool { return s.Quantity(itemID) > 0 }
func (s *Storage) TotalItems() int64          { return s.total.Load() }
func (s *Storage) UniqueItemCount() int64     { return s.unique.Load() }
func (s *Storage) Capacity() int64            { return s.capacity }
func (s *Storage) Limits() Limits             { return s.limits }

func (s *Storage) RemainingCapacity() int64 {
	return max(s.capacity-s.total.Load(), 0)
}

// ItemsSorted lists held items by descending quantity, ties by item id.
func (s *Storage) ItemsSorted() []StoredItem {
	return s.collect(func(string) bool { return true })
}

// Search is ItemsSorted filtered by a case-insensitive substring of the id.
func (s *Storage) Search(query string) []StoredItem {
	if query == "" {
		return s.ItemsSorted()
	}
	q := strings.ToLower(query)
	return s.collect(func(id string) bool { return strings.Contains(strings.ToLower(id), q) })
}

func (s *Storage) ItemsMap() map[string]int64 {
	out := map[string]int64{}
	s.items.Range(func(k, v any) bool {
		if q := v.(*atomic.Int64).Load(); q > 0 {
			out[k.(string)] = q
		}
		return true
	})
	return out
}

// Clear empties the ledger. It is not atomic with respect to concurrent
// deposits and is meant for resets while the ledger is idle.
func (s *Storage) Clear() {
	s.items.Range(func(k, v any) bool {
		counter := v.(*atomic.Int64)
		for {
			cur := counter.Load()
			if cur == dead {
				break
			}
			if counter.CompareAndSwap(cur, dead) {
				if s.items.CompareAndDelete(k, counter) {
					s.unique.Add(-1)
				}
				s.total.Add(-max(cur, 0))
				break
			}
		}
		return true
	})
}

func (s *Storage) collect(keep func(string) bool) []StoredItem {
	var out []StoredItem
	s.items.Range(func(k, v any) bool {
		id := k.(string)
		if !keep(id) {
			return true
		}
		if q := v.(*atomic.Int64).Load(); q > 0 {
			out = append(out, StoredItem{ItemID: id, Quantity: q})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

func (s *Storage) counterForDeposit(itemID string) (*atomic.Int64, bool) {
	if v, ok := s.items.Load(itemID); ok {
		return v.(*atomic.Int64), true
	}
	if !s.tryIncrementUnique() {
		return nil, false
	}
	created := new(atomic.Int64)
	if v, loaded := s.items.LoadOrStore(itemID, created); loaded {
		s.unique.Add(-1)
		return v.(*atomic.Int64), true
	}
	return created, true
}

func (s *Storage) tryIncrementUnique() bool {
	for {
		cur := s.unique.Load()
		if cur >= s.limits.MaxUniqueItems {
			return false
		}
		if s.unique.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (s *Storage) reserve(quantity int64) bool {
	for {
		cur := s.total.Load()
		if quantity > s.capacity-cur {
			return false
		}
		if s.total.CompareAndSwap(cur, cur+quantity) {
			return true
		}
	}
}

// discardIfEmpty detaches a zero counter. The 0 -> dead swap makes the
// removal exclusive, so the unique count drops exactly once per counter.
func (s *Storage) discardIfEmpty(itemID string, counter *atomic.Int64) {
	if !counter.CompareAndSwap(0, dead) {
		return
	}
	if s.items.CompareAndDelete(itemID, counter) {
		s.unique.Add(-1)
	}
}
