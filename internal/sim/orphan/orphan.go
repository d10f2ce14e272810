package orphan

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const DefaultRetention = 30 * 24 * time.Hour

// Essence tag keys carried by the token handed out when an anchor breaks.
const (
	TagStorageID = "void_essence_storage_id"
	TagCreatedAt = "void_essence_created_at"
)

// Orphan is a ledger whose anchor was broken. It stays reclaimable until
// the retention period elapses.
type Orphan struct {
	StorageID  uuid.UUID `json:"storage_id"`
	OrphanedAt int64     `json:"orphaned_at"` // unix ms
}

type Registry struct {
	orphans   sync.Map // uuid.UUID -> Orphan
	n         atomic.Int64
	retention atomic.Int64 // ms
	logger    *log.Logger
}

func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{logger: logger}
	r.retention.Store(DefaultRetention.Milliseconds())
	return r
}

func (r *Registry) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	r.retention.Store(d.Milliseconds())
	r.logger.Printf("orphan retention set to %s", d)
}

func (r *Registry) Retention() time.Duration {
	return time.Duration(r.retention.Load()) * time.Millisecond
}

func (r *Registry) MarkOrphaned(storageID uuid.UUID, now time.Time) {
	r.Register(Orphan{StorageID: storageID, OrphanedAt: now.UnixMilli()})
	r.logger.Printf("storage %s marked as orphaned", storageID)
}

// Register records o as is; used when restoring a snapshot.
func (r *Registry) Register(o Orphan) {
	if _, loaded := r.orphans.Swap(o.StorageID, o); !loaded {
		r.n.Add(1)
	}
}

// Reclaim clears the orphan mark. It reports false if storageID was not
// orphaned.
func (r *Registry) Reclaim(storageID uuid.UUID) bool {
	if _, ok := r.orphans.LoadAndDelete(storageID); !ok {
		return false
	}
	r.n.Add(-1)
	r.logger.Printf("storage %s reclaimed from orphan state", storageID)
	return true
}

func (r *Registry) IsOrphaned(storageID uuid.UUID) bool {
	_, ok := r.orphans.Load(storageID)
	return ok
}

func (r *Registry) Get(storageID uuid.UUID) (Orphan, bool) {
	v, ok := r.orphans.Load(storageID)
	if !ok {
		return Orphan{}, false
	}
	return v.(Orphan), true
}

// All returns orphans oldest first.
func (r *Registry) All() []Orphan {
	var out []Orphan
	r.orphans.Range(func(_, v any) bool {
		out = append(out, v.(Orphan))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrphanedAt != out[j].OrphanedAt {
			return out[i].OrphanedAt < out[j].OrphanedAt
		}
		return out[i].StorageID.String() < out[j].StorageID.String()
	})
	return out
}

// CleanupExpired drops orphans older than the retention period and returns
// their storage ids so the caller can release the ledgers.
func (r *Registry) CleanupExpired(now time.Time) []uuid.UUID {
	nowMs := now.UnixMilli()
	retention := r.retention.Load()
	var expired []uuid.UUID
	r.orphans.Range(func(k, v any) bool {
		o := v.(Orphan)
		if age := nowMs - o.OrphanedAt; age > retention {
			if r.orphans.CompareAndDelete(k, o) {
				r.n.Add(-1)
				expired = append(expired, o.StorageID)
				r.logger.Printf("orphaned storage %s expired after %s", o.StorageID, time.Duration(age)*time.Millisecond)
			}
		}
		return true
	})
	return expired
}

func (r *Registry) Len() int { return int(r.n.Load()) }
