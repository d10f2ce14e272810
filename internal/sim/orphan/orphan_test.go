package orphan

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMarkReclaim(t *testing.T) {
	r := NewRegistry(log.New(io.Discard, "", 0))
	id := uuid.New()
	r.MarkOrphaned(id, time.Now())
	if !r.IsOrphaned(id) || r.Len() != 1 {
		t.Fatalf("mark failed")
	}
	if !r.Reclaim(id) {
		t.Fatalf("reclaim failed")
	}
	if r.Reclaim(id) || r.IsOrphaned(id) || r.Len() != 0 {
		t.Fatalf("double reclaim succeeded")
	}
}

func TestCleanupExpired(t *testing.T) {
	r := NewRegistry(log.New(io.Discard, "", 0))
	r.SetRetention(time.Hour)
	now := time.UnixMilli(10_000_000)
	old, fresh := uuid.New(), uuid.New()
	r.MarkOrphaned(old, now.Add(-2*time.Hour))
	r.MarkOrphaned(fresh, now.Add(-time.Minute))

	got := r.CleanupExpired(now)
	if len(got) != 1 || got[0] != old {
		t.Fatalf("expired=%v want=[%s]", got, old)
	}
	if r.Len() != 1 || !r.IsOrphaned(fresh) {
		t.Fatalf("fresh orphan dropped")
	}
	if all := r.All(); len(all) != 1 || all[0].StorageID != fresh {
		t.Fatalf("all=%v", all)
	}
}

func TestSetRetentionIgnoresNonPositive(t *testing.T) {
	r := NewRegistry(log.New(io.Discard, "", 0))
	r.SetRetention(0)
	if r.Retention() != DefaultRetention {
		t.Fatalf("retention=%s", r.Retention())
	}
}
