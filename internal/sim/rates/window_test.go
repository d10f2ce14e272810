package rates

import "testing"

func TestAllowFixedWindow(t *testing.T) {
	start, count := int64(0), 0
	var ok bool
	var retry int64
	for i := 0; i < 5; i++ {
		start, count, ok, _ = Allow(100, start, count, 1000, 5)
		if !ok {
			t.Fatalf("request %d denied", i)
		}
	}
	if start != 0 || count != 5 {
		t.Fatalf("start=%d count=%d", start, count)
	}
	start, count, ok, retry = Allow(400, start, count, 1000, 5)
	if ok || count != 5 || retry != 600 {
		t.Fatalf("sixth ok=%v count=%d retry=%d", ok, count, retry)
	}
	start, count, ok, _ = Allow(1000, start, count, 1000, 5)
	if !ok || start != 1000 || count != 1 {
		t.Fatalf("rollover ok=%v start=%d count=%d", ok, start, count)
	}
}

func TestAllowDisabled(t *testing.T) {
	if _, _, ok, _ := Allow(5, 0, 100, 0, 1); !ok {
		t.Fatalf("zero window should allow")
	}
	if _, _, ok, _ := Allow(5, 0, 100, 10, 0); !ok {
		t.Fatalf("zero max should allow")
	}
}

func TestStale(t *testing.T) {
	if Stale(2000, 0, 1000) {
		t.Fatalf("exactly two windows is not stale")
	}
	if !Stale(2001, 0, 1000) {
		t.Fatalf("expected stale")
	}
}
