package result

import (
	"errors"
	"fmt"
	"testing"
)

func TestResult_SuccessAndFailure(t *testing.T) {
	ok := Success(int64(42))
	if !ok.IsSuccess() || ok.Value() != 42 || ok.Err() != "" {
		t.Fatalf("unexpected success result: %+v", ok)
	}
	bad := Failure[int64]("Storage is full")
	if !bad.IsFailure() || bad.Err() != "Storage is full" {
		t.Fatalf("unexpected failure result: %+v", bad)
	}
	if bad.OrElse(7) != 7 {
		t.Fatalf("OrElse should return default on failure")
	}
	if _, err := bad.Unwrap(); err == nil || err.Error() != "Storage is full" {
		t.Fatalf("unwrap err=%v", err)
	}
}

func TestResult_FromAndMap(t *testing.T) {
	r := From(3, nil)
	doubled := Map(r, func(v int) string { return fmt.Sprint(v * 2) })
	if doubled.Value() != "6" {
		t.Fatalf("mapped=%q want=6", doubled.Value())
	}
	failed := Map(From(0, errors.New("boom")), func(v int) string { return "x" })
	if failed.IsSuccess() || failed.Err() != "boom" {
		t.Fatalf("map should carry failure: %+v", failed)
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("deposit: %w", Errorf(KindCapacity, "Storage is full"))
	if KindOf(err) != KindCapacity {
		t.Fatalf("kind=%s want=capacity", KindOf(err))
	}
	if !Is(err, KindCapacity) || Is(err, KindPolicy) {
		t.Fatalf("Is mismatch")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors should be unknown")
	}
}
