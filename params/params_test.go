package params_test

import (
	"testing"

	"github.com/network-quality/qperf/params"
)

func newPair(r *params.Registry) (locIdx, remIdx int, loc, rem *uint64) {
	loc = new(uint64)
	rem = new(uint64)
	locIdx = r.AddLong(func() uint64 { return *loc }, func(v uint64) { *loc = v })
	remIdx = r.AddLong(func() uint64 { return *rem }, func(v uint64) { *rem = v })
	r.Pair(locIdx, remIdx)
	return
}

func TestSetPIsSetAndIndependentStorage(t *testing.T) {
	r := params.New()
	locIdx, remIdx, loc, rem := newPair(r)

	if r.IsSet(locIdx) || r.IsSet(remIdx) {
		t.Fatal("nothing set yet")
	}
	r.SetP("msg_size", locIdx, 1024)
	if !r.IsSet(locIdx) {
		t.Error("local should now be set")
	}
	if r.IsSet(remIdx) {
		t.Error("remote should still be unset, it has its own storage")
	}
	if *loc != 1024 {
		t.Errorf("loc = %d, want 1024", *loc)
	}
	if *rem != 0 {
		t.Errorf("rem = %d, want 0 (storage must never alias)", *rem)
	}
}

func TestSetPKeepsFirstName(t *testing.T) {
	r := params.New()
	idx := r.AddLong(func() uint64 { return 0 }, func(uint64) {})
	r.SetP("first-name", idx, 1)
	r.SetP("second-name", idx, 2)
	// Subsequent setp_* calls mark the parameter set again but do not
	// overwrite the stored display name (and do not mark it used).
	warnings := r.WarnUnused()
	if len(warnings) != 1 || warnings[0].Name != "first-name" {
		t.Errorf("warnings = %+v, want a single warning naming first-name", warnings)
	}
}

func TestWarnUnusedSuppressesPair(t *testing.T) {
	r := params.New()
	locIdx, remIdx, _, _ := newPair(r)
	r.SetP("msg_size", locIdx, 10)
	r.SetP("msg_size", remIdx, 20)

	// Neither side has been Use()d, so both would normally warn; the pair
	// should only report once.
	warnings := r.WarnUnused()
	if len(warnings) != 1 {
		t.Fatalf("warnings = %+v, want exactly 1 (paired suppression)", warnings)
	}
}

func TestWarnUnusedSkipsUsed(t *testing.T) {
	r := params.New()
	idx := r.AddLong(func() uint64 { return 0 }, func(uint64) {})
	r.SetP("opt", idx, 1)
	r.Use(idx)
	if warnings := r.WarnUnused(); len(warnings) != 0 {
		t.Errorf("warnings = %+v, want none (parameter was used)", warnings)
	}
}

func TestNullIndexIsNoop(t *testing.T) {
	r := params.New()
	// These must not panic even though params.Null is not a valid index.
	r.SetP("ignored", params.Null, 5)
	r.SetU64(params.Null, 5)
	r.Use(params.Null)
	if r.IsSet(params.Null) {
		t.Error("Null must never report as set")
	}
}

func TestStringTooLongIsRejected(t *testing.T) {
	r := params.New()
	var store string
	idx := r.AddString(func() string { return store }, func(s string) error { store = s; return nil })
	if err := r.SetStr("id", idx, "ok", 8); err != nil {
		t.Fatalf("unexpected error for short string: %v", err)
	}
	if err := r.SetStr("id", idx, "waytoolongforthis", 8); err == nil {
		t.Error("expected an error for an overlong string")
	}
}

func TestRegistrationIsDenseAndOrdered(t *testing.T) {
	r := params.New()
	for want := 0; want < 5; want++ {
		got := r.AddLong(func() uint64 { return 0 }, func(uint64) {})
		if got != want {
			t.Fatalf("index %d got registered as %d", want, got)
		}
	}
	if r.Len() != 5 {
		t.Errorf("Len() = %d, want 5", r.Len())
	}
}
