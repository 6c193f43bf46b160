package registry_test

import (
	"testing"

	"github.com/network-quality/qperf/registry"
)

func TestAddAssignsSequentialIndices(t *testing.T) {
	r := registry.New()
	i0 := r.Add("tcp_bw", nil, nil)
	i1 := r.Add("tcp_lat", nil, nil)
	if i0 != 0 || i1 != 1 {
		t.Fatalf("indices = %d,%d, want 0,1", i0, i1)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestByNameFindsRegisteredIndex(t *testing.T) {
	r := registry.New()
	r.Add("tcp_bw", nil, nil)
	r.Add("tcp_lat", nil, nil)
	idx, tst, err := r.ByName("tcp_lat")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if idx != 1 || tst.Name != "tcp_lat" {
		t.Errorf("idx=%d tst.Name=%q, want 1,tcp_lat", idx, tst.Name)
	}
}

func TestByNameUnknownIsError(t *testing.T) {
	r := registry.New()
	r.Add("tcp_bw", nil, nil)
	if _, _, err := r.ByName("udp_lat"); err == nil {
		t.Error("expected an error for an unregistered name")
	}
}

func TestByIndexValidatesRange(t *testing.T) {
	r := registry.New()
	r.Add("tcp_bw", nil, nil)
	if _, err := r.ByIndex(1); err == nil {
		t.Error("expected an error for an out-of-range index")
	}
	if _, err := r.ByIndex(-1); err == nil {
		t.Error("expected an error for a negative index")
	}
	tst, err := r.ByIndex(0)
	if err != nil || tst.Name != "tcp_bw" {
		t.Errorf("ByIndex(0) = %+v, %v", tst, err)
	}
}
