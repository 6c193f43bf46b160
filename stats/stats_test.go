package stats_test

import (
	"math"
	"testing"

	"github.com/network-quality/qperf/stats"
	"github.com/network-quality/qperf/wire"
)

func TestCombineCrossAddsCounters(t *testing.T) {
	local := &wire.Stat{S: wire.Ustat{NoBytes: 1000, NoMsgs: 10}}
	remote := &wire.Stat{RemS: wire.Ustat{NoBytes: 1000, NoMsgs: 10}}
	stats.Combine(local, remote)
	if local.S.NoBytes != 2000 || local.S.NoMsgs != 20 {
		t.Errorf("local.S = %+v, want bytes=2000 msgs=20", local.S)
	}
}

func TestCombineIsSymmetricForReceive(t *testing.T) {
	local := &wire.Stat{R: wire.Ustat{NoBytes: 500}}
	remote := &wire.Stat{RemR: wire.Ustat{NoBytes: 500}}
	stats.Combine(local, remote)
	if local.R.NoBytes != 1000 {
		t.Errorf("local.R.NoBytes = %d, want 1000", local.R.NoBytes)
	}
}

func approxEqual(a, b, eps float64) bool { return math.Abs(a-b) < eps }

func TestDeriveRESNZeroWhenNoElapsedTime(t *testing.T) {
	var clock [wire.TN]uint64
	resn := stats.DeriveRESN(clock, clock, 100)
	if resn.TimeReal != 0 || resn.CPUTotal != 0 {
		t.Errorf("resn = %+v, want all zero", resn)
	}
}

func TestDeriveRESNComputesRates(t *testing.T) {
	timeS := [wire.TN]uint64{}
	timeE := [wire.TN]uint64{}
	timeE[wire.Real] = 200  // 2 seconds at 100 ticks/sec
	timeE[wire.User] = 50
	timeE[wire.Nice] = 0
	timeE[wire.Kernel] = 30
	timeE[wire.Idle] = 100
	timeE[wire.IOWait] = 10
	timeE[wire.IRQ] = 5
	timeE[wire.SoftIRQ] = 5
	timeE[wire.Steal] = 0

	resn := stats.DeriveRESN(timeS, timeE, 100)
	if !approxEqual(resn.TimeReal, 2.0, 1e-9) {
		t.Errorf("TimeReal = %v, want 2.0", resn.TimeReal)
	}
	if !approxEqual(resn.CPUUser, 50.0/200.0, 1e-9) {
		t.Errorf("CPUUser = %v, want %v", resn.CPUUser, 50.0/200.0)
	}
	if !approxEqual(resn.CPUIntr, 10.0/200.0, 1e-9) {
		t.Errorf("CPUIntr = %v, want %v", resn.CPUIntr, 10.0/200.0)
	}
	if !approxEqual(resn.CPUKernel, 30.0/200.0, 1e-9) {
		t.Errorf("CPUKernel = %v, want %v", resn.CPUKernel, 30.0/200.0)
	}
}

func TestDeriveLatency(t *testing.T) {
	local := &wire.Stat{NoTicks: 100, R: wire.Ustat{NoMsgs: 10}}
	local.TimeE[wire.Real] = 100 // 1 second
	remote := &wire.Stat{NoTicks: 100}

	res := stats.Derive(local, remote)
	if !approxEqual(res.Latency, 0.1, 1e-9) {
		t.Errorf("Latency = %v, want 0.1", res.Latency)
	}
}

func TestDeriveBandwidthZeroSideFallsBackToOtherSide(t *testing.T) {
	local := &wire.Stat{NoTicks: 100, S: wire.Ustat{NoBytes: 1000}}
	local.TimeE[wire.Real] = 100 // 1 second
	remote := &wire.Stat{NoTicks: 100}
	remote.TimeE[wire.Real] = 200 // 2 seconds, but remote.R is 0

	res := stats.Derive(local, remote)
	if !approxEqual(res.SendBW, 1000.0, 1e-9) {
		t.Errorf("SendBW = %v, want 1000 (local count / local time, remote count is zero)", res.SendBW)
	}
}

func TestDeriveCostsForUnidirectionalTest(t *testing.T) {
	// Classic one-directional test: local only sends, remote only
	// receives. Both send_cost (local's cpu per byte sent) and recv_cost
	// (remote's cpu per byte received) are well-defined in this shape.
	local := &wire.Stat{NoTicks: 100, S: wire.Ustat{NoBytes: 1_000_000_000}}
	local.TimeE[wire.Real] = 100
	local.TimeE[wire.User] = 100 // 1 second of user cpu
	remote := &wire.Stat{NoTicks: 100, R: wire.Ustat{NoBytes: 1_000_000_000}}
	remote.TimeE[wire.Real] = 100
	remote.TimeE[wire.User] = 200 // 2 seconds of user cpu

	res := stats.Derive(local, remote)
	if !res.SendCostValid {
		t.Fatal("expected SendCostValid for a pure send-only local side")
	}
	if !approxEqual(res.SendCost, 1.0, 1e-6) {
		t.Errorf("SendCost = %v sec/GB, want 1.0 (1s cpu / 1e9 bytes)", res.SendCost)
	}
	if !res.RecvCostValid {
		t.Fatal("expected RecvCostValid for a pure recv-only remote side")
	}
	if !approxEqual(res.RecvCost, 2.0, 1e-6) {
		t.Errorf("RecvCost = %v sec/GB, want 2.0 (2s cpu / 1e9 bytes)", res.RecvCost)
	}
}
