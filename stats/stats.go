// Package stats implements the qperf statistics-aggregation and
// result-derivation engine (spec.md §4.7): combining cross-reported
// counters after exchange, then turning CLOCK deltas and byte/message
// counters into bandwidth, message rate, latency, per-byte cost, and CPU
// utilization figures.
package stats

import (
	"github.com/network-quality/qperf/timing"
	"github.com/network-quality/qperf/wire"
)

// RESN is one side's derived results.
type RESN struct {
	TimeReal  float64
	TimeCPU   float64
	CPUUser   float64
	CPUIntr   float64
	CPUIdle   float64
	CPUKernel float64
	CPUIOWait float64
	CPUTotal  float64
}

// RES is the full derived result of a completed test.
type RES struct {
	L, R                         RESN
	Latency                      float64
	MsgRate, SendBW, RecvBW      float64
	SendCost, RecvCost           float64
	SendCostValid, RecvCostValid bool
}

// Combine cross-adds peer counters into local, per spec.md §4.7 step 1 and
// the invariant in §3: local.S += remote.RemS, local.R += remote.RemR.
// remote is the peer's own raw (pre-combine) Stat, as decoded off the wire.
func Combine(local, remote *wire.Stat) {
	local.S.NoBytes += remote.RemS.NoBytes
	local.S.NoMsgs += remote.RemS.NoMsgs
	local.S.NoErrs += remote.RemS.NoErrs
	local.R.NoBytes += remote.RemR.NoBytes
	local.R.NoMsgs += remote.RemR.NoMsgs
	local.R.NoErrs += remote.RemR.NoErrs
}

// DeriveRESN computes one side's RESN from its CLOCK[T_N] start/end
// snapshots and tick frequency. Every field is zero if the elapsed REAL
// ticks or the tick frequency is zero.
func DeriveRESN(timeS, timeE timing.Clock, noTicks uint64) RESN {
	var out RESN
	deltaReal := float64(timeE[wire.Real]) - float64(timeS[wire.Real])
	if deltaReal <= 0 || noTicks == 0 {
		return out
	}
	delta := func(col int) float64 { return float64(timeE[col]) - float64(timeS[col]) }
	T := float64(noTicks)

	out.TimeReal = deltaReal / T
	cpuSum := 0.0
	for _, col := range []int{wire.User, wire.Nice, wire.Kernel, wire.IOWait, wire.IRQ, wire.SoftIRQ, wire.Steal} {
		cpuSum += delta(col)
	}
	out.TimeCPU = cpuSum / T

	out.CPUUser = (delta(wire.User) + delta(wire.Nice)) / deltaReal
	out.CPUIntr = (delta(wire.IRQ) + delta(wire.SoftIRQ)) / deltaReal
	out.CPUKernel = (delta(wire.Kernel) + delta(wire.Steal)) / deltaReal
	out.CPUIOWait = delta(wire.IOWait) / deltaReal
	out.CPUIdle = delta(wire.Idle) / deltaReal
	out.CPUTotal = out.CPUUser + out.CPUIntr + out.CPUKernel + out.CPUIOWait
	return out
}

// rate picks between the two-sided averaging rule of spec.md §4.7 step 4:
// if one side's counter is zero, use the other side's counter divided by
// its own elapsed time; otherwise divide the summed counter by the
// midpoint elapsed time.
func rate(locCount, remCount uint64, locTime, remTime float64) float64 {
	midTime := (locTime + remTime) / 2
	switch {
	case locCount == 0 && remCount == 0:
		return 0
	case locCount == 0:
		if remTime == 0 {
			return 0
		}
		return float64(remCount) / remTime
	case remCount == 0:
		if locTime == 0 {
			return 0
		}
		return float64(locCount) / locTime
	default:
		if midTime == 0 {
			return 0
		}
		return float64(locCount+remCount) / midTime
	}
}

// Derive builds the full RES from the local (post-Combine) Stat and the
// remote's raw, as-received Stat, per spec.md §4.7. Both Stats carry their
// own CLOCK[T_N] time_s/time_e snapshots and tick frequency, taken
// independently on each side.
//
// send_bw pairs "bytes I sent" against "bytes the peer received" (the same
// physical flow, viewed from its two ends); recv_bw pairs the reverse;
// msg_rate pairs each side's total message count (sent+received). This is
// the resolution adopted in DESIGN.md for the otherwise-unspecified
// "corresponding counter" pairing in spec.md §4.7 step 4.
func Derive(local, remote *wire.Stat) RES {
	var res RES
	res.L = DeriveRESN(local.TimeS, local.TimeE, local.NoTicks)
	res.R = DeriveRESN(remote.TimeS, remote.TimeE, remote.NoTicks)

	totalRecvMsgs := local.R.NoMsgs
	if totalRecvMsgs > 0 {
		res.Latency = res.L.TimeReal / float64(totalRecvMsgs)
	}

	res.MsgRate = rate(local.S.NoMsgs+local.R.NoMsgs, remote.S.NoMsgs+remote.R.NoMsgs, res.L.TimeReal, res.R.TimeReal)
	res.SendBW = rate(local.S.NoBytes, remote.R.NoBytes, res.L.TimeReal, res.R.TimeReal)
	res.RecvBW = rate(local.R.NoBytes, remote.S.NoBytes, res.L.TimeReal, res.R.TimeReal)

	type side struct {
		sendBytes, recvBytes uint64
		cpuTime              float64
	}
	sides := []side{
		{local.S.NoBytes, local.R.NoBytes, res.L.TimeCPU},
		{remote.S.NoBytes, remote.R.NoBytes, res.R.TimeCPU},
	}
	var sendOnly, recvOnly []side
	for _, s := range sides {
		if s.sendBytes > 0 && s.recvBytes == 0 {
			sendOnly = append(sendOnly, s)
		}
		if s.recvBytes > 0 && s.sendBytes == 0 {
			recvOnly = append(recvOnly, s)
		}
	}
	if len(sendOnly) == 1 && sendOnly[0].sendBytes > 0 {
		res.SendCost = sendOnly[0].cpuTime * 1e9 / float64(sendOnly[0].sendBytes)
		res.SendCostValid = true
	}
	if len(recvOnly) == 1 && recvOnly[0].recvBytes > 0 {
		res.RecvCost = recvOnly[0].cpuTime * 1e9 / float64(recvOnly[0].recvBytes)
		res.RecvCostValid = true
	}
	return res
}
