// Package wire implements the fixed-layout, little-endian, length-prefix-free
// binary encoding used for the Req and Stat messages exchanged between a
// qperf client and server. There is no framing: the size of every message is
// fixed by its Go struct layout, and encode/decode consume or produce exactly
// that many bytes.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// TN is the number of columns in a CLOCK vector: REAL followed by the eight
// /proc/stat "cpu " columns this tool samples.
const TN = 9

// Clock column indices, in the fixed order spec'd for time_s/time_e.
const (
	Real = iota
	User
	Nice
	Kernel
	Idle
	IOWait
	IRQ
	SoftIRQ
	Steal
)

// StrSize bounds the Req.ID tag. Longer strings are rejected by the
// parameter layer (params.SetStr), never by the wire codec.
const StrSize = 32

// Req is the versioned negotiation record the client sends to open a test.
// Field order here is the wire order; do not reorder without bumping the
// protocol version, since encode/decode operate directly on this layout.
type Req struct {
	VerMaj      uint8
	VerMin      uint8
	VerInc      uint8
	Pad         uint8 // pad VerInc up to a 4-byte boundary before ReqIndex; named so decode/encode preserve it
	ReqIndex    uint32
	Flip        uint8
	AccessRecv  uint8
	Affinity    uint8
	PollMode    uint8
	Port        uint32
	RdAtomic    uint32
	Timeout     uint32
	MsgSize     uint64
	MtuSize     uint32
	NoMsgs      uint64
	SockBufSize uint32
	Time        uint32
	ID          [StrSize]byte
}

// Ustat is a unidirectional counter set: bytes, messages, and errors
// observed in one direction by one side.
type Ustat struct {
	NoBytes uint64
	NoMsgs  uint64
	NoErrs  uint64
}

// Stat is one side's full statistics snapshot: CPU tick bookkeeping plus the
// four USTATs needed to reconstruct combined send/receive counters after
// exchange.
type Stat struct {
	NoCPUs  uint32
	_       uint32 // pad to 8-byte boundary before the uint64 NoTicks
	NoTicks uint64
	MaxCQEs uint32
	_       uint32
	TimeS   [TN]uint64
	TimeE   [TN]uint64
	S       Ustat
	R       Ustat
	RemS    Ustat
	RemR    Ustat
}

// ReqSize is the exact encoded size of a Req, in bytes.
func ReqSize() int { return binary.Size(Req{}) }

// StatSize is the exact encoded size of a Stat, in bytes.
func StatSize() int { return binary.Size(Stat{}) }

// UstatSize is the exact encoded size of a Ustat, in bytes.
func UstatSize() int { return binary.Size(Ustat{}) }

// EncodeReq renders r as exactly ReqSize() little-endian bytes.
func EncodeReq(r *Req) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(ReqSize())
	if err := binary.Write(buf, binary.LittleEndian, r); err != nil {
		return nil, fmt.Errorf("encode req: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeReq parses exactly ReqSize() bytes of b into a Req. It is an error
// for b to be any other length.
func DecodeReq(b []byte) (*Req, error) {
	if len(b) != ReqSize() {
		return nil, fmt.Errorf("decode req: want %d bytes, got %d", ReqSize(), len(b))
	}
	var r Req
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &r); err != nil {
		return nil, fmt.Errorf("decode req: %w", err)
	}
	return &r, nil
}

// EncodeStat renders s as exactly StatSize() little-endian bytes.
func EncodeStat(s *Stat) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(StatSize())
	if err := binary.Write(buf, binary.LittleEndian, s); err != nil {
		return nil, fmt.Errorf("encode stat: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeStat parses exactly StatSize() bytes of b into a Stat.
func DecodeStat(b []byte) (*Stat, error) {
	if len(b) != StatSize() {
		return nil, fmt.Errorf("decode stat: want %d bytes, got %d", StatSize(), len(b))
	}
	var s Stat
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &s); err != nil {
		return nil, fmt.Errorf("decode stat: %w", err)
	}
	return &s, nil
}

// EncodeUstat renders u as exactly UstatSize() little-endian bytes.
func EncodeUstat(u *Ustat) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(UstatSize())
	if err := binary.Write(buf, binary.LittleEndian, u); err != nil {
		return nil, fmt.Errorf("encode ustat: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeUstat parses exactly UstatSize() bytes of b into a Ustat.
func DecodeUstat(b []byte) (*Ustat, error) {
	if len(b) != UstatSize() {
		return nil, fmt.Errorf("decode ustat: want %d bytes, got %d", UstatSize(), len(b))
	}
	var u Ustat
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &u); err != nil {
		return nil, fmt.Errorf("decode ustat: %w", err)
	}
	return &u, nil
}

// SetID copies s into r.ID, truncating and NUL-terminating. Callers that
// need to reject overlong ids should check len(s) against StrSize-1 before
// calling this (see params.SetStr), since SetID itself never fails.
func (r *Req) SetID(s string) {
	var buf [StrSize]byte
	n := copy(buf[:StrSize-1], s)
	_ = n
	r.ID = buf
}

// IDString returns the NUL-terminated ASCII tag in r.ID, stopping at the
// first NUL byte (or StrSize, whichever comes first).
func (r *Req) IDString() string {
	for i, b := range r.ID {
		if b == 0 {
			return string(r.ID[:i])
		}
	}
	return string(r.ID[:])
}
