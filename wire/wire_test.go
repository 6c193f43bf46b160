package wire_test

import (
	"bytes"
	"testing"

	"github.com/go-test/deep"

	"github.com/network-quality/qperf/wire"
)

func sampleReq() *wire.Req {
	r := &wire.Req{
		VerMaj:      0,
		VerMin:      2,
		VerInc:      0,
		ReqIndex:    7,
		Flip:        0,
		AccessRecv:  1,
		Affinity:    0,
		PollMode:    0,
		Port:        19765,
		RdAtomic:    0,
		Timeout:     5,
		MsgSize:     65536,
		MtuSize:     1500,
		NoMsgs:      0,
		SockBufSize: 0,
		Time:        10,
	}
	r.SetID("hello")
	return r
}

func TestReqRoundTrip(t *testing.T) {
	want := sampleReq()
	b, err := wire.EncodeReq(want)
	if err != nil {
		t.Fatalf("EncodeReq: %v", err)
	}
	if len(b) != wire.ReqSize() {
		t.Fatalf("encoded length = %d, want %d", len(b), wire.ReqSize())
	}
	got, err := wire.DecodeReq(b)
	if err != nil {
		t.Fatalf("DecodeReq: %v", err)
	}
	if diff := deep.Equal(want, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

// TestMsgSizeLittleEndianOffset pins down the exact byte offset and
// little-endian encoding of MsgSize, per spec scenario S3: "00 00 01 00" at
// the msg_size offset for msg_size=65536.
func TestMsgSizeLittleEndianOffset(t *testing.T) {
	r := sampleReq()
	b, err := wire.EncodeReq(r)
	if err != nil {
		t.Fatalf("EncodeReq: %v", err)
	}
	offset := 0
	offset += 1 + 1 + 1 + 1 // VerMaj, VerMin, VerInc, pad
	offset += 4             // ReqIndex
	offset += 1 + 1 + 1 + 1 // Flip, AccessRecv, Affinity, PollMode
	offset += 4             // Port
	offset += 4             // RdAtomic
	offset += 4             // Timeout
	got := b[offset : offset+8]
	want := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("msg_size bytes = % x, want % x", got, want)
	}
}

func TestDecodeEncodeBufferRoundTrip(t *testing.T) {
	// Property 2: for any buffer of the right length, decode then re-encode
	// must reproduce the exact same bytes, including any "unused" padding.
	orig := make([]byte, wire.ReqSize())
	for i := range orig {
		orig[i] = byte(i*7 + 3)
	}
	req, err := wire.DecodeReq(orig)
	if err != nil {
		t.Fatalf("DecodeReq: %v", err)
	}
	reEncoded, err := wire.EncodeReq(req)
	if err != nil {
		t.Fatalf("EncodeReq: %v", err)
	}
	if !bytes.Equal(orig, reEncoded) {
		t.Errorf("decode-then-encode did not reproduce original bytes")
	}
}

func TestReqWrongLength(t *testing.T) {
	if _, err := wire.DecodeReq(make([]byte, wire.ReqSize()-1)); err == nil {
		t.Error("expected error decoding a short buffer")
	}
	if _, err := wire.DecodeReq(make([]byte, wire.ReqSize()+1)); err == nil {
		t.Error("expected error decoding a long buffer")
	}
}

func TestStatRoundTrip(t *testing.T) {
	want := &wire.Stat{
		NoCPUs:  4,
		NoTicks: 100,
		MaxCQEs: 0,
		S:       wire.Ustat{NoBytes: 1000, NoMsgs: 10},
		R:       wire.Ustat{NoBytes: 2000, NoMsgs: 20},
		RemS:    wire.Ustat{NoBytes: 3000, NoMsgs: 30},
		RemR:    wire.Ustat{NoBytes: 4000, NoMsgs: 40},
	}
	for i := 0; i < wire.TN; i++ {
		want.TimeS[i] = uint64(i + 1)
		want.TimeE[i] = uint64(i + 100)
	}
	b, err := wire.EncodeStat(want)
	if err != nil {
		t.Fatalf("EncodeStat: %v", err)
	}
	if len(b) != wire.StatSize() {
		t.Fatalf("encoded length = %d, want %d", len(b), wire.StatSize())
	}
	got, err := wire.DecodeStat(b)
	if err != nil {
		t.Fatalf("DecodeStat: %v", err)
	}
	if diff := deep.Equal(want, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestUstatRoundTrip(t *testing.T) {
	want := &wire.Ustat{NoBytes: 123, NoMsgs: 45, NoErrs: 6}
	b, err := wire.EncodeUstat(want)
	if err != nil {
		t.Fatalf("EncodeUstat: %v", err)
	}
	got, err := wire.DecodeUstat(b)
	if err != nil {
		t.Fatalf("DecodeUstat: %v", err)
	}
	if diff := deep.Equal(want, got); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestIDRoundTrip(t *testing.T) {
	r := &wire.Req{}
	r.SetID("hello")
	if got := r.IDString(); got != "hello" {
		t.Errorf("IDString() = %q, want %q", got, "hello")
	}
}

func TestIDTruncation(t *testing.T) {
	r := &wire.Req{}
	long := bytes.Repeat([]byte("x"), wire.StrSize+10)
	r.SetID(string(long))
	if got := len(r.IDString()); got != wire.StrSize-1 {
		t.Errorf("IDString() length = %d, want %d", got, wire.StrSize-1)
	}
}
