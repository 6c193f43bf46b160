package testbodies

import (
	"fmt"
	"time"

	"github.com/network-quality/qperf/conn"
	"github.com/network-quality/qperf/protocol"
)

// DefaultLatMsgSize is tcp_lat's default ping/pong payload size.
const DefaultLatMsgSize = 64

// ClientTCPLat drives the client side of a request/response latency test:
// negotiate, synchronize, then repeatedly send a small message and wait
// for the echo until the test's deadline fires.
func ClientTCPLat(ctxI interface{}) error {
	ctx, ok := ctxI.(*protocol.Context)
	if !ok {
		return fmt.Errorf("tcp_lat: unexpected context type %T", ctxI)
	}
	msgSize := DefaultLatMsgSize
	if ctx.RReq.MsgSize > 0 {
		msgSize = int(ctx.RReq.MsgSize)
	} else {
		ctx.RReq.MsgSize = uint64(msgSize)
	}
	if ctx.RReq.Time == 0 {
		ctx.RReq.Time = DefaultTestTime
	}
	if ctx.RReq.Timeout == 0 {
		ctx.RReq.Timeout = protocol.ServerDefaultTimeout
	}
	ctx.Params.Use(ctx.Idx.MsgSizeRem)
	ctx.Params.Use(ctx.Idx.TimeoutRem)

	negotiateDeadline := time.Now().Add(time.Duration(ctx.RReq.Timeout) * time.Second)
	if err := protocol.SendRequest(ctx, negotiateDeadline); err != nil {
		return err
	}
	if err := protocol.Synchronize(ctx.Conn, true, negotiateDeadline); err != nil {
		return err
	}
	ctx.Timer.Start(uint32(ctx.RReq.Time))

	out := make([]byte, msgSize)
	in := make([]byte, msgSize)
	for ctx.Timer.Finished() == 0 {
		deadline := time.Now().Add(time.Duration(ctx.RReq.Timeout) * time.Second)
		if err := conn.Send(ctx.Conn, "ping", out, deadline); err != nil {
			break
		}
		ctx.LStat.S.NoBytes += uint64(len(out))
		ctx.LStat.S.NoMsgs++
		if err := conn.Recv(ctx.Conn, "pong", in, deadline); err != nil {
			break
		}
		ctx.LStat.R.NoBytes += uint64(len(in))
		ctx.LStat.R.NoMsgs++
	}
	ctx.Timer.Stop()
	ctx.LStat.TimeS = ctx.Timer.TimeS()
	ctx.LStat.TimeE = ctx.Timer.TimeE()

	resultDeadline := time.Now().Add(time.Duration(ctx.RReq.Timeout) * time.Second)
	return protocol.ExchangeResults(ctx, resultDeadline)
}

// ServerTCPLat mirrors ClientTCPLat: synchronize, then echo every message
// received back to the client until a read fails (deadline or peer close).
func ServerTCPLat(ctxI interface{}) error {
	ctx, ok := ctxI.(*protocol.Context)
	if !ok {
		return fmt.Errorf("tcp_lat: unexpected context type %T", ctxI)
	}
	timeout := ctx.Req.Timeout
	if timeout == 0 {
		timeout = protocol.ServerDefaultTimeout
	}
	negotiateDeadline := time.Now().Add(time.Duration(timeout) * time.Second)
	if err := protocol.Synchronize(ctx.Conn, false, negotiateDeadline); err != nil {
		return err
	}
	ctx.Timer.Start(ctx.Req.Time)

	msgSize := ctx.Req.MsgSize
	if msgSize == 0 {
		msgSize = DefaultLatMsgSize
	}
	buf := make([]byte, msgSize)
	for {
		deadline := time.Now().Add(time.Duration(timeout) * time.Second)
		if err := conn.Recv(ctx.Conn, "ping", buf, deadline); err != nil {
			break
		}
		ctx.LStat.R.NoBytes += uint64(len(buf))
		ctx.LStat.R.NoMsgs++
		if err := conn.Send(ctx.Conn, "pong", buf, deadline); err != nil {
			break
		}
		ctx.LStat.S.NoBytes += uint64(len(buf))
		ctx.LStat.S.NoMsgs++
	}
	ctx.Timer.Stop()
	ctx.LStat.TimeS = ctx.Timer.TimeS()
	ctx.LStat.TimeE = ctx.Timer.TimeE()

	resultDeadline := time.Now().Add(time.Duration(timeout) * time.Second)
	return protocol.ExchangeResults(ctx, resultDeadline)
}
