// Package testbodies provides concrete (client_fn, server_fn) test bodies
// for the registry (spec.md §4.9 names these "external" — out of the
// core's scope — but a runnable binary needs at least a few). Each body
// drives the shared core services (C1 wire, C4 timing, C5 conn, C6
// protocol, C7 stats) the same way any third-party test body would.
package testbodies

import (
	"fmt"
	"time"

	"github.com/network-quality/qperf/conn"
	"github.com/network-quality/qperf/protocol"
)

// DefaultMsgSize is the TCP bandwidth test's default message size when the
// user does not override it with --msg_size.
const DefaultMsgSize = 64 * 1024

// DefaultTestTime is the client's default Req.Time (seconds), per spec.md
// §4.6 step 1.
const DefaultTestTime = 2

// ClientTCPBW drives the client side of a one-directional TCP bandwidth
// test: negotiate, synchronize, send fixed-size messages until the test's
// deadline fires, then exchange results.
func ClientTCPBW(ctxI interface{}) error {
	ctx, ok := ctxI.(*protocol.Context)
	if !ok {
		return fmt.Errorf("tcp_bw: unexpected context type %T", ctxI)
	}
	msgSize := DefaultMsgSize
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

	buf := make([]byte, msgSize)
	for ctx.Timer.Finished() == 0 {
		deadline := time.Now().Add(time.Duration(ctx.RReq.Timeout) * time.Second)
		if err := conn.Send(ctx.Conn, "data", buf, deadline); err != nil {
			break
		}
		ctx.LStat.S.NoBytes += uint64(len(buf))
		ctx.LStat.S.NoMsgs++
	}
	ctx.Timer.Stop()
	ctx.LStat.TimeS = ctx.Timer.TimeS()
	ctx.LStat.TimeE = ctx.Timer.TimeE()

	resultDeadline := time.Now().Add(time.Duration(ctx.RReq.Timeout) * time.Second)
	return protocol.ExchangeResults(ctx, resultDeadline)
}

// ServerTCPBW mirrors ClientTCPBW on the accepting side: synchronize, then
// read messages until a read fails (normally a read timeout once the peer
// stops sending at its deadline, or the peer closing), then exchange
// results.
func ServerTCPBW(ctxI interface{}) error {
	ctx, ok := ctxI.(*protocol.Context)
	if !ok {
		return fmt.Errorf("tcp_bw: unexpected context type %T", ctxI)
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
		msgSize = DefaultMsgSize
	}
	buf := make([]byte, msgSize)
	for {
		deadline := time.Now().Add(time.Duration(timeout) * time.Second)
		if err := conn.Recv(ctx.Conn, "data", buf, deadline); err != nil {
			break
		}
		ctx.LStat.R.NoBytes += uint64(len(buf))
		ctx.LStat.R.NoMsgs++
	}
	ctx.Timer.Stop()
	ctx.LStat.TimeS = ctx.Timer.TimeS()
	ctx.LStat.TimeE = ctx.Timer.TimeE()

	resultDeadline := time.Now().Add(time.Duration(timeout) * time.Second)
	return protocol.ExchangeResults(ctx, resultDeadline)
}
