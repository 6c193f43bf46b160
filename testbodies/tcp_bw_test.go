package testbodies_test

import (
	"net"
	"testing"
	"time"

	"github.com/network-quality/qperf/conn"
	"github.com/network-quality/qperf/params"
	"github.com/network-quality/qperf/protocol"
	"github.com/network-quality/qperf/testbodies"
	"github.com/network-quality/qperf/timing"
	"github.com/network-quality/qperf/wire"
)

func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server = <-acceptCh
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

func newCtx(t *testing.T, c net.Conn, isServer bool) *protocol.Context {
	t.Helper()
	s, err := timing.NewSampler()
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &protocol.Context{
		Conn:     c,
		Params:   params.New(),
		IsServer: isServer,
		Timer:    timing.NewTimer(s),
	}
}

func TestTCPBWEndToEnd(t *testing.T) {
	client, server := tcpPair(t)
	clientCtx := newCtx(t, client, false)
	clientCtx.RReq.Time = 0 // defaulted by the body; stopped early below
	clientCtx.RReq.MsgSize = 1024
	clientCtx.RReq.Timeout = 1
	serverCtx := newCtx(t, server, true)
	serverCtx.Req.MsgSize = 1024
	serverCtx.Req.Timeout = 1

	errCh := make(chan error, 1)
	go func() {
		// The server reads the request before dispatching to the test
		// body, as Server.handle does.
		req := make([]byte, wire.ReqSize())
		if err := conn.Recv(server, "request", req, time.Now().Add(time.Second)); err != nil {
			errCh <- err
			return
		}
		errCh <- testbodies.ServerTCPBW(serverCtx)
	}()

	// ClientTCPBW turns a zero Time into DefaultTestTime; stop the client's
	// send loop deterministically after a brief window instead of waiting
	// out that full default test duration.
	go func() {
		time.Sleep(100 * time.Millisecond)
		clientCtx.Timer.Stop()
	}()
	if err := testbodies.ClientTCPBW(clientCtx); err != nil {
		t.Fatalf("ClientTCPBW: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("ServerTCPBW: %v", err)
	}

	if clientCtx.LStat.S.NoBytes == 0 {
		t.Error("expected some bytes to have been sent")
	}
	if clientCtx.LStat.S.NoBytes != clientCtx.LStat.S.NoMsgs*1024 {
		t.Errorf("NoBytes=%d NoMsgs=%d, want NoBytes == NoMsgs*1024", clientCtx.LStat.S.NoBytes, clientCtx.LStat.S.NoMsgs)
	}
	if !clientCtx.Successful || !serverCtx.Successful {
		t.Error("expected both sides Successful")
	}
}
