package protocol_test

import (
	"net"
	"testing"
	"time"

	"github.com/network-quality/qperf/protocol"
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

func TestSynchronizeRoundTrip(t *testing.T) {
	client, server := tcpPair(t)
	deadline := time.Now().Add(time.Second)
	errCh := make(chan error, 1)
	go func() { errCh <- protocol.Synchronize(client, true, deadline) }()
	if err := protocol.Synchronize(server, false, deadline); err != nil {
		t.Fatalf("server Synchronize: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("client Synchronize: %v", err)
	}
}

func TestSynchronizeMismatchIsError(t *testing.T) {
	client, server := tcpPair(t)
	deadline := time.Now().Add(time.Second)
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Write([]byte("nope"))
		errCh <- err
	}()
	err := protocol.Synchronize(server, false, deadline)
	<-errCh
	if err == nil {
		t.Fatal("expected an error for a mismatched sync literal")
	}
}

func TestExchangeResultsServerThenClient(t *testing.T) {
	client, server := tcpPair(t)
	deadline := time.Now().Add(time.Second)

	serverCtx := &protocol.Context{Conn: server, IsServer: true}
	serverCtx.LStat.NoTicks = 100
	serverCtx.LStat.S.NoBytes = 1000

	clientCtx := &protocol.Context{Conn: client, IsServer: false}

	errCh := make(chan error, 1)
	go func() { errCh <- protocol.ExchangeResults(serverCtx, deadline) }()

	if err := protocol.ExchangeResults(clientCtx, deadline); err != nil {
		t.Fatalf("client ExchangeResults: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server ExchangeResults: %v", err)
	}
	if !clientCtx.Successful || !serverCtx.Successful {
		t.Error("expected both sides Successful after a clean exchange")
	}
	if clientCtx.RStat.S.NoBytes != 1000 {
		t.Errorf("clientCtx.RStat.S.NoBytes = %d, want 1000", clientCtx.RStat.S.NoBytes)
	}
}
