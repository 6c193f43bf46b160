package protocol

import (
	"fmt"
	"log"
	"net"
	"runtime"
	"time"

	"github.com/m-lab/go/logx"
	"golang.org/x/sys/unix"

	"github.com/network-quality/qperf/conn"
	"github.com/network-quality/qperf/metrics"
	"github.com/network-quality/qperf/params"
	"github.com/network-quality/qperf/registry"
	"github.com/network-quality/qperf/sessionid"
	"github.com/network-quality/qperf/stats"
	"github.com/network-quality/qperf/timing"
	"github.com/network-quality/qperf/wire"
)

// Version is this build's (ver_maj, ver_min, ver_inc). It is compared
// against the peer's version on every negotiation, per spec.md §4.6 step 3.
var Version = struct{ Maj, Min, Inc uint8 }{0, 2, 0}

func versionString(maj, min, inc uint8) string {
	return fmt.Sprintf("%d.%d.%d", maj, min, inc)
}

// ServerDefaultTimeout is the server's default Req.Timeout, per spec.md §6.
const ServerDefaultTimeout = 5

// acceptLog rate-limits the noisy per-connection accept log the same way
// the pack's collector rate-limits its polling log: a logx.NewLogEvery
// gate rather than logging on every connection.
var acceptLog = logx.NewLogEvery(nil, time.Second)

// syncLiteral is the 4-byte "SyN\0" exchanged to establish a
// happens-before edge between the two sides, per the GLOSSARY.
var syncLiteral = [4]byte{'S', 'y', 'N', 0}

// ParamIndex names the registry indices of the parameters a generic test
// body can report as "used" (spec.md §4.2's par_use) without importing
// cmd/qperf's own option-table wiring. A field left at params.Null means
// the Context's option set never defined that parameter — Use against it
// is then a harmless no-op, which is exactly what happens on the server,
// whose per-connection Params is always a fresh, empty registry.
type ParamIndex struct {
	MsgSizeLoc, MsgSizeRem   int
	TimeLoc, TimeRem         int
	TimeoutLoc, TimeoutRem   int
	AffinityLoc, AffinityRem int
}

func newParamIndex() ParamIndex {
	return ParamIndex{
		MsgSizeLoc: params.Null, MsgSizeRem: params.Null,
		TimeLoc: params.Null, TimeRem: params.Null,
		TimeoutLoc: params.Null, TimeoutRem: params.Null,
		AffinityLoc: params.Null, AffinityRem: params.Null,
	}
}

// Context is the per-test state a client or server test body operates on:
// one goroutine, one connection, one context — the idiomatic substitute
// for the C original's one-child-process-per-connection model (permitted
// by spec.md §9's design note).
type Context struct {
	Conn net.Conn

	Params *params.Registry
	Idx    ParamIndex // registry indices test bodies mark Use against
	Req    wire.Req   // local copy, filled by the test
	RReq   wire.Req   // remote mirror, sent over the wire

	// Affinity is the client's own CPU pin (1-based; 0 = no preference).
	// It never travels over the wire — RReq.Affinity, the field that does,
	// is what the server pins itself to.
	Affinity uint8

	LStat wire.Stat
	RStat wire.Stat
	Res   stats.RES

	Timer *timing.Timer

	SessionID  string
	Successful bool
	TestName   string
	State      WorkerState

	IsServer bool
}

// setAffinity pins the calling OS thread to CPU affinity-1, per spec.md
// §4.6 server step 5 and client step 1 ("set CPU affinity from
// Req.affinity"). Callers only invoke this when affinity != 0. Grounded on
// the pack's own CPU-pinning pattern (unix.CPUSet + SchedSetaffinity).
func setAffinity(affinity uint8) error {
	var mask unix.CPUSet
	mask.Set(int(affinity - 1))
	return unix.SchedSetaffinity(0, &mask)
}

// reportUnusedParams emits and counts a "set but not used" diagnostic for
// every parameter ctx.Params.WarnUnused finds, per spec.md §4.2.
func reportUnusedParams(ctx *Context) {
	for _, w := range ctx.Params.WarnUnused() {
		log.Printf("[%s] %s in test %s", ctx.SessionID, w, ctx.TestName)
		metrics.UnusedParamWarningCount.Inc()
	}
}

// Synchronize exchanges the "SyN\0" literal: the initiator ("client" role
// in the pairwise exchange) sends first and then reads the peer's own
// sync; the responder is the mirror image. A content mismatch is a hard
// protocol error.
func Synchronize(c net.Conn, initiator bool, deadline time.Time) error {
	send := func() error { return conn.Send(c, "sync", syncLiteral[:], deadline) }
	recv := func() error {
		var got [4]byte
		if err := conn.Recv(c, "sync", got[:], deadline); err != nil {
			return err
		}
		if got != syncLiteral {
			return fmt.Errorf("sync mismatch: got %q, want %q", got, syncLiteral)
		}
		return nil
	}
	if initiator {
		if err := send(); err != nil {
			return err
		}
		return recv()
	}
	if err := recv(); err != nil {
		return err
	}
	return send()
}

// ExchangeResults implements spec.md §4.6's post-test exchange_results,
// guarded by ctx.Successful: the client receives STAT into RStat then
// sends a sync; the server encodes LStat, sends it, then receives a sync.
// Both sides set Successful iff the whole exchange completed.
func ExchangeResults(ctx *Context, deadline time.Time) error {
	ctx.Successful = false
	if ctx.LStat.NoTicks == 0 {
		ctx.LStat.NoTicks = timing.TicksPerSecond
	}
	if ctx.IsServer {
		buf, err := wire.EncodeStat(&ctx.LStat)
		if err != nil {
			return err
		}
		if err := conn.Send(ctx.Conn, "stat", buf, deadline); err != nil {
			return err
		}
		if err := Synchronize(ctx.Conn, false, deadline); err != nil {
			return err
		}
	} else {
		buf := make([]byte, wire.StatSize())
		if err := conn.Recv(ctx.Conn, "stat", buf, deadline); err != nil {
			return err
		}
		st, err := wire.DecodeStat(buf)
		if err != nil {
			return err
		}
		ctx.RStat = *st
		if err := Synchronize(ctx.Conn, true, deadline); err != nil {
			return err
		}
		stats.Combine(&ctx.LStat, &ctx.RStat)
		ctx.Res = stats.Derive(&ctx.LStat, &ctx.RStat)
	}
	ctx.Successful = true
	return nil
}

// Server runs the accept/dispatch loop of spec.md §4.6's server lifecycle.
type Server struct {
	Tests         *registry.Registry
	ListenPort    int
	ServerTimeout int

	// Sessions tracks which worker goroutines are currently in flight, so
	// a worker's log lines can report how many tests are running
	// concurrently — a concern the original single-process-per-connection
	// fork model never had to name, but one this goroutine-per-connection
	// server does. Lazily initialized by ListenAndServe if left nil.
	Sessions *sessionid.Tracker
}

// ListenAndServe binds to ListenPort on all interfaces with backlog 5 (the
// listen(2) backlog a net.Listener requests is OS-managed; Go does not
// expose it directly, so this documents the spec's intent rather than
// tuning SO_LISTEN_BACKLOG) and serves forever, dispatching one goroutine
// per accepted connection — the goroutine-per-connection substitute for
// the original's fork-per-connection model.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.ListenPort))
	if err != nil {
		return fmt.Errorf("bind to port %d: %w", s.ListenPort, err)
	}
	defer ln.Close()
	log.Printf("qperf server listening on %s", ln.Addr())
	if s.Sessions == nil {
		s.Sessions = sessionid.NewTracker()
	}

	for {
		c, err := ln.Accept()
		if err != nil {
			log.Printf("accept: %v", err)
			continue
		}
		acceptLog.Println("accepted connection from", c.RemoteAddr())
		go s.handle(c)
	}
}

func (s *Server) handle(c net.Conn) {
	defer c.Close()
	start := time.Now()
	id := sessionid.ForConn(c)
	timeout := s.ServerTimeout
	if timeout <= 0 {
		timeout = ServerDefaultTimeout
	}
	deadline := time.Now().Add(time.Duration(timeout) * time.Second)

	state := StateAccepted
	buf := make([]byte, wire.ReqSize())
	if err := conn.Recv(c, "request", buf, deadline); err != nil {
		log.Printf("[%s] %v", id, err)
		return
	}
	state = StateNegotiating
	req, err := wire.DecodeReq(buf)
	if err != nil {
		log.Printf("[%s] decode request: %v", id, err)
		return
	}

	if req.VerMaj != Version.Maj || req.VerMin != Version.Min {
		clientIsLower := req.VerMaj < Version.Maj ||
			(req.VerMaj == Version.Maj && req.VerMin < Version.Min)
		reqV, ownV := versionString(req.VerMaj, req.VerMin, req.VerInc), versionString(Version.Maj, Version.Min, Version.Inc)
		side, fromV, toV := "client", reqV, ownV
		if !clientIsLower {
			side, fromV, toV = "server", ownV, reqV
		}
		log.Printf("[%s] upgrade %s from %s to %s", id, side, fromV, toV)
		metrics.VersionMismatchCount.Inc()
		return
	}

	idx := int(req.ReqIndex)
	test, err := s.Tests.ByIndex(idx)
	if err != nil {
		log.Printf("[%s] %v", id, err)
		return
	}
	metrics.TestsAcceptedCount.WithLabelValues(test.Name).Inc()

	if s.Sessions != nil {
		active := s.Sessions.Start(id, test.Name)
		defer s.Sessions.Finish(id)
		log.Printf("[%s] running %s (%d concurrent)", id, test.Name, active)
	}

	if req.Affinity != 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := setAffinity(req.Affinity); err != nil {
			log.Printf("[%s] set affinity to cpu %d: %v", id, req.Affinity-1, err)
			return
		}
	}

	ctx := &Context{
		Conn:      c,
		Params:    params.New(),
		Idx:       newParamIndex(),
		Req:       *req,
		IsServer:  true,
		TestName:  test.Name,
		SessionID: id,
		State:     state,
	}
	sampler, err := timing.NewSampler()
	if err != nil {
		log.Printf("[%s] timing sampler: %v", id, err)
		return
	}
	defer sampler.Close()
	ctx.Timer = timing.NewTimer(sampler)

	ctx.State = StateRunning
	if test.Server != nil {
		if err := test.Server(ctx); err != nil {
			log.Printf("[%s] test %q failed: %v", id, test.Name, err)
		}
	}
	ctx.State = StateExchanging
	ctx.Timer.Stop()
	ctx.State = StateDone
	metrics.RecordResult(test.Name, ctx.Successful, time.Since(start).Seconds(), ctx.LStat.S.NoBytes, ctx.LStat.R.NoBytes)
}

// Client runs the connect/negotiate/measure/exchange lifecycle of
// spec.md §4.6's client side.
type Client struct {
	Tests      *registry.Registry
	ListenPort int
	Wait       int // retry budget in seconds; 0 disables retrying

	// Params, if set, is the CLI-populated parameter registry shared with
	// main's option parser, used as ctx.Params so Use/WarnUnused reflect
	// what the user actually typed. Left nil (as in this package's own
	// tests), RunTest falls back to a private, always-empty params.New(),
	// which makes every Use call a harmless no-op.
	Params *params.Registry

	// Init, if set, is called with the freshly constructed Context before
	// the test body runs, letting the option parser seed ctx.RReq (the
	// REMOTE-side parameters actually sent over the wire), ctx.Affinity
	// (the client's own CPU pin) and ctx.Idx (the registry indices test
	// bodies report usage against). A zero field left unset by Init is
	// still treated as "use the test's own default" by the test body.
	Init func(ctx *Context)
}

// Connect resolves host:port, trying each returned address in order; with
// Wait > 0 it retries the whole sweep once per second until a connect
// succeeds or the budget elapses.
func (c *Client) Connect(host string) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, c.ListenPort)
	deadline := time.Now().Add(time.Duration(c.Wait) * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			return conn, nil
		}
		if c.Wait <= 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("connect to %s: %w", addr, err)
		}
		time.Sleep(time.Second)
	}
}

// SendRequest encodes and sends ctx.RReq, the remote-mirror request that
// carries the negotiated test index and parameters over the wire.
func SendRequest(ctx *Context, deadline time.Time) error {
	ctx.RReq.VerMaj, ctx.RReq.VerMin, ctx.RReq.VerInc = Version.Maj, Version.Min, Version.Inc
	buf, err := wire.EncodeReq(&ctx.RReq)
	if err != nil {
		return err
	}
	return conn.Send(ctx.Conn, "request", buf, deadline)
}

// RunTest drives one client-side test end to end: connect, send the
// request, synchronize, run the test body, exchange results.
func (c *Client) RunTest(host, testName string) (*Context, error) {
	start := time.Now()
	idx, test, err := c.Tests.ByName(testName)
	if err != nil {
		return nil, err
	}
	nc, err := c.Connect(host)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	id := sessionid.ForConn(nc)
	sampler, err := timing.NewSampler()
	if err != nil {
		return nil, fmt.Errorf("timing sampler: %w", err)
	}
	defer sampler.Close()

	reg := c.Params
	if reg == nil {
		reg = params.New()
	}
	ctx := &Context{
		Conn:      nc,
		Params:    reg,
		Idx:       newParamIndex(),
		IsServer:  false,
		TestName:  test.Name,
		SessionID: id,
		Timer:     timing.NewTimer(sampler),
		State:     StateNegotiating,
	}
	reg.ClearInUse()
	if c.Init != nil {
		c.Init(ctx)
	}
	ctx.RReq.ReqIndex = uint32(idx)

	// Client lifecycle step 1 (spec.md §4.6): affinity and time are always
	// considered used, regardless of which test runs.
	ctx.Params.Use(ctx.Idx.AffinityLoc)
	ctx.Params.Use(ctx.Idx.AffinityRem)
	ctx.Params.Use(ctx.Idx.TimeLoc)
	ctx.Params.Use(ctx.Idx.TimeRem)

	if ctx.Affinity != 0 {
		runtime.LockOSThread()
		if err := setAffinity(ctx.Affinity); err != nil {
			return ctx, fmt.Errorf("set affinity: %w", err)
		}
	}

	log.Printf("[%s] running %s against %s", id, test.Name, host)
	if test.Client == nil {
		return ctx, fmt.Errorf("test %q has no client body", test.Name)
	}
	ctx.State = StateRunning
	if err := test.Client(ctx); err != nil {
		ctx.State = StateDone
		metrics.RecordResult(test.Name, false, time.Since(start).Seconds(), ctx.LStat.S.NoBytes, ctx.LStat.R.NoBytes)
		reportUnusedParams(ctx)
		return ctx, fmt.Errorf("test %q: %w", test.Name, err)
	}
	ctx.State = StateExchanging
	ctx.Timer.Stop()
	ctx.State = StateDone
	metrics.RecordResult(test.Name, ctx.Successful, time.Since(start).Seconds(), ctx.LStat.S.NoBytes, ctx.LStat.R.NoBytes)
	reportUnusedParams(ctx)
	return ctx, nil
}
