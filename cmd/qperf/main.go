// Command qperf is the qperf client/server binary: a single executable
// that runs as a server when given no positional arguments, or as a
// client when given a host and a test name.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/spf13/pflag"

	"github.com/network-quality/qperf/options"
	"github.com/network-quality/qperf/params"
	"github.com/network-quality/qperf/protocol"
	"github.com/network-quality/qperf/registry"
	"github.com/network-quality/qperf/render"
	"github.com/network-quality/qperf/testbodies"
)

// applyEnvOverrides is flagx.ArgsFromEnv's QPERF_<FLAG_NAME> behavior,
// reimplemented against a pflag.FlagSet: flagx's own helper is typed to
// the stdlib *flag.FlagSet, which this binary's option table (built on
// pflag for its long/short forms and custom size/time Value types) does
// not satisfy. Called before fs.Parse, so an explicit command-line flag
// always wins by overwriting whatever the environment set moments
// earlier, matching flagx's own before-Parse ordering.
func applyEnvOverrides(fs *pflag.FlagSet) error {
	var firstErr error
	fs.VisitAll(func(f *pflag.Flag) {
		name := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := os.LookupEnv("QPERF_" + name)
		if !ok {
			return
		}
		if err := fs.Set(f.Name, val); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("env QPERF_%s: %w", name, err)
		}
	})
	return firstErr
}

var promPort = flag.String("prom", ":9090", "Prometheus metrics export address and port.")

// optionCells backs the parameters exposed on the command line
// (--msg_size, --time, --timeout, --affinity and their loc_/rem_ variants)
// before a Context exists to hold them; the client's Init hook copies the
// REMOTE cells into Context.RReq and the local affinity cell into
// Context.Affinity once a test starts.
type optionCells struct {
	locMsgSize, remMsgSize     uint64
	locTime, remTime           uint64
	locTimeout, remTimeout     uint64
	locAffinity, remAffinity   uint64
}

// registryIndices carries the registry indices buildRegistry assigned, so
// main can hand them to protocol.Client as a protocol.ParamIndex without
// either package reaching into the other's option-table internals.
type registryIndices struct {
	locMsgSize, remMsgSize   int
	locTime, remTime         int
	locTimeout, remTimeout   int
	locAffinity, remAffinity int
}

func buildRegistry(cells *optionCells) (*params.Registry, []options.Option, registryIndices) {
	reg := params.New()

	locMsgSize := reg.AddSize(func() uint64 { return cells.locMsgSize }, func(v uint64) { cells.locMsgSize = v })
	remMsgSize := reg.AddSize(func() uint64 { return cells.remMsgSize }, func(v uint64) { cells.remMsgSize = v })
	reg.Pair(locMsgSize, remMsgSize)

	locTime := reg.AddTime(func() uint64 { return cells.locTime }, func(v uint64) { cells.locTime = v })
	remTime := reg.AddTime(func() uint64 { return cells.remTime }, func(v uint64) { cells.remTime = v })
	reg.Pair(locTime, remTime)

	locTimeout := reg.AddTime(func() uint64 { return cells.locTimeout }, func(v uint64) { cells.locTimeout = v })
	remTimeout := reg.AddTime(func() uint64 { return cells.remTimeout }, func(v uint64) { cells.remTimeout = v })
	reg.Pair(locTimeout, remTimeout)

	locAffinity := reg.AddLong(func() uint64 { return cells.locAffinity }, func(v uint64) { cells.locAffinity = v })
	remAffinity := reg.AddLong(func() uint64 { return cells.remAffinity }, func(v uint64) { cells.remAffinity = v })
	reg.Pair(locAffinity, remAffinity)

	table := []options.Option{
		{Long: "msg_size", Short: "m", ServerValid: false, Handler: options.HandlerSize, Arg1: locMsgSize, Arg2: remMsgSize, Usage: "message size, both sides"},
		{Long: "loc_msg_size", Handler: options.HandlerSize, Arg1: locMsgSize, Arg2: params.Null, Usage: "message size, local only"},
		{Long: "rem_msg_size", Handler: options.HandlerSize, Arg1: params.Null, Arg2: remMsgSize, Usage: "message size, remote only"},
		{Long: "time", Short: "T", Handler: options.HandlerTime, Arg1: locTime, Arg2: remTime, Usage: "test duration, both sides"},
		{Long: "timeout", Handler: options.HandlerTime, Arg1: locTimeout, Arg2: remTimeout, Usage: "per-message deadline, both sides"},
		{Long: "affinity", Handler: options.HandlerLong, Arg1: locAffinity, Arg2: remAffinity, Usage: "pin worker to CPU N (1-based; 0 = no preference), both sides"},
		{Long: "loc_affinity", Handler: options.HandlerLong, Arg1: locAffinity, Arg2: params.Null, Usage: "pin the client process to CPU N, local only"},
		{Long: "rem_affinity", Handler: options.HandlerLong, Arg1: params.Null, Arg2: remAffinity, Usage: "pin the server worker to CPU N, remote only"},
	}
	idx := registryIndices{
		locMsgSize: locMsgSize, remMsgSize: remMsgSize,
		locTime: locTime, remTime: remTime,
		locTimeout: locTimeout, remTimeout: remTimeout,
		locAffinity: locAffinity, remAffinity: remAffinity,
	}
	return reg, table, idx
}

func buildTestRegistry() *registry.Registry {
	r := registry.New()
	r.Add("tcp_bw", testbodies.ClientTCPBW, testbodies.ServerTCPBW)
	r.Add("tcp_lat", testbodies.ClientTCPLat, testbodies.ServerTCPLat)
	return r
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cells := &optionCells{}
	reg, table, idx := buildRegistry(cells)
	fs := options.BuildFlagSet("qperf", reg, table, 0)
	misc := options.RegisterMisc(fs)

	// flagx.ArgsFromEnv only covers the stdlib flag.CommandLine (-prom), so
	// it runs here for that flag; applyEnvOverrides does the equivalent for
	// the pflag-backed option table (--msg_size, --affinity, --csv, ...),
	// per SUPPLEMENTAL FEATURE #4 ("every CLI flag readable from QPERF_*").
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "could not read -prom from the environment")
	rtx.Must(applyEnvOverrides(fs), "could not read flags from the environment")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if category, ok := misc.HelpRequested(); ok {
		printHelp(category, table)
		os.Exit(0)
	}
	if misc.Version {
		fmt.Printf("qperf %s\n", versionString())
		os.Exit(0)
	}

	mode, err := options.DeriveMode(fs.Args(), false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "qperf:", err)
		os.Exit(1)
	}

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(context.Background())

	tests := buildTestRegistry()

	if mode.Server {
		srv := &protocol.Server{
			Tests:         tests,
			ListenPort:    misc.ListenPort,
			ServerTimeout: misc.ServerTimeout,
		}
		rtx.Must(srv.ListenAndServe(), "server exited")
		return
	}

	host := mode.Host
	if misc.Host != "" {
		host = misc.Host
	}
	client := &protocol.Client{
		Tests:      tests,
		ListenPort: misc.ListenPort,
		Wait:       misc.Wait,
		Params:     reg,
		Init: func(ctx *protocol.Context) {
			ctx.Idx = protocol.ParamIndex{
				MsgSizeLoc: idx.locMsgSize, MsgSizeRem: idx.remMsgSize,
				TimeLoc: idx.locTime, TimeRem: idx.remTime,
				TimeoutLoc: idx.locTimeout, TimeoutRem: idx.remTimeout,
				AffinityLoc: idx.locAffinity, AffinityRem: idx.remAffinity,
			}
			if cells.remMsgSize > 0 {
				ctx.RReq.MsgSize = cells.remMsgSize
			}
			if cells.remTime > 0 {
				ctx.RReq.Time = uint32(cells.remTime)
			}
			if cells.remTimeout > 0 {
				ctx.RReq.Timeout = uint32(cells.remTimeout)
			}
			ctx.Affinity = uint8(cells.locAffinity)
			ctx.RReq.Affinity = uint8(cells.remAffinity)
		},
	}
	ctx, err := client.RunTest(host, mode.Test)
	if err != nil {
		fmt.Fprintln(os.Stderr, "qperf:", err)
		os.Exit(1)
	}

	r := render.New()
	r.Precision = misc.Precision
	r.UnifyUnits = misc.UnifyUnits
	r.UnifyNodes = misc.UnifyNodes
	r.V = render.Verbosity{
		Debug: misc.Debug,
		Conf:  misc.VerboseConf,
		Stat:  misc.VerboseStat,
		Time:  misc.VerboseTime,
		Used:  misc.VerboseUsed,
	}
	printResults(r, ctx)

	if misc.CSV != "" {
		row := render.Row{
			Test:          ctx.TestName,
			SendBW:        ctx.Res.SendBW,
			RecvBW:        ctx.Res.RecvBW,
			MsgRate:       ctx.Res.MsgRate,
			Latency:       ctx.Res.Latency,
			SendCost:      ctx.Res.SendCost,
			RecvCost:      ctx.Res.RecvCost,
			LocCPUTotal:   ctx.Res.L.CPUTotal,
			RemCPUTotal:   ctx.Res.R.CPUTotal,
			BytesSent:     ctx.LStat.S.NoBytes,
			BytesReceived: ctx.LStat.R.NoBytes,
			Successful:    ctx.Successful,
		}
		if err := render.WriteCSV(misc.CSV, row); err != nil {
			fmt.Fprintln(os.Stderr, "qperf: csv:", err)
		}
	}

	if !ctx.Successful {
		os.Exit(1)
	}
}

func versionString() string {
	return fmt.Sprintf("%d.%d.%d", protocol.Version.Maj, protocol.Version.Min, protocol.Version.Inc)
}

func printResults(r *render.Renderer, ctx *protocol.Context) {
	r.ViewStrn(render.Always, "", "test", ctx.TestName)
	r.ViewBand(render.Always, "", "send_bw", ctx.Res.SendBW)
	r.ViewBand(render.Always, "", "recv_bw", ctx.Res.RecvBW)
	r.ViewRate(render.Stat1, "", "msg_rate", ctx.Res.MsgRate)
	r.ViewTime(render.Stat1, "", "latency", ctx.Res.Latency)
	if ctx.Res.SendCostValid {
		r.ViewCost(render.Stat2, "", "send_cost", ctx.Res.SendCost)
	}
	if ctx.Res.RecvCostValid {
		r.ViewCost(render.Stat2, "", "recv_cost", ctx.Res.RecvCost)
	}
	r.ViewCpus(render.Time1, "loc_", "cpu_total", ctx.Res.L.CPUTotal)
	r.ViewCpus(render.Time1, "rem_", "cpu_total", ctx.Res.R.CPUTotal)
	r.ViewSize(render.Used1, "loc_", "bytes_sent", ctx.LStat.S.NoBytes)
	r.ViewSize(render.Used1, "loc_", "bytes_recv", ctx.LStat.R.NoBytes)
	r.PlaceShow(os.Stdout)
}

func printHelp(category string, table []options.Option) {
	fmt.Println("usage: qperf [options] [host test_name]")
	if category != "" && category != "all" {
		fmt.Printf("  (category %q not recognized; listing all options)\n", category)
	}
	for _, opt := range table {
		fmt.Printf("  --%-16s %s\n", opt.Long, opt.Usage)
	}
}
