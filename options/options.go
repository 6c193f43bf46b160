// Package options implements qperf's command-line option parser (spec.md
// §4.3): size and time suffix parsing, a flat option table driving
// generic LOCAL/REMOTE dual-set handlers, and the positional-argument mode
// derivation (server vs. client) described in spec.md §6.
package options

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/network-quality/qperf/params"
	"github.com/network-quality/qperf/wire"
)

// HandlerKind is the closed set of option handlers from spec.md §4.3.
type HandlerKind int

const (
	HandlerLong HandlerKind = iota
	HandlerSize
	HandlerTime
	HandlerString
)

// Option is one row of the flat (long_form, short_form, server_valid,
// handler, arg1, arg2) table. Arg1 is the LOCAL parameter index, Arg2 the
// REMOTE index; either may be params.Null for a loc-only or rem-only
// variant.
type Option struct {
	Long        string
	Short       string
	ServerValid bool
	Handler     HandlerKind
	Arg1, Arg2  int
	Usage       string
}

// ParseSize parses a non-negative, possibly-fractional decimal with an
// optional size suffix, per spec.md §4.3's testable property 8.
//
// Suffix table: "" ×1, "k"/"kb" (case-insensitive) ×10³, "m"/"mb" ×10⁶,
// "g"/"gb" ×10⁹, "K"/"kib" ×2¹⁰, "M"/"mib" ×2²⁰, "G"/"gib" ×2³⁰. The
// single-letter form is case-sensitive (lowercase = decimal, uppercase =
// binary); the two-letter "xb"/"xib" form is case-insensitive.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	num, suffix := splitNumericSuffix(s)
	if num == "" {
		return 0, fmt.Errorf("invalid size %q: no numeric value", s)
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid size %q: %v", s, err)
	}

	var mult float64
	switch {
	case suffix == "":
		mult = 1
	case suffix == "k" || strings.EqualFold(suffix, "kb"):
		mult = 1e3
	case suffix == "m" || strings.EqualFold(suffix, "mb"):
		mult = 1e6
	case suffix == "g" || strings.EqualFold(suffix, "gb"):
		mult = 1e9
	case suffix == "K" || strings.EqualFold(suffix, "kib"):
		mult = 1 << 10
	case suffix == "M" || strings.EqualFold(suffix, "mib"):
		mult = 1 << 20
	case suffix == "G" || strings.EqualFold(suffix, "gib"):
		mult = 1 << 30
	default:
		return 0, fmt.Errorf("invalid size %q: unknown suffix %q", s, suffix)
	}
	return uint64(v * mult), nil
}

// ParseTime parses a non-negative decimal with an optional duration
// suffix, per spec.md §4.3's testable property 9: "" seconds,
// "s"/"S" seconds, "m"/"M" ×60, "h"/"H" ×3600, "d"/"D" ×86400.
func ParseTime(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	num, suffix := splitNumericSuffix(s)
	if num == "" {
		return 0, fmt.Errorf("invalid time %q: no numeric value", s)
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid time %q: %v", s, err)
	}
	var mult float64
	switch suffix {
	case "", "s", "S":
		mult = 1
	case "m", "M":
		mult = 60
	case "h", "H":
		mult = 3600
	case "d", "D":
		mult = 86400
	default:
		return 0, fmt.Errorf("invalid time %q: unknown suffix %q", s, suffix)
	}
	return uint64(v * mult), nil
}

// splitNumericSuffix separates a leading decimal (allowing one '.' and
// optional surrounding whitespace before the suffix) from its trailing
// alphabetic suffix.
func splitNumericSuffix(s string) (num, suffix string) {
	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	num = s[:i]
	suffix = strings.TrimSpace(s[i:])
	return num, suffix
}

// dualSet writes v into whichever of arg1 (LOCAL) / arg2 (REMOTE) indices
// are not params.Null.
func dualSet(reg *params.Registry, name string, arg1, arg2 int, v uint64) {
	if arg1 != params.Null {
		reg.SetP(name, arg1, v)
	}
	if arg2 != params.Null {
		reg.SetP(name, arg2, v)
	}
}

func dualSetStr(reg *params.Registry, name string, arg1, arg2 int, s string, maxLen int) error {
	if arg1 != params.Null {
		if err := reg.SetStr(name, arg1, s, maxLen); err != nil {
			return err
		}
	}
	if arg2 != params.Null {
		if err := reg.SetStr(name, arg2, s, maxLen); err != nil {
			return err
		}
	}
	return nil
}

// longValue, sizeValue, timeValue and strValue adapt the generic
// long/size/time/string handlers of spec.md §4.3 to pflag.Value, so each
// table row becomes one ordinary pflag long+short flag pair.
type longValue struct {
	reg        *params.Registry
	name       string
	arg1, arg2 int
	text       string
}

func (v *longValue) String() string { return v.text }
func (v *longValue) Type() string   { return "uint" }
func (v *longValue) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	v.text = s
	dualSet(v.reg, v.name, v.arg1, v.arg2, n)
	return nil
}

type sizeValue struct {
	reg        *params.Registry
	name       string
	arg1, arg2 int
	text       string
}

func (v *sizeValue) String() string { return v.text }
func (v *sizeValue) Type() string   { return "size" }
func (v *sizeValue) Set(s string) error {
	n, err := ParseSize(s)
	if err != nil {
		return err
	}
	v.text = s
	dualSet(v.reg, v.name, v.arg1, v.arg2, n)
	return nil
}

type timeValue struct {
	reg        *params.Registry
	name       string
	arg1, arg2 int
	text       string
}

func (v *timeValue) String() string { return v.text }
func (v *timeValue) Type() string   { return "time" }
func (v *timeValue) Set(s string) error {
	n, err := ParseTime(s)
	if err != nil {
		return err
	}
	v.text = s
	dualSet(v.reg, v.name, v.arg1, v.arg2, n)
	return nil
}

// strValue's MaxLen defaults to wire.StrSize when zero; callers set it
// explicitly for fields with a different wire width.
type strValue struct {
	reg        *params.Registry
	name       string
	arg1, arg2 int
	maxLen     int
	text       string
}

func (v *strValue) String() string { return v.text }
func (v *strValue) Type() string   { return "string" }
func (v *strValue) Set(s string) error {
	maxLen := v.maxLen
	if maxLen == 0 {
		maxLen = wire.StrSize
	}
	if err := dualSetStr(v.reg, v.name, v.arg1, v.arg2, s, maxLen); err != nil {
		return err
	}
	v.text = s
	return nil
}

// BuildFlagSet registers every table entry into a new pflag.FlagSet bound
// to reg, using the long/short forms and the dual-set handler its Handler
// kind names. strMaxLen bounds the string handler's argument length
// (matching wire.StrSize for id-like fields).
func BuildFlagSet(name string, reg *params.Registry, table []Option, strMaxLen int) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	for _, opt := range table {
		var val pflag.Value
		switch opt.Handler {
		case HandlerLong:
			val = &longValue{reg: reg, name: opt.Long, arg1: opt.Arg1, arg2: opt.Arg2}
		case HandlerSize:
			val = &sizeValue{reg: reg, name: opt.Long, arg1: opt.Arg1, arg2: opt.Arg2}
		case HandlerTime:
			val = &timeValue{reg: reg, name: opt.Long, arg1: opt.Arg1, arg2: opt.Arg2}
		case HandlerString:
			val = &strValue{reg: reg, name: opt.Long, arg1: opt.Arg1, arg2: opt.Arg2, maxLen: strMaxLen}
		default:
			continue
		}
		fs.VarP(val, opt.Long, opt.Short, opt.Usage)
	}
	return fs
}

// Misc bundles the standalone options of spec.md §6 that are not table
// entries because they do not address the parameter registry at all:
// precision, unify flags, verbosity family, debug, host override, listen
// port, server timeout, wait-for-server budget, version and help.
type Misc struct {
	Precision     int
	UnifyUnits    bool
	UnifyNodes    bool
	Debug         bool
	VerboseConf   int
	VerboseStat   int
	VerboseTime   int
	VerboseUsed   int
	Host          string
	ListenPort    int
	ServerTimeout int
	Wait          int
	Version       bool
	Help          string
	CSV           string
}

// DefaultListenPort and DefaultServerTimeout are spec.md §6's documented
// defaults for -lp and -st.
const (
	DefaultListenPort    = 19765
	DefaultServerTimeout = 5
)

// RegisterMisc adds the misc flags to fs and returns the struct they
// populate on Parse. --vc/--vs/--vt/--vu set their corresponding counter to
// 1; the uppercase forms set it to 2; --vv sets all four to 2. -v is the
// single-letter shorthand of --vv, so it also sets all four to 2; no option
// sets all four counters to 1 at once.
//
// pflag shorthands are a single rune, so multi-letter single-dash forms
// like "-lp" and "-vc" cannot be registered as shorthands; they are
// exposed as double-dash long flags ("--lp", "--vc") instead. Only the
// genuinely single-letter options (-e, -u, -U, -D, -H, -W, -V, -v, -h) get
// a real pflag shorthand.
func RegisterMisc(fs *pflag.FlagSet) *Misc {
	m := &Misc{Precision: 3, ListenPort: DefaultListenPort, ServerTimeout: DefaultServerTimeout}
	fs.IntVarP(&m.Precision, "precision", "e", 3, "significant digits in numeric output")
	fs.BoolVarP(&m.UnifyUnits, "unify-units", "u", false, "disable unit ladders and thousands separators")
	fs.BoolVarP(&m.UnifyNodes, "unify-nodes", "U", false, "collapse loc/rem axes into send/recv")
	fs.BoolVarP(&m.Debug, "debug", "D", false, "enable debug output")
	fs.StringVarP(&m.Host, "host", "H", "", "server host override")
	fs.IntVar(&m.ListenPort, "lp", DefaultListenPort, "listen port")
	fs.IntVar(&m.ServerTimeout, "st", DefaultServerTimeout, "server-side receive timeout, seconds")
	fs.IntVarP(&m.Wait, "wait", "W", 0, "retry budget (seconds) while waiting for the server")
	fs.BoolVarP(&m.Version, "version", "V", false, "print version and exit")
	fs.StringVar(&m.CSV, "csv", "", "write the completed test's result to this CSV file, replacing its contents")

	fs.VarP(&verbosityFlag{target: &m.VerboseConf, level: 1}, "vc", "", "verbose: configuration, level 1")
	fs.VarP(&verbosityFlag{target: &m.VerboseConf, level: 2}, "vC", "", "verbose: configuration, level 2")
	fs.VarP(&verbosityFlag{target: &m.VerboseStat, level: 1}, "vs", "", "verbose: statistics, level 1")
	fs.VarP(&verbosityFlag{target: &m.VerboseStat, level: 2}, "vS", "", "verbose: statistics, level 2")
	fs.VarP(&verbosityFlag{target: &m.VerboseTime, level: 1}, "vt", "", "verbose: timing, level 1")
	fs.VarP(&verbosityFlag{target: &m.VerboseTime, level: 2}, "vT", "", "verbose: timing, level 2")
	fs.VarP(&verbosityFlag{target: &m.VerboseUsed, level: 1}, "vu", "", "verbose: used parameters, level 1")
	fs.VarP(&verbosityFlag{target: &m.VerboseUsed, level: 2}, "vU", "", "verbose: used parameters, level 2")
	fs.VarP(&allVerbosityFlag{m}, "vv", "v", "verbose: all categories")

	fs.StringVarP(&m.Help, "help", "h", "", "print help, optionally scoped to a category, and exit")
	fs.Lookup("help").NoOptDefVal = "all"
	return m
}

// HelpRequested reports whether -h was given, and the category argument if
// one was supplied ("all" when -h was given with no argument).
func (m *Misc) HelpRequested() (category string, ok bool) {
	return m.Help, m.Help != ""
}

// verbosityFlag is a boolean-shaped pflag.Value that sets *target to level
// when present, matching -v{c,s,t,u} / -v{C,S,T,U}'s "set to 1 or 2" shape
// rather than an accumulating counter.
type verbosityFlag struct {
	target *int
	level  int
	set    bool
}

func (f *verbosityFlag) String() string {
	if f.set {
		return "true"
	}
	return "false"
}
func (f *verbosityFlag) Type() string { return "bool" }
func (f *verbosityFlag) IsBoolFlag() bool { return true }
func (f *verbosityFlag) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	f.set = v
	if v {
		*f.target = f.level
	}
	return nil
}

// allVerbosityFlag implements --vv (shorthand -v), which sets all four
// verbosity counters to 2 at once.
type allVerbosityFlag struct{ m *Misc }

func (f *allVerbosityFlag) String() string   { return "false" }
func (f *allVerbosityFlag) Type() string     { return "bool" }
func (f *allVerbosityFlag) IsBoolFlag() bool { return true }
func (f *allVerbosityFlag) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if v {
		f.m.VerboseConf, f.m.VerboseStat, f.m.VerboseTime, f.m.VerboseUsed = 2, 2, 2, 2
	}
	return nil
}

// Mode is the result of positional-argument mode derivation.
type Mode struct {
	Server bool
	Host   string
	Test   string
}

// DeriveMode implements spec.md §4.3's mode derivation: the first
// non-option token is the server hostname, the second a test name that
// triggers client mode. With zero positional arguments and no
// client-mode-forcing option, the process runs as server; a lone
// positional, or a client-mode option without a test name, is a user
// error. Positional arguments after the test name are ignored.
func DeriveMode(positional []string, clientModeOption bool) (Mode, error) {
	switch len(positional) {
	case 0:
		if clientModeOption {
			return Mode{}, fmt.Errorf("a non-server option requested client mode but no host/test was given")
		}
		return Mode{Server: true}, nil
	case 1:
		return Mode{}, fmt.Errorf("a test name must be preceded by a server host name")
	default:
		return Mode{Host: positional[0], Test: positional[1]}, nil
	}
}
