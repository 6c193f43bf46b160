// Package render implements qperf's verbosity-gated result presentation
// (spec.md §4.8): unit ladders for time/bandwidth/rate/cost/cpu/size/count
// values, significant-digit formatting with optional thousands separators,
// and the aligned two-column SHOW queue that place_show flushes once per
// client-side test.
package render

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Tag is a single-character verbosity gate, per spec.md §4.8.
type Tag byte

const (
	Always   Tag = 'a'
	Debug    Tag = 'd'
	Conf1    Tag = 'c'
	Conf2    Tag = 'C'
	Stat1    Tag = 's'
	Stat2    Tag = 'S'
	Time1    Tag = 't'
	Time2    Tag = 'T'
	Used1    Tag = 'u'
	Used2    Tag = 'U'
)

// Verbosity holds the four independent 0/1/2 verbosity counters plus the
// Debug flag, per spec.md §6's -v/-vc/-vs/-vt/-vu/-vv family.
type Verbosity struct {
	Debug bool
	Conf  int
	Stat  int
	Time  int
	Used  int
}

// allows reports whether tag is gated open under v. A counter ≤ 0 suppresses
// every non-Always tag that depends on it.
func (v Verbosity) allows(tag Tag) bool {
	switch tag {
	case Always:
		return true
	case Debug:
		return v.Debug
	case Conf1:
		return v.Conf >= 1
	case Conf2:
		return v.Conf >= 2
	case Stat1:
		return v.Stat >= 1
	case Stat2:
		return v.Stat >= 2
	case Time1:
		return v.Time >= 1
	case Time2:
		return v.Time >= 2
	case Used1:
		return v.Used >= 1
	case Used2:
		return v.Used >= 2
	default:
		return false
	}
}

// Entry is one queued SHOW row.
type Entry struct {
	Prefix string
	Name   string
	Data   string
	Unit   string
	Altn   string // exact alternate rendering, e.g. "1,048,576" (PlaceShow adds the parentheses); empty if none
}

// Renderer accumulates SHOW entries for one test and flushes them with
// PlaceShow, matching the "queue then place_show once per test" shape of
// spec.md §4.8.
type Renderer struct {
	Precision  int
	UnifyUnits bool
	UnifyNodes bool
	V          Verbosity

	queue []Entry
}

// New returns a Renderer with the spec's default Precision of 3.
func New() *Renderer {
	return &Renderer{Precision: 3}
}

func (r *Renderer) precision() int {
	if r.Precision <= 0 {
		return 3
	}
	return r.Precision
}

// show appends an entry to the queue iff tag is open under r.V.
func (r *Renderer) show(tag Tag, e Entry) {
	if !r.V.allows(tag) {
		return
	}
	r.queue = append(r.queue, e)
}

// ladder scales value down by 1000 until it is under 1000 or the last unit
// is reached; UnifyUnits disables scaling and reports the base unit as-is.
func ladder(value float64, units []string, unify bool) (float64, string) {
	if unify {
		return value, units[0]
	}
	idx := 0
	for value >= 1000 && idx < len(units)-1 {
		value /= 1000
		idx++
	}
	return value, units[idx]
}

// ViewTime renders a duration given in seconds through the {ns, µs, ms,
// sec} ladder.
func (r *Renderer) ViewTime(tag Tag, prefix, name string, seconds float64) {
	scaled, unit := ladder(seconds*1e9, []string{"ns", "µs", "ms", "sec"}, r.UnifyUnits)
	r.show(tag, Entry{Prefix: prefix, Name: name, Data: r.format(scaled), Unit: unit})
}

// ViewBand renders a bytes/sec rate through the {bytes/sec..TB/sec} ladder.
func (r *Renderer) ViewBand(tag Tag, prefix, name string, bytesPerSec float64) {
	scaled, unit := ladder(bytesPerSec, []string{"bytes/sec", "KB/sec", "MB/sec", "GB/sec", "TB/sec"}, r.UnifyUnits)
	r.show(tag, Entry{Prefix: prefix, Name: name, Data: r.format(scaled), Unit: unit})
}

// ViewRate renders a per-second count through the {/sec..T/sec} ladder.
func (r *Renderer) ViewRate(tag Tag, prefix, name string, perSec float64) {
	scaled, unit := ladder(perSec, []string{"/sec", "K/sec", "M/sec", "G/sec", "T/sec"}, r.UnifyUnits)
	r.show(tag, Entry{Prefix: prefix, Name: name, Data: r.format(scaled), Unit: unit})
}

// ViewCost renders a seconds-per-gigabyte cost through the {ns/GB..sec/GB}
// ladder.
func (r *Renderer) ViewCost(tag Tag, prefix, name string, secPerGB float64) {
	scaled, unit := ladder(secPerGB*1e9, []string{"ns/GB", "µs/GB", "ms/GB", "sec/GB"}, r.UnifyUnits)
	r.show(tag, Entry{Prefix: prefix, Name: name, Data: r.format(scaled), Unit: unit})
}

// ViewCpus renders a CPU-utilization fraction as a percentage. There is no
// ladder: the unit is always "% cpus".
func (r *Renderer) ViewCpus(tag Tag, prefix, name string, fraction float64) {
	r.show(tag, Entry{Prefix: prefix, Name: name, Data: r.format(fraction * 100), Unit: "% cpus"})
}

var size1024Units = []string{"KiB", "MiB", "GiB", "TiB"}

// ViewSize renders a byte count. It first tries an exact power-of-1024
// rendering (emitting the precise byte count as Altn); failing that it
// falls through to the ×1000 {bytes..TB} ladder. UnifyUnits disables both
// and reports the raw byte count with unit "bytes".
func (r *Renderer) ViewSize(tag Tag, prefix, name string, n uint64) {
	if r.UnifyUnits {
		r.show(tag, Entry{Prefix: prefix, Name: name, Data: r.format(float64(n)), Unit: "bytes"})
		return
	}
	value := float64(n)
	for p := len(size1024Units); p >= 1; p-- {
		step := math.Pow(1024, float64(p))
		if value >= step && value < step*1024 && n%uint64(step) == 0 {
			scaled := value / step
			r.show(tag, Entry{
				Prefix: prefix,
				Name:   name,
				Data:   r.format(scaled),
				Unit:   size1024Units[p-1],
				Altn:   commafy(strconv.FormatUint(n, 10)),
			})
			return
		}
	}
	scaled, unit := ladder(value, []string{"bytes", "KB", "MB", "GB", "TB"}, false)
	r.show(tag, Entry{Prefix: prefix, Name: name, Data: r.format(scaled), Unit: unit})
}

var longUnits = []string{"", "thousand", "million", "billion", "trillion"}

// ViewLong renders a plain count. Below one million it is shown with no
// unit; at or above one million it is run through the {thousand..trillion}
// ladder.
func (r *Renderer) ViewLong(tag Tag, prefix, name string, value float64) {
	if value < 1e6 {
		r.show(tag, Entry{Prefix: prefix, Name: name, Data: r.format(value)})
		return
	}
	scaled, unit := ladder(value, longUnits, r.UnifyUnits)
	r.show(tag, Entry{Prefix: prefix, Name: name, Data: r.format(scaled), Unit: unit})
}

// ViewStrn renders a string verbatim, with no unit and no numeric
// formatting.
func (r *Renderer) ViewStrn(tag Tag, prefix, name, value string) {
	r.show(tag, Entry{Prefix: prefix, Name: name, Data: value})
}

// format renders value to Precision significant digits, strips trailing
// zeros and a dangling decimal point, then commafies the integer portion
// unless UnifyUnits is set.
func (r *Renderer) format(value float64) string {
	s := formatSig(value, r.precision())
	if r.UnifyUnits {
		return s
	}
	return commafy(s)
}

// formatSig renders value to sig significant digits in plain decimal
// notation, with trailing zeros and a dangling decimal point stripped.
func formatSig(v float64, sig int) string {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	neg := v < 0
	if neg {
		v = -v
	}
	exp := int(math.Floor(math.Log10(v)))
	decimals := sig - 1 - exp
	if decimals < 0 {
		decimals = 0
	}
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if neg {
		s = "-" + s
	}
	return s
}

// commafy inserts thousands separators into the integer portion of a
// decimal string produced by formatSig.
func commafy(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, fracPart, hasFrac := s, "", false
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart, hasFrac = s[:i], s[i:], true
	}
	if len(intPart) > 3 {
		var b strings.Builder
		lead := len(intPart) % 3
		if lead == 0 {
			lead = 3
		}
		b.WriteString(intPart[:lead])
		for i := lead; i < len(intPart); i += 3 {
			b.WriteByte(',')
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}
	out := intPart
	if hasFrac {
		out += fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}

// PlaceShow prints the queued entries aligned into a two-column table and
// clears the queue, matching spec.md §4.8's per-test flush and §5's
// "released inside place_show after printing" resource policy.
func (r *Renderer) PlaceShow(w io.Writer) {
	defer func() { r.queue = nil }()
	if len(r.queue) == 0 {
		return
	}
	nameW, dataW, unitW := 0, 0, 0
	for _, e := range r.queue {
		if n := len(e.Prefix) + len(e.Name); n > nameW {
			nameW = n
		}
		if n := len(e.Data); n > dataW {
			dataW = n
		}
		if n := len(e.Unit); n > unitW {
			unitW = n
		}
	}
	for _, e := range r.queue {
		label := e.Prefix + e.Name
		line := fmt.Sprintf("    %-*s  =  %*s", nameW, label, dataW, e.Data)
		if e.Unit != "" {
			line += " " + padRight(e.Unit, unitW)
		}
		line = strings.TrimRight(line, " ")
		if e.Altn != "" {
			line += fmt.Sprintf(" (%s)", e.Altn)
		}
		fmt.Fprintln(w, line)
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
