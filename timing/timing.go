// Package timing samples per-CPU /proc/stat ticks and bounds a test's
// runtime the way spec.md §4.4 describes: a CLOCK[T_N] snapshot is taken at
// start, a deadline fires once, and a monotonic Finished counter latches the
// end snapshot on its first (0→1) transition.
//
// The C original arms a repeating interval timer and lets SIGALRM interrupt
// blocking syscalls, re-arming every microsecond to close a race between the
// Finished check and the next blocking call. In Go, conn.SetDeadline (see
// package conn) already interrupts a blocked read/write exactly once the
// deadline passes, so a one-shot time.AfterFunc is sufficient here — the
// repeating-timer trick has no analogue to work around, by construction
// (see spec.md §9's note that a monotonic-deadline substitution is
// acceptable provided blocking syscalls are still interrupted promptly).
package timing

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/network-quality/qperf/wire"
)

// TicksPerSecond is the assumed kernel clock tick rate (USER_HZ), used to
// convert tick deltas to seconds. It is practically always 100 on Linux;
// hand-derived here rather than pulled from a sysconf binding because the
// standard library exposes no portable sysconf(_SC_CLK_TCK) call.
const TicksPerSecond = 100

// Clock is a CLOCK[T_N] tick vector: REAL, then the eight /proc/stat
// "cpu " columns.
type Clock = [wire.TN]uint64

// Sampler reads /proc/stat "cpu " ticks plus the process-clock REAL tick
// counter. The file descriptor is opened once and reused (lseek to 0 before
// each read), per spec.md §5's resource policy.
type Sampler struct {
	mu sync.Mutex
	f  *os.File
}

// NewSampler opens /proc/stat for repeated sampling.
func NewSampler() (*Sampler, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return nil, fmt.Errorf("open /proc/stat: %w", err)
	}
	return &Sampler{f: f}, nil
}

// Close releases the underlying /proc/stat file descriptor.
func (s *Sampler) Close() error {
	return s.f.Close()
}

// Sample fills out with a fresh CLOCK[T_N] snapshot.
func (s *Sampler) Sample(out *Clock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tms unix.Tms
	real, err := unix.Times(&tms)
	if err != nil {
		return fmt.Errorf("times(2): %w", err)
	}
	out[wire.Real] = uint64(real)

	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek /proc/stat: %w", err)
	}
	line, err := bufio.NewReader(s.f).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("read /proc/stat: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "cpu" {
		return fmt.Errorf("unexpected /proc/stat first line: %q", line)
	}
	cols := fields[1:]
	for i := 0; i < wire.TN-1; i++ {
		if i >= len(cols) {
			out[wire.User+i] = 0 // missing trailing columns are zero-filled
			continue
		}
		v, err := strconv.ParseUint(cols[i], 10, 64)
		if err != nil {
			return fmt.Errorf("parsing /proc/stat column %d (%q): %w", i, cols[i], err)
		}
		out[wire.User+i] = v
	}
	return nil
}

// Timer bounds one test's runtime and captures its CLOCK[T_N] start/end
// snapshots. It is scoped to a single test context; there is no
// process-wide shared state (see spec.md §9's note on per-context globals).
type Timer struct {
	sampler  *Sampler
	finished atomic.Uint32
	timeS    Clock
	timeE    Clock
	timer    *time.Timer
}

// NewTimer creates a Timer using sampler for its CLOCK snapshots.
func NewTimer(sampler *Sampler) *Timer {
	return &Timer{sampler: sampler}
}

// Start samples time_s, then, if seconds > 0, arms a one-shot deadline that
// calls SetFinished when it expires.
func (t *Timer) Start(seconds uint32) error {
	if err := t.sampler.Sample(&t.timeS); err != nil {
		return err
	}
	if seconds > 0 {
		t.timer = time.AfterFunc(time.Duration(seconds)*time.Second, t.SetFinished)
	}
	return nil
}

// SetFinished atomically increments Finished; on the 0→1 transition only,
// it samples time_e. Later calls (a test loop noticing Finished has
// latched, or a lingering timer callback after an explicit Stop) must not
// overwrite time_e, mirroring the C original's signal-safe single-latch
// behavior.
func (t *Timer) SetFinished() {
	if t.finished.Add(1) == 1 {
		_ = t.sampler.Sample(&t.timeE)
	}
}

// Stop latches Finished (if not already latched) and disarms the deadline.
func (t *Timer) Stop() {
	t.SetFinished()
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Finished returns the current value of the monotonic Finished counter.
func (t *Timer) Finished() uint32 {
	return t.finished.Load()
}

// TimeS returns the CLOCK[T_N] snapshot taken at Start.
func (t *Timer) TimeS() Clock { return t.timeS }

// TimeE returns the CLOCK[T_N] snapshot latched at the first Finished
// transition. It is the zero Clock if Finished has not yet latched.
func (t *Timer) TimeE() Clock { return t.timeE }
