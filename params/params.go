// Package params implements the qperf parameter registry: a dense,
// declaration-ordered table of typed options, each with independent local and
// remote storage cells, plus the set/used/inuse bookkeeping the option
// parser and test bodies rely on.
package params

import (
	"fmt"
)

// Kind is the semantic type of a parameter, per spec.md §3.
type Kind int

const (
	// KindLong is a plain unsigned integer parameter.
	KindLong Kind = iota
	// KindString is a short ASCII tag, e.g. Req.ID.
	KindString
	// KindSize is an integer parsed with byte-count suffixes (k/m/g/K/M/G).
	KindSize
	// KindTime is an integer parsed with time-unit suffixes (s/m/h/d).
	KindTime
)

// Null is the explicit sentinel for "no parameter here" — the loc-only and
// rem-only option handlers pass Null for the side they don't touch. It must
// never be treated as a valid registry index (spec.md §9 open question).
const Null = -1

// Setter writes a parsed unsigned value into a parameter's backing storage
// (a field of a wire.Req, coerced to that field's native width).
type Setter func(v uint64)

// Getter reads a parameter's backing storage back out as a uint64.
type Getter func() uint64

// StrSetter writes a parsed string into a parameter's backing storage (a
// wire.Req.ID-shaped fixed buffer). It returns an error if s is too long.
type StrSetter func(s string) error

// StrGetter reads a parameter's backing string storage.
type StrGetter func() string

// Par is one entry in the registry: one LOCAL or REMOTE storage cell for one
// user-visible option.
type Par struct {
	Index int
	Kind  Kind
	// name is a pointer so that a LOCAL/REMOTE pair registered together can
	// share identity: the used-but-not-used diagnostic keys off pointer
	// equality of this field, mirroring the C implementation's shared
	// display-name pointer between paired entries.
	name   *string
	Set    bool
	Used   bool
	InUse  bool
	setU64 Setter
	getU64 Getter
	setStr StrSetter
	getStr StrGetter
}

// Registry is the dense, declaration-ordered parameter table.
type Registry struct {
	entries []*Par
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// add registers a KindLong or KindSize or KindTime parameter backed by
// get/set closures over a single storage cell, and returns its index.
func (r *Registry) add(kind Kind, get Getter, set Setter) int {
	idx := len(r.entries)
	r.entries = append(r.entries, &Par{Index: idx, Kind: kind, getU64: get, setU64: set})
	r.checkOrder(idx)
	return idx
}

// AddLong registers a plain integer parameter.
func (r *Registry) AddLong(get Getter, set Setter) int { return r.add(KindLong, get, set) }

// AddSize registers a byte-count parameter (k/m/g/K/M/G suffixes at the
// option-parser layer; the registry itself just stores a uint64).
func (r *Registry) AddSize(get Getter, set Setter) int { return r.add(KindSize, get, set) }

// AddTime registers a time-duration parameter (s/m/h/d suffixes at the
// option-parser layer; stored here in seconds).
func (r *Registry) AddTime(get Getter, set Setter) int { return r.add(KindTime, get, set) }

// AddString registers a short ASCII tag parameter.
func (r *Registry) AddString(get StrGetter, set StrSetter) int {
	idx := len(r.entries)
	r.entries = append(r.entries, &Par{Index: idx, Kind: KindString, getStr: get, setStr: set})
	r.checkOrder(idx)
	return idx
}

// checkOrder enforces the invariant that index i of the registry has
// index == i; any violation is a bug in registration order and is fatal at
// init time (spec.md §3 invariants, §7 "internal invariant violation").
func (r *Registry) checkOrder(idx int) {
	if r.entries[idx].Index != idx {
		panic(fmt.Sprintf("internal error: parameter table out of order at index %d", idx))
	}
}

// Pair links two already-registered entries (a LOCAL and a REMOTE cell for
// the same user-visible option) so they share display-name identity.
func (r *Registry) Pair(locIdx, remIdx int) {
	if locIdx == Null || remIdx == Null {
		return
	}
	shared := new(string)
	r.entries[locIdx].name = shared
	r.entries[remIdx].name = shared
}

// get returns the entry at idx, or nil for Null or any index outside the
// registered range. The range check matters once callers start passing
// indices captured from a different (possibly empty) registry — a Context
// built without a CLI-populated Params, for instance — where the usual
// Null sentinel alone would not catch an out-of-range lookup.
func (r *Registry) get(idx int) *Par {
	if idx < 0 || idx >= len(r.entries) {
		return nil
	}
	return r.entries[idx]
}

// SetU64 is the silent internal write (setv_u32 in spec.md §4.2): it updates
// storage without touching Set/Used/InUse or the display name.
func (r *Registry) SetU64(idx int, v uint64) {
	p := r.get(idx)
	if p == nil {
		return
	}
	p.setU64(v)
}

// SetP records a user-visible assignment of an integer parameter (setp_u32):
// it writes storage, marks Set, and stores name on first call only.
func (r *Registry) SetP(name string, idx int, v uint64) {
	p := r.get(idx)
	if p == nil {
		return
	}
	p.setU64(v)
	p.Set = true
	if p.name == nil {
		p.name = new(string)
	}
	if *p.name == "" {
		*p.name = name
	}
}

// SetStr records a user-visible assignment of a string parameter (setp_str).
// Strings of maxLen or more bytes (leaving no room for a NUL terminator)
// are rejected as a user error.
func (r *Registry) SetStr(name string, idx int, s string, maxLen int) error {
	p := r.get(idx)
	if p == nil {
		return nil
	}
	if len(s) > maxLen-1 {
		return fmt.Errorf("%q is too long for parameter %q (max %d characters)", s, name, maxLen-1)
	}
	if err := p.setStr(s); err != nil {
		return err
	}
	p.Set = true
	if p.name == nil {
		p.name = new(string)
	}
	if *p.name == "" {
		*p.name = name
	}
	return nil
}

// Use marks a parameter as touched by the running test (par_use).
func (r *Registry) Use(idx int) {
	p := r.get(idx)
	if p == nil {
		return
	}
	p.Used = true
	p.InUse = true
}

// ClearInUse clears InUse on every parameter. Called at the start of a
// client run before the next test is selected.
func (r *Registry) ClearInUse() {
	for _, p := range r.entries {
		p.InUse = false
	}
}

// IsSet reports whether a user (or a test, via SetP/SetStr) has explicitly
// set idx itself (par_isset). Setting one entry of a LOCAL/REMOTE pair does
// not mark the other. WarnUnused clears the flag on the later entry of a
// pair it has already reported.
func (r *Registry) IsSet(idx int) bool {
	p := r.get(idx)
	if p == nil {
		return false
	}
	return p.Set
}

// Get returns the uint64 value currently stored for idx.
func (r *Registry) Get(idx int) uint64 {
	p := r.get(idx)
	if p == nil || p.getU64 == nil {
		return 0
	}
	return p.getU64()
}

// GetStr returns the string value currently stored for idx.
func (r *Registry) GetStr(idx int) string {
	p := r.get(idx)
	if p == nil || p.getStr == nil {
		return ""
	}
	return p.getStr()
}

// UnusedWarning is one "set but not used" diagnostic.
type UnusedWarning struct {
	Index int
	Name  string
}

// String renders the diagnostic the way it is printed to stderr.
func (w UnusedWarning) String() string {
	return fmt.Sprintf("%s set but not used", w.Name)
}

// WarnUnused returns a warning for every parameter whose Set is true but
// Used is false, then clears Set on every later entry that shares the same
// display-name pointer (its LOCAL/REMOTE pair), so the pair is only
// reported once. testName is included by the caller when formatting the
// final message ("<name> set but not used in test <test>").
func (r *Registry) WarnUnused() []UnusedWarning {
	var warnings []UnusedWarning
	for i, p := range r.entries {
		if !p.Set || p.Used {
			continue
		}
		name := ""
		if p.name != nil {
			name = *p.name
		}
		warnings = append(warnings, UnusedWarning{Index: i, Name: name})
		for _, other := range r.entries[i+1:] {
			if p.name != nil && other.name == p.name {
				other.Set = false
			}
		}
	}
	return warnings
}

// Len returns the number of registered parameters.
func (r *Registry) Len() int { return len(r.entries) }
