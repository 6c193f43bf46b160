// Package registry implements qperf's test registry (spec.md §4.9): an
// ordered (name, client_fn, server_fn) table. A test's position in the
// table is its req_index, which must agree on both ends of a connection —
// this is what the control protocol's major/minor version gate protects.
package registry

import "fmt"

// ClientFunc runs a test's client-side body. ctx carries whatever
// connection/parameter state the test body needs; it is opaque to the
// registry.
//
// ctx is typed interface{} rather than *protocol.Context on purpose:
// protocol.Context is the natural shape for every test body's state, but
// protocol also needs this package (a Server dispatches by req_index
// through a *registry.Registry), so a concrete *protocol.Context parameter
// here would close an import cycle. Test bodies type-assert
// ctx.(*protocol.Context) internally instead.
type ClientFunc func(ctx interface{}) error

// ServerFunc runs a test's server-side body. See ClientFunc for why ctx is
// interface{}.
type ServerFunc func(ctx interface{}) error

// Test is one registered entry.
type Test struct {
	Name   string
	Client ClientFunc
	Server ServerFunc
}

// Registry is the ordered test table. Index 0 is req_index 0, and so on;
// entries are never reordered or removed once added.
type Registry struct {
	tests []Test
}

// New returns an empty registry.
func New() *Registry { return &Registry{} }

// Add appends a test and returns its req_index.
func (r *Registry) Add(name string, client ClientFunc, server ServerFunc) int {
	r.tests = append(r.tests, Test{Name: name, Client: client, Server: server})
	return len(r.tests) - 1
}

// Len returns the number of registered tests.
func (r *Registry) Len() int { return len(r.tests) }

// ByIndex looks up a test by req_index (the server's path: indices are
// decoded off the wire and must be validated before use).
func (r *Registry) ByIndex(idx int) (Test, error) {
	if idx < 0 || idx >= len(r.tests) {
		return Test{}, fmt.Errorf("req_index %d out of range [0,%d)", idx, len(r.tests))
	}
	return r.tests[idx], nil
}

// ByName looks up a test by name via a linear scan (the client's path: a
// human typed the test name on the command line), returning its req_index.
func (r *Registry) ByName(name string) (int, Test, error) {
	for i, t := range r.tests {
		if t.Name == name {
			return i, t, nil
		}
	}
	return 0, Test{}, fmt.Errorf("unknown test %q", name)
}

// Names returns every registered test name in req_index order, for -h help
// text and user-error messages.
func (r *Registry) Names() []string {
	names := make([]string, len(r.tests))
	for i, t := range r.tests {
		names[i] = t.Name
	}
	return names
}
