package resolver

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// UnknownLabel replaces the label of a function the resolver could not describe.
	UnknownLabel = "?"

	nativeSuffix = " [C]"

	// Unidentified is the identity given to handles a resolver can't key.
	Unidentified Identity = math.MaxUint64
)

// ErrStaleHandle is returned by Describe when the handle no longer refers to a
// function the host knows about.
var ErrStaleHandle = errors.New("stale function handle")

type (
	// Identity is the aggregation key of a function for the lifetime of a
	// session.
	Identity uint64

	// Handle is the host's opaque reference to a callable value.
	Handle interface{}

	// Description is what the host knows about a function.
	Description struct {
		Label string
		// Native is true for functions implemented in the host language.
		Native bool
	}

	// Resolver turns host handles into identities and descriptions.
	Resolver interface {
		// Identify returns the same identity for every call of the same function.
		Identify(h Handle) Identity
		Describe(h Handle) (Description, error)
	}
)

// Funcs adapts two functions to the Resolver interface.
type Funcs struct {
	IdentifyFunc func(Handle) Identity
	DescribeFunc func(Handle) (Description, error)
}

func (f Funcs) Identify(h Handle) Identity {
	return f.IdentifyFunc(h)
}

func (f Funcs) Describe(h Handle) (Description, error) {
	if f.DescribeFunc == nil {
		return Description{}, ErrStaleHandle
	}
	return f.DescribeFunc(h)
}

// Describe calls r.Describe and falls back to UnknownLabel. The returned
// boolean is false when the fallback was used.
func Describe(r Resolver, h Handle) (Description, bool) {
	d, err := r.Describe(h)
	if err != nil || d.Label == "" {
		return Description{Label: UnknownLabel}, false
	}
	return d, true
}

// What is the kind of function a method entry refers to.
type What string

const (
	WhatLua  What = "Lua"
	WhatC    What = "C"
	WhatMain What = "main"
)

// Function is the description of a callable value as reported by the host.
type Function struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source,omitempty"`
	Line   uint32 `json:"line,omitempty"`
	What   What   `json:"what,omitempty"`
}

// IsNative returns true for functions implemented in the host language.
func (f Function) IsNative() bool {
	return f.What == WhatC
}

// Label builds the label used in reports.
func (f Function) Label() string {
	name := f.Name
	if name == "" {
		if f.What == WhatMain {
			name = "main chunk"
		} else {
			name = "anonymous"
		}
	}
	if f.IsNative() {
		return name + nativeSuffix
	}
	if f.Source == "" {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(" (")
	b.WriteString(strings.TrimPrefix(f.Source, "@"))
	if f.Line > 0 {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(f.Line), 10))
	}
	b.WriteByte(')')
	return b.String()
}

// Table resolves handles that are method IDs (uint64) against a table of
// functions known in advance. Any other handle is Unidentified.
type Table struct {
	functions map[uint64]Function
}

func NewTable(functions []Function) *Table {
	t := &Table{functions: make(map[uint64]Function, len(functions))}
	for _, f := range functions {
		t.functions[f.ID] = f
	}
	return t
}

func (t *Table) Identify(h Handle) Identity {
	id, ok := h.(uint64)
	if !ok {
		return Unidentified
	}
	return Identity(id)
}

func (t *Table) Describe(h Handle) (Description, error) {
	id, ok := h.(uint64)
	if !ok {
		return Description{}, fmt.Errorf("resolver: %w: unexpected handle type %T", ErrStaleHandle, h)
	}
	f, ok := t.functions[id]
	if !ok {
		return Description{}, fmt.Errorf("resolver: %w: unknown method id %d", ErrStaleHandle, id)
	}
	return Description{Label: f.Label(), Native: f.IsNative()}, nil
}

// Function returns the function registered for a method ID.
func (t *Table) Function(id uint64) (Function, bool) {
	f, ok := t.functions[id]
	return f, ok
}
