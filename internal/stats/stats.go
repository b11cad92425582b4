package stats

import (
	"github.com/getsentry/lprofile/internal/resolver"
)

type (
	// Entry aggregates every invocation of one function.
	Entry struct {
		Identity  resolver.Identity `json:"identity"`
		Label     string            `json:"label"`
		Native    bool              `json:"native,omitempty"`
		CallCount uint64            `json:"call_count"`
		TotalNS   uint64            `json:"total_ns"`
		SelfNS    uint64            `json:"self_ns"`
	}

	// Invocation is one closed call of a function.
	Invocation struct {
		ElapsedNS uint64
		SelfNS    uint64
		// Outermost is false while another invocation of the same function is
		// still active. Only outermost invocations add to the total time.
		Outermost bool
	}

	// Table maps function identities to their aggregated counters. Entries are
	// only ever added to.
	Table struct {
		entries map[resolver.Identity]*Entry
	}
)

func NewTable() *Table {
	return &Table{entries: make(map[resolver.Identity]*Entry)}
}

// Record folds one closed invocation into the entry for id. describe is only
// called the first time id is seen.
func (t *Table) Record(id resolver.Identity, describe func() resolver.Description, inv Invocation) {
	e, ok := t.entries[id]
	if !ok {
		e = &Entry{Identity: id}
		if describe != nil {
			d := describe()
			e.Label, e.Native = d.Label, d.Native
		}
		t.entries[id] = e
	}
	e.CallCount++
	e.SelfNS += inv.SelfNS
	if inv.Outermost {
		e.TotalNS += inv.ElapsedNS
	}
}

func (t *Table) Get(id resolver.Identity) (Entry, bool) {
	e, ok := t.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns a copy of every entry in no particular order.
func (t *Table) Entries() []Entry {
	entries := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, *e)
	}
	return entries
}

func (t *Table) Reset() {
	t.entries = make(map[resolver.Identity]*Entry)
}
