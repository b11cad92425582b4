package stats

import (
	"testing"

	"github.com/getsentry/lprofile/internal/resolver"
	"github.com/getsentry/lprofile/internal/testutil"
)

func TestTableRecord(t *testing.T) {
	var describeCalls int
	describe := func() resolver.Description {
		describeCalls++
		return resolver.Description{Label: "f (f.lua:1)"}
	}

	table := NewTable()
	table.Record(1, describe, Invocation{ElapsedNS: 30, SelfNS: 10, Outermost: true})
	table.Record(1, describe, Invocation{ElapsedNS: 20, SelfNS: 20, Outermost: true})
	table.Record(2, func() resolver.Description { return resolver.Description{Label: "g [C]", Native: true} }, Invocation{ElapsedNS: 5, SelfNS: 5, Outermost: true})

	if describeCalls != 1 {
		t.Fatalf("expected the label to be resolved once, got %d calls", describeCalls)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", table.Len())
	}

	got, ok := table.Get(1)
	if !ok {
		t.Fatal("expected an entry for identity 1")
	}
	want := Entry{Identity: 1, Label: "f (f.lua:1)", CallCount: 2, TotalNS: 50, SelfNS: 30}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	entries := table.Entries()
	wantEntries := []Entry{
		want,
		{Identity: 2, Label: "g [C]", Native: true, CallCount: 1, TotalNS: 5, SelfNS: 5},
	}
	sorted := testutil.SortedBy(func(a, b Entry) bool { return a.Identity < b.Identity })
	if diff := testutil.Diff(entries, wantEntries, sorted); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestTableEntriesAreCopies(t *testing.T) {
	table := NewTable()
	table.Record(1, nil, Invocation{ElapsedNS: 10, SelfNS: 10, Outermost: true})

	entries := table.Entries()
	entries[0].CallCount = 42

	got, _ := table.Get(1)
	if got.CallCount != 1 {
		t.Fatalf("expected the table to be unaffected, got call count %d", got.CallCount)
	}
}

func TestTableReset(t *testing.T) {
	table := NewTable()
	table.Record(1, nil, Invocation{ElapsedNS: 10, SelfNS: 10, Outermost: true})
	table.Reset()
	if table.Len() != 0 {
		t.Fatalf("expected an empty table, got %d entries", table.Len())
	}
	if _, ok := table.Get(1); ok {
		t.Fatal("expected no entry after reset")
	}
}

func TestTableRecordNestedInvocation(t *testing.T) {
	table := NewTable()
	// f calling itself: the inner call closes first while the outer is active
	table.Record(1, nil, Invocation{ElapsedNS: 20, SelfNS: 20})
	table.Record(1, nil, Invocation{ElapsedNS: 50, SelfNS: 30, Outermost: true})

	got, _ := table.Get(1)
	want := Entry{Identity: 1, CallCount: 2, TotalNS: 50, SelfNS: 50}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}
