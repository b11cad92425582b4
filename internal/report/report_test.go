package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/getsentry/lprofile/internal/session"
	"github.com/getsentry/lprofile/internal/speedscope"
	"github.com/getsentry/lprofile/internal/stats"
	"github.com/getsentry/lprofile/internal/testutil"
)

var (
	runEntry   = stats.Entry{Identity: 1, Label: "run (b.lua:1)", CallCount: 1, TotalNS: 100, SelfNS: 30}
	printEntry = stats.Entry{Identity: 2, Label: "print [C]", Native: true, CallCount: 1, TotalNS: 20, SelfNS: 20}
	fibEntry   = stats.Entry{Identity: 3, Label: "fib (b.lua:8)", CallCount: 2, TotalNS: 60, SelfNS: 50}

	result = session.Result{
		ID:        "4f3c8a2e-1c55-4b1e-9d1a-3e1fbbf1c2d7",
		StartedAt: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
		TotalNS:   100,
		Entries:   []stats.Entry{printEntry, runEntry, fibEntry},
		Timeline: []session.TimelineEvent{
			{Type: session.TimelineOpen, Identity: 1, AtNS: 0},
			{Type: session.TimelineOpen, Identity: 2, AtNS: 10},
			{Type: session.TimelineClose, Identity: 2, AtNS: 30},
			{Type: session.TimelineOpen, Identity: 3, AtNS: 40},
			{Type: session.TimelineOpen, Identity: 3, AtNS: 50},
			{Type: session.TimelineClose, Identity: 3, AtNS: 70},
			{Type: session.TimelineClose, Identity: 3, AtNS: 80},
			{Type: session.TimelineClose, Identity: 1, AtNS: 100},
		},
	}
)

func TestSort(t *testing.T) {
	tests := []struct {
		by   By
		want []stats.Entry
	}{
		{by: BySelf, want: []stats.Entry{fibEntry, runEntry, printEntry}},
		{by: ByTotal, want: []stats.Entry{runEntry, fibEntry, printEntry}},
		{by: ByCalls, want: []stats.Entry{fibEntry, printEntry, runEntry}},
		{by: ByLabel, want: []stats.Entry{fibEntry, printEntry, runEntry}},
	}
	for _, tt := range tests {
		got := Sort(result.Entries, tt.by)
		if diff := testutil.Diff(got, tt.want); diff != "" {
			t.Fatalf("Result mismatch for %d: got - want +\n%s", tt.by, diff)
		}
	}
	if result.Entries[0].Identity != printEntry.Identity {
		t.Fatal("expected the input to be left untouched")
	}
}

func TestParseBy(t *testing.T) {
	for s, want := range map[string]By{"": BySelf, "self": BySelf, "total": ByTotal, "calls": ByCalls, "label": ByLabel} {
		got, err := ParseBy(s)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", s, err)
		}
		if got != want {
			t.Fatalf("expected %d for %q, got %d", want, s, got)
		}
	}
	if _, err := ParseBy("depth"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(result, ByTotal)
	want := Summary{
		ID:        result.ID,
		StartedAt: result.StartedAt,
		TotalNS:   100,
		Functions: []Row{
			{Label: "run (b.lua:1)", CallCount: 1, TotalNS: 100, SelfNS: 30, AvgNS: 100, TotalPercent: 100, SelfPercent: 30},
			{Label: "fib (b.lua:8)", CallCount: 2, TotalNS: 60, SelfNS: 50, AvgNS: 30, TotalPercent: 60, SelfPercent: 50},
			{Label: "print [C]", CallCount: 1, TotalNS: 20, SelfNS: 20, AvgNS: 20, TotalPercent: 20, SelfPercent: 20},
		},
	}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTable(&buf, Summarize(result, BySelf)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected a header, 3 functions and a footer, got %q", buf.String())
	}
	if !strings.HasSuffix(lines[1], "fib (b.lua:8)") {
		t.Fatalf("expected fib first, got %q", lines[1])
	}
}

func TestSpeedscope(t *testing.T) {
	out, err := Speedscope(result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantFrames := []speedscope.Frame{
		{Name: "fib (b.lua:8)", IsApplication: true},
		{Name: "print [C]", IsApplication: false},
		{Name: "run (b.lua:1)", IsApplication: true},
	}
	if diff := testutil.Diff(out.Shared.Frames, wantFrames); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if len(out.Profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(out.Profiles))
	}
	prof, ok := out.Profiles[0].(*speedscope.EventedProfile)
	if !ok {
		t.Fatalf("expected an evented profile, got %T", out.Profiles[0])
	}
	if err := prof.CheckBalanced(); err != nil {
		t.Fatalf("unexpected unbalanced profile: %v", err)
	}
	wantEvents := []speedscope.Event{
		{Type: speedscope.EventTypeOpenFrame, Frame: 2, At: 0},
		{Type: speedscope.EventTypeOpenFrame, Frame: 1, At: 10},
		{Type: speedscope.EventTypeCloseFrame, Frame: 1, At: 30},
		{Type: speedscope.EventTypeOpenFrame, Frame: 0, At: 40},
		{Type: speedscope.EventTypeOpenFrame, Frame: 0, At: 50},
		{Type: speedscope.EventTypeCloseFrame, Frame: 0, At: 70},
		{Type: speedscope.EventTypeCloseFrame, Frame: 0, At: 80},
		{Type: speedscope.EventTypeCloseFrame, Frame: 2, At: 100},
	}
	if diff := testutil.Diff(prof.Events, wantEvents); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestSpeedscopeWithoutTimeline(t *testing.T) {
	res := result
	res.Timeline = nil
	if _, err := Speedscope(res); !errors.Is(err, ErrNoTimeline) {
		t.Fatalf("expected ErrNoTimeline, got %v", err)
	}
}

func TestSpeedscopeUnknownIdentity(t *testing.T) {
	res := session.Result{
		TotalNS: 10,
		Timeline: []session.TimelineEvent{
			{Type: session.TimelineOpen, Identity: 9, AtNS: 0},
			{Type: session.TimelineClose, Identity: 9, AtNS: 10},
		},
	}
	out, err := Speedscope(res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Shared.Frames) != 1 || out.Shared.Frames[0].Name != "unknown (identity 9)" {
		t.Fatalf("unexpected frames %+v", out.Shared.Frames)
	}
}

func TestNativeFlagIsNotInferredFromLabel(t *testing.T) {
	res := session.Result{
		TotalNS: 10,
		Entries: []stats.Entry{{Identity: 1, Label: "odd [C]", CallCount: 1, TotalNS: 10, SelfNS: 10}},
		Timeline: []session.TimelineEvent{
			{Type: session.TimelineOpen, Identity: 1, AtNS: 0},
			{Type: session.TimelineClose, Identity: 1, AtNS: 10},
		},
	}
	out, err := Speedscope(res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Shared.Frames[0].IsApplication {
		t.Fatalf("expected a scripted frame, got %+v", out.Shared.Frames[0])
	}
	if kind := Pprof(res).Sample[0].Label["kind"][0]; kind != "scripted" {
		t.Fatalf("expected a scripted sample, got %q", kind)
	}
}

func TestPprof(t *testing.T) {
	p := Pprof(result)
	if err := p.CheckValid(); err != nil {
		t.Fatalf("invalid profile: %v", err)
	}
	if len(p.Sample) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(p.Sample))
	}
	got := make(map[string][]int64)
	kinds := make(map[string]string)
	for _, s := range p.Sample {
		name := s.Location[0].Line[0].Function.Name
		got[name] = s.Value
		kinds[name] = s.Label["kind"][0]
	}
	want := map[string][]int64{
		"fib (b.lua:8)": {2, 60, 50},
		"print [C]":     {1, 20, 20},
		"run (b.lua:1)": {1, 100, 30},
	}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if kinds["print [C]"] != "native" || kinds["fib (b.lua:8)"] != "scripted" {
		t.Fatalf("unexpected kinds %v", kinds)
	}
	if p.DurationNanos != 100 {
		t.Fatalf("expected a duration of 100ns, got %d", p.DurationNanos)
	}
	if p.Function[0].Name != "fib (b.lua:8)" {
		t.Fatalf("expected functions sorted by label, got %q first", p.Function[0].Name)
	}
}
