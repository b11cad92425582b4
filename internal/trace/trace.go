package trace

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/getsentry/lprofile/internal/clock"
	"github.com/getsentry/lprofile/internal/errorutil"
	"github.com/getsentry/lprofile/internal/resolver"
	"github.com/getsentry/lprofile/internal/session"
)

// ErrProfiledError wraps the error raised by the profiled function.
var ErrProfiledError = errors.New("profiled function raised an error")

type Action string

const (
	CallAction     Action = "Call"
	TailCallAction Action = "TailCall"
	ReturnAction   Action = "Return"
	LineAction     Action = "Line"
	UnwindAction   Action = "Unwind"
	ErrorAction    Action = "Error"

	mainThread = "main"
)

type (
	Thread struct {
		ID        uint64 `json:"id"`
		Name      string `json:"name,omitempty"`
		Coroutine bool   `json:"coroutine,omitempty"`
	}

	Event struct {
		Action   Action `json:"action"`
		ThreadID uint64 `json:"thread_id"`
		MethodID uint64 `json:"method_id,omitempty"`
		TS       uint64 `json:"ts"`
		// Depth is the depth left on the stack after an Unwind.
		Depth int `json:"depth,omitempty"`
		// Message is the error message of an Error.
		Message string `json:"message,omitempty"`
	}

	// Trace is a recording of the hook notifications of a runtime while it
	// ran one profiled invocation.
	Trace struct {
		StartNS uint64              `json:"start_ns,omitempty"`
		Threads []Thread            `json:"threads"`
		Methods []resolver.Function `json:"methods"`
		Events  []Event             `json:"events"`
	}

	ReplayOptions struct {
		Logger         *zerolog.Logger
		RecordTimeline bool
	}
)

func Decode(r io.Reader) (Trace, error) {
	var t Trace
	err := json.NewDecoder(r).Decode(&t)
	if err != nil {
		return Trace{}, err
	}
	return t, nil
}

func (t Trace) Validate() error {
	if len(t.Threads) == 0 {
		return fmt.Errorf("trace: %w: no threads", errorutil.ErrDataIntegrity)
	}
	threads := make(map[uint64]struct{}, len(t.Threads))
	for _, th := range t.Threads {
		threads[th.ID] = struct{}{}
	}
	for i, e := range t.Events {
		if _, ok := threads[e.ThreadID]; !ok {
			return fmt.Errorf("trace: %w: event %d refers to unknown thread %d", errorutil.ErrDataIntegrity, i, e.ThreadID)
		}
		switch e.Action {
		case CallAction, TailCallAction, ReturnAction, LineAction, UnwindAction, ErrorAction:
		default:
			return fmt.Errorf("trace: %w: invalid action %q in event %d", errorutil.ErrDataIntegrity, e.Action, i)
		}
	}
	return nil
}

// MainThread returns the thread running the profiled invocation.
func (t Trace) MainThread() (Thread, bool) {
	for _, th := range t.Threads {
		if th.Name == mainThread {
			return th, true
		}
	}
	if len(t.Threads) == 0 {
		return Thread{}, false
	}
	return t.Threads[0], true
}

func adjustedTime(maxNS, latestNS, currentNS uint64) uint64 {
	if currentNS < latestNS {
		return maxNS
	}
	return maxNS + (currentNS - latestNS)
}

// FixTimestamps makes timestamps non-decreasing per thread. Once a timestamp
// goes back in time, it and the following ones are shifted so the durations
// between events are kept and the regression itself counts as no time.
func (t *Trace) FixTimestamps() {
	maxTS := make(map[uint64]uint64)
	latestTS := make(map[uint64]uint64)
	regressionIndex := -1

	for i, e := range t.Events {
		if e.TS < latestTS[e.ThreadID] {
			regressionIndex = i
			break
		}
		latestTS[e.ThreadID] = e.TS
		if e.TS > maxTS[e.ThreadID] {
			maxTS[e.ThreadID] = e.TS
		}
	}
	if regressionIndex < 0 {
		return
	}
	for i := regressionIndex; i < len(t.Events); i++ {
		e := t.Events[i]
		ts := adjustedTime(maxTS[e.ThreadID], latestTS[e.ThreadID], e.TS)
		maxTS[e.ThreadID] = ts
		latestTS[e.ThreadID] = e.TS
		t.Events[i].TS = ts
	}
}

// Replay feeds the trace to a new profiling session. When the trace ends with
// an error, the result is returned along with an error wrapping
// ErrProfiledError.
func (t Trace) Replay(opts ReplayOptions) (session.Result, error) {
	if err := t.Validate(); err != nil {
		return session.Result{}, err
	}
	// Work on a copy, the caller still owns the events.
	t.Events = append([]Event(nil), t.Events...)
	t.FixTimestamps()

	main, _ := t.MainThread()
	start := t.StartNS
	if start == 0 && len(t.Events) > 0 {
		start = t.Events[0].TS
	}
	c := clock.NewManual(start)
	s := session.New(resolver.NewTable(t.Methods), session.Options{
		Clock:          c,
		Logger:         opts.Logger,
		RecordTimeline: opts.RecordTimeline,
	})
	ec := session.ExecutionContext{ID: main.ID, Coroutine: main.Coroutine}
	return s.Run(ec, func() error {
		for _, e := range t.Events {
			if s.State() != session.Running {
				return nil
			}
			if e.TS > c.Now() {
				c.Set(e.TS)
			}
			event := session.Event{Context: e.ThreadID, Handle: e.MethodID}
			switch e.Action {
			case CallAction:
				event.Kind = session.EventCall
			case TailCallAction:
				event.Kind = session.EventTailCall
			case ReturnAction:
				event.Kind = session.EventReturn
			case UnwindAction:
				event.Kind = session.EventUnwind
				event.Depth = e.Depth
			case ErrorAction:
				return fmt.Errorf("trace: %w: %s", ErrProfiledError, e.Message)
			default:
				event.Kind = session.EventLine
			}
			s.Handle(event)
		}
		return nil
	})
}
