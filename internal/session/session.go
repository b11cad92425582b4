package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/lprofile/internal/callstack"
	"github.com/getsentry/lprofile/internal/clock"
	"github.com/getsentry/lprofile/internal/errorutil"
	"github.com/getsentry/lprofile/internal/resolver"
	"github.com/getsentry/lprofile/internal/stats"
)

var (
	// ErrUnsupportedConcurrentExecution is returned when profiling would span
	// more than one execution context.
	ErrUnsupportedConcurrentExecution = fmt.Errorf("session: %w: concurrent execution contexts", errorutil.ErrUnsupported)

	ErrAlreadyRunning = errors.New("session: already running")
	ErrFinalized      = errors.New("session: already finalized")
	ErrNotStarted     = errors.New("session: not started")
)

type State int

const (
	Idle State = iota
	Running
	Finalized
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type EventKind int

const (
	EventCall EventKind = iota
	EventTailCall
	EventReturn
	EventLine
	// EventUnwind reports the stack depth left after an error was caught
	// inside the profiled computation.
	EventUnwind
)

type (
	// Event is one notification from the host.
	Event struct {
		Kind    EventKind
		Handle  resolver.Handle
		Context uint64
		// Depth is only set for EventUnwind.
		Depth int
	}

	// ExecutionContext describes where the profiled computation runs.
	ExecutionContext struct {
		ID        uint64
		Coroutine bool
	}

	Options struct {
		// Clock defaults to the monotonic clock.
		Clock clock.Clock
		// Logger defaults to the global logger.
		Logger *zerolog.Logger
		// RecordTimeline keeps every frame open and close in the result.
		RecordTimeline bool
	}

	Diagnostics struct {
		Underflows        uint64 `json:"underflows"`
		ResolverFailures  uint64 `json:"resolver_failures"`
		IgnoredEvents     uint64 `json:"ignored_events"`
		// UnidentifiedCalls counts calls whose handle could not be keyed, they
		// are all aggregated under resolver.Unidentified.
		UnidentifiedCalls uint64 `json:"unidentified_calls"`
		DrainedFrames     int    `json:"drained_frames"`
		MaxDepth          int    `json:"max_depth"`
	}

	TimelineEventType string

	// TimelineEvent is a frame transition, AtNS being relative to the start
	// of the session.
	TimelineEvent struct {
		Type     TimelineEventType `json:"type"`
		Identity resolver.Identity `json:"identity"`
		AtNS     uint64            `json:"at_ns"`
	}

	// Result is the finalized report of a session. Entries are in no
	// particular order. Every Result handed out owns its slices.
	Result struct {
		ID          string          `json:"id"`
		StartedAt   time.Time       `json:"started_at"`
		TotalNS     uint64          `json:"total_ns"`
		Entries     []stats.Entry   `json:"entries"`
		Diagnostics Diagnostics     `json:"diagnostics"`
		Timeline    []TimelineEvent `json:"timeline,omitempty"`
	}

	// Session profiles one invocation. It must be driven from the execution
	// context running the profiled computation.
	Session struct {
		resolver       resolver.Resolver
		clock          clock.Clock
		logger         zerolog.Logger
		baseLogger     zerolog.Logger
		recordTimeline bool

		state   State
		ec      ExecutionContext
		id      string
		startNS uint64
		started time.Time

		stack       *callstack.Stack
		table       *stats.Table
		diagnostics Diagnostics
		timeline    []TimelineEvent

		result Result
		err    error
	}
)

const (
	TimelineOpen  TimelineEventType = "O"
	TimelineClose TimelineEventType = "C"
)

func New(r resolver.Resolver, opts Options) *Session {
	s := &Session{
		resolver:       r,
		clock:          opts.Clock,
		recordTimeline: opts.RecordTimeline,
		stack:          callstack.New(),
		table:          stats.NewTable(),
	}
	if s.clock == nil {
		s.clock = clock.NewMonotonic()
	}
	if opts.Logger != nil {
		s.baseLogger = *opts.Logger
	} else {
		s.baseLogger = log.Logger
	}
	s.logger = s.baseLogger
	return s
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Depth() int {
	return s.stack.Depth()
}

func (s *Session) Diagnostics() Diagnostics {
	return s.diagnostics
}

// Start begins profiling in ec.
func (s *Session) Start(ec ExecutionContext) error {
	switch s.state {
	case Running:
		return fmt.Errorf("%w: %w", ErrUnsupportedConcurrentExecution, ErrAlreadyRunning)
	case Finalized:
		return ErrFinalized
	}
	if ec.Coroutine {
		return fmt.Errorf("%w: context %d is a coroutine", ErrUnsupportedConcurrentExecution, ec.ID)
	}
	s.ec = ec
	s.id = uuid.New().String()
	s.logger = s.baseLogger.With().Str("session_id", s.id).Logger()
	s.started = time.Now()
	s.startNS = s.clock.Now()
	s.state = Running
	s.logger.Debug().Uint64("context", ec.ID).Msg("profiling session started")
	return nil
}

// Handle dispatches an event, checking it belongs to the profiled context.
func (s *Session) Handle(e Event) {
	if s.state == Running && e.Context != s.ec.ID {
		s.abort(fmt.Errorf("%w: event from context %d while profiling context %d", ErrUnsupportedConcurrentExecution, e.Context, s.ec.ID))
		return
	}
	switch e.Kind {
	case EventCall:
		s.OnCall(e.Handle)
	case EventTailCall:
		s.OnTailCall(e.Handle)
	case EventReturn:
		s.OnReturn()
	case EventUnwind:
		s.OnUnwind(e.Depth)
	default:
		s.OnLine()
	}
}

func (s *Session) OnCall(h resolver.Handle) {
	if s.state != Running {
		s.diagnostics.IgnoredEvents++
		return
	}
	now := s.clock.Now()
	id := s.identify(h)
	s.stack.Push(id, h, now)
	s.mark(TimelineOpen, id, now)
}

func (s *Session) OnTailCall(h resolver.Handle) {
	if s.state != Running {
		s.diagnostics.IgnoredEvents++
		return
	}
	now := s.clock.Now()
	id := s.identify(h)
	c, err := s.stack.ReplaceTail(id, h, now)
	if err != nil {
		s.underflow(err, "tail call")
		return
	}
	s.record(c, now)
	s.mark(TimelineOpen, id, now)
}

func (s *Session) OnReturn() {
	if s.state != Running {
		s.diagnostics.IgnoredEvents++
		return
	}
	now := s.clock.Now()
	c, err := s.stack.PopReturn(now)
	if err != nil {
		s.underflow(err, "return")
		return
	}
	s.record(c, now)
}

// OnUnwind closes the frames an error unwound without return notifications,
// leaving depth frames on the stack.
func (s *Session) OnUnwind(depth int) {
	if s.state != Running {
		s.diagnostics.IgnoredEvents++
		return
	}
	if depth < 0 {
		depth = 0
	}
	now := s.clock.Now()
	s.stack.UnwindTo(depth, now, func(c callstack.Closed) {
		s.record(c, now)
	})
}

// OnLine handles events carrying no timing information.
func (s *Session) OnLine() {}

// Finalize closes the session and returns its result. Frames still open
// because an error unwound the stack are closed now. Calling it again returns
// the same result.
func (s *Session) Finalize() (Result, error) {
	switch s.state {
	case Idle:
		return Result{}, ErrNotStarted
	case Finalized:
		return s.result.clone(), s.err
	}
	now := s.clock.Now()
	var total uint64
	if now > s.startNS {
		total = now - s.startNS
	}
	s.diagnostics.DrainedFrames = s.stack.Drain(now, func(c callstack.Closed) {
		s.record(c, now)
	})
	if s.diagnostics.DrainedFrames > 0 {
		s.logger.Debug().Int("frames", s.diagnostics.DrainedFrames).Msg("closed frames left open by an unwind")
	}
	s.diagnostics.MaxDepth = s.stack.MaxDepth()
	s.result = Result{
		ID:          s.id,
		StartedAt:   s.started,
		TotalNS:     total,
		Entries:     s.table.Entries(),
		Diagnostics: s.diagnostics,
		Timeline:    s.timeline,
	}
	s.state = Finalized
	s.logger.Debug().
		Uint64("total_ns", total).
		Int("functions", len(s.result.Entries)).
		Msg("profiling session finalized")
	return s.result.clone(), nil
}

func (r Result) clone() Result {
	if r.Entries != nil {
		r.Entries = append(make([]stats.Entry, 0, len(r.Entries)), r.Entries...)
	}
	if r.Timeline != nil {
		r.Timeline = append(make([]TimelineEvent, 0, len(r.Timeline)), r.Timeline...)
	}
	return r
}

// Reset brings a session back to Idle so it can be started again.
func (s *Session) Reset() {
	s.state = Idle
	s.ec = ExecutionContext{}
	s.id = ""
	s.logger = s.baseLogger
	s.stack.Reset()
	s.table = stats.NewTable()
	s.diagnostics = Diagnostics{}
	s.timeline = nil
	s.result = Result{}
	s.err = nil
}

// Run profiles fn. The session is finalized whether fn returns normally,
// returns an error or panics, in which case the panic keeps propagating. The
// error returned by fn is returned untouched; a profiling error is only
// returned when fn succeeded. fn runs even if the session can't be started,
// the result is then empty.
func (s *Session) Run(ec ExecutionContext, fn func() error) (Result, error) {
	if err := s.Start(ec); err != nil {
		s.logger.Warn().Err(err).Msg("running without profiling")
		if fnErr := fn(); fnErr != nil {
			return Result{}, fnErr
		}
		return Result{}, err
	}
	panicked := true
	defer func() {
		if panicked {
			_, _ = s.Finalize()
		}
	}()
	fnErr := fn()
	panicked = false
	res, err := s.Finalize()
	if fnErr != nil {
		if err != nil {
			s.logger.Warn().Err(err).Msg("profiling failed")
		}
		return res, fnErr
	}
	return res, err
}

func (s *Session) identify(h resolver.Handle) resolver.Identity {
	id := s.resolver.Identify(h)
	if id == resolver.Unidentified {
		s.diagnostics.UnidentifiedCalls++
		s.logger.Debug().Str("handle", fmt.Sprintf("%T", h)).Msg("can't identify function")
	}
	return id
}

func (s *Session) record(c callstack.Closed, now uint64) {
	s.table.Record(c.Identity, func() resolver.Description {
		d, ok := resolver.Describe(s.resolver, c.Handle)
		if !ok {
			s.diagnostics.ResolverFailures++
			s.logger.Debug().Uint64("identity", uint64(c.Identity)).Msg("can't describe function")
		}
		return d
	}, stats.Invocation{
		ElapsedNS: c.ElapsedNS,
		SelfNS:    c.SelfNS,
		Outermost: c.Outermost,
	})
	s.mark(TimelineClose, c.Identity, now)
}

func (s *Session) mark(t TimelineEventType, id resolver.Identity, now uint64) {
	if !s.recordTimeline {
		return
	}
	var at uint64
	if now > s.startNS {
		at = now - s.startNS
	}
	s.timeline = append(s.timeline, TimelineEvent{Type: t, Identity: id, AtNS: at})
}

func (s *Session) underflow(err error, event string) {
	s.diagnostics.Underflows++
	s.logger.Warn().Err(err).Str("event", event).Msg("event skipped")
}

func (s *Session) abort(err error) {
	s.err = err
	s.stack.Reset()
	s.table = stats.NewTable()
	s.timeline = nil
	s.result = Result{ID: s.id, StartedAt: s.started}
	s.state = Finalized
	s.logger.Error().Err(err).Msg("profiling session aborted")
}
