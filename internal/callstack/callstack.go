package callstack

import (
	"fmt"

	"github.com/getsentry/lprofile/internal/errorutil"
	"github.com/getsentry/lprofile/internal/resolver"
)

// ErrUnderflow is returned when a frame is closed on an empty stack.
var ErrUnderflow = fmt.Errorf("callstack: %w: stack underflow", errorutil.ErrDataIntegrity)

type (
	// Frame is one active call.
	Frame struct {
		Identity resolver.Identity
		Handle   resolver.Handle
		EntryNS  uint64
		// ChildNS is the time consumed by callees invoked directly from this frame.
		ChildNS uint64
	}

	// Closed is a frame once it returned.
	Closed struct {
		Identity  resolver.Identity
		Handle    resolver.Handle
		ElapsedNS uint64
		SelfNS    uint64
		// Depth is the depth the frame was at, 1 being the outermost call.
		Depth int
		// Outermost is true when no other frame of the same identity is still
		// active, the elapsed time then covers every nested invocation.
		Outermost bool
	}

	// Stack is the ordered sequence of active frames, the last one being the
	// one currently executing.
	Stack struct {
		frames   []Frame
		active   map[resolver.Identity]int
		maxDepth int
	}
)

func New() *Stack {
	return &Stack{active: make(map[resolver.Identity]int)}
}

func (s *Stack) Push(id resolver.Identity, h resolver.Handle, now uint64) {
	s.open(id, h, now)
	if len(s.frames) > s.maxDepth {
		s.maxDepth = len(s.frames)
	}
}

func (s *Stack) open(id resolver.Identity, h resolver.Handle, now uint64) {
	if s.active == nil {
		s.active = make(map[resolver.Identity]int)
	}
	s.frames = append(s.frames, Frame{
		Identity: id,
		Handle:   h,
		EntryNS:  now,
	})
	s.active[id]++
}

// PopReturn closes the active frame and charges its elapsed time to its
// parent.
func (s *Stack) PopReturn(now uint64) (Closed, error) {
	if len(s.frames) == 0 {
		return Closed{}, ErrUnderflow
	}
	i := len(s.frames) - 1
	f := s.frames[i]
	s.frames[i] = Frame{}
	s.frames = s.frames[:i]

	c := Closed{
		Identity: f.Identity,
		Handle:   f.Handle,
		Depth:    i + 1,
	}
	if s.active[f.Identity] <= 1 {
		delete(s.active, f.Identity)
		c.Outermost = true
	} else {
		s.active[f.Identity]--
	}
	if now > f.EntryNS {
		c.ElapsedNS = now - f.EntryNS
	}
	if c.ElapsedNS > f.ChildNS {
		c.SelfNS = c.ElapsedNS - f.ChildNS
	}
	if i > 0 {
		s.frames[i-1].ChildNS += c.ElapsedNS
	}
	return c, nil
}

// ReplaceTail closes the active frame and opens a frame for the tail called
// function in its place. Timing is the same as a PopReturn followed by a Push.
func (s *Stack) ReplaceTail(id resolver.Identity, h resolver.Handle, now uint64) (Closed, error) {
	c, err := s.PopReturn(now)
	if err != nil {
		return Closed{}, err
	}
	s.open(id, h, now)
	return c, nil
}

// Drain closes every open frame from top to bottom and returns how many were
// closed.
func (s *Stack) Drain(now uint64, fn func(Closed)) int {
	return s.UnwindTo(0, now, fn)
}

// UnwindTo closes frames from the top until depth frames are left, as if each
// of them returned at now.
func (s *Stack) UnwindTo(depth int, now uint64, fn func(Closed)) int {
	var n int
	for len(s.frames) > depth {
		c, _ := s.PopReturn(now)
		if fn != nil {
			fn(c)
		}
		n++
	}
	return n
}

func (s *Stack) Depth() int {
	return len(s.frames)
}

// MaxDepth returns the deepest logical depth reached. Tail calls do not
// increase it.
func (s *Stack) MaxDepth() int {
	return s.maxDepth
}

// Top returns the active frame.
func (s *Stack) Top() (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

func (s *Stack) Reset() {
	s.frames = s.frames[:0]
	s.active = make(map[resolver.Identity]int)
	s.maxDepth = 0
}
