// Package playback implements the story viewer: a timed slideshow over a
// fixed list of story ids that auto-advances every dwell period and accepts
// manual and drag navigation.
package playback

import (
	"sync"
	"time"

	"storyreel/internal/clock"
)

// DefaultDwell is how long a story is shown before advancing.
const DefaultDwell = 3 * time.Second

// Options configures a Session. Callbacks may be nil.
type Options struct {
	Clock         clock.Clock
	Dwell         time.Duration
	DragThreshold float64

	// OnViewed is called with the story id each time a story's dwell timer
	// is armed. It runs with the session locked and must not call back
	// into the session.
	OnViewed func(id string)
	// OnChange receives every new state. Same locking rules as OnViewed.
	OnChange func(State)
	// OnClose is called once, after the session lock is released, when the
	// session closes by dismissal or by running past the last story.
	OnClose func()
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Dwell <= 0 {
		o.Dwell = DefaultDwell
	}
	if o.DragThreshold <= 0 {
		o.DragThreshold = DefaultDragThreshold
	}
	return o
}

// State is a snapshot of a session.
type State struct {
	Open           bool
	Index          int
	IDs            []string
	DragOffset     float64
	DwellStartedAt time.Time
	Dwell          time.Duration
	// Seq increases with every change within one session.
	Seq uint64
}

// Session is one open viewer. It is never reused: reopening the viewer
// creates a new Session. All methods are safe for concurrent use and are
// applied one at a time.
type Session struct {
	opts Options

	mu             sync.Mutex
	ids            []string
	index          int
	closed         bool
	dragOffset     float64
	dwellStartedAt time.Time
	timer          clock.Timer
	gen            uint64
	seq            uint64
}

// Open starts a session over ids at index start. An empty list or an out of
// range start yields a session that is already closed; OnClose is not called
// for it.
func Open(ids []string, start int, opts Options) *Session {
	s := &Session{
		opts: opts.withDefaults(),
		ids:  append([]string(nil), ids...),
	}
	if len(s.ids) == 0 || start < 0 || start >= len(s.ids) {
		s.closed = true
		return s
	}

	s.mu.Lock()
	s.arm(start)
	s.mu.Unlock()
	return s
}

// arm enters Active(i): marks the story viewed, restarts progress and
// replaces the dwell timer. Caller holds mu.
func (s *Session) arm(i int) {
	s.stopTimer()
	s.index = i
	s.dragOffset = 0
	s.dwellStartedAt = s.opts.Clock.Now()
	s.gen++

	if s.opts.OnViewed != nil {
		s.opts.OnViewed(s.ids[i])
	}

	gen := s.gen
	s.timer = s.opts.Clock.AfterFunc(s.opts.Dwell, func() { s.fire(gen) })
	s.changed()
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	// a superseded arm may still fire if Stop lost the race
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	closed := s.next()
	s.mu.Unlock()

	if closed {
		s.notifyClose()
	}
}

// next advances or closes at the end. It reports whether it closed the
// session. Caller holds mu.
func (s *Session) next() bool {
	if s.closed {
		return false
	}
	if s.index < len(s.ids)-1 {
		s.arm(s.index + 1)
		return false
	}
	s.close()
	return true
}

// prev steps back, reporting whether it moved. Caller holds mu.
func (s *Session) prev() bool {
	if s.closed || s.index == 0 {
		return false
	}
	s.arm(s.index - 1)
	return true
}

func (s *Session) close() {
	s.closed = true
	s.stopTimer()
	s.gen++
	s.dragOffset = 0
	s.changed()
}

func (s *Session) changed() {
	s.seq++
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.state())
	}
}

func (s *Session) notifyClose() {
	if s.opts.OnClose != nil {
		s.opts.OnClose()
	}
}

// Next advances to the following story, closing after the last one.
func (s *Session) Next() {
	s.mu.Lock()
	closed := s.next()
	s.mu.Unlock()

	if closed {
		s.notifyClose()
	}
}

// Prev goes back one story. It does nothing on the first story.
func (s *Session) Prev() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev()
}

// Close dismisses the viewer and cancels the pending dwell timer.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.close()
	s.mu.Unlock()

	s.notifyClose()
}

// DragUpdate records the in-progress horizontal drag offset. It affects
// neither the index nor the timer.
func (s *Session) DragUpdate(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.dragOffset = offset
	s.changed()
}

// DragRelease ends a drag gesture and applies the resulting navigation.
// The drag offset is reset to 0 in every case.
func (s *Session) DragRelease(offset float64, dir Direction) Nav {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return NavNone
	}

	nav := Decide(offset, dir, s.opts.DragThreshold)
	s.dragOffset = 0
	closed := false
	switch nav {
	case NavNext:
		closed = s.next()
	case NavPrev:
		if !s.prev() {
			s.changed()
		}
	default:
		s.changed()
	}
	s.mu.Unlock()

	if closed {
		s.notifyClose()
	}
	return nav
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Session) state() State {
	return State{
		Open:           !s.closed,
		Index:          s.index,
		IDs:            append([]string(nil), s.ids...),
		DragOffset:     s.dragOffset,
		DwellStartedAt: s.dwellStartedAt,
		Dwell:          s.opts.Dwell,
		Seq:            s.seq,
	}
}

// Closed reports whether the session has closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Progress returns the fill of each progress segment at now, from 0 to 1.
// It is nil once the session is closed.
func (s *Session) Progress(now time.Time) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return Progress(len(s.ids), s.index, now.Sub(s.dwellStartedAt), s.opts.Dwell)
}

// Progress computes segment fills for n stories with index current shown
// for elapsed out of dwell.
func Progress(n, current int, elapsed, dwell time.Duration) []float64 {
	fills := make([]float64, n)
	for k := range fills {
		switch {
		case k < current:
			fills[k] = 1
		case k == current:
			fills[k] = fraction(elapsed, dwell)
		}
	}
	return fills
}

func fraction(elapsed, dwell time.Duration) float64 {
	if dwell <= 0 || elapsed >= dwell {
		return 1
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(elapsed) / float64(dwell)
}
