package stories

import (
	"context"
	"errors"
	"sync"
	"time"

	"storyreel/internal/clock"
	"storyreel/internal/files"
	"storyreel/internal/logging"
)

// DefaultSweepInterval is how often expired stories are evicted.
const DefaultSweepInterval = time.Hour

// SweepResult summarizes one sweep tick.
type SweepResult struct {
	Evicted    []Story
	Unviewed   []string
	BlobErrors int
}

// Sweeper periodically evicts expired stories, drops their viewed ids and
// deletes their images.
type Sweeper struct {
	store    *Store
	tracker  *Tracker
	blobs    files.Storage
	clock    clock.Clock
	interval time.Duration

	tickMu sync.Mutex

	mu      sync.Mutex
	timer   clock.Timer
	started bool
	stopped bool
}

// NewSweeper creates a sweeper. blobs may be nil when images are not stored.
func NewSweeper(st *Store, tr *Tracker, blobs files.Storage, clk clock.Clock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    st,
		tracker:  tr,
		blobs:    blobs,
		clock:    clk,
		interval: interval,
	}
}

// Start sweeps once immediately and then every interval until Stop is
// called or ctx is done. Start is a no-op after the first call.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	context.AfterFunc(ctx, s.Stop)

	s.Tick(ctx)
	s.schedule(ctx)
}

func (s *Sweeper) schedule(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.timer = s.clock.AfterFunc(s.interval, func() {
		s.Tick(ctx)
		s.schedule(ctx)
	})
}

// Stop cancels the recurring sweep. It waits for an in-flight tick to
// finish, so no tick runs after Stop returns.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.tickMu.Lock()
	s.tickMu.Unlock()
}

// Tick runs one sweep at the clock's current time.
func (s *Sweeper) Tick(ctx context.Context) SweepResult {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return SweepResult{}
	}

	var res SweepResult

	// persistence failures are logged by the store; memory stays authoritative
	res.Evicted, _ = s.store.EvictExpired(ctx, s.clock.Now())
	res.Unviewed, _ = s.tracker.Reconcile(ctx, s.store.IDs())

	if s.blobs != nil {
		for _, st := range res.Evicted {
			if err := s.blobs.Delete(ctx, st.ImageRef); err != nil && !errors.Is(err, files.ErrNotFound) {
				res.BlobErrors++
				logging.Stories.Printf("failed to delete image %s of story %s: %v", st.ImageRef, st.ID, err)
			}
		}
	}

	if len(res.Evicted) > 0 {
		logging.Stories.Printf("cleaning up: removed %d expired story(ies)", len(res.Evicted))
	}
	if res.BlobErrors > 0 {
		logging.Stories.Printf("cleanup completed with %d image deletion failures", res.BlobErrors)
	}
	return res
}
