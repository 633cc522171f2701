package stories

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyreel/internal/clock"
	"storyreel/internal/files"
	"storyreel/internal/imaging"
	"storyreel/internal/logging"
	"storyreel/internal/playback"
	"storyreel/internal/store"
)

// Converter turns an uploaded file into a constrained image payload.
type Converter interface {
	Convert(ctx context.Context, r io.Reader) (*imaging.Payload, error)
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	Clock         clock.Clock
	Dwell         time.Duration
	DragThreshold float64
}

// Viewer is the open viewer with its story snapshot and progress.
type Viewer struct {
	State    playback.State
	Stories  []Story
	Progress []float64
}

// Stats summarizes the live stories.
type Stats struct {
	Live   int
	Viewed int
	Oldest time.Time
	Newest time.Time
}

// Service is the caller-facing API: it lists and adds stories and drives
// the single story viewer.
type Service struct {
	store     *Store
	tracker   *Tracker
	blobs     files.Storage
	converter Converter
	clock     clock.Clock
	opts      Options
	hub       *hub

	// openMu serializes OpenViewer so a replaced session is always closed.
	openMu sync.Mutex

	mu            sync.Mutex
	viewer        *playback.Session
	viewerStories []Story
}

// NewService loads the persisted stories and viewed ids from kv.
func NewService(ctx context.Context, kv store.Store, blobs files.Storage, conv Converter, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Service{
		store:     LoadStore(ctx, kv, opts.Clock),
		tracker:   LoadTracker(ctx, kv),
		blobs:     blobs,
		converter: conv,
		clock:     opts.Clock,
		opts:      opts,
		hub:       newHub(),
	}
}

// NewSweeper returns a sweeper over this service's stories and images.
func (s *Service) NewSweeper(interval time.Duration) *Sweeper {
	return NewSweeper(s.store, s.tracker, s.blobs, s.clock, interval)
}

// ListStories returns the live stories in posting order.
func (s *Service) ListStories() []Story {
	return s.store.List()
}

// AddStory converts an uploaded file, stores its image and appends a story.
// No story is created when conversion or image storage fails.
func (s *Service) AddStory(ctx context.Context, r io.Reader) (Story, error) {
	payload, err := s.converter.Convert(ctx, r)
	if err != nil {
		return Story{}, err
	}

	ref := uuid.NewString()
	if _, err := s.blobs.Save(ctx, ref, bytes.NewReader(payload.Data)); err != nil {
		return Story{}, fmt.Errorf("save image: %w", err)
	}

	story, err := s.store.Add(ctx, ref)
	if err != nil {
		// logged by the store; the story is live for this process
		logging.Stories.Printf("story %s kept in memory only: %v", story.ID, err)
	}

	logging.Stories.Printf("new story added with id %s (%dx%d, %d bytes)", story.ID, payload.Width, payload.Height, len(payload.Data))
	return story, nil
}

// lookup finds a story among the live ones or the open viewer's snapshot.
func (s *Service) lookup(id string) (Story, bool) {
	if st, ok := s.store.Get(id); ok {
		return st, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.viewerStories {
		if st.ID == id {
			return st, true
		}
	}
	return Story{}, false
}

// OpenImage returns the encoded image of a story.
func (s *Service) OpenImage(ctx context.Context, id string) (io.ReadCloser, error) {
	st, ok := s.lookup(id)
	if !ok {
		return nil, ErrStoryNotFound
	}
	return s.blobs.Load(ctx, st.ImageRef)
}

// ImageURL returns a direct public URL for a story's image, or "" when the
// storage backend has none.
func (s *Service) ImageURL(id string) string {
	provider, ok := s.blobs.(files.PublicURLProvider)
	if !ok {
		return ""
	}
	st, found := s.lookup(id)
	if !found {
		return ""
	}
	return provider.GetPublicURL(st.ImageRef)
}

func (s *Service) HasBeenViewed(id string) bool {
	return s.tracker.HasBeenViewed(id)
}

// Subscribe streams viewer state changes until the returned cancel is
// called.
func (s *Service) Subscribe() (<-chan playback.State, func()) {
	return s.hub.subscribe()
}

// OpenViewer closes any open viewer and opens a new one on storyID over a
// snapshot of the current stories.
func (s *Service) OpenViewer(storyID string) (playback.State, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.detachAndClose()

	list := s.store.List()
	start := -1
	for i, st := range list {
		if st.ID == storyID {
			start = i
			break
		}
	}
	if start < 0 {
		return playback.State{}, ErrStoryNotFound
	}

	ids := make([]string, len(list))
	for i, st := range list {
		ids[i] = st.ID
	}

	var sess *playback.Session
	sess = playback.Open(ids, start, playback.Options{
		Clock:         s.clock,
		Dwell:         s.opts.Dwell,
		DragThreshold: s.opts.DragThreshold,
		OnViewed: func(id string) {
			// persistence failures are logged by the tracker
			s.tracker.MarkViewed(context.Background(), id)
		},
		OnChange: s.hub.publish,
		OnClose: func() {
			s.detach(sess)
		},
	})

	s.mu.Lock()
	s.viewer = sess
	s.viewerStories = list
	s.mu.Unlock()

	// the session may have run out before it was attached
	if sess.Closed() {
		s.detach(sess)
	}

	logging.Playback.Printf("viewer opened at %d/%d (story %s)", start+1, len(list), storyID)
	return sess.State(), nil
}

func (s *Service) detach(sess *playback.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewer == sess {
		s.viewer = nil
		s.viewerStories = nil
		logging.Playback.Printf("viewer closed")
	}
}

func (s *Service) detachAndClose() {
	s.mu.Lock()
	old := s.viewer
	s.viewer = nil
	s.viewerStories = nil
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

func (s *Service) current() (*playback.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewer == nil {
		return nil, ErrNoViewer
	}
	return s.viewer, nil
}

// CloseViewer dismisses the open viewer, if any.
func (s *Service) CloseViewer() {
	s.detachAndClose()
}

func (s *Service) Next() error {
	v, err := s.current()
	if err != nil {
		return err
	}
	v.Next()
	return nil
}

func (s *Service) Prev() error {
	v, err := s.current()
	if err != nil {
		return err
	}
	v.Prev()
	return nil
}

func (s *Service) DragUpdate(offset float64) error {
	v, err := s.current()
	if err != nil {
		return err
	}
	v.DragUpdate(offset)
	return nil
}

func (s *Service) DragRelease(offset float64, dir playback.Direction) (playback.Nav, error) {
	v, err := s.current()
	if err != nil {
		return playback.NavNone, err
	}
	return v.DragRelease(offset, dir), nil
}

// HandleKey maps keyboard navigation: ArrowRight, ArrowLeft and Escape.
func (s *Service) HandleKey(key string) error {
	switch key {
	case "ArrowRight":
		return s.Next()
	case "ArrowLeft":
		return s.Prev()
	case "Escape":
		if _, err := s.current(); err != nil {
			return err
		}
		s.CloseViewer()
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownKey, key)
	}
}

// Viewer returns the open viewer, or a closed Viewer when none is open.
func (s *Service) Viewer() Viewer {
	s.mu.Lock()
	v := s.viewer
	list := append([]Story(nil), s.viewerStories...)
	s.mu.Unlock()

	if v == nil {
		return Viewer{}
	}
	st := v.State()
	if !st.Open {
		return Viewer{State: st}
	}
	return Viewer{
		State:    st,
		Stories:  list,
		Progress: v.Progress(s.clock.Now()),
	}
}

// Stats summarizes the live stories.
func (s *Service) Stats() Stats {
	list := s.store.List()
	stats := Stats{Live: len(list), Viewed: s.tracker.Len()}
	for i, st := range list {
		created := st.Created()
		if i == 0 || created.Before(stats.Oldest) {
			stats.Oldest = created
		}
		if i == 0 || created.After(stats.Newest) {
			stats.Newest = created
		}
	}
	return stats
}

// Close dismisses the viewer. It does not stop sweepers.
func (s *Service) Close() {
	s.CloseViewer()
}

// IsInputError reports whether err was caused by the uploaded file itself.
func IsInputError(err error) bool {
	return errors.Is(err, imaging.ErrNotImage) ||
		errors.Is(err, imaging.ErrUnreadable) ||
		errors.Is(err, imaging.ErrTooLarge)
}
