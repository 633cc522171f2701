package stories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyreel/internal/clock"
	"storyreel/internal/logging"
	"storyreel/internal/store"
)

// Store owns the ordered list of live stories and writes it through to the
// persistence adapter on every change.
type Store struct {
	kv    store.Store
	clock clock.Clock
	newID func() string

	mu      sync.Mutex
	stories []Story
}

// LoadStore reads the persisted snapshot. A missing or corrupt snapshot
// yields an empty store.
func LoadStore(ctx context.Context, kv store.Store, clk clock.Clock) *Store {
	s := &Store{kv: kv, clock: clk, newID: uuid.NewString}

	data, err := kv.Get(ctx, StoriesKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		logging.Stories.Printf("error reading key %q, starting empty: %v", StoriesKey, err)
	default:
		list, err := decodeStories(data)
		if err != nil {
			logging.Stories.Printf("corrupt snapshot under %q, starting empty: %v", StoriesKey, err)
			break
		}
		s.stories = list
	}
	return s
}

// Add appends a new story for imageRef. The story is kept even when the
// snapshot write fails; the error then wraps ErrPersistence.
func (s *Store) Add(ctx context.Context, imageRef string) (Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	story := Story{
		ID:        s.uniqueID(),
		ImageRef:  imageRef,
		CreatedAt: s.clock.Now().UnixMilli(),
	}
	s.stories = append(s.stories, story)

	return story, s.persist(ctx)
}

func (s *Store) uniqueID() string {
	for {
		id := s.newID()
		if _, ok := s.find(id); !ok {
			return id
		}
	}
}

func (s *Store) find(id string) (Story, bool) {
	for _, st := range s.stories {
		if st.ID == id {
			return st, true
		}
	}
	return Story{}, false
}

// List returns the live stories in insertion order.
func (s *Store) List() []Story {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Story(nil), s.stories...)
}

// Get looks up a live story.
func (s *Store) Get(id string) (Story, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(id)
}

// IDs returns the set of live story ids.
func (s *Store) IDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.stories))
	for _, st := range s.stories {
		ids[st.ID] = struct{}{}
	}
	return ids
}

// Len returns the number of live stories.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stories)
}

// EvictExpired removes every story at least ExpirationWindow old at now and
// returns them. The snapshot is only written when something was removed.
func (s *Store) EvictExpired(ctx context.Context, now time.Time) ([]Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Story
	live := s.stories[:0:0]
	for _, st := range s.stories {
		if st.Expired(now) {
			removed = append(removed, st)
			continue
		}
		live = append(live, st)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	s.stories = live
	return removed, s.persist(ctx)
}

// persist writes the whole snapshot. Caller holds mu.
func (s *Store) persist(ctx context.Context) error {
	data, err := encodeStories(s.stories)
	if err == nil {
		err = s.kv.Set(ctx, StoriesKey, data)
	}
	if err != nil {
		logging.Stories.Printf("error writing key %q: %v", StoriesKey, err)
		return fmt.Errorf("%w %q: %v", ErrPersistence, StoriesKey, err)
	}
	return nil
}
