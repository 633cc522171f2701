package stories

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"storyreel/internal/logging"
	"storyreel/internal/store"
)

// Tracker records which stories have been shown.
type Tracker struct {
	kv store.Store

	mu  sync.Mutex
	ids []string
	set map[string]struct{}
}

// LoadTracker reads the persisted viewed ids, falling back to none.
func LoadTracker(ctx context.Context, kv store.Store) *Tracker {
	t := &Tracker{kv: kv, set: make(map[string]struct{})}

	data, err := kv.Get(ctx, ViewedKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		logging.Stories.Printf("error reading key %q, starting empty: %v", ViewedKey, err)
	default:
		ids, err := decodeIDs(data)
		if err != nil {
			logging.Stories.Printf("corrupt snapshot under %q, starting empty: %v", ViewedKey, err)
			break
		}
		for _, id := range ids {
			if _, ok := t.set[id]; ok || id == "" {
				continue
			}
			t.set[id] = struct{}{}
			t.ids = append(t.ids, id)
		}
	}
	return t
}

// MarkViewed adds id. Marking an id twice is a no-op and writes nothing.
func (t *Tracker) MarkViewed(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.set[id]; ok {
		return nil
	}
	t.set[id] = struct{}{}
	t.ids = append(t.ids, id)
	return t.persist(ctx)
}

func (t *Tracker) HasBeenViewed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.set[id]
	return ok
}

// Viewed returns the viewed ids in the order they were first marked.
func (t *Tracker) Viewed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ids...)
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

// Reconcile drops every id not in live and returns the dropped ids.
func (t *Tracker) Reconcile(ctx context.Context, live map[string]struct{}) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dropped []string
	kept := t.ids[:0:0]
	for _, id := range t.ids {
		if _, ok := live[id]; ok {
			kept = append(kept, id)
			continue
		}
		dropped = append(dropped, id)
		delete(t.set, id)
	}
	if len(dropped) == 0 {
		return nil, nil
	}

	t.ids = kept
	return dropped, t.persist(ctx)
}

func (t *Tracker) persist(ctx context.Context) error {
	data, err := encodeIDs(t.ids)
	if err == nil {
		err = t.kv.Set(ctx, ViewedKey, data)
	}
	if err != nil {
		logging.Stories.Printf("error writing key %q: %v", ViewedKey, err)
		return fmt.Errorf("%w %q: %v", ErrPersistence, ViewedKey, err)
	}
	return nil
}
