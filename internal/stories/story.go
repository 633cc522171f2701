// Package stories holds the ephemeral story lifecycle: the store of live
// stories, the viewed-state tracker, the expiration sweeper and the Service
// facade the HTTP layer talks to.
package stories

import (
	"encoding/json"
	"errors"
	"time"
)

// ExpirationWindow is how long a story lives after it is posted.
const ExpirationWindow = 24 * time.Hour

// Persistence keys.
const (
	StoriesKey = "24hr_stories"
	ViewedKey  = "24hr_viewed_stories"
)

var (
	// ErrPersistence wraps a failed snapshot write. The in-memory state has
	// already been updated when it is returned.
	ErrPersistence   = errors.New("persist snapshot")
	ErrStoryNotFound = errors.New("story not found")
	ErrNoViewer      = errors.New("no story viewer open")
	ErrUnknownKey    = errors.New("unsupported key")
)

// Story is an uploaded image. It never changes once created.
type Story struct {
	ID       string `json:"id"`
	ImageRef string `json:"imagePayloadRef"`
	// CreatedAt is milliseconds since the Unix epoch.
	CreatedAt int64 `json:"createdAt"`
}

func (s Story) Created() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

func (s Story) ExpiresAt() time.Time {
	return s.Created().Add(ExpirationWindow)
}

// Expired reports whether the story is at least ExpirationWindow old at now.
func (s Story) Expired(now time.Time) bool {
	return now.UnixMilli()-s.CreatedAt >= ExpirationWindow.Milliseconds()
}

func encodeStories(list []Story) ([]byte, error) {
	if list == nil {
		list = []Story{}
	}
	return json.Marshal(list)
}

// decodeStories drops records without an id and repeated ids.
func decodeStories(data []byte) ([]Story, error) {
	var raw []Story
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(raw))
	list := make([]Story, 0, len(raw))
	for _, s := range raw {
		if s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		list = append(list, s)
	}
	return list, nil
}

func encodeIDs(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func decodeIDs(data []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
