package stories

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"storyreel/internal/files"
	"storyreel/internal/imaging"
	"storyreel/internal/store"
)

// mockKV implements store.Store for testing.
type mockKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	sets   map[string]int
	setErr error
	getErr error
}

func newMockKV() *mockKV {
	return &mockKV{data: make(map[string][]byte), sets: make(map[string]int)}
}

func (m *mockKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *mockKV) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]byte(nil), value...)
	m.sets[key]++
	return nil
}

func (m *mockKV) GetStats(ctx context.Context) (*store.Stats, error) {
	return &store.Stats{Keys: len(m.data)}, nil
}

func (m *mockKV) Close() error { return nil }

func (m *mockKV) setCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[key]
}

// mockBlobs implements files.Storage for testing.
type mockBlobs struct {
	mu        sync.Mutex
	files     map[string][]byte
	saveErr   error
	deleteErr error
	deleted   []string
}

func newMockBlobs() *mockBlobs {
	return &mockBlobs{files: make(map[string][]byte)}
}

func (m *mockBlobs) Save(ctx context.Context, id string, data io.Reader) (int64, error) {
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[id] = buf
	return int64(len(buf)), nil
}

func (m *mockBlobs) Load(ctx context.Context, id string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[id]
	if !ok {
		return nil, files.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockBlobs) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.files[id]; !ok {
		return files.ErrNotFound
	}
	delete(m.files, id)
	return nil
}

// publicBlobs adds a public URL to mockBlobs.
type publicBlobs struct {
	*mockBlobs
}

func (p publicBlobs) GetPublicURL(id string) string {
	return "https://cdn.example.com/" + id
}

// fakeConverter returns its input as the payload unless err is set.
type fakeConverter struct {
	err error
}

func (f fakeConverter) Convert(ctx context.Context, r io.Reader) (*imaging.Payload, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Join(imaging.ErrUnreadable, err)
	}
	return &imaging.Payload{Data: data, ContentType: imaging.ContentType, Width: 1, Height: 1}, nil
}
