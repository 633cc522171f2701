package stories

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/internal/clock"
	"storyreel/internal/imaging"
	"storyreel/internal/playback"
)

type serviceFixture struct {
	kv    *mockKV
	blobs *mockBlobs
	clk   *clock.Fake
	svc   *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{kv: newMockKV(), blobs: newMockBlobs(), clk: clock.NewFake(epoch)}
	f.svc = NewService(context.Background(), f.kv, f.blobs, fakeConverter{}, Options{Clock: f.clk})
	t.Cleanup(f.svc.Close)
	return f
}

func (f *serviceFixture) addN(t *testing.T, n int) []Story {
	t.Helper()
	var out []Story
	for i := 0; i < n; i++ {
		st, err := f.svc.AddStory(context.Background(), strings.NewReader("image bytes"))
		require.NoError(t, err)
		out = append(out, st)
	}
	return out
}

func TestService_AddListOpenMarksViewedOnArm(t *testing.T) {
	f := newServiceFixture(t)
	added := f.addN(t, 3)

	list := f.svc.ListStories()
	require.Equal(t, added, list)
	assert.Len(t, map[string]bool{list[0].ID: true, list[1].ID: true, list[2].ID: true}, 3)

	st, err := f.svc.OpenViewer(list[1].ID)
	require.NoError(t, err)

	assert.True(t, st.Open)
	assert.Equal(t, 1, st.Index)
	assert.True(t, f.svc.HasBeenViewed(list[1].ID), "viewed as soon as the timer arms")
	assert.False(t, f.svc.HasBeenViewed(list[0].ID))
	assert.False(t, f.svc.HasBeenViewed(list[2].ID))
}

func TestService_AutoAdvanceClosesViewer(t *testing.T) {
	f := newServiceFixture(t)
	list := f.addN(t, 3)

	_, err := f.svc.OpenViewer(list[0].ID)
	require.NoError(t, err)

	f.clk.Advance(2 * playback.DefaultDwell)
	assert.Equal(t, 2, f.svc.Viewer().State.Index)

	f.clk.Advance(playback.DefaultDwell)
	assert.False(t, f.svc.Viewer().State.Open)
	assert.ErrorIs(t, f.svc.Next(), ErrNoViewer)
	for _, st := range list {
		assert.True(t, f.svc.HasBeenViewed(st.ID))
	}
}

func TestService_ExpiryEmptiesStoriesAndViewed(t *testing.T) {
	f := newServiceFixture(t)
	list := f.addN(t, 3)
	for _, st := range list {
		_, err := f.svc.OpenViewer(st.ID)
		require.NoError(t, err)
	}
	f.svc.CloseViewer()
	require.Equal(t, 3, f.svc.Stats().Viewed)

	f.clk.Advance(25 * time.Hour)
	f.svc.NewSweeper(time.Hour).Tick(context.Background())

	assert.Empty(t, f.svc.ListStories())
	assert.Zero(t, f.svc.Stats().Viewed)
	for _, st := range list {
		assert.False(t, f.svc.HasBeenViewed(st.ID))
	}
	assert.Empty(t, f.blobs.files, "images deleted with their stories")
}

func TestService_ViewerKeepsSnapshotAcrossEviction(t *testing.T) {
	f := newServiceFixture(t)
	old := f.addN(t, 1)[0]
	f.clk.Advance(ExpirationWindow - time.Second)
	fresh := f.addN(t, 1)[0]

	_, err := f.svc.OpenViewer(old.ID)
	require.NoError(t, err)

	f.clk.Advance(time.Second)
	f.svc.NewSweeper(time.Hour).Tick(context.Background())
	require.Equal(t, []Story{fresh}, f.svc.ListStories())

	v := f.svc.Viewer()
	assert.True(t, v.State.Open, "eviction does not close the viewer")
	assert.Equal(t, []Story{old, fresh}, v.Stories)

	require.NoError(t, f.svc.Next())
	assert.Equal(t, 1, f.svc.Viewer().State.Index)
}

func TestService_OpenViewerUnknownStory(t *testing.T) {
	f := newServiceFixture(t)
	list := f.addN(t, 1)
	_, err := f.svc.OpenViewer(list[0].ID)
	require.NoError(t, err)

	_, err = f.svc.OpenViewer("missing")

	assert.ErrorIs(t, err, ErrStoryNotFound)
	assert.False(t, f.svc.Viewer().State.Open, "previous viewer is replaced by nothing")
}

func TestService_ReopenCreatesFreshSession(t *testing.T) {
	f := newServiceFixture(t)
	list := f.addN(t, 2)

	_, err := f.svc.OpenViewer(list[0].ID)
	require.NoError(t, err)
	f.clk.Advance(2 * time.Second)

	_, err = f.svc.OpenViewer(list[0].ID)
	require.NoError(t, err)

	v := f.svc.Viewer()
	assert.Equal(t, []float64{0, 0}, v.Progress)
	assert.Equal(t, 1, f.clk.Pending(), "old dwell timer cancelled")

	f.clk.Advance(2 * time.Second)
	assert.Equal(t, 0, f.svc.Viewer().State.Index, "old timer must not advance the new session")
}

func TestService_ConcurrentOpensLeaveOneSession(t *testing.T) {
	f := newServiceFixture(t)
	list := f.addN(t, 3)

	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := f.svc.OpenViewer(id)
				assert.NoError(t, err)
			}(list[i%len(list)].ID)
		}
		wg.Wait()

		require.LessOrEqual(t, f.clk.Pending(), 1, "one dwell timer at most")
		require.True(t, f.svc.Viewer().State.Open)
	}

	updates, cancel := f.svc.Subscribe()
	defer cancel()
	f.svc.CloseViewer()
	assert.Zero(t, f.clk.Pending())

	// no orphaned session keeps advancing after the viewer is closed
	f.clk.Advance(time.Minute)
	closed := <-updates
	assert.False(t, closed.Open)
	assert.Empty(t, updates)
}

func TestService_Navigation(t *testing.T) {
	f := newServiceFixture(t)
	list := f.addN(t, 3)

	assert.ErrorIs(t, f.svc.Prev(), ErrNoViewer)
	assert.ErrorIs(t, f.svc.DragUpdate(10), ErrNoViewer)
	_, err := f.svc.DragRelease(-200, playback.DirectionLeft)
	assert.ErrorIs(t, err, ErrNoViewer)

	_, err = f.svc.OpenViewer(list[0].ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Prev())
	assert.Equal(t, 0, f.svc.Viewer().State.Index)

	require.NoError(t, f.svc.DragUpdate(-150))
	assert.Equal(t, -150.0, f.svc.Viewer().State.DragOffset)

	nav, err := f.svc.DragRelease(-150, playback.DirectionLeft)
	require.NoError(t, err)
	assert.Equal(t, playback.NavNext, nav)
	assert.Equal(t, 1, f.svc.Viewer().State.Index)

	nav, err = f.svc.DragRelease(-50, playback.DirectionLeft)
	require.NoError(t, err)
	assert.Equal(t, playback.NavNone, nav)
	assert.Equal(t, 1, f.svc.Viewer().State.Index)
	assert.Zero(t, f.svc.Viewer().State.DragOffset)
}

func TestService_HandleKey(t *testing.T) {
	f := newServiceFixture(t)
	list := f.addN(t, 2)

	assert.ErrorIs(t, f.svc.HandleKey("Escape"), ErrNoViewer)

	_, err := f.svc.OpenViewer(list[0].ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleKey("ArrowRight"))
	assert.Equal(t, 1, f.svc.Viewer().State.Index)
	require.NoError(t, f.svc.HandleKey("ArrowLeft"))
	assert.Equal(t, 0, f.svc.Viewer().State.Index)
	assert.ErrorIs(t, f.svc.HandleKey("Enter"), ErrUnknownKey)

	require.NoError(t, f.svc.HandleKey("Escape"))
	assert.False(t, f.svc.Viewer().State.Open)
	assert.Zero(t, f.clk.Pending())
}

func TestService_Subscribe(t *testing.T) {
	f := newServiceFixture(t)
	list := f.addN(t, 2)
	updates, cancel := f.svc.Subscribe()
	defer cancel()

	_, err := f.svc.OpenViewer(list[0].ID)
	require.NoError(t, err)
	f.svc.CloseViewer()

	opened := <-updates
	assert.True(t, opened.Open)
	assert.Equal(t, 0, opened.Index)
	closed := <-updates
	assert.False(t, closed.Open)

	cancel()
	_, ok := <-updates
	assert.False(t, ok, "cancel closes the channel")
}

func TestService_SlowSubscriberDoesNotBlock(t *testing.T) {
	f := newServiceFixture(t)
	list := f.addN(t, 1)
	updates, cancel := f.svc.Subscribe()
	defer cancel()

	_, err := f.svc.OpenViewer(list[0].ID)
	require.NoError(t, err)
	for i := 0; i < 3*subscriberBuffer; i++ {
		require.NoError(t, f.svc.DragUpdate(float64(i)))
	}

	var last playback.State
	for len(updates) > 0 {
		last = <-updates
	}
	assert.Equal(t, float64(3*subscriberBuffer-1), last.DragOffset, "latest state is kept")
}

func TestService_AddStoryFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("conversion error creates nothing", func(t *testing.T) {
		f := newServiceFixture(t)
		f.svc.converter = fakeConverter{err: imaging.ErrNotImage}

		_, err := f.svc.AddStory(ctx, strings.NewReader("text"))

		assert.ErrorIs(t, err, imaging.ErrNotImage)
		assert.True(t, IsInputError(err))
		assert.Empty(t, f.svc.ListStories())
		assert.Empty(t, f.blobs.files)
	})

	t.Run("encoding error is not an input error", func(t *testing.T) {
		f := newServiceFixture(t)
		f.svc.converter = fakeConverter{err: imaging.ErrEncoding}

		_, err := f.svc.AddStory(ctx, strings.NewReader("img"))

		assert.ErrorIs(t, err, imaging.ErrEncoding)
		assert.False(t, IsInputError(err))
		assert.Empty(t, f.svc.ListStories())
	})

	t.Run("image storage error creates nothing", func(t *testing.T) {
		f := newServiceFixture(t)
		f.blobs.saveErr = errors.New("disk full")

		_, err := f.svc.AddStory(ctx, strings.NewReader("img"))

		assert.Error(t, err)
		assert.Empty(t, f.svc.ListStories())
	})

	t.Run("persistence error keeps story", func(t *testing.T) {
		f := newServiceFixture(t)
		f.kv.setErr = errors.New("locked")

		st, err := f.svc.AddStory(ctx, strings.NewReader("img"))

		require.NoError(t, err)
		assert.Equal(t, []Story{st}, f.svc.ListStories())
	})
}

func TestService_Images(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	st := f.addN(t, 1)[0]

	rc, err := f.svc.OpenImage(ctx, st.ID)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "image bytes", string(data))

	_, err = f.svc.OpenImage(ctx, "missing")
	assert.ErrorIs(t, err, ErrStoryNotFound)
	assert.Empty(t, f.svc.ImageURL(st.ID))

	public := NewService(ctx, f.kv, publicBlobs{f.blobs}, fakeConverter{}, Options{Clock: f.clk})
	assert.Equal(t, "https://cdn.example.com/"+st.ImageRef, public.ImageURL(st.ID))
	assert.Empty(t, public.ImageURL("missing"))
}

func TestService_Stats(t *testing.T) {
	f := newServiceFixture(t)
	assert.Equal(t, Stats{}, f.svc.Stats())

	first := f.addN(t, 1)[0]
	f.clk.Advance(time.Hour)
	second := f.addN(t, 1)[0]
	f.svc.OpenViewer(second.ID)

	stats := f.svc.Stats()
	assert.Equal(t, 2, stats.Live)
	assert.Equal(t, 1, stats.Viewed)
	assert.Equal(t, first.Created(), stats.Oldest)
	assert.Equal(t, second.Created(), stats.Newest)
}

func TestService_ReloadsPersistedState(t *testing.T) {
	f := newServiceFixture(t)
	list := f.addN(t, 2)
	f.svc.OpenViewer(list[1].ID)
	f.svc.CloseViewer()

	reloaded := NewService(context.Background(), f.kv, f.blobs, fakeConverter{}, Options{Clock: f.clk})

	assert.Equal(t, list, reloaded.ListStories())
	assert.True(t, reloaded.HasBeenViewed(list[1].ID))
	assert.False(t, reloaded.HasBeenViewed(list[0].ID))
}
