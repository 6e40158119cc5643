package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azzuriel/clipman/internal/storage"
)

type fakeIndex struct {
	mu    sync.Mutex
	paths map[string]bool
	err   error
	calls int
}

func (f *fakeIndex) FilePaths(ctx context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool, len(f.paths))
	for p := range f.paths {
		out[p] = true
	}
	return out, nil
}

func (f *fakeIndex) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweep_RemovesOrphans(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	kept, err := store.StoreText("kept")
	require.NoError(t, err)
	orphan, err := store.StoreText("orphan")
	require.NoError(t, err)

	index := &fakeIndex{paths: map[string]bool{kept.FilePath: true}}
	j := New(index, store, &Config{Interval: time.Hour, MinAge: 0})

	removed, freed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, int64(len("orphan")), freed)

	_, err = store.Fetch(kept.FilePath)
	assert.NoError(t, err)
	_, err = store.Fetch(orphan.FilePath)
	assert.Error(t, err)
}

func TestSweep_SparesRecentFiles(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.StoreText("just written")
	require.NoError(t, err)

	j := New(&fakeIndex{}, store, &Config{Interval: time.Hour, MinAge: time.Minute})

	removed, _, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSweep_IndexError(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.StoreText("x")
	require.NoError(t, err)

	j := New(&fakeIndex{err: errors.New("db closed")}, store, &Config{MinAge: 0})

	_, _, err = j.Sweep(context.Background())
	assert.Error(t, err)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalFiles)
}

func TestStartStop(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.StoreText("orphan")
	require.NoError(t, err)

	index := &fakeIndex{}
	j := New(index, store, &Config{Interval: 20 * time.Millisecond, MinAge: 0})

	j.Start(context.Background())
	j.Start(context.Background())
	assert.True(t, j.IsRunning())

	require.Eventually(t, func() bool {
		stats, err := store.GetStats()
		return err == nil && stats.TotalFiles == 0
	}, 2*time.Second, 10*time.Millisecond)

	j.Stop()
	j.Stop()
	assert.False(t, j.IsRunning())

	calls := index.callCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, index.callCount())
}

func TestRestartAfterStop(t *testing.T) {
	store, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	index := &fakeIndex{}
	j := New(index, store, &Config{Interval: 20 * time.Millisecond, MinAge: 0})

	j.Start(context.Background())
	require.Eventually(t, func() bool { return index.callCount() > 0 }, 2*time.Second, 10*time.Millisecond)
	j.Stop()

	_, err = store.StoreText("orphan")
	require.NoError(t, err)

	j.Start(context.Background())
	t.Cleanup(j.Stop)
	assert.True(t, j.IsRunning())

	require.Eventually(t, func() bool {
		stats, err := store.GetStats()
		return err == nil && stats.TotalFiles == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew_Defaults(t *testing.T) {
	j := New(&fakeIndex{}, nil, nil)
	assert.Equal(t, time.Hour, j.interval)
	assert.Equal(t, 10*time.Minute, j.minAge)

	j = New(&fakeIndex{}, nil, &Config{Interval: -1, MinAge: -1})
	assert.Equal(t, time.Hour, j.interval)
	assert.Equal(t, 10*time.Minute, j.minAge)
}
