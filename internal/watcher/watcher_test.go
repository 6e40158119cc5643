package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azzuriel/clipman/internal/clipboard"
)

type recorder struct {
	mu     sync.Mutex
	texts  []string
	images [][]byte
	panic  bool
}

func (r *recorder) OnText(ctx context.Context, text string) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	shouldPanic := r.panic
	r.mu.Unlock()
	if shouldPanic {
		panic("boom")
	}
}

func (r *recorder) OnImage(ctx context.Context, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = append(r.images, data)
}

func (r *recorder) textCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func (r *recorder) imageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.images)
}

const tick = 5 * time.Millisecond

func startWatcher(t *testing.T, cb *clipboard.Memory, h Handler) *Watcher {
	t.Helper()
	w := New(cb, h, tick)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_ReportsTextOnce(t *testing.T) {
	cb := clipboard.NewMemory()
	cb.SetText("hello")
	rec := &recorder{}
	startWatcher(t, cb, rec)

	require.Eventually(t, func() bool { return rec.textCount() == 1 }, time.Second, tick)
	time.Sleep(10 * tick)
	assert.Equal(t, 1, rec.textCount(), "unchanged content is not reported again")

	cb.SetText("world")
	require.Eventually(t, func() bool { return rec.textCount() == 2 }, time.Second, tick)

	rec.mu.Lock()
	assert.Equal(t, []string{"hello", "world"}, rec.texts)
	rec.mu.Unlock()
}

func TestWatcher_ReportsImages(t *testing.T) {
	cb := clipboard.NewMemory()
	cb.SetImage([]byte{0x89, 'P', 'N', 'G'})
	rec := &recorder{}
	startWatcher(t, cb, rec)

	require.Eventually(t, func() bool { return rec.imageCount() == 1 }, time.Second, tick)
	assert.Equal(t, 0, rec.textCount())
}

func TestWatcher_DropsInvalidText(t *testing.T) {
	cb := clipboard.NewMemory()
	cb.SetTextBytes([]byte{0xff, 0xfe, 0xfd})
	rec := &recorder{}
	startWatcher(t, cb, rec)

	time.Sleep(10 * tick)
	cb.SetText("   \n\t ")
	time.Sleep(10 * tick)
	assert.Equal(t, 0, rec.textCount())

	cb.SetText("valid")
	require.Eventually(t, func() bool { return rec.textCount() == 1 }, time.Second, tick)
}

func TestWatcher_Remember(t *testing.T) {
	cb := clipboard.NewMemory()
	rec := &recorder{}
	w := startWatcher(t, cb, rec)

	w.Remember(ChannelText, []byte("pasted"))
	cb.SetText("pasted")
	time.Sleep(10 * tick)
	assert.Equal(t, 0, rec.textCount())
}

func TestWatcher_ReadErrorsKeepLooping(t *testing.T) {
	cb := clipboard.NewMemory()
	cb.FailWith(assert.AnError)
	rec := &recorder{}
	startWatcher(t, cb, rec)

	time.Sleep(10 * tick)
	cb.FailWith(nil)
	cb.SetText("recovered")
	require.Eventually(t, func() bool { return rec.textCount() == 1 }, time.Second, tick)
}

func TestWatcher_HandlerPanicRecovered(t *testing.T) {
	cb := clipboard.NewMemory()
	cb.SetText("first")
	rec := &recorder{panic: true}
	startWatcher(t, cb, rec)

	require.Eventually(t, func() bool { return rec.textCount() == 1 }, time.Second, tick)

	rec.mu.Lock()
	rec.panic = false
	rec.mu.Unlock()

	cb.SetText("second")
	require.Eventually(t, func() bool { return rec.textCount() == 2 }, time.Second, tick)
}

func TestWatcher_StartStop(t *testing.T) {
	cb := clipboard.NewMemory()
	w := New(cb, &recorder{}, tick)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()))

	w.Stop()
	assert.False(t, w.IsRunning())
	w.Stop()

	// restart after stop
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
}

func TestWatcher_StopsWithContext(t *testing.T) {
	cb := clipboard.NewMemory()
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	w := New(cb, rec, tick)
	require.NoError(t, w.Start(ctx))

	cancel()
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
