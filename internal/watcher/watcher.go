// Package watcher polls the clipboard and reports content changes.
package watcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/azzuriel/clipman/internal/clipboard"
	apperrors "github.com/azzuriel/clipman/internal/errors"
	"github.com/azzuriel/clipman/internal/logging"
)

// Channel is one of the independently watched clipboard kinds.
type Channel string

const (
	ChannelText  Channel = "text"
	ChannelImage Channel = "image"
)

// Handler receives new clipboard content. Calls for one channel are
// sequential; text and image calls may run concurrently.
type Handler interface {
	OnText(ctx context.Context, text string)
	OnImage(ctx context.Context, data []byte)
}

// Watcher runs one polling loop per channel.
type Watcher struct {
	reader   clipboard.Reader
	handler  Handler
	interval time.Duration

	mu        sync.Mutex
	last      map[Channel]uint64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
}

// New creates a Watcher polling reader every interval.
func New(reader clipboard.Reader, handler Handler, interval time.Duration) *Watcher {
	return &Watcher{
		reader:   reader,
		handler:  handler,
		interval: interval,
		last:     make(map[Channel]uint64),
	}
}

// Start launches the text and image loops. They run until Stop is called or
// ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("watcher is already running")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true

	for _, ch := range []Channel{ChannelText, ChannelImage} {
		w.wg.Add(1)
		go w.loop(ctx, ch)
	}

	logging.Info("Clipboard watcher started", map[string]interface{}{
		"interval": w.interval.String(),
	})
	return nil
}

// Stop cancels both loops, which also kills any in-flight read, and waits
// for them to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	logging.Info("Clipboard watcher stopped")
}

// IsRunning reports whether the loops are active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

// Remember records data as the current content of ch so the next poll does
// not report it. Used after writing to the clipboard ourselves.
func (w *Watcher) Remember(ch Channel, data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last[ch] = xxhash.Sum64(data)
}

// changed records fp for ch and reports whether it differs from the
// previous fingerprint.
func (w *Watcher) changed(ch Channel, fp uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.last[ch]
	return !ok || prev != fp
}

func (w *Watcher) loop(ctx context.Context, ch Channel) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.poll(ctx, ch)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context, ch Channel) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Clipboard handler panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"channel": string(ch),
			})
		}
	}()

	data, err := w.read(ctx, ch)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if apperrors.Is(err, apperrors.ErrTimeout) {
			logging.Debug("Clipboard read timed out", map[string]interface{}{"channel": string(ch)})
			return
		}
		logging.Warn("Clipboard read failed", map[string]interface{}{
			"channel": string(ch),
			"error":   err.Error(),
		})
		return
	}
	if len(data) == 0 {
		return
	}

	fp := xxhash.Sum64(data)
	if !w.changed(ch, fp) {
		return
	}

	switch ch {
	case ChannelText:
		// only text that is accepted is remembered
		if !utf8.Valid(data) || strings.TrimSpace(string(data)) == "" {
			return
		}
		w.remember(ch, fp)
		w.handler.OnText(ctx, string(data))
	case ChannelImage:
		w.remember(ch, fp)
		w.handler.OnImage(ctx, data)
	}
}

func (w *Watcher) read(ctx context.Context, ch Channel) ([]byte, error) {
	if ch == ChannelImage {
		return w.reader.ReadImage(ctx)
	}
	return w.reader.ReadText(ctx)
}

func (w *Watcher) remember(ch Channel, fp uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last[ch] = fp
}
