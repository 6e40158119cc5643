// Package ingest turns clipboard content reported by the watcher into
// stored, indexed history items and expires the ones that look like secrets.
package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/azzuriel/clipman/internal/db"
	"github.com/azzuriel/clipman/internal/events"
	"github.com/azzuriel/clipman/internal/logging"
	"github.com/azzuriel/clipman/internal/models"
	"github.com/azzuriel/clipman/internal/sensitive"
	"github.com/azzuriel/clipman/internal/storage"
	"github.com/azzuriel/clipman/internal/uuid"
)

// Store persists payloads.
type Store interface {
	StoreText(content string) (storage.Stored, error)
	StoreImage(data []byte) (storage.Stored, error)
	Remove(paths ...string) error
}

// Index records items.
type Index interface {
	AddItem(ctx context.Context, n db.NewItem) (db.Added, error)
	DeleteIfNotFavorite(ctx context.Context, uuid string) (bool, error)
}

// Options tune the Ingestor.
type Options struct {
	PreviewLength int
	SensitiveTTL  time.Duration
	MaxImageBytes int
	Publisher     events.Publisher
}

// timerEntry identifies one armed expiry so a superseded timer that fires
// late can tell it is no longer current.
type timerEntry struct {
	timer *time.Timer
}

// Ingestor implements watcher.Handler.
type Ingestor struct {
	store Store
	index Index
	opts  Options

	mu      sync.Mutex
	timers  map[string]*timerEntry
	stopped bool
}

// New creates an Ingestor.
func New(store Store, index Index, opts Options) *Ingestor {
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	return &Ingestor{
		store:  store,
		index:  index,
		opts:   opts,
		timers: make(map[string]*timerEntry),
	}
}

// OnText stores and indexes a text payload.
func (in *Ingestor) OnText(ctx context.Context, text string) {
	stored, err := in.store.StoreText(text)
	if err != nil {
		logging.Error("Failed to store text", err, nil)
		return
	}

	secret := sensitive.IsSensitive(text)
	preview := Preview(text, in.opts.PreviewLength)
	if secret {
		preview = sensitive.Mask(text)
	}

	added, err := in.index.AddItem(ctx, db.NewItem{
		UUID:        stored.UUID,
		ContentType: models.ContentTypeText,
		Preview:     preview,
		ContentHash: stored.Hash,
		FilePath:    stored.FilePath,
		ByteSize:    stored.Size,
		LineCount:   strings.Count(text, "\n") + 1,
	})
	if err != nil {
		logging.Error("Failed to index text", err, nil)
		in.discard(stored)
		return
	}

	if !in.recorded(added, models.ContentTypeText, preview, stored) {
		return
	}

	if secret {
		in.arm(added.UUID)
		logging.Info("Sensitive item detected", map[string]interface{}{
			"uuid": uuid.Short(added.UUID),
			"ttl":  in.opts.SensitiveTTL.String(),
		})
	}
}

// OnImage stores and indexes an image payload. Images above the size limit
// are skipped.
func (in *Ingestor) OnImage(ctx context.Context, data []byte) {
	if in.opts.MaxImageBytes > 0 && len(data) > in.opts.MaxImageBytes {
		logging.Info("Image too large, skipping", map[string]interface{}{
			"size":  humanize.Bytes(uint64(len(data))),
			"limit": humanize.Bytes(uint64(in.opts.MaxImageBytes)),
		})
		return
	}

	stored, err := in.store.StoreImage(data)
	if err != nil {
		logging.Error("Failed to store image", err, nil)
		return
	}

	preview := "[Image " + humanize.Bytes(uint64(len(data))) + "]"

	added, err := in.index.AddItem(ctx, db.NewItem{
		UUID:        stored.UUID,
		ContentType: models.ContentTypeImage,
		Preview:     preview,
		ContentHash: stored.Hash,
		FilePath:    stored.FilePath,
		ThumbPath:   stored.ThumbPath,
		ByteSize:    stored.Size,
	})
	if err != nil {
		logging.Error("Failed to index image", err, nil)
		in.discard(stored)
		return
	}

	in.recorded(added, models.ContentTypeImage, preview, stored)
}

// recorded publishes the outcome of AddItem and reports whether the item
// is still indexed. A re-sighting keeps the existing record, so the files
// just written are redundant.
func (in *Ingestor) recorded(added db.Added, ct models.ContentType, preview string, stored storage.Stored) bool {
	ref := events.ItemRef{UUID: added.UUID, Type: string(ct), Preview: preview}

	if !added.Created {
		in.discard(stored)
		in.opts.Publisher.Publish(events.ItemTouched, ref)
		logging.Debug("Item seen again", map[string]interface{}{"uuid": uuid.Short(added.UUID)})
		return true
	}

	for _, id := range added.Evicted {
		in.disarm(id)
		if id != added.UUID {
			in.opts.Publisher.Publish(events.ItemDeleted, events.ItemRef{UUID: id})
		}
	}

	if !added.Kept() {
		logging.Info("Item evicted on arrival, history holds only favorites", map[string]interface{}{
			"uuid": uuid.Short(added.UUID),
			"type": string(ct),
		})
		return false
	}

	in.opts.Publisher.Publish(events.ItemAdded, ref)
	logging.Info("Stored item", map[string]interface{}{
		"uuid": uuid.Short(added.UUID),
		"type": string(ct),
		"size": humanize.Bytes(uint64(stored.Size)),
	})
	return true
}

func (in *Ingestor) discard(stored storage.Stored) {
	if err := in.store.Remove(stored.Paths()...); err != nil {
		logging.Warn("Failed to remove redundant payload", map[string]interface{}{
			"uuid":  uuid.Short(stored.UUID),
			"error": err.Error(),
		})
	}
}

// arm schedules the expiry of id, replacing any pending one. Re-copying a
// pending secret restarts its full TTL.
func (in *Ingestor) arm(id string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.stopped {
		return
	}

	if old, ok := in.timers[id]; ok {
		old.timer.Stop()
	}

	entry := &timerEntry{}
	entry.timer = time.AfterFunc(in.opts.SensitiveTTL, func() {
		in.expire(id, entry)
	})
	in.timers[id] = entry
}

// disarm cancels the pending expiry of an item that is already gone.
func (in *Ingestor) disarm(id string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if entry, ok := in.timers[id]; ok {
		entry.timer.Stop()
		delete(in.timers, id)
	}
}

func (in *Ingestor) expire(id string, entry *timerEntry) {
	in.mu.Lock()
	if in.timers[id] != entry {
		in.mu.Unlock()
		return
	}
	delete(in.timers, id)
	in.mu.Unlock()

	deleted, err := in.index.DeleteIfNotFavorite(context.Background(), id)
	if err != nil {
		logging.Error("Failed to expire sensitive item", err, map[string]interface{}{
			"uuid": uuid.Short(id),
		})
		return
	}

	if !deleted {
		logging.Info("Sensitive item kept", map[string]interface{}{"uuid": uuid.Short(id)})
		return
	}

	in.opts.Publisher.Publish(events.ItemExpired, events.ItemRef{UUID: id, Type: string(models.ContentTypeText)})
	logging.Info("Sensitive item auto-deleted", map[string]interface{}{
		"uuid": uuid.Short(id),
		"ttl":  in.opts.SensitiveTTL.String(),
	})
}

// Pending returns the number of armed expiry timers.
func (in *Ingestor) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.timers)
}

// Stop cancels every pending expiry. Items whose timers were cancelled stay
// in the history.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.stopped = true
	for id, entry := range in.timers {
		entry.timer.Stop()
		delete(in.timers, id)
	}
}

// Preview returns the first n characters of text with newlines and tabs
// replaced by spaces.
func Preview(text string, n int) string {
	if n > 0 {
		runes := []rune(text)
		if len(runes) > n {
			text = string(runes[:n])
		}
	}
	return strings.NewReplacer("\n", " ", "\t", " ").Replace(text)
}
