package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	apperrors "github.com/azzuriel/clipman/internal/errors"
	"github.com/azzuriel/clipman/internal/logging"
	"github.com/azzuriel/clipman/internal/models"
	"github.com/azzuriel/clipman/internal/uuid"
)

// FileRemover deletes payload files by their path relative to the data root.
type FileRemover interface {
	Remove(paths ...string) error
}

// NewItem is the data recorded for a freshly captured payload.
type NewItem struct {
	UUID        string
	ContentType models.ContentType
	Preview     string
	ContentHash string
	FilePath    string
	ThumbPath   *string
	ByteSize    int64
	LineCount   int
}

// Index is the metadata index of clipboard items. Every public method holds
// one mutex for its whole duration, so check-then-act sequences (dedup,
// eviction, favorite-aware deletion) are atomic with respect to each other.
type Index struct {
	mu       sync.Mutex
	repo     *Repository
	files    FileRemover
	maxItems int

	now    func() time.Time
	lastTS int64
}

// NewIndex creates an Index over an opened and migrated database.
func NewIndex(db *DB, files FileRemover, maxItems int) *Index {
	return &Index{
		repo:     NewRepository(db.DB),
		files:    files,
		maxItems: maxItems,
		now:      time.Now,
	}
}

// Close releases cached statements. The DB itself is closed by its owner.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.repo.Close()
}

// timestamp returns a strictly increasing Unix-nanosecond timestamp so a
// re-sighted item always moves to the top.
func (x *Index) timestamp() int64 {
	ts := x.now().UnixNano()
	if ts <= x.lastTS {
		ts = x.lastTS + 1
	}
	x.lastTS = ts
	return ts
}

// Added is the outcome of AddItem.
type Added struct {
	UUID string
	// Created is false when the content hash was already known and the
	// existing item was moved to the top instead.
	Created bool
	// Evicted lists the items removed to keep the ceiling. It may contain
	// UUID itself when every older item is a favorite.
	Evicted []string
}

// Kept reports whether the recorded item is still in the index.
func (a Added) Kept() bool {
	for _, id := range a.Evicted {
		if id == a.UUID {
			return false
		}
	}
	return true
}

// AddItem records a payload. When the content hash is already known, the
// existing item's timestamp is bumped and its uuid returned with
// Created=false. Otherwise the item is inserted and the oldest non-favorites
// beyond the ceiling are evicted.
func (x *Index) AddItem(ctx context.Context, n NewItem) (Added, error) {
	if !n.ContentType.Valid() {
		return Added{}, apperrors.Newf(apperrors.ErrInvalid, "invalid content type: %q", n.ContentType)
	}
	if n.ContentHash == "" || n.FilePath == "" {
		return Added{}, apperrors.New(apperrors.ErrInvalid, "content hash and file path are required")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	existing, err := x.repo.FindUUIDByHash(ctx, n.ContentHash)
	if err != nil {
		return Added{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to look up content hash", err)
	}

	if existing != "" {
		if err := x.repo.TouchItem(ctx, existing, x.timestamp()); err != nil {
			return Added{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to touch item", err)
		}
		return Added{UUID: existing}, nil
	}

	id := n.UUID
	if id == "" {
		id = uuid.New()
	}

	item := &models.Item{
		UUID:        id,
		ContentType: n.ContentType,
		Preview:     n.Preview,
		ContentHash: n.ContentHash,
		FilePath:    n.FilePath,
		ThumbPath:   n.ThumbPath,
		CreatedAt:   x.timestamp(),
		ByteSize:    n.ByteSize,
		LineCount:   n.LineCount,
	}
	if err := x.repo.InsertItem(ctx, item); err != nil {
		return Added{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to insert item", err)
	}

	evicted, err := x.evict(ctx)
	if err != nil {
		// the insert itself succeeded
		logging.Error("Eviction failed", err, nil)
	}

	return Added{UUID: id, Created: true, Evicted: evicted}, nil
}

// evict deletes the oldest non-favorites until the ceiling holds or no
// non-favorites remain, and returns the uuids it removed. Called with mu
// held.
func (x *Index) evict(ctx context.Context) ([]string, error) {
	if x.maxItems <= 0 {
		return nil, nil
	}

	count, err := x.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count <= x.maxItems {
		return nil, nil
	}

	victims, err := x.repo.OldestNonFavorites(ctx, count-x.maxItems)
	if err != nil {
		return nil, err
	}

	var evicted []string
	for i := range victims {
		if err := x.deleteLocked(ctx, &victims[i]); err != nil {
			return evicted, err
		}
		evicted = append(evicted, victims[i].UUID)
	}

	if len(evicted) > 0 {
		logging.Debug("Evicted items", map[string]interface{}{
			"evicted":   len(evicted),
			"max_items": x.maxItems,
		})
	}
	return evicted, nil
}

// deleteLocked removes the files of item and then its row. Called with mu held.
func (x *Index) deleteLocked(ctx context.Context, item *models.Item) error {
	x.removeFiles(item.Paths()...)
	if err := x.repo.DeleteItem(ctx, item.UUID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete item", err)
	}
	return nil
}

// removeFiles deletes payload files; failures are logged and swallowed.
func (x *Index) removeFiles(paths ...string) {
	if x.files == nil {
		return
	}
	if err := x.files.Remove(paths...); err != nil {
		logging.Warn("Failed to remove payload files", map[string]interface{}{
			"paths": paths,
			"error": err.Error(),
		})
	}
}

// GetItems lists items newest first.
func (x *Index) GetItems(ctx context.Context, q ListQuery) ([]models.Item, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	items, err := x.repo.ListItems(ctx, q)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list items", err)
	}
	return items, nil
}

// GetItem returns a single item or an ErrNotFound AppError.
func (x *Index) GetItem(ctx context.Context, id string) (*models.Item, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	item, err := x.repo.GetItem(ctx, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "Item not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get item", err)
	}
	return item, nil
}

// ToggleFavorite flips the favorite flag and returns the new value. An
// unknown uuid is a no-op reported as (false, false, nil).
func (x *Index) ToggleFavorite(ctx context.Context, id string) (favorite bool, found bool, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	updated, err := x.repo.ToggleFavorite(ctx, id)
	if err != nil {
		return false, false, apperrors.Wrap(apperrors.ErrDatabase, "failed to toggle favorite", err)
	}
	if !updated {
		return false, false, nil
	}

	item, err := x.repo.GetItem(ctx, id)
	if err != nil {
		return false, false, apperrors.Wrap(apperrors.ErrDatabase, "failed to read favorite flag", err)
	}
	return item.IsFavorite, true, nil
}

// DeleteItem removes an item and its files. An unknown uuid is a no-op
// reported as false.
func (x *Index) DeleteItem(ctx context.Context, id string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.deleteIf(ctx, id, func(*models.Item) bool { return true })
}

// DeleteIfNotFavorite removes an item unless it is a favorite. The check and
// the deletion happen under one lock hold.
func (x *Index) DeleteIfNotFavorite(ctx context.Context, id string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.deleteIf(ctx, id, func(item *models.Item) bool { return !item.IsFavorite })
}

func (x *Index) deleteIf(ctx context.Context, id string, pred func(*models.Item) bool) (bool, error) {
	item, err := x.repo.GetItem(ctx, id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to get item", err)
	}
	if !pred(item) {
		return false, nil
	}

	if err := x.deleteLocked(ctx, item); err != nil {
		return false, err
	}
	return true, nil
}

// ClearNonFavorites removes every non-favorite item and returns how many
// were removed.
func (x *Index) ClearNonFavorites(ctx context.Context) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	items, err := x.repo.NonFavorites(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to list non-favorites", err)
	}

	for i := range items {
		x.removeFiles(items[i].Paths()...)
	}

	n, err := x.repo.DeleteNonFavorites(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to clear items", err)
	}
	return n, nil
}

// Count returns the number of stored items.
func (x *Index) Count(ctx context.Context) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	n, err := x.repo.Count(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count items", err)
	}
	return n, nil
}

// FilePaths returns the set of every payload and thumbnail path referenced
// by the index.
func (x *Index) FilePaths(ctx context.Context) (map[string]bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	paths, err := x.repo.AllPaths(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to collect file paths", err)
	}
	return paths, nil
}
