package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/azzuriel/clipman/internal/models"
)

// DefaultListLimit applies when a list query does not name a limit.
const DefaultListLimit = 50

// ListQuery selects items for GetItems.
type ListQuery struct {
	Filter models.Filter
	Search string
	Limit  int
}

// Repository runs the SQL statements behind Index. It does no locking of
// its own; callers serialize access.
type Repository struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

const itemColumns = `id, uuid, content_type, preview, content_hash, file_path, thumb_path,
	created_at, is_favorite, byte_size, line_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var item models.Item
	var thumbPath sql.NullString
	err := row.Scan(
		&item.ID, &item.UUID, &item.ContentType, &item.Preview, &item.ContentHash,
		&item.FilePath, &thumbPath, &item.CreatedAt, &item.IsFavorite,
		&item.ByteSize, &item.LineCount,
	)
	if err != nil {
		return nil, err
	}
	if thumbPath.Valid {
		item.ThumbPath = models.StringPtr(thumbPath.String)
	}
	return &item, nil
}

// InsertItem stores a new row and fills item.ID.
func (r *Repository) InsertItem(ctx context.Context, item *models.Item) error {
	stmt, err := r.PrepareStmt(ctx, `
	INSERT INTO items (uuid, content_type, preview, content_hash, file_path, thumb_path,
		created_at, is_favorite, byte_size, line_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	var thumb interface{}
	if item.ThumbPath != nil {
		thumb = *item.ThumbPath
	}

	result, err := stmt.ExecContext(ctx, item.UUID, string(item.ContentType), item.Preview,
		item.ContentHash, item.FilePath, thumb, item.CreatedAt, item.IsFavorite,
		item.ByteSize, item.LineCount)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	item.ID = id
	return nil
}

// FindUUIDByHash returns the uuid stored for a content hash, or "" when
// there is none.
func (r *Repository) FindUUIDByHash(ctx context.Context, hash string) (string, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT uuid FROM items WHERE content_hash = ?`)
	if err != nil {
		return "", err
	}

	var id string
	err = stmt.QueryRowContext(ctx, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// TouchItem sets created_at of an item.
func (r *Repository) TouchItem(ctx context.Context, uuid string, createdAt int64) error {
	stmt, err := r.PrepareStmt(ctx, `UPDATE items SET created_at = ? WHERE uuid = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, createdAt, uuid)
	return err
}

// GetItem returns one item; sql.ErrNoRows when absent.
func (r *Repository) GetItem(ctx context.Context, uuid string) (*models.Item, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+itemColumns+` FROM items WHERE uuid = ?`)
	if err != nil {
		return nil, err
	}
	return scanItem(stmt.QueryRowContext(ctx, uuid))
}

// ListItems returns items newest first.
func (r *Repository) ListItems(ctx context.Context, q ListQuery) ([]models.Item, error) {
	var where []string
	var args []interface{}

	switch q.Filter {
	case models.FilterText:
		where = append(where, "content_type = 'text'")
	case models.FilterImage:
		where = append(where, "content_type = 'image'")
	case models.FilterFavorites:
		where = append(where, "is_favorite = 1")
	}

	if q.Search != "" {
		// instr is case-sensitive and treats % and _ literally
		where = append(where, "instr(preview, ?) > 0")
		args = append(args, q.Search)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ToggleFavorite flips is_favorite and reports whether a row was updated.
func (r *Repository) ToggleFavorite(ctx context.Context, uuid string) (bool, error) {
	stmt, err := r.PrepareStmt(ctx, `UPDATE items SET is_favorite = NOT is_favorite WHERE uuid = ?`)
	if err != nil {
		return false, err
	}

	result, err := stmt.ExecContext(ctx, uuid)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// DeleteItem removes one row.
func (r *Repository) DeleteItem(ctx context.Context, uuid string) error {
	stmt, err := r.PrepareStmt(ctx, `DELETE FROM items WHERE uuid = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, uuid)
	return err
}

// OldestNonFavorites returns up to limit non-favorite items, oldest first.
func (r *Repository) OldestNonFavorites(ctx context.Context, limit int) ([]models.Item, error) {
	return r.queryItems(ctx, `SELECT `+itemColumns+` FROM items
	WHERE is_favorite = 0 ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
}

// NonFavorites returns every non-favorite item.
func (r *Repository) NonFavorites(ctx context.Context) ([]models.Item, error) {
	return r.queryItems(ctx, `SELECT `+itemColumns+` FROM items WHERE is_favorite = 0`)
}

// DeleteNonFavorites removes every non-favorite row.
func (r *Repository) DeleteNonFavorites(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE is_favorite = 0`)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// Count returns the number of rows.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n)
	return n, err
}

// AllPaths returns every payload and thumbnail path.
func (r *Repository) AllPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT file_path, thumb_path FROM items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var file string
		var thumb sql.NullString
		if err := rows.Scan(&file, &thumb); err != nil {
			return nil, err
		}
		paths[file] = true
		if thumb.Valid && thumb.String != "" {
			paths[thumb.String] = true
		}
	}
	return paths, rows.Err()
}

func (r *Repository) queryItems(ctx context.Context, query string, args ...interface{}) ([]models.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
