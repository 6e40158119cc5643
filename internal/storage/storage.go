// Package storage keeps clipboard payloads as files under the data directory.
// Every stored payload gets a fresh uuid-named file; the SHA-256 digest of
// the content is returned so the index can deduplicate.
package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/azzuriel/clipman/internal/errors"
	"github.com/azzuriel/clipman/internal/logging"
	"github.com/azzuriel/clipman/internal/uuid"
)

const (
	TextDir  = "text"
	ImageDir = "images"
	ThumbDir = "thumbs"

	ThumbWidth  = 100
	ThumbHeight = 65

	// MaxThumbPixels bounds the decoded size of an image before a thumbnail
	// is rendered. Larger images are stored without one.
	MaxThumbPixels = 89_478_485

	defaultImageExt = ".png"
)

// Stored describes a payload that was just written.
type Stored struct {
	UUID      string
	FilePath  string
	ThumbPath *string
	Hash      string
	Size      int64
}

// Paths returns the relative paths of every file written for s.
func (s Stored) Paths() []string {
	paths := []string{s.FilePath}
	if s.ThumbPath != nil {
		paths = append(paths, *s.ThumbPath)
	}
	return paths
}

// Store handles payload files below a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir and its payload directories.
func NewStore(baseDir string) (*Store, error) {
	for _, dir := range []string{TextDir, ImageDir, ThumbDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	return &Store{baseDir: baseDir}, nil
}

// BaseDir returns the data root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Abs resolves a path relative to the data root.
func (s *Store) Abs(path string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(path))
}

// StoreText writes content to text/<uuid>.txt.
func (s *Store) StoreText(content string) (Stored, error) {
	data := []byte(content)
	id := uuid.New()
	rel := TextDir + "/" + id + ".txt"

	if err := os.WriteFile(s.Abs(rel), data, 0o600); err != nil {
		return Stored{}, apperrors.Wrap(apperrors.ErrStorage, "failed to write text payload", err)
	}

	return Stored{
		UUID:     id,
		FilePath: rel,
		Hash:     CalculateHash(data),
		Size:     int64(len(data)),
	}, nil
}

// StoreImage writes data to images/<uuid>.<ext> and tries to render a
// thumbnail into thumbs/<uuid>.png. A thumbnail failure is logged and the
// image is stored without one.
func (s *Store) StoreImage(data []byte) (Stored, error) {
	id := uuid.New()
	rel := ImageDir + "/" + id + imageExt(data)

	if err := os.WriteFile(s.Abs(rel), data, 0o600); err != nil {
		return Stored{}, apperrors.Wrap(apperrors.ErrStorage, "failed to write image payload", err)
	}

	stored := Stored{
		UUID:     id,
		FilePath: rel,
		Hash:     CalculateHash(data),
		Size:     int64(len(data)),
	}

	thumb := ThumbDir + "/" + id + ".png"
	if err := s.generateThumbnail(data, thumb); err != nil {
		logging.Warn("Thumbnail generation failed", map[string]interface{}{
			"uuid":  uuid.Short(id),
			"size":  humanize.Bytes(uint64(len(data))),
			"error": err.Error(),
		})
	} else {
		stored.ThumbPath = &thumb
	}

	return stored, nil
}

// imageExt picks the file extension from the detected format.
func imageExt(data []byte) string {
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") || mtype.Extension() == "" {
		return defaultImageExt
	}
	return mtype.Extension()
}

func (s *Store) generateThumbnail(data []byte, rel string) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to read image header: %w", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > MaxThumbPixels {
		return fmt.Errorf("image too large to thumbnail: %dx%d exceeds %s pixels",
			cfg.Width, cfg.Height, humanize.Comma(MaxThumbPixels))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	// Fit never upscales and keeps the aspect ratio.
	thumb := imaging.Fit(img, ThumbWidth, ThumbHeight, imaging.Lanczos)

	if err := imaging.Save(thumb, s.Abs(rel)); err != nil {
		os.Remove(s.Abs(rel))
		return fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return nil
}

// Fetch reads a stored payload.
func (s *Store) Fetch(path string) ([]byte, error) {
	data, err := os.ReadFile(s.Abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.ErrNotFound, "Content file not found", err)
		}
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read payload", err)
	}
	return data, nil
}

// Remove deletes the given payload files. Missing files are ignored; the
// first other failure is returned after every path was tried.
func (s *Store) Remove(paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(s.Abs(p)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("failed to delete file %s: %w", p, err)
		}
	}
	return firstErr
}

// CalculateHash returns the hex SHA-256 digest of data.
func CalculateHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StorageStats provides statistics about storage usage.
type StorageStats struct {
	TotalFiles int
	TotalSize  int64
	ByDir      map[string]int
}

// GetStats walks the payload directories.
func (s *Store) GetStats() (*StorageStats, error) {
	stats := &StorageStats{ByDir: make(map[string]int)}

	err := s.walk(func(rel string, entry os.DirEntry) {
		stats.TotalFiles++
		stats.ByDir[filepath.Dir(rel)]++
		if info, err := entry.Info(); err == nil {
			stats.TotalSize += info.Size()
		}
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Cleanup removes payload files whose relative path is not in keep. Files
// modified less than minAge ago are left alone since they may belong to a
// capture that is not indexed yet.
func (s *Store) Cleanup(keep map[string]bool, minAge time.Duration) (removed int, freedBytes int64, err error) {
	cutoff := time.Now().Add(-minAge)

	err = s.walk(func(rel string, entry os.DirEntry) {
		if keep[rel] {
			return
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return
		}
		size := info.Size()

		if err := os.Remove(s.Abs(rel)); err == nil {
			removed++
			freedBytes += size
		}
	})
	return removed, freedBytes, err
}

// walk calls fn for every regular file in the payload directories with its
// slash-separated path relative to the data root.
func (s *Store) walk(fn func(rel string, entry os.DirEntry)) error {
	for _, dir := range []string{TextDir, ImageDir, ThumbDir} {
		entries, err := os.ReadDir(filepath.Join(s.baseDir, dir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read storage directory: %w", err)
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			fn(dir+"/"+entry.Name(), entry)
		}
	}
	return nil
}
