// Package models provides the record types kept by the clipboard index.
package models

import (
	"fmt"
	"time"
)

// ContentType is the kind of payload an item holds.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	return t == ContentTypeText || t == ContentTypeImage
}

// Filter selects a subset of items when listing.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterText      Filter = "text"
	FilterImage     Filter = "image"
	FilterFavorites Filter = "favorites"
)

// ParseFilter converts a client supplied filter name. The empty string
// means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterText, FilterImage, FilterFavorites:
		return Filter(s), nil
	}
	return "", fmt.Errorf("invalid filter: %q", s)
}

// Item is one distinct piece of clipboard content.
type Item struct {
	ID          int64       `db:"id" json:"id"`
	UUID        string      `db:"uuid" json:"uuid"`
	ContentType ContentType `db:"content_type" json:"type"`
	Preview     string      `db:"preview" json:"preview"`
	ContentHash string      `db:"content_hash" json:"content_hash"`
	FilePath    string      `db:"file_path" json:"file_path"`
	ThumbPath   *string     `db:"thumb_path" json:"thumb_path,omitempty"`
	CreatedAt   int64       `db:"created_at" json:"created_at"` // Unix nanoseconds
	IsFavorite  bool        `db:"is_favorite" json:"favorite"`
	ByteSize    int64       `db:"byte_size" json:"byte_size"`
	LineCount   int         `db:"line_count" json:"line_count"`
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (i *Item) CreatedAtTime() time.Time {
	return time.Unix(0, i.CreatedAt)
}

// HasThumb reports whether a thumbnail path is recorded.
func (i *Item) HasThumb() bool {
	return i.ThumbPath != nil && *i.ThumbPath != ""
}

// Paths returns the payload path followed by the thumbnail path, if any.
func (i *Item) Paths() []string {
	paths := []string{i.FilePath}
	if i.HasThumb() {
		paths = append(paths, *i.ThumbPath)
	}
	return paths
}

// StringPtr is a helper for optional string fields.
func StringPtr(s string) *string {
	return &s
}
