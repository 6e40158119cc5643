package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	"github.com/azzuriel/clipman/internal/clipboard"
	"github.com/azzuriel/clipman/internal/db"
	apperrors "github.com/azzuriel/clipman/internal/errors"
	"github.com/azzuriel/clipman/internal/events"
	"github.com/azzuriel/clipman/internal/logging"
	"github.com/azzuriel/clipman/internal/models"
	"github.com/azzuriel/clipman/internal/uuid"
	"github.com/azzuriel/clipman/internal/watcher"
)

// Index is the part of db.Index the commands use.
type Index interface {
	GetItems(ctx context.Context, q db.ListQuery) ([]models.Item, error)
	GetItem(ctx context.Context, uuid string) (*models.Item, error)
	ToggleFavorite(ctx context.Context, uuid string) (bool, bool, error)
	DeleteItem(ctx context.Context, uuid string) (bool, error)
	ClearNonFavorites(ctx context.Context) (int, error)
}

// Store reads payloads back.
type Store interface {
	Fetch(path string) ([]byte, error)
	Abs(path string) string
}

// Rememberer is told what the daemon itself put on the clipboard.
type Rememberer interface {
	Remember(ch watcher.Channel, data []byte)
}

// Dispatcher executes commands. It is shared by the socket server and the
// HTTP gateway.
type Dispatcher struct {
	index     Index
	store     Store
	clip      clipboard.Writer
	remember  Rememberer
	publisher events.Publisher
}

// NewDispatcher creates a Dispatcher. remember and publisher may be nil.
func NewDispatcher(index Index, store Store, clip clipboard.Writer, remember Rememberer, publisher events.Publisher) *Dispatcher {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Dispatcher{
		index:     index,
		store:     store,
		clip:      clip,
		remember:  remember,
		publisher: publisher,
	}
}

func missingUUID() error {
	return apperrors.New(apperrors.ErrInvalid, "Missing required argument: uuid")
}

// Dispatch runs one request and builds its reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	var args Args
	if len(req.Args) > 0 && !bytes.Equal(req.Args, []byte("null")) {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return Fail("Invalid arguments: " + err.Error())
		}
	}

	var err error
	resp := OK()

	switch req.Cmd {
	case CmdList:
		var items []ItemView
		items, err = d.List(ctx, args)
		resp.Data = items
	case CmdPaste:
		err = d.Paste(ctx, args.UUID)
	case CmdFavorite:
		_, err = d.Favorite(ctx, args.UUID)
	case CmdDelete:
		err = d.Delete(ctx, args.UUID)
	case CmdClear:
		_, err = d.Clear(ctx)
	case CmdPing:
		resp.Message = "pong"
	default:
		err = apperrors.New(apperrors.ErrUnknownCommand, "Unknown command: "+req.Cmd)
	}

	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrInternal || apperrors.CodeOf(err) == apperrors.ErrDatabase {
			logging.Error("Command failed", err, map[string]interface{}{"cmd": req.Cmd})
		}
		return Fail(apperrors.Message(err))
	}
	return resp
}

// List returns items newest first. The legacy favorites flag selects the
// favorites filter.
func (d *Dispatcher) List(ctx context.Context, args Args) ([]ItemView, error) {
	filter, err := models.ParseFilter(args.Filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, fmt.Sprintf("Invalid filter: %s", args.Filter), err)
	}
	if args.Favorites {
		filter = models.FilterFavorites
	}

	items, err := d.index.GetItems(ctx, db.ListQuery{
		Filter: filter,
		Search: args.Search,
		Limit:  args.Limit,
	})
	if err != nil {
		return nil, err
	}

	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, NewItemView(item, d.store.Abs))
	}
	return views, nil
}

// Paste puts the content of an item back on the clipboard. Text is
// normalised first.
func (d *Dispatcher) Paste(ctx context.Context, id string) error {
	if id == "" {
		return missingUUID()
	}

	item, err := d.index.GetItem(ctx, id)
	if err != nil {
		return err
	}

	data, err := d.store.Fetch(item.FilePath)
	if err != nil {
		return err
	}

	// The fingerprint is recorded before writing so a poll racing the
	// write does not capture our own paste.
	switch item.ContentType {
	case models.ContentTypeText:
		text := NormalizePaste(string(data))
		d.seen(watcher.ChannelText, []byte(text))
		if err := d.clip.WriteText(ctx, text); err != nil {
			return err
		}
	default:
		mimeType := mimetype.Detect(data).String()
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = clipboard.ImageMIME
		}
		d.seen(watcher.ChannelImage, data)
		if err := d.clip.WriteImage(ctx, data, mimeType); err != nil {
			return err
		}
	}

	logging.Debug("Pasted item", map[string]interface{}{
		"uuid": uuid.Short(id),
		"type": string(item.ContentType),
	})
	return nil
}

func (d *Dispatcher) seen(ch watcher.Channel, data []byte) {
	if d.remember != nil {
		d.remember.Remember(ch, data)
	}
}

// Favorite toggles the favorite flag and returns the new value. An unknown
// uuid is not an error.
func (d *Dispatcher) Favorite(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, missingUUID()
	}

	fav, found, err := d.index.ToggleFavorite(ctx, id)
	if err != nil {
		return false, err
	}
	if found {
		d.publisher.Publish(events.ItemFavorited, events.ItemRef{UUID: id, Favorite: &fav})
	}
	return fav, nil
}

// Delete removes an item. An unknown uuid is not an error.
func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	if id == "" {
		return missingUUID()
	}

	deleted, err := d.index.DeleteItem(ctx, id)
	if err != nil {
		return err
	}
	if deleted {
		d.publisher.Publish(events.ItemDeleted, events.ItemRef{UUID: id})
	}
	return nil
}

// Clear removes every non-favorite item.
func (d *Dispatcher) Clear(ctx context.Context) (int, error) {
	n, err := d.index.ClearNonFavorites(ctx)
	if err != nil {
		return 0, err
	}
	d.publisher.Publish(events.ItemsCleared, events.ClearedRef{Removed: n})
	logging.Info("Cleared history", map[string]interface{}{"removed": n})
	return n, nil
}

// Thumb returns the absolute path of an item's thumbnail.
func (d *Dispatcher) Thumb(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", missingUUID()
	}

	item, err := d.index.GetItem(ctx, id)
	if err != nil {
		return "", err
	}
	if !item.HasThumb() {
		return "", apperrors.New(apperrors.ErrNotFound, "Item has no thumbnail")
	}
	return d.store.Abs(*item.ThumbPath), nil
}

// NormalizePaste strips trailing whitespace from every line and then
// trailing newlines from the whole text.
func NormalizePaste(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
