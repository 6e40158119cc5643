package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azzuriel/clipman/internal/clipboard"
	"github.com/azzuriel/clipman/internal/db"
	"github.com/azzuriel/clipman/internal/events"
	"github.com/azzuriel/clipman/internal/models"
	"github.com/azzuriel/clipman/internal/storage"
	"github.com/azzuriel/clipman/internal/watcher"
)

type remembered struct {
	mu   sync.Mutex
	seen map[watcher.Channel][]byte
}

func (r *remembered) Remember(ch watcher.Channel, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[watcher.Channel][]byte)
	}
	r.seen[ch] = data
}

type eventLog struct {
	mu    sync.Mutex
	types []string
}

func (e *eventLog) Publish(eventType string, data interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
}

type env struct {
	store    *storage.Store
	index    *db.Index
	clip     *clipboard.Memory
	remember *remembered
	events   *eventLog
	d        *Dispatcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewStore(dir)
	require.NoError(t, err)

	database, err := db.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	_, _, err = db.Migrate(database)
	require.NoError(t, err)

	e := &env{
		store:    store,
		index:    db.NewIndex(database, store, 100),
		clip:     clipboard.NewMemory(),
		remember: &remembered{},
		events:   &eventLog{},
	}
	e.d = NewDispatcher(e.index, e.store, e.clip, e.remember, e.events)
	return e
}

func (e *env) addText(t *testing.T, text string) string {
	t.Helper()
	stored, err := e.store.StoreText(text)
	require.NoError(t, err)
	added, err := e.index.AddItem(context.Background(), db.NewItem{
		UUID:        stored.UUID,
		ContentType: models.ContentTypeText,
		Preview:     text,
		ContentHash: stored.Hash,
		FilePath:    stored.FilePath,
		ByteSize:    stored.Size,
		LineCount:   1,
	})
	require.NoError(t, err)
	return added.UUID
}

func (e *env) addImage(t *testing.T) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 30))))
	data := buf.Bytes()

	stored, err := e.store.StoreImage(data)
	require.NoError(t, err)
	added, err := e.index.AddItem(context.Background(), db.NewItem{
		UUID:        stored.UUID,
		ContentType: models.ContentTypeImage,
		Preview:     "[Image]",
		ContentHash: stored.Hash,
		FilePath:    stored.FilePath,
		ThumbPath:   stored.ThumbPath,
		ByteSize:    stored.Size,
	})
	require.NoError(t, err)
	return added.UUID, data
}

func request(t *testing.T, cmd string, args interface{}) Request {
	t.Helper()
	req := Request{Cmd: cmd}
	if args != nil {
		raw, err := json.Marshal(args)
		require.NoError(t, err)
		req.Args = raw
	}
	return req
}

func (e *env) dispatch(t *testing.T, cmd string, args interface{}) Response {
	t.Helper()
	return e.d.Dispatch(context.Background(), request(t, cmd, args))
}

func TestDispatch_Ping(t *testing.T) {
	e := newEnv(t)
	resp := e.dispatch(t, CmdPing, nil)
	assert.Equal(t, Response{Status: StatusOK, Message: "pong"}, resp)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	e := newEnv(t)
	resp := e.dispatch(t, "frobnicate", nil)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "Unknown command: frobnicate", resp.Error)
}

func TestDispatch_MissingUUID(t *testing.T) {
	e := newEnv(t)
	for _, cmd := range []string{CmdPaste, CmdFavorite, CmdDelete} {
		t.Run(cmd, func(t *testing.T) {
			resp := e.dispatch(t, cmd, map[string]interface{}{})
			assert.Equal(t, StatusError, resp.Status)
			assert.Equal(t, "Missing required argument: uuid", resp.Error)
		})
	}
}

func TestDispatch_InvalidArgs(t *testing.T) {
	e := newEnv(t)
	resp := e.d.Dispatch(context.Background(), Request{Cmd: CmdList, Args: json.RawMessage(`{"limit":"ten"}`)})
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "Invalid arguments")
}

func TestDispatch_List(t *testing.T) {
	e := newEnv(t)
	textID := e.addText(t, "hello")
	imageID, _ := e.addImage(t)

	resp := e.dispatch(t, CmdList, nil)
	require.Equal(t, StatusOK, resp.Status)

	items, ok := resp.Data.([]ItemView)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, imageID, items[0].UUID)
	assert.Equal(t, textID, items[1].UUID)
	assert.NotEmpty(t, items[0].Thumb)
	assert.Equal(t, e.store.Abs(*items[0].ThumbPath), items[0].Thumb)
	assert.Empty(t, items[1].Thumb)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var decoded struct {
		Status string                   `json:"status"`
		Data   []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	first := decoded.Data[0]
	assert.Equal(t, "image", first["type"])
	assert.Equal(t, false, first["favorite"])
	assert.Contains(t, first, "thumb")
	assert.Contains(t, first, "byte_size")
	assert.Contains(t, first, "line_count")
	assert.IsType(t, "", first["created_at"])
}

func TestDispatch_ListEmptyIsArray(t *testing.T) {
	e := newEnv(t)

	raw, err := json.Marshal(e.dispatch(t, CmdList, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":[]}`, string(raw))
}

func TestDispatch_ListFavorites(t *testing.T) {
	e := newEnv(t)
	a := e.addText(t, "a")
	e.addText(t, "b")
	c := e.addText(t, "c")

	for _, id := range []string{a, c} {
		require.Equal(t, StatusOK, e.dispatch(t, CmdFavorite, map[string]string{"uuid": id}).Status)
	}

	for _, args := range []interface{}{
		map[string]interface{}{"filter": "favorites"},
		map[string]interface{}{"favorites": true},
	} {
		resp := e.dispatch(t, CmdList, args)
		require.Equal(t, StatusOK, resp.Status)
		items := resp.Data.([]ItemView)
		require.Len(t, items, 2)
		assert.Equal(t, c, items[0].UUID)
		assert.Equal(t, a, items[1].UUID)
		assert.True(t, items[0].IsFavorite)
	}
}

func TestDispatch_ListSearchLimitFilter(t *testing.T) {
	e := newEnv(t)
	e.addText(t, "apple pie")
	e.addText(t, "apple tart")
	e.addText(t, "banana")
	e.addImage(t)

	resp := e.dispatch(t, CmdList, map[string]interface{}{"search": "apple", "limit": 1})
	items := resp.Data.([]ItemView)
	require.Len(t, items, 1)
	assert.Equal(t, "apple tart", items[0].Preview)

	resp = e.dispatch(t, CmdList, map[string]interface{}{"filter": "text"})
	assert.Len(t, resp.Data.([]ItemView), 3)

	resp = e.dispatch(t, CmdList, map[string]interface{}{"filter": "image"})
	assert.Len(t, resp.Data.([]ItemView), 1)

	resp = e.dispatch(t, CmdList, map[string]interface{}{"filter": "video"})
	assert.Equal(t, StatusError, resp.Status)
}

func TestDispatch_PasteText(t *testing.T) {
	e := newEnv(t)
	id := e.addText(t, "line1   \nline2\n\n")

	resp := e.dispatch(t, CmdPaste, map[string]string{"uuid": id})
	require.Equal(t, StatusOK, resp.Status, resp.Error)

	assert.Equal(t, "line1\nline2", e.clip.Text())
	assert.Equal(t, []byte("line1\nline2"), e.remember.seen[watcher.ChannelText])
}

func TestDispatch_PasteImage(t *testing.T) {
	e := newEnv(t)
	id, data := e.addImage(t)

	resp := e.dispatch(t, CmdPaste, map[string]string{"uuid": id})
	require.Equal(t, StatusOK, resp.Status, resp.Error)

	img, mime := e.clip.Image()
	assert.Equal(t, data, img)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, data, e.remember.seen[watcher.ChannelImage])
}

func TestDispatch_PasteErrors(t *testing.T) {
	e := newEnv(t)

	resp := e.dispatch(t, CmdPaste, map[string]string{"uuid": "nope"})
	assert.Equal(t, Fail("Item not found"), resp)

	id := e.addText(t, "gone")
	item, err := e.index.GetItem(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, e.store.Remove(item.FilePath))

	resp = e.dispatch(t, CmdPaste, map[string]string{"uuid": id})
	assert.Equal(t, Fail("Content file not found"), resp)

	id = e.addText(t, "clipboard down")
	e.clip.FailWith(assert.AnError)
	resp = e.dispatch(t, CmdPaste, map[string]string{"uuid": id})
	assert.Equal(t, StatusError, resp.Status)
	assert.Zero(t, e.clip.Writes())
}

func TestDispatch_FavoriteDeleteClear(t *testing.T) {
	e := newEnv(t)
	keep := e.addText(t, "keep")
	drop := e.addText(t, "drop")
	e.addText(t, "other")

	assert.Equal(t, OK(), e.dispatch(t, CmdFavorite, map[string]string{"uuid": keep}))
	assert.Equal(t, OK(), e.dispatch(t, CmdDelete, map[string]string{"uuid": drop}))

	// unknown uuids succeed
	assert.Equal(t, OK(), e.dispatch(t, CmdDelete, map[string]string{"uuid": drop}))
	assert.Equal(t, OK(), e.dispatch(t, CmdFavorite, map[string]string{"uuid": "missing"}))

	assert.Equal(t, OK(), e.dispatch(t, CmdClear, nil))

	items := e.dispatch(t, CmdList, nil).Data.([]ItemView)
	require.Len(t, items, 1)
	assert.Equal(t, keep, items[0].UUID)

	e.events.mu.Lock()
	assert.Equal(t, []string{events.ItemFavorited, events.ItemDeleted, events.ItemsCleared}, e.events.types)
	e.events.mu.Unlock()
}

func TestDispatcher_Thumb(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	imageID, _ := e.addImage(t)
	textID := e.addText(t, "no thumb")

	path, err := e.d.Thumb(ctx, imageID)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = e.d.Thumb(ctx, textID)
	assert.Error(t, err)

	_, err = e.d.Thumb(ctx, "")
	assert.EqualError(t, err, "[INVALID_INPUT] Missing required argument: uuid")
}

func TestNormalizePaste(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"line1   \nline2\n\n", "line1\nline2"},
		{"plain", "plain"},
		{"tabs\t\t\nx \r\n", "tabs\nx"},
		{"  leading kept  ", "  leading kept"},
		{"\n\n", ""},
		{"a\n\n\nb", "a\n\n\nb"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePaste(tt.in), "input %q", tt.in)
	}
}
