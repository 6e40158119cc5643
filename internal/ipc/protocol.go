// Package ipc serves the clipboard history over a UNIX socket. A client
// connects, writes one JSON request, reads one JSON reply and the server
// closes the connection.
package ipc

import (
	"encoding/json"

	"github.com/azzuriel/clipman/internal/models"
)

const (
	StatusOK    = "ok"
	StatusError = "error"

	CmdList     = "list"
	CmdPaste    = "paste"
	CmdFavorite = "favorite"
	CmdDelete   = "delete"
	CmdClear    = "clear"
	CmdPing     = "ping"
)

// Request is {"cmd": ..., "args": {...}}.
type Request struct {
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Args holds every argument any command accepts.
type Args struct {
	UUID      string `json:"uuid"`
	Filter    string `json:"filter"`
	Search    string `json:"search"`
	Limit     int    `json:"limit"`
	Favorites bool   `json:"favorites"`
}

// Response is {"status": "ok", ...} or {"status": "error", "error": ...}.
type Response struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK builds a success reply.
func OK() Response {
	return Response{Status: StatusOK}
}

// Fail builds an error reply.
func Fail(msg string) Response {
	return Response{Status: StatusError, Error: msg}
}

// createdAtLayout matches what earlier clients parse.
const createdAtLayout = "2006-01-02 15:04:05"

// ItemView is an item as listed to clients.
type ItemView struct {
	models.Item
	CreatedAt string `json:"created_at"`
	Thumb     string `json:"thumb,omitempty"`
}

// NewItemView converts item; abs resolves payload paths to absolute ones.
func NewItemView(item models.Item, abs func(string) string) ItemView {
	v := ItemView{
		Item:      item,
		CreatedAt: item.CreatedAtTime().UTC().Format(createdAtLayout),
	}
	if item.HasThumb() && abs != nil {
		v.Thumb = abs(*item.ThumbPath)
	}
	return v
}
