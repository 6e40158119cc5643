// Package events names the notifications emitted when the history changes.
package events

const (
	ItemAdded     = "item.added"
	ItemTouched   = "item.touched"
	ItemDeleted   = "item.deleted"
	ItemFavorited = "item.favorited"
	ItemsCleared  = "items.cleared"
	ItemExpired   = "item.expired"
)

// Publisher delivers an event to whoever listens. Implementations must not
// block the caller for long.
type Publisher interface {
	Publish(eventType string, data interface{})
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(string, interface{}) {}

// ItemRef is the payload of item-level events.
type ItemRef struct {
	UUID     string `json:"uuid"`
	Type     string `json:"type,omitempty"`
	Preview  string `json:"preview,omitempty"`
	Favorite *bool  `json:"favorite,omitempty"`
}

// ClearedRef is the payload of ItemsCleared.
type ClearedRef struct {
	Removed int `json:"removed"`
}
