package clipboard

import (
	"context"
	"sync"
)

// Memory is an in-process clipboard. It backs tests and runs the daemon
// without a Wayland session.
type Memory struct {
	mu       sync.Mutex
	text     []byte
	image    []byte
	mimeType string
	err      error
	writes   int
}

// NewMemory returns an empty Memory clipboard.
func NewMemory() *Memory {
	return &Memory{}
}

// SetText replaces the text selection.
func (m *Memory) SetText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = []byte(text)
}

// SetTextBytes replaces the text selection with raw bytes.
func (m *Memory) SetTextBytes(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = append([]byte(nil), data...)
}

// SetImage replaces the image selection.
func (m *Memory) SetImage(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = append([]byte(nil), data...)
	m.mimeType = ImageMIME
}

// FailWith makes every subsequent call return err; nil restores normal
// behaviour.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Text returns the current text selection.
func (m *Memory) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.text)
}

// Image returns the current image selection and its MIME type.
func (m *Memory) Image() ([]byte, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.image...), m.mimeType
}

// Writes counts successful WriteText and WriteImage calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) ReadText(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]byte(nil), m.text...), nil
}

func (m *Memory) ReadImage(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]byte(nil), m.image...), nil
}

func (m *Memory) WriteText(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.text = []byte(text)
	m.writes++
	return nil
}

func (m *Memory) WriteImage(ctx context.Context, data []byte, mimeType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.image = append([]byte(nil), data...)
	m.mimeType = mimeType
	m.writes++
	return nil
}
