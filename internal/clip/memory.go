package clip

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"go.klb.dev/clipshare/internal/mime"
)

// Memory is an in-process clipboard. It holds arbitrary format names unless
// created with a format list. Images are stored as image/png like the native
// backends do.
type Memory struct {
	mu      sync.Mutex
	content mime.Content
	accept  map[string]bool // nil = every format
	watchCh chan struct{}
	writes  int
}

// NewMemory returns an empty in-memory clipboard. When formats are given,
// only those are kept and the rest are dropped on SetContent.
func NewMemory(formats ...string) *Memory {
	m := &Memory{
		content: mime.Content{},
		watchCh: make(chan struct{}, 1),
	}
	if len(formats) > 0 {
		m.accept = make(map[string]bool, len(formats))
		for _, f := range formats {
			m.accept[f] = true
		}
	}
	return m
}

func (m *Memory) Name() string { return "in-memory" }

func (m *Memory) Content() (mime.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content.Clone(), nil
}

// Supports reports whether format is kept by SetContent.
func (m *Memory) Supports(format string) bool { return m.accept == nil || m.accept[format] }

func (m *Memory) SetContent(c mime.Content) error {
	c = c.Clone()
	for f := range c {
		if !m.Supports(f) {
			delete(c, f)
		}
	}
	m.mu.Lock()
	m.content = c
	m.writes++
	m.mu.Unlock()
	notify(m.watchCh)
	return nil
}

func (m *Memory) Image() (image.Image, bool, error) {
	m.mu.Lock()
	raw, ok := m.content[mime.ImagePNG]
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false, fmt.Errorf("decode clipboard image: %w", err)
	}
	return img, true, nil
}

func (m *Memory) SetImage(img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode clipboard image: %w", err)
	}
	return m.SetContent(mime.Content{mime.ImagePNG: buf.Bytes()})
}

// Writes returns how many times the clipboard has been overwritten.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) Watch() <-chan struct{} { return m.watchCh }
func (m *Memory) Close()                 {}
