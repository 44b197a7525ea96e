package message

import "go.klb.dev/clipshare/internal/mime"

// CustomMessage carries any clipboard content that is neither a plain image
// nor a file drop: rich text, HTML, application formats.
type CustomMessage struct {
	Content mime.Content
}

// NewCustomMessage returns a message holding a copy of c.
func NewCustomMessage(c mime.Content) *CustomMessage {
	return &CustomMessage{Content: c.Clone()}
}

func (m *CustomMessage) Kind() Kind { return KindCustom }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *CustomMessage) MarshalBinary() ([]byte, error) {
	size, err := contentSize(m.Content)
	if err != nil {
		return nil, err
	}
	w := newWriter(KindCustom, size)
	w.content(m.Content)
	return w.b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. m is left untouched
// on error.
func (m *CustomMessage) UnmarshalBinary(b []byte) error {
	r, err := newReader(b, KindCustom)
	if err != nil {
		return err
	}
	c, err := r.content()
	if err != nil {
		return err
	}
	if err := r.done(); err != nil {
		return err
	}
	m.Content = c
	return nil
}
