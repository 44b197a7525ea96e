package message

import (
	"fmt"

	"go.klb.dev/clipshare/internal/mime"
)

// FileMessage carries a file drop. Paths are local references that only
// mean something on the side that holds them: the sender's originals before
// encoding, the freshly written temp files after Codec.Decode. Content holds
// every other format seen alongside the file list. Blobs are the raw file
// contents, parallel to Paths when sending; they are dropped once written to
// disk on the receiving side.
type FileMessage struct {
	Paths   []string
	Content mime.Content
	Blobs   [][]byte
}

// NewFileMessage returns a message for the given references and content.
// Blobs are filled in by Codec.Encode.
func NewFileMessage(paths []string, c mime.Content) *FileMessage {
	return &FileMessage{
		Paths:   append([]string(nil), paths...),
		Content: c.Clone(),
	}
}

func (m *FileMessage) Kind() Kind { return KindFile }

// MarshalBinary implements encoding.BinaryMarshaler. Blobs must already be
// loaded and positionally match Paths.
func (m *FileMessage) MarshalBinary() ([]byte, error) {
	if len(m.Blobs) != len(m.Paths) {
		return nil, fmt.Errorf("%w: %d contents for %d paths", ErrBlobPathMismatch, len(m.Blobs), len(m.Paths))
	}
	size, err := contentSize(m.Content)
	if err != nil {
		return nil, err
	}
	size += 4
	for i, p := range m.Blobs {
		if !fits(len(p)) {
			return nil, fmt.Errorf("file %q: %w", m.Paths[i], ErrTooLarge)
		}
		size += 4 + len(p)
	}
	w := newWriter(KindFile, size)
	w.blobs(m.Blobs)
	w.content(m.Content)
	return w.b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. It performs no file
// I/O: Blobs and Content are populated and Paths is cleared. m is left
// untouched on error.
func (m *FileMessage) UnmarshalBinary(b []byte) error {
	r, err := newReader(b, KindFile)
	if err != nil {
		return err
	}
	blobs, err := r.blobs()
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
	m.Paths = nil
	m.Blobs = blobs
	m.Content = c
	return nil
}
