package message

import (
	"errors"
	"fmt"
	"log/slog"

	"go.klb.dev/clipshare/internal/transfer"
)

// DefaultMaxSize is the largest serialized message a Codec accepts (256 MiB).
const DefaultMaxSize = 256 * 1024 * 1024

// Codec serializes messages and performs the filesystem half of a file
// transfer: reading referenced files before encoding, and writing received
// files into Files before handing the message back.
type Codec struct {
	Files   *transfer.Store
	MaxSize int
}

// NewCodec returns a Codec writing received files into store.
func NewCodec(store *transfer.Store) *Codec {
	return &Codec{Files: store, MaxSize: DefaultMaxSize}
}

func (c *Codec) maxSize() int {
	if c.MaxSize <= 0 {
		return DefaultMaxSize
	}
	return c.MaxSize
}

func (c *Codec) scheme() transfer.Scheme {
	if c.Files == nil {
		return transfer.DefaultScheme()
	}
	return c.Files.Scheme
}

// Encode serializes m. For a FileMessage without loaded contents the
// referenced files are read first; unreadable files are sent as empty
// placeholders and logged, so contents stay aligned with paths.
func (c *Codec) Encode(m Message) ([]byte, error) {
	if fm, ok := m.(*FileMessage); ok && fm.Blobs == nil {
		blobs, err := transfer.Collect(fm.Paths, c.scheme())
		if err != nil {
			slog.Warn("file message: not every file could be read", "paths", len(fm.Paths), "err", err)
		}
		if blobs == nil {
			blobs = [][]byte{}
		}
		m = &FileMessage{Paths: fm.Paths, Content: fm.Content, Blobs: blobs}
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Kind(), err)
	}
	if len(b) > c.maxSize() {
		return nil, fmt.Errorf("encode %s message: %w (%d bytes)", m.Kind(), ErrTooLarge, len(b))
	}
	return b, nil
}

// Decode reads the discriminator, decodes the matching variant and, for a
// FileMessage, writes the transferred files into Files and rewrites the
// message's references to point at them. The returned message is complete;
// nothing is applied anywhere on error.
func (c *Codec) Decode(b []byte) (Message, error) {
	if len(b) > c.maxSize() {
		return nil, &DecodeError{Err: fmt.Errorf("%w (%d bytes)", ErrTooLarge, len(b))}
	}
	m, err := Decode(b)
	if err != nil {
		return nil, err
	}
	fm, ok := m.(*FileMessage)
	if !ok || c.Files == nil {
		return m, nil
	}

	if len(fm.Content) > 0 && len(fm.Content.URLs()) == 0 {
		slog.Warn("file message: no uri-list, falling back to generated names", "files", len(fm.Blobs))
	}
	res, err := c.Files.Receive(fm.Blobs, fm.Content)
	if err != nil {
		return nil, fmt.Errorf("receive files: %w", err)
	}
	if len(res.Errs) > 0 {
		slog.Warn("file message: not every file could be written", "err", errors.Join(res.Errs...))
	}
	return &FileMessage{Paths: res.Paths, Content: res.Content}, nil
}
