package message

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.klb.dev/clipshare/internal/mime"
)

// writer accumulates an encoded message.
type writer struct {
	b []byte
}

func newWriter(k Kind, sizeHint int) *writer {
	w := &writer{b: make([]byte, 0, kindSize+sizeHint)}
	w.u32(uint32(k))
	return w
}

func (w *writer) u32(v uint32) { w.b = binary.BigEndian.AppendUint32(w.b, v) }

func (w *writer) bytes(p []byte) {
	w.u32(uint32(len(p)))
	w.b = append(w.b, p...)
}

func (w *writer) blobs(list [][]byte) {
	w.u32(uint32(len(list)))
	for _, p := range list {
		w.bytes(p)
	}
}

func (w *writer) content(c mime.Content) {
	keys := c.Keys()
	w.u32(uint32(len(keys)))
	for _, k := range keys {
		w.bytes([]byte(k))
		w.bytes(c[k])
	}
}

// fits reports whether a length can be written as a uint32 field.
func fits(n int) bool { return uint64(n) <= math.MaxUint32 }

// contentSize returns the encoded size of c, or an error if a key or value
// is too long for its length field.
func contentSize(c mime.Content) (int, error) {
	n := 4
	for k, v := range c {
		if !fits(len(k)) || !fits(len(v)) {
			return 0, fmt.Errorf("format %q: %w", k, ErrTooLarge)
		}
		n += 8 + len(k) + len(v)
	}
	return n, nil
}

// reader walks an encoded message, checking every length against the bytes
// that remain so that a corrupt length never triggers a large allocation.
type reader struct {
	b    []byte
	off  int
	kind Kind
}

// newReader checks that b starts with the discriminator of want.
func newReader(b []byte, want Kind) (*reader, error) {
	got, err := PeekKind(b)
	if err != nil {
		if de, ok := err.(*DecodeError); ok && de.Kind == 0 {
			de.Kind = want
		}
		return nil, err
	}
	if got != want {
		return nil, &DecodeError{Kind: want, Err: fmt.Errorf("%w: got %s", ErrKindMismatch, got)}
	}
	return &reader{b: b, off: kindSize, kind: want}, nil
}

func (r *reader) fail(err error) error {
	return &DecodeError{Kind: r.kind, Offset: r.off, Err: err}
}

func (r *reader) remaining() int { return len(r.b) - r.off }

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, r.fail(ErrTruncated)
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.remaining()) {
		return nil, r.fail(ErrTruncated)
	}
	out := make([]byte, n)
	copy(out, r.b[r.off:])
	r.off += int(n)
	return out, nil
}

func (r *reader) blobs() ([][]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	// each blob needs at least its 4-byte length
	if uint64(n)*4 > uint64(r.remaining()) {
		return nil, r.fail(ErrTruncated)
	}
	out := make([][]byte, 0, n)
	for range n {
		p, err := r.bytes()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *reader) content() (mime.Content, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if uint64(n)*8 > uint64(r.remaining()) {
		return nil, r.fail(ErrTruncated)
	}
	out := make(mime.Content, n)
	for range n {
		at := r.off
		k, err := r.bytes()
		if err != nil {
			return nil, err
		}
		v, err := r.bytes()
		if err != nil {
			return nil, err
		}
		if _, dup := out[string(k)]; dup {
			return nil, &DecodeError{Kind: r.kind, Offset: at, Err: ErrDuplicateFormat}
		}
		out[string(k)] = v
	}
	return out, nil
}

// done fails if anything is left after a complete message.
func (r *reader) done() error {
	if r.remaining() != 0 {
		return r.fail(ErrTrailingData)
	}
	return nil
}
