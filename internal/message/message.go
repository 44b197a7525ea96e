// Package message defines the clipshare wire protocol.
//
// Every message starts with a 4-byte big-endian discriminator naming its
// variant, followed by a variant-specific body built from length-prefixed
// fields:
//
//	Custom: [kind][mime map]
//	Image:  [kind][len][PNG bytes]
//	File:   [kind][blob count]([len][bytes])*[mime map]
//
// A mime map is [count]([klen][key][vlen][value])* with keys in sorted order,
// so equal contents always serialize to equal bytes. All integers are uint32
// big-endian. Framing between messages is the transport's job.
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind is the discriminator that leads every serialized message.
type Kind uint32

const (
	KindCustom Kind = iota
	KindImage
	KindFile
)

// kindSize is the width of the discriminator on the wire.
const kindSize = 4

func (k Kind) String() string {
	switch k {
	case KindCustom:
		return "custom"
	case KindImage:
		return "image"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Valid reports whether k names a known variant.
func (k Kind) Valid() bool { return k <= KindFile }

// Message is implemented by CustomMessage, ImageMessage and FileMessage.
type Message interface {
	Kind() Kind
	MarshalBinary() ([]byte, error)
}

var (
	// ErrDecode is matched by every error produced while decoding.
	ErrDecode = errors.New("message decode")

	ErrUnknownKind      = errors.New("unknown message kind")
	ErrKindMismatch     = errors.New("message kind mismatch")
	ErrTruncated        = errors.New("truncated message")
	ErrTooLarge         = errors.New("message too large")
	ErrTrailingData     = errors.New("trailing data after message")
	ErrDuplicateFormat  = errors.New("duplicate mime format")
	ErrMalformedImage   = errors.New("malformed image payload")
	ErrBlobPathMismatch = errors.New("file contents do not match file paths")
)

// DecodeError reports where and why a payload could not be decoded.
type DecodeError struct {
	Kind   Kind
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s message at byte %d: %v", e.Kind, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// PeekKind reads only the discriminator. Callers re-dispatch to the matching
// variant decoder, which reads past the discriminator again on its own.
func PeekKind(b []byte) (Kind, error) {
	if len(b) < kindSize {
		return 0, &DecodeError{Err: ErrTruncated}
	}
	k := Kind(binary.BigEndian.Uint32(b))
	if !k.Valid() {
		return k, &DecodeError{Kind: k, Err: ErrUnknownKind}
	}
	return k, nil
}

// Decode reads the discriminator and decodes the matching variant. It does
// no file I/O; a FileMessage comes back with Blobs set and Paths empty.
// Use Codec.Decode to also materialize transferred files.
func Decode(b []byte) (Message, error) {
	k, err := PeekKind(b)
	if err != nil {
		return nil, err
	}
	var m interface {
		Message
		UnmarshalBinary([]byte) error
	}
	switch k {
	case KindCustom:
		m = &CustomMessage{}
	case KindImage:
		m = &ImageMessage{}
	case KindFile:
		m = &FileMessage{}
	}
	if err := m.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return m, nil
}
