package message

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
)

// ImageMessage carries raster clipboard content. On the wire the pixels
// travel as a PNG container, which records dimensions and pixel format and
// is lossless.
type ImageMessage struct {
	Image image.Image
}

// NewImageMessage wraps img.
func NewImageMessage(img image.Image) *ImageMessage {
	return &ImageMessage{Image: img}
}

func (m *ImageMessage) Kind() Kind { return KindImage }

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ImageMessage) MarshalBinary() ([]byte, error) {
	if m.Image == nil {
		return nil, errors.New("image message has no image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, m.Image); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	if !fits(buf.Len()) {
		return nil, ErrTooLarge
	}
	w := newWriter(KindImage, 4+buf.Len())
	w.bytes(buf.Bytes())
	return w.b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. A truncated or
// corrupt payload is rejected as a whole; m is left untouched on error.
func (m *ImageMessage) UnmarshalBinary(b []byte) error {
	r, err := newReader(b, KindImage)
	if err != nil {
		return err
	}
	at := r.off
	raw, err := r.bytes()
	if err != nil {
		return err
	}
	if err := r.done(); err != nil {
		return err
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return &DecodeError{Kind: KindImage, Offset: at, Err: fmt.Errorf("%w: %v", ErrMalformedImage, err)}
	}
	m.Image = img
	return nil
}

// SamePixels reports whether a and b have the same bounds and every pixel has
// the same 16-bit RGBA value.
func SamePixels(a, b image.Image) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Bounds() != b.Bounds() {
		return false
	}
	r := a.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			ar, ag, ab, aa := a.At(x, y).RGBA()
			br, bg, bb, ba := b.At(x, y).RGBA()
			if ar != br || ag != bg || ab != bb || aa != ba {
				return false
			}
		}
	}
	return true
}
