// Package clip provides a unified interface to the system clipboard across
// platforms. Build constraints select the appropriate implementation:
//
//	clip_darwin.go  : macOS via golang.design/x/clipboard + cgo changeCount
//	clip_windows.go : Windows via golang.design/x/clipboard + AddClipboardFormatListener
//	clip_linux.go   : Linux via golang.design/x/clipboard, polling only
//	clip_other.go   : headless stub for everything else
//
// Memory is a backend that keeps arbitrary formats in process; it backs the
// headless relay mode and the tests.
package clip

import (
	"image"

	"go.klb.dev/clipshare/internal/mime"
)

// Backend is the interface that all clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Content returns every format currently on the clipboard. An empty
	// clipboard yields an empty, non-nil map.
	Content() (mime.Content, error)

	// SetContent replaces the clipboard with c.
	SetContent(c mime.Content) error

	// Image returns the clipboard's raster image, if it holds one.
	Image() (image.Image, bool, error)

	// SetImage replaces the clipboard with img.
	SetImage(img image.Image) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The channel is never closed. On platforms without native change
	// notification (Linux X11/Wayland) this is implemented via polling.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}

// FormatLimiter is implemented by backends that can hold only some formats.
type FormatLimiter interface {
	Supports(format string) bool
}

// Unsupported returns the formats of c, in key order, that b cannot hold and
// would drop on SetContent.
func Unsupported(b Backend, c mime.Content) []string {
	l, ok := b.(FormatLimiter)
	if !ok {
		return nil
	}
	var out []string
	for _, f := range c.Keys() {
		if !l.Supports(f) {
			out = append(out, f)
		}
	}
	return out
}

// notify performs a non-blocking send on a watch channel.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
