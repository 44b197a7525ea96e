package clip

import (
	"image"

	"go.klb.dev/clipshare/internal/mime"
)

// headlessBackend is a no-op clipboard backend for environments without a
// display server (headless Linux servers, containers, etc.).
// It never produces Watch events and silently discards writes.
type headlessBackend struct {
	watchCh chan struct{}
}

func newHeadless() *headlessBackend { return &headlessBackend{watchCh: make(chan struct{})} }

func (b *headlessBackend) Name() string                      { return "headless (no-op)" }
func (b *headlessBackend) Content() (mime.Content, error)    { return mime.Content{}, nil }
func (b *headlessBackend) SetContent(_ mime.Content) error   { return nil }
func (b *headlessBackend) Image() (image.Image, bool, error) { return nil, false, nil }
func (b *headlessBackend) SetImage(_ image.Image) error      { return nil }
func (b *headlessBackend) Watch() <-chan struct{}            { return b.watchCh }
func (b *headlessBackend) Close()                            {}
