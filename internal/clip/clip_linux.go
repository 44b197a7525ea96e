//go:build linux

package clip

import (
	"bytes"
	"image"
	"log/slog"
	"time"

	"golang.design/x/clipboard"

	"go.klb.dev/clipshare/internal/mime"
)

const linuxPollInterval = 250 * time.Millisecond

type linuxBackend struct {
	watchCh  chan struct{}
	done     chan struct{}
	lastText []byte
	lastImg  []byte
}

// New returns the Linux clipboard backend, or a headless no-op backend if
// the display environment is unavailable (e.g. a headless server without X11
// or Wayland). clipboard.Init is called here rather than in init() so that
// CLI sub-commands (send, restore, status) don't trigger the warning.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return newHeadless()
	}
	b := &linuxBackend{
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go b.poll()
	return b
}

func (b *linuxBackend) Name() string { return "Linux clipboard (poll)" }

func (b *linuxBackend) poll() {
	t := time.NewTicker(linuxPollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			text := clipboard.Read(clipboard.FmtText)
			img := clipboard.Read(clipboard.FmtImage)
			if !bytes.Equal(text, b.lastText) || !bytes.Equal(img, b.lastImg) {
				b.lastText = text
				b.lastImg = img
				notify(b.watchCh)
			}
		}
	}
}

func (b *linuxBackend) Content() (mime.Content, error)    { return nativeContent(), nil }
func (b *linuxBackend) SetContent(c mime.Content) error   { return nativeSetContent(c) }
func (b *linuxBackend) Supports(format string) bool       { return nativeSupports(format) }
func (b *linuxBackend) Image() (image.Image, bool, error) { return nativeImage() }
func (b *linuxBackend) SetImage(img image.Image) error    { return nativeSetImage(img) }
func (b *linuxBackend) Watch() <-chan struct{}            { return b.watchCh }
func (b *linuxBackend) Close()                            { close(b.done) }
