//go:build darwin

package clip

// #cgo CFLAGS: -x objective-c
// #cgo LDFLAGS: -framework Cocoa
// #import <Cocoa/Cocoa.h>
//
// NSInteger clipshare_changeCount() {
//     return [[NSPasteboard generalPasteboard] changeCount];
// }
import "C"

import (
	"image"
	"log/slog"
	"time"

	"golang.design/x/clipboard"

	"go.klb.dev/clipshare/internal/mime"
)

const darwinPollInterval = 100 * time.Millisecond

type darwinBackend struct {
	lastChange C.NSInteger
	watchCh    chan struct{}
	done       chan struct{}
}

// New returns the macOS clipboard backend.
// clipboard.Init is called here rather than in init() so that CLI sub-commands
// (send, restore, status) that never construct a Backend don't log spurious
// warnings on headless systems.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard init failed", "err", err)
	}
	b := &darwinBackend{
		lastChange: C.clipshare_changeCount(),
		watchCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go b.poll()
	return b
}

func (b *darwinBackend) Name() string { return "macOS NSPasteboard" }

func (b *darwinBackend) poll() {
	t := time.NewTicker(darwinPollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			cc := C.clipshare_changeCount()
			if cc != b.lastChange {
				b.lastChange = cc
				notify(b.watchCh)
			}
		}
	}
}

func (b *darwinBackend) Content() (mime.Content, error)    { return nativeContent(), nil }
func (b *darwinBackend) SetContent(c mime.Content) error   { return nativeSetContent(c) }
func (b *darwinBackend) Supports(format string) bool       { return nativeSupports(format) }
func (b *darwinBackend) Image() (image.Image, bool, error) { return nativeImage() }
func (b *darwinBackend) SetImage(img image.Image) error    { return nativeSetImage(img) }
func (b *darwinBackend) Watch() <-chan struct{}            { return b.watchCh }
func (b *darwinBackend) Close()                            { close(b.done) }
