//go:build windows

package clip

// #cgo LDFLAGS: -luser32
//
// #include <windows.h>
// #include <stdlib.h>
//
// static HWND clipshare_create_listener_window();
// static void clipshare_pump_messages(HWND hwnd, int* changed);
//
// static LRESULT CALLBACK clipshare_wnd_proc(HWND hwnd, UINT msg, WPARAM wp, LPARAM lp) {
//     if (msg == WM_CLIPBOARDUPDATE) {
//         PostMessage(hwnd, WM_USER + 1, 0, 0);
//         return 0;
//     }
//     return DefWindowProc(hwnd, msg, wp, lp);
// }
//
// static HWND clipshare_create_listener_window() {
//     WNDCLASS wc = {0};
//     wc.lpfnWndProc   = clipshare_wnd_proc;
//     wc.hInstance     = GetModuleHandle(NULL);
//     wc.lpszClassName = "ClipshareClipboard";
//     RegisterClass(&wc);
//     HWND hwnd = CreateWindowEx(0, "ClipshareClipboard", NULL, 0,
//         0, 0, 0, 0, HWND_MESSAGE, NULL, GetModuleHandle(NULL), NULL);
//     AddClipboardFormatListener(hwnd);
//     return hwnd;
// }
//
// static void clipshare_pump_messages(HWND hwnd, int* changed) {
//     MSG msg;
//     *changed = 0;
//     while (PeekMessage(&msg, hwnd, 0, 0, PM_REMOVE)) {
//         if (msg.message == WM_USER + 1) { *changed = 1; }
//         TranslateMessage(&msg);
//         DispatchMessage(&msg);
//     }
// }
import "C"

import (
	"image"
	"log/slog"
	"time"

	"golang.design/x/clipboard"

	"go.klb.dev/clipshare/internal/mime"
)

type windowsBackend struct {
	hwnd    C.HWND
	watchCh chan struct{}
	done    chan struct{}
}

// New returns the Windows clipboard backend using AddClipboardFormatListener.
// clipboard.Init is called here rather than in init() so that CLI sub-commands
// (send, restore, status) that never construct a Backend don't log spurious
// warnings on headless systems.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard init failed", "err", err)
	}
	hwnd := C.clipshare_create_listener_window()
	b := &windowsBackend{
		hwnd:    hwnd,
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go b.pump()
	return b
}

func (b *windowsBackend) Name() string { return "Windows Clipboard" }

func (b *windowsBackend) pump() {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			var changed C.int
			C.clipshare_pump_messages(b.hwnd, &changed)
			if changed != 0 {
				notify(b.watchCh)
			}
		}
	}
}

func (b *windowsBackend) Content() (mime.Content, error)    { return nativeContent(), nil }
func (b *windowsBackend) SetContent(c mime.Content) error   { return nativeSetContent(c) }
func (b *windowsBackend) Supports(format string) bool       { return nativeSupports(format) }
func (b *windowsBackend) Image() (image.Image, bool, error) { return nativeImage() }
func (b *windowsBackend) SetImage(img image.Image) error    { return nativeSetImage(img) }
func (b *windowsBackend) Watch() <-chan struct{}            { return b.watchCh }
func (b *windowsBackend) Close()                            { close(b.done) }
