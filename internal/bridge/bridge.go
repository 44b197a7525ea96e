// Package bridge connects the local clipboard to one remote peer.
//
// Inbound messages are decoded completely, the current clipboard is saved
// into the snapshot, and only then is the message applied. Outbound sends
// classify the current clipboard into exactly one message variant. Every
// clipboard and snapshot mutation goes through the bridge mutex, so capture,
// apply, restore and send never interleave.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.klb.dev/clipshare/internal/clip"
	"go.klb.dev/clipshare/internal/message"
	"go.klb.dev/clipshare/internal/mime"
	"go.klb.dev/clipshare/internal/notify"
)

// noticeDuration is how long notices are meant to stay on screen.
const noticeDuration = 2 * time.Second

// ErrNoTransport is returned by Send when no peer is attached.
var ErrNoTransport = errors.New("no peer attached")

// Transport accepts serialized messages for the remote peer. Message
// boundaries on the wire are the transport's responsibility.
type Transport interface {
	Send(b []byte) error
}

// Bridge owns the clipboard backend, the snapshot and the attached transport.
type Bridge struct {
	backend  clip.Backend
	codec    *message.Codec
	notifier notify.Notifier

	mu        sync.Mutex
	transport Transport
	snapshot  Snapshot
	// lastApplied and lastSent let Run ignore clipboard changes that the
	// bridge caused itself or already sent.
	lastApplied mime.Content
	lastSent    mime.Content
	received    int
	sent        int
}

// New returns a Bridge. n may be nil.
func New(backend clip.Backend, codec *message.Codec, n notify.Notifier) *Bridge {
	if n == nil {
		n = notify.Log{}
	}
	return &Bridge{backend: backend, codec: codec, notifier: n}
}

// Attach registers t as the peer transport, replacing any previous one.
func (b *Bridge) Attach(t Transport) {
	b.mu.Lock()
	replaced := b.transport != nil
	b.transport = t
	b.mu.Unlock()
	slog.Info("peer attached", "replaced", replaced)
}

// Detach drops t if it is still the attached transport.
func (b *Bridge) Detach(t Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transport == t {
		b.transport = nil
		slog.Info("peer detached")
	}
}

// Attached reports whether a transport is registered.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transport != nil
}

// Receive handles one serialized message from the peer. A message that fails
// to decode is dropped and the clipboard is left untouched.
func (b *Bridge) Receive(raw []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, err := b.codec.Decode(raw)
	if err != nil {
		b.notifier.Notify("Clipboard sync failed", "Received a message that could not be read", noticeDuration)
		return fmt.Errorf("receive: %w", err)
	}

	current, err := b.backend.Content()
	if err != nil {
		b.notifier.Notify("Clipboard sync failed", "Could not save the current clipboard", noticeDuration)
		return fmt.Errorf("receive: save clipboard: %w", err)
	}
	b.snapshot.Capture(current)

	var body string
	var dropped []string
	switch m := msg.(type) {
	case *message.CustomMessage:
		dropped = clip.Unsupported(b.backend, m.Content)
		err = b.backend.SetContent(m.Content)
		body = "Received new clipboard content"
	case *message.ImageMessage:
		err = b.backend.SetImage(m.Image)
		body = "Received new image"
	case *message.FileMessage:
		dropped = clip.Unsupported(b.backend, m.Content)
		err = b.backend.SetContent(m.Content)
		body = "Received new file(s)"
	default:
		err = fmt.Errorf("unhandled message kind %s", msg.Kind())
	}
	if err != nil {
		b.notifier.Notify("Clipboard sync failed", "Could not update the clipboard", noticeDuration)
		return fmt.Errorf("receive %s: apply: %w", msg.Kind(), err)
	}

	applied, err := b.backend.Content()
	if err != nil {
		slog.Warn("clipboard read-back failed", "err", err)
	}
	b.lastApplied = applied
	b.received++
	LogContent("clipboard received", msg.Kind().String(), applied)
	if len(dropped) > 0 {
		slog.Warn("formats not supported by clipboard, dropped", "backend", b.backend.Name(), "formats", dropped)
		b.notifier.Notify("Clipboard sync incomplete", "Some formats could not be applied: "+strings.Join(dropped, ", "), noticeDuration)
	}
	b.notifier.Notify("New message arrived", body, noticeDuration)
	return nil
}

// Send classifies the current clipboard and sends the resulting message to
// the attached peer.
func (b *Bridge) Send() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendLocked()
}

func (b *Bridge) sendLocked() error {
	if b.transport == nil {
		return ErrNoTransport
	}
	content, err := b.backend.Content()
	if err != nil {
		return fmt.Errorf("send: read clipboard: %w", err)
	}
	img, ok, err := b.backend.Image()
	if err != nil {
		slog.Warn("clipboard image unreadable, sending other formats", "err", err)
	}
	if !ok {
		img = nil
	}

	msg := Classify(content, img)
	raw, err := b.codec.Encode(msg)
	if err != nil {
		b.notifier.Notify("Clipboard sync failed", "Clipboard could not be sent", noticeDuration)
		return fmt.Errorf("send: %w", err)
	}
	if err := b.transport.Send(raw); err != nil {
		b.notifier.Notify("Clipboard sync failed", "Clipboard could not be sent", noticeDuration)
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}

	b.lastSent = content
	b.sent++
	LogContent("clipboard sent", msg.Kind().String(), content)
	switch msg.Kind() {
	case message.KindImage:
		b.notifier.Notify("Shared Clipboard", "Image has been sent.", noticeDuration)
	case message.KindFile:
		b.notifier.Notify("Shared Clipboard", "Files have been sent.", noticeDuration)
	default:
		b.notifier.Notify("Shared Clipboard", "Clipboard has been sent.", noticeDuration)
	}
	return nil
}

// Restore writes the snapshot taken before the last inbound message back to
// the clipboard. Without a snapshot it does nothing, but still notifies.
func (b *Bridge) Restore() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.snapshot.Restore(); ok {
		if err := b.backend.SetContent(c); err != nil {
			b.notifier.Notify("Clipboard sync failed", "Could not recover the previous clipboard", noticeDuration)
			return fmt.Errorf("restore: %w", err)
		}
		b.lastApplied = c
		LogContent("clipboard restored", "snapshot", c)
	}
	b.notifier.Notify("Recovered Clipboard", "Recovered clipboard to its previous state", noticeDuration)
	return nil
}

// Classify picks the message variant for the clipboard content, first match
// wins: an image, then a file drop whose first URL is a local file, then
// everything else as custom content.
func Classify(c mime.Content, img image.Image) message.Message {
	if img != nil {
		return message.NewImageMessage(img)
	}
	if urls := c.URLs(); len(urls) > 0 && mime.IsLocalFile(urls[0]) {
		return message.NewFileMessage(urls, c)
	}
	return message.NewCustomMessage(c)
}

// Run sends every local clipboard change to the peer until ctx is done.
// Changes made by Receive or Restore are not echoed back.
func (b *Bridge) Run(ctx context.Context) {
	slog.Info("watching local clipboard", "backend", b.backend.Name())
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.backend.Watch():
			b.onLocalChange()
		}
	}
}

func (b *Bridge) onLocalChange() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.transport == nil {
		return
	}
	content, err := b.backend.Content()
	if err != nil {
		slog.Error("local clipboard read failed", "err", err)
		return
	}
	if len(content) == 0 || content.Equal(b.lastApplied) || content.Equal(b.lastSent) {
		return
	}
	slog.Debug("local clipboard changed, sending", "formats", len(content))
	if err := b.sendLocked(); err != nil {
		slog.Error("auto-send failed", "err", err)
	}
}

// Status is a point-in-time view of the bridge.
type Status struct {
	Backend    string
	Attached   bool
	Received   int
	Sent       int
	SnapshotAt time.Time
}

// Status returns the current counters and snapshot time.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Backend:    b.backend.Name(),
		Attached:   b.transport != nil,
		Received:   b.received,
		Sent:       b.sent,
		SnapshotAt: b.snapshot.Taken(),
	}
}
