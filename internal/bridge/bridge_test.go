package bridge

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipshare/internal/clip"
	"go.klb.dev/clipshare/internal/message"
	"go.klb.dev/clipshare/internal/mime"
	"go.klb.dev/clipshare/internal/notify"
	"go.klb.dev/clipshare/internal/transfer"
)

type recorder struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (r *recorder) Send(b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, append([]byte(nil), b...))
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newTestBridge(t *testing.T) (*Bridge, *clip.Memory, *notify.Recent) {
	t.Helper()
	store, err := transfer.NewStore(t.TempDir(), transfer.SchemeUnix)
	require.NoError(t, err)
	mem := clip.NewMemory()
	recent := notify.NewRecent(16)
	return New(mem, message.NewCodec(store), recent), mem, recent
}

func lastNotice(t *testing.T, r *notify.Recent) notify.Notice {
	t.Helper()
	list := r.List()
	require.NotEmpty(t, list)
	return list[len(list)-1]
}

func TestSnapshotReplacesPrevious(t *testing.T) {
	var s Snapshot
	_, ok := s.Restore()
	assert.False(t, ok)

	s.Capture(mime.Content{mime.TextPlain: []byte("first")})
	s.Capture(mime.Content{mime.TextPlain: []byte("second")})
	got, ok := s.Restore()
	require.True(t, ok)
	assert.Equal(t, "second", got.Text())

	// restoring twice gives the same content
	again, ok := s.Restore()
	require.True(t, ok)
	assert.True(t, got.Equal(again))
	assert.False(t, s.Taken().IsZero())
}

func TestSnapshotOfEmptyClipboard(t *testing.T) {
	var s Snapshot
	s.Capture(nil)
	got, ok := s.Restore()
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestClassify(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))

	t.Run("image wins", func(t *testing.T) {
		c := mime.Content{mime.URIList: []byte("file:///tmp/a.txt")}
		assert.Equal(t, message.KindImage, Classify(c, img).Kind())
	})
	t.Run("local file list", func(t *testing.T) {
		c := mime.Content{mime.URIList: []byte("file:///tmp/a.txt\r\nfile:///tmp/b.txt")}
		m := Classify(c, nil)
		require.Equal(t, message.KindFile, m.Kind())
		assert.Equal(t, []string{"file:///tmp/a.txt", "file:///tmp/b.txt"}, m.(*message.FileMessage).Paths)
	})
	t.Run("remote urls are custom", func(t *testing.T) {
		c := mime.Content{mime.URIList: []byte("https://example.com/x")}
		assert.Equal(t, message.KindCustom, Classify(c, nil).Kind())
	})
	t.Run("text", func(t *testing.T) {
		c := mime.Content{mime.TextPlain: []byte("hi")}
		assert.Equal(t, message.KindCustom, Classify(c, nil).Kind())
	})
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, message.KindCustom, Classify(mime.Content{}, nil).Kind())
	})
}

func TestReceiveCustomSavesSnapshot(t *testing.T) {
	b, mem, recent := newTestBridge(t)
	require.NoError(t, mem.SetContent(mime.Content{mime.TextPlain: []byte("mine")}))

	raw, err := message.NewCustomMessage(mime.Content{mime.TextPlain: []byte("theirs")}).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, b.Receive(raw))

	got, _ := mem.Content()
	assert.Equal(t, "theirs", got.Text())
	assert.Equal(t, "Received new clipboard content", lastNotice(t, recent).Body)

	require.NoError(t, b.Restore())
	got, _ = mem.Content()
	assert.Equal(t, "mine", got.Text())
	assert.Equal(t, "Recovered Clipboard", lastNotice(t, recent).Title)
	assert.Equal(t, 1, b.Status().Received)
}

func TestReceiveImage(t *testing.T) {
	b, mem, recent := newTestBridge(t)
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(2, 1, color.NRGBA{G: 200, A: 255})

	raw, err := message.NewImageMessage(img).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, b.Receive(raw))

	got, ok, err := mem.Image()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, message.SamePixels(img, got))
	assert.Equal(t, "Received new image", lastNotice(t, recent).Body)
}

func TestReceiveFiles(t *testing.T) {
	b, mem, recent := newTestBridge(t)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("hello"), 0o600))
	ref := "file://" + filepath.ToSlash(filepath.Join(src, "notes.txt"))
	msg := message.NewFileMessage([]string{ref}, mime.Content{mime.URIList: []byte(ref)})
	raw, err := message.NewCodec(nil).Encode(msg)
	require.NoError(t, err)

	require.NoError(t, b.Receive(raw))
	got, _ := mem.Content()
	urls := got.URLs()
	require.Len(t, urls, 1)
	assert.NotEqual(t, ref, urls[0])
	data, err := os.ReadFile(transfer.SchemeUnix.LocalPath(urls[0]))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "Received new file(s)", lastNotice(t, recent).Body)
}

func TestReceiveMalformedLeavesClipboard(t *testing.T) {
	b, mem, _ := newTestBridge(t)
	require.NoError(t, mem.SetContent(mime.Content{mime.TextPlain: []byte("keep")}))
	writes := mem.Writes()

	raw, err := message.NewCustomMessage(mime.Content{mime.TextPlain: []byte("new")}).MarshalBinary()
	require.NoError(t, err)
	err = b.Receive(raw[:len(raw)-2])
	require.Error(t, err)
	assert.True(t, errors.Is(err, message.ErrDecode))

	got, _ := mem.Content()
	assert.Equal(t, "keep", got.Text())
	assert.Equal(t, writes, mem.Writes())
	assert.True(t, b.Status().SnapshotAt.IsZero())
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	b, mem, recent := newTestBridge(t)
	require.NoError(t, mem.SetContent(mime.Content{mime.TextPlain: []byte("x")}))
	writes := mem.Writes()

	require.NoError(t, b.Restore())
	assert.Equal(t, writes, mem.Writes())
	assert.Equal(t, "Recovered Clipboard", lastNotice(t, recent).Title)
}

func TestSend(t *testing.T) {
	b, mem, recent := newTestBridge(t)
	assert.ErrorIs(t, b.Send(), ErrNoTransport)

	rec := &recorder{}
	b.Attach(rec)
	require.NoError(t, mem.SetContent(mime.Content{mime.TextPlain: []byte("share me")}))
	require.NoError(t, b.Send())
	require.Equal(t, 1, rec.count())

	m, err := message.Decode(rec.sent[0])
	require.NoError(t, err)
	assert.Equal(t, "share me", m.(*message.CustomMessage).Content.Text())
	assert.Equal(t, "Clipboard has been sent.", lastNotice(t, recent).Body)

	rec.err = errors.New("broken pipe")
	assert.Error(t, b.Send())

	b.Detach(rec)
	assert.False(t, b.Attached())
}

func TestDetachIgnoresStaleTransport(t *testing.T) {
	b, _, _ := newTestBridge(t)
	first, second := &recorder{}, &recorder{}
	b.Attach(first)
	b.Attach(second)
	b.Detach(first)
	assert.True(t, b.Attached())
}

func TestRunSendsLocalChangesOnly(t *testing.T) {
	b, mem, _ := newTestBridge(t)
	rec := &recorder{}
	b.Attach(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	require.NoError(t, mem.SetContent(mime.Content{mime.TextPlain: []byte("local")}))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	raw, err := message.NewCustomMessage(mime.Content{mime.TextPlain: []byte("remote")}).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, b.Receive(raw))

	// give the watcher a chance to see the applied change
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	cancel()
	<-done
}

func TestSendFiles(t *testing.T) {
	b, mem, recent := newTestBridge(t)
	rec := &recorder{}
	b.Attach(rec)

	src := t.TempDir()
	var refs []string
	for name, body := range map[string]string{"a.txt": "alpha", "b.txt": "beta"} {
		p := filepath.Join(src, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		refs = append(refs, transfer.SchemeUnix.Ref(p))
	}
	list := refs[0] + "\n" + refs[1]
	require.NoError(t, mem.SetContent(mime.Content{mime.URIList: []byte(list), mime.TextPlain: []byte(list)}))
	require.NoError(t, b.Send())
	require.Equal(t, 1, rec.count())

	m, err := message.Decode(rec.sent[0])
	require.NoError(t, err)
	fm, ok := m.(*message.FileMessage)
	require.True(t, ok)
	assert.Equal(t, refs, fm.Paths)
	require.Len(t, fm.Blobs, 2)
	for i, ref := range refs {
		want, err := os.ReadFile(transfer.SchemeUnix.LocalPath(ref))
		require.NoError(t, err)
		assert.Equal(t, want, fm.Blobs[i])
	}
	assert.Equal(t, list, fm.Content.Text())
	assert.Equal(t, "Files have been sent.", lastNotice(t, recent).Body)
}

func TestSendImage(t *testing.T) {
	b, mem, recent := newTestBridge(t)
	rec := &recorder{}
	b.Attach(rec)

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(1, 0, color.NRGBA{R: 90, B: 30, A: 255})
	require.NoError(t, mem.SetImage(img))
	require.NoError(t, b.Send())

	m, err := message.Decode(rec.sent[0])
	require.NoError(t, err)
	im, ok := m.(*message.ImageMessage)
	require.True(t, ok)
	assert.True(t, message.SamePixels(img, im.Image))
	assert.Equal(t, "Image has been sent.", lastNotice(t, recent).Body)
}

func TestRestoreReturnsEveryFormat(t *testing.T) {
	b, mem, _ := newTestBridge(t)
	before := mime.Content{
		mime.TextPlain:      []byte("plain"),
		mime.URIList:        []byte("https://example.com/a\n"),
		"application/x-raw": {0, 1, 2, 255},
		"text/html":         []byte("<b>bold</b>"),
	}
	require.NoError(t, mem.SetContent(before))

	raw, err := message.NewCustomMessage(mime.Content{mime.TextPlain: []byte("incoming")}).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, b.Receive(raw))

	for range 2 {
		require.NoError(t, b.Restore())
		got, err := mem.Content()
		require.NoError(t, err)
		require.Equal(t, before.Keys(), got.Keys())
		for _, k := range before.Keys() {
			assert.Equal(t, before[k], got[k], k)
		}
	}
}

type brokenSet struct {
	*clip.Memory
	fail bool
}

func (s *brokenSet) SetContent(c mime.Content) error {
	if s.fail {
		return errors.New("clipboard busy")
	}
	return s.Memory.SetContent(c)
}

func TestRestoreFailureNotifies(t *testing.T) {
	store, err := transfer.NewStore(t.TempDir(), transfer.SchemeUnix)
	require.NoError(t, err)
	backend := &brokenSet{Memory: clip.NewMemory()}
	recent := notify.NewRecent(16)
	b := New(backend, message.NewCodec(store), recent)

	raw, err := message.NewCustomMessage(mime.Content{mime.TextPlain: []byte("theirs")}).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, b.Receive(raw))

	backend.fail = true
	require.Error(t, b.Restore())
	n := lastNotice(t, recent)
	assert.Equal(t, "Clipboard sync failed", n.Title)
	assert.Equal(t, "Could not recover the previous clipboard", n.Body)
}

func TestReceiveWarnsAboutDroppedFormats(t *testing.T) {
	store, err := transfer.NewStore(t.TempDir(), transfer.SchemeUnix)
	require.NoError(t, err)
	mem := clip.NewMemory(mime.TextPlain)
	recent := notify.NewRecent(16)
	b := New(mem, message.NewCodec(store), recent)

	raw, err := message.NewCustomMessage(mime.Content{
		mime.TextPlain:     []byte("hello"),
		"x-app/private":    {7},
		"x-app/also-alien": {8},
	}).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, b.Receive(raw))

	got, _ := mem.Content()
	assert.Equal(t, []string{mime.TextPlain}, got.Keys())

	var warned bool
	for _, n := range recent.List() {
		if n.Title == "Clipboard sync incomplete" {
			warned = true
			assert.Equal(t, "Some formats could not be applied: x-app/also-alien, x-app/private", n.Body)
		}
	}
	assert.True(t, warned)
}
