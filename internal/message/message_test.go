package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipshare/internal/mime"
	"go.klb.dev/clipshare/internal/transfer"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 7, 5))
	for y := 0; y < 5; y++ {
		for x := 0; x < 7; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 30), G: uint8(y * 50), B: 200, A: uint8(100 + x*y)})
		}
	}
	return img
}

func TestPeekKind(t *testing.T) {
	for _, k := range []Kind{KindCustom, KindImage, KindFile} {
		b := binary.BigEndian.AppendUint32(nil, uint32(k))
		got, err := PeekKind(b)
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := PeekKind([]byte{0, 0})
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = PeekKind(binary.BigEndian.AppendUint32(nil, 9))
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Decode(binary.BigEndian.AppendUint32(nil, 9))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestCustomRoundTrip(t *testing.T) {
	tests := []mime.Content{
		{},
		{mime.TextPlain: []byte("hello")},
		{
			mime.TextPlain:           []byte("hello"),
			mime.TextHTML:            []byte("<b>hello</b>"),
			"application/x-qt-image": {0, 1, 2, 0, 255},
			"x-empty":                {},
		},
	}
	for i, c := range tests {
		t.Run(fmt.Sprintf("%d formats", len(c)), func(t *testing.T) {
			b, err := NewCustomMessage(c).MarshalBinary()
			require.NoError(t, err, i)

			m, err := Decode(b)
			require.NoError(t, err)
			cm, ok := m.(*CustomMessage)
			require.True(t, ok)
			assert.Len(t, cm.Content, len(c))
			assert.True(t, c.Equal(cm.Content))
		})
	}
}

func TestCustomEncodingIsDeterministic(t *testing.T) {
	c := mime.Content{}
	for i := range 50 {
		c[fmt.Sprintf("x-format/%d", i)] = []byte{byte(i)}
	}
	first, err := NewCustomMessage(c).MarshalBinary()
	require.NoError(t, err)
	for range 10 {
		again, err := NewCustomMessage(c.Clone()).MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestImageRoundTrip(t *testing.T) {
	img := testImage()
	b, err := NewImageMessage(img).MarshalBinary()
	require.NoError(t, err)

	k, err := PeekKind(b)
	require.NoError(t, err)
	assert.Equal(t, KindImage, k)

	var im ImageMessage
	require.NoError(t, im.UnmarshalBinary(b))
	assert.True(t, SamePixels(img, im.Image))
}

func TestImageRejectsTruncated(t *testing.T) {
	b, err := NewImageMessage(testImage()).MarshalBinary()
	require.NoError(t, err)

	var im ImageMessage
	err = im.UnmarshalBinary(b[:len(b)-10])
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Nil(t, im.Image)

	// valid framing around a corrupt PNG body
	corrupt := append([]byte(nil), b...)
	copy(corrupt[kindSize+4+20:], []byte("garbage garbage garbage"))
	err = im.UnmarshalBinary(corrupt)
	assert.ErrorIs(t, err, ErrMalformedImage)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Nil(t, im.Image)
}

func TestImageMarshalRequiresImage(t *testing.T) {
	_, err := (&ImageMessage{}).MarshalBinary()
	assert.Error(t, err)
}

func TestDiscriminatorMismatch(t *testing.T) {
	b, err := NewImageMessage(testImage()).MarshalBinary()
	require.NoError(t, err)

	cm := CustomMessage{Content: mime.Content{"keep": []byte("me")}}
	err = cm.UnmarshalBinary(b)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKindMismatch)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, "me", string(cm.Content["keep"]))

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, KindCustom, de.Kind)

	var fm FileMessage
	assert.ErrorIs(t, fm.UnmarshalBinary(b), ErrKindMismatch)
}

func TestDecodeRejectsCorruptLengths(t *testing.T) {
	good, err := NewCustomMessage(mime.Content{mime.TextPlain: []byte("abc")}).MarshalBinary()
	require.NoError(t, err)

	t.Run("huge count", func(t *testing.T) {
		b := binary.BigEndian.AppendUint32(nil, uint32(KindCustom))
		b = binary.BigEndian.AppendUint32(b, 1<<31)
		_, err := Decode(b)
		assert.ErrorIs(t, err, ErrTruncated)
	})
	t.Run("huge value length", func(t *testing.T) {
		b := append([]byte(nil), good...)
		// kind(4) count(4) klen(4) key(10) vlen(4)
		binary.BigEndian.PutUint32(b[4+4+4+len(mime.TextPlain):], 1<<30)
		_, err := Decode(b)
		assert.ErrorIs(t, err, ErrTruncated)
	})
	t.Run("trailing", func(t *testing.T) {
		_, err := Decode(append(append([]byte(nil), good...), 0))
		assert.ErrorIs(t, err, ErrTrailingData)
	})
	t.Run("every prefix", func(t *testing.T) {
		for n := 0; n < len(good); n++ {
			_, err := Decode(good[:n])
			assert.ErrorIs(t, err, ErrDecode, "prefix %d", n)
		}
	})
	t.Run("duplicate format", func(t *testing.T) {
		b := binary.BigEndian.AppendUint32(nil, uint32(KindCustom))
		b = binary.BigEndian.AppendUint32(b, 2)
		for range 2 {
			b = binary.BigEndian.AppendUint32(b, 1)
			b = append(b, 'k')
			b = binary.BigEndian.AppendUint32(b, 1)
			b = append(b, 'v')
		}
		_, err := Decode(b)
		assert.ErrorIs(t, err, ErrDuplicateFormat)
	})
}

func TestFileMarshalRequiresAlignedBlobs(t *testing.T) {
	m := &FileMessage{Paths: []string{"a", "b"}, Blobs: [][]byte{{1}}}
	_, err := m.MarshalBinary()
	assert.ErrorIs(t, err, ErrBlobPathMismatch)
}

func TestFileDecodeIsPure(t *testing.T) {
	m := &FileMessage{
		Paths:   []string{"/x/a.txt"},
		Content: mime.Content{mime.URIList: []byte("file:///x/a.txt")},
		Blobs:   [][]byte{[]byte("data")},
	}
	b, err := m.MarshalBinary()
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	fm := got.(*FileMessage)
	assert.Empty(t, fm.Paths)
	assert.Equal(t, [][]byte{[]byte("data")}, fm.Blobs)
	assert.True(t, m.Content.Equal(fm.Content))
}

func newTestCodec(t *testing.T) (*Codec, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "recv")
	store, err := transfer.NewStore(dir, transfer.SchemeUnix)
	require.NoError(t, err)
	return NewCodec(store), dir
}

func TestCodecFileTransfer(t *testing.T) {
	src := t.TempDir()
	a := filepath.Join(src, "a.txt")
	b := filepath.Join(src, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("hello"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("world"), 0o600))

	codec, dir := newTestCodec(t)
	msg := NewFileMessage([]string{a, b}, mime.Content{
		mime.URIList: []byte("file:///a.txt\nfile:///b.txt"),
	})
	raw, err := codec.Encode(msg)
	require.NoError(t, err)
	assert.Nil(t, msg.Blobs, "Encode must not mutate the caller's message")

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	fm, ok := got.(*FileMessage)
	require.True(t, ok)
	assert.Nil(t, fm.Blobs)

	newA := transfer.SchemeUnix.Ref(filepath.Join(dir, "a.txt"))
	newB := transfer.SchemeUnix.Ref(filepath.Join(dir, "b.txt"))
	assert.Equal(t, []string{newA, newB}, fm.Paths)

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	data, err = os.ReadFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	assert.Equal(t, newA+"\n"+newB, string(fm.Content[mime.URIList]))
	assert.Contains(t, fm.Content, mime.GnomeCopied)
}

func TestCodecFileStripsNulAndCR(t *testing.T) {
	src := t.TempDir()
	a := filepath.Join(src, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o600))

	codec, _ := newTestCodec(t)
	raw, err := codec.Encode(NewFileMessage([]string{a}, mime.Content{
		mime.URIList: []byte("file:///a.txt\r\n"),
		"application/x-qt-windows-mime;value=\"FileNameW\"": []byte("C\x00:\x00\\\x00a\x00\r\x00"),
	}))
	require.NoError(t, err)

	got, err := codec.Decode(raw)
	require.NoError(t, err)
	for k, v := range got.(*FileMessage).Content {
		assert.NotContains(t, string(v), "\x00", k)
		assert.NotContains(t, string(v), "\r", k)
	}
}

func TestCodecUnreadableFileKeepsAlignment(t *testing.T) {
	src := t.TempDir()
	b := filepath.Join(src, "b.txt")
	require.NoError(t, os.WriteFile(b, []byte("world"), 0o600))

	codec, dir := newTestCodec(t)
	raw, err := codec.Encode(NewFileMessage(
		[]string{filepath.Join(src, "gone.txt"), b},
		mime.Content{mime.URIList: []byte("file:///gone.txt\nfile:///b.txt")},
	))
	require.NoError(t, err)

	_, err = codec.Decode(raw)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))
}

func TestCodecMaxSize(t *testing.T) {
	codec, _ := newTestCodec(t)
	codec.MaxSize = 16

	_, err := codec.Encode(NewCustomMessage(mime.Content{mime.TextPlain: make([]byte, 64)}))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = codec.Decode(make([]byte, 32))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestCodecPassesThroughOtherKinds(t *testing.T) {
	codec, dir := newTestCodec(t)
	raw, err := codec.Encode(NewImageMessage(testImage()))
	require.NoError(t, err)
	m, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindImage, m.Kind())

	_, err = os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "no file I/O for image messages")
}
