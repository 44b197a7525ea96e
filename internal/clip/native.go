//go:build darwin || windows || linux

package clip

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.design/x/clipboard"

	"go.klb.dev/clipshare/internal/mime"
)

// The native clipboard library only exchanges UTF-8 text and PNG images, so
// these are the formats the platform backends can carry.

func nativeContent() mime.Content {
	c := mime.Content{}
	if text := clipboard.Read(clipboard.FmtText); text != nil {
		c[mime.TextPlain] = text
		if isFileList(text) {
			c[mime.URIList] = text
		}
	}
	if img := clipboard.Read(clipboard.FmtImage); img != nil {
		c[mime.ImagePNG] = img
	}
	return c
}

// isFileList reports whether every non-empty line of text is a file
// reference, which is how file managers expose copied files as text.
func isFileList(text []byte) bool {
	probe := mime.Content{mime.URIList: text}
	urls := probe.URLs()
	if len(urls) == 0 {
		return false
	}
	for _, u := range urls {
		if !mime.IsLocalFile(u) {
			return false
		}
	}
	return true
}

// nativeSupports reports whether a format survives nativeSetContent. The
// GNOME copied-files list rides along as the uri-list text.
func nativeSupports(format string) bool {
	switch format {
	case mime.TextPlain, mime.ImagePNG, mime.URIList, mime.GnomeCopied:
		return true
	}
	return false
}

func nativeSetContent(c mime.Content) error {
	wrote := false
	if text, ok := c[mime.TextPlain]; ok {
		clipboard.Write(clipboard.FmtText, text)
		wrote = true
	} else if uris := c.URLs(); len(uris) > 0 {
		// a file drop still pastes as its list of locations
		clipboard.Write(clipboard.FmtText, c[mime.URIList])
		wrote = true
	}
	if img, ok := c[mime.ImagePNG]; ok {
		clipboard.Write(clipboard.FmtImage, img)
		wrote = true
	}
	if !wrote && len(c) > 0 {
		return fmt.Errorf("no supported format in %v", c.Keys())
	}
	return nil
}

func nativeImage() (image.Image, bool, error) {
	raw := clipboard.Read(clipboard.FmtImage)
	if raw == nil {
		return nil, false, nil
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false, fmt.Errorf("decode clipboard image: %w", err)
	}
	return img, true, nil
}

func nativeSetImage(img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode clipboard image: %w", err)
	}
	clipboard.Write(clipboard.FmtImage, buf.Bytes())
	return nil
}
