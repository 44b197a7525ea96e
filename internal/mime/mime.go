// Package mime holds the format-name → payload map that clipboard contents
// travel as. Keys are unique; iteration through Keys is sorted so that every
// serialization of the same content produces the same bytes.
package mime

import (
	"bytes"
	"net/url"
	"sort"
	"strings"
)

// Well-known format names.
const (
	TextPlain   = "text/plain"
	TextHTML    = "text/html"
	URIList     = "text/uri-list"
	ImagePNG    = "image/png"
	GnomeCopied = "x-special/gnome-copied-files"
)

// Content maps a format name to its raw bytes.
type Content map[string][]byte

// Keys returns the format names in sorted order.
func (c Content) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Formats is an alias of Keys kept for call sites that read better with it.
func (c Content) Formats() []string { return c.Keys() }

// Clone returns a deep copy; payloads are not shared with c.
func (c Content) Clone() Content {
	if c == nil {
		return Content{}
	}
	out := make(Content, len(c))
	for k, v := range c {
		out[k] = bytes.Clone(v)
		if out[k] == nil {
			out[k] = []byte{}
		}
	}
	return out
}

// Equal reports whether both maps hold the same formats with identical bytes.
func (c Content) Equal(other Content) bool {
	if len(c) != len(other) {
		return false
	}
	for k, v := range c {
		ov, ok := other[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

// Set stores data under format.
func (c Content) Set(format string, data []byte) { c[format] = data }

// Text returns the text/plain payload, or "".
func (c Content) Text() string { return string(c[TextPlain]) }

// HasImage reports whether any image/* format is present.
func (c Content) HasImage() bool {
	for k := range c {
		if strings.HasPrefix(k, "image/") {
			return true
		}
	}
	return false
}

// HasURLs reports whether the content carries a non-empty uri-list.
func (c Content) HasURLs() bool { return len(c.URLs()) > 0 }

// URLs parses the text/uri-list entry (RFC 2483). Lines may be separated by
// CRLF or LF; comment lines starting with '#' and blank lines are skipped.
// Stray NUL bytes left by legacy producers are ignored.
func (c Content) URLs() []string {
	raw, ok := c[URIList]
	if !ok {
		return nil
	}
	raw = bytes.ReplaceAll(raw, []byte{0}, nil)
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// SetURLs writes urls as a CRLF-separated text/uri-list entry.
func (c Content) SetURLs(urls []string) {
	c[URIList] = []byte(strings.Join(urls, "\r\n"))
}

// IsLocalFile reports whether ref is a file:// locator.
func IsLocalFile(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return strings.HasPrefix(ref, "file://")
	}
	return u.Scheme == "file"
}
