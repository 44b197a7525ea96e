// Package transfer moves files between the local filesystem and FileMessage
// payloads: it resolves file references to local paths on the sending side,
// and on the receiving side writes the transferred contents into a temp
// directory and rewrites every reference to point at the new copies.
package transfer

import (
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
)

// Scheme is the prefix that turns an absolute local path into a file
// reference. Unix-like systems keep the leading '/' of the path after
// "file://"; Windows paths start with a drive letter and need "file:///".
type Scheme string

const (
	SchemeUnix    Scheme = "file://"
	SchemeWindows Scheme = "file:///"
)

// DefaultScheme returns the convention of the platform we are running on.
func DefaultScheme() Scheme {
	if runtime.GOOS == "windows" {
		return SchemeWindows
	}
	return SchemeUnix
}

// ParseScheme maps a configuration value to a Scheme. "" and "auto" select
// DefaultScheme.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DefaultScheme(), nil
	case "file://", "unix":
		return SchemeUnix, nil
	case "file:///", "windows":
		return SchemeWindows, nil
	default:
		return "", fmt.Errorf("unknown uri prefix %q (want auto, file:// or file:///)", s)
	}
}

// LocalPath turns a file reference into a path usable with os.Open. Values
// without a file scheme are returned unchanged.
func (s Scheme) LocalPath(ref string) string {
	if !strings.HasPrefix(strings.ToLower(ref), "file:") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		// Not a well-formed URL; strip the prefix the way the peer wrote it.
		p := strings.TrimPrefix(ref, string(SchemeWindows))
		if s == SchemeUnix && p != ref {
			return "/" + p
		}
		return strings.TrimPrefix(p, string(SchemeUnix))
	}
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		p = "//" + u.Host + p
	}
	if s == SchemeWindows && len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// Ref builds a file reference for an absolute local path.
func (s Scheme) Ref(path string) string {
	p := filepath.ToSlash(path)
	if s == SchemeWindows {
		p = strings.TrimPrefix(p, "/")
	}
	return string(s) + (&url.URL{Path: p}).EscapedPath()
}
