package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.klb.dev/clipshare/internal/mime"
)

const (
	// DirPermissions for the receive directory.
	DirPermissions = 0o700
	// FilePermissions for received files.
	FilePermissions = 0o600
)

// ErrNoPaths is returned (as a warning) when a file transfer has nothing to
// send.
var ErrNoPaths = errors.New("file message has no paths")

// FileError reports a file that could not be read on send or written on
// receive. Transfers continue past it.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string { return e.Op + " " + e.Path + ": " + e.Err.Error() }
func (e *FileError) Unwrap() error { return e.Err }

// Collect reads every referenced file fully into memory. The result always
// has one entry per ref: a file that cannot be read leaves an empty
// placeholder so contents stay aligned with refs. The returned error is
// non-nil when at least one ref failed (a join of *FileError) or refs is
// empty (ErrNoPaths); it is a warning, the blobs are still usable.
func Collect(refs []string, s Scheme) ([][]byte, error) {
	if len(refs) == 0 {
		return nil, ErrNoPaths
	}
	blobs := make([][]byte, len(refs))
	var errs []error
	for i, ref := range refs {
		p := s.LocalPath(ref)
		data, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, &FileError{Op: "read", Path: p, Err: err})
			blobs[i] = []byte{}
			continue
		}
		blobs[i] = data
	}
	return blobs, errors.Join(errs...)
}

// Store is the receive-side temp directory. It holds exactly one transfer's
// worth of files at a time.
type Store struct {
	Dir    string
	Scheme Scheme
}

// NewStore returns a Store rooted at dir. A relative dir is resolved against
// the working directory so that generated references are absolute.
func NewStore(dir string, s Scheme) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("temp dir %q: %w", dir, err)
	}
	return &Store{Dir: abs, Scheme: s}, nil
}

// DefaultDir is the receive directory used when none is configured.
func DefaultDir() string { return filepath.Join(os.TempDir(), "clipshare") }

// Reset creates the directory if needed, otherwise removes every regular
// file directly inside it. Subdirectories are left alone.
func (s *Store) Reset() error {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(s.Dir, DirPermissions); err != nil {
			return &FileError{Op: "mkdir", Path: s.Dir, Err: err}
		}
		return nil
	}
	if err != nil {
		return &FileError{Op: "readdir", Path: s.Dir, Err: err}
	}
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		p := filepath.Join(s.Dir, e.Name())
		if err := os.Remove(p); err != nil {
			errs = append(errs, &FileError{Op: "remove", Path: p, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Received is the outcome of writing one transfer to disk.
type Received struct {
	// Paths are references to the written files, in arrival order.
	Paths []string
	// Content is the rewritten mime map.
	Content mime.Content
	// Errs lists files that could not be written.
	Errs []error
}

// Receive writes blobs into the directory and rewrites content so that it
// refers to the new files:
//
//  1. the directory is reset;
//  2. file names come from the last path segment of each URL in the
//     sender's uri-list, in order;
//  3. each blob is written under its name and a new reference appended;
//  4. NUL and CR bytes are stripped from every value, then every original
//     URL is replaced with its new reference;
//  5. the value of the last format (in key order) is duplicated under the
//     GNOME "copied files" format so Nautilus can paste the drop.
//
// A failure to prepare the directory is returned as an error; per-file
// write failures are collected in Received.Errs and the transfer continues.
func (s *Store) Receive(blobs [][]byte, content mime.Content) (*Received, error) {
	if err := s.Reset(); err != nil {
		return nil, err
	}

	urls := content.URLs()
	res := &Received{}
	used := make(map[string]bool, len(blobs))
	newRefs := make([]string, len(blobs))
	for i, data := range blobs {
		var name string
		if i < len(urls) {
			name = nameFromURL(urls[i])
		}
		if name == "" {
			name = fmt.Sprintf("file-%d", i+1)
		}
		name = uniqueName(name, used)

		p := filepath.Join(s.Dir, name)
		if err := os.WriteFile(p, data, FilePermissions); err != nil {
			slog.Warn("transfer: file could not be written", "path", p, "err", err)
			res.Errs = append(res.Errs, &FileError{Op: "write", Path: p, Err: err})
			continue
		}
		newRefs[i] = s.Scheme.Ref(p)
		res.Paths = append(res.Paths, newRefs[i])
	}

	var pairs []string
	for i, u := range urls {
		if i < len(newRefs) && newRefs[i] != "" {
			pairs = append(pairs, u, newRefs[i])
		}
	}
	res.Content = Rewrite(content, pairs)

	if keys := res.Content.Keys(); len(keys) > 0 {
		last := res.Content[keys[len(keys)-1]]
		res.Content[mime.GnomeCopied] = bytes.Clone(last)
	}
	return res, nil
}

// Rewrite returns a copy of content with NUL and CR bytes removed from every
// value and each old→new pair in replacements substituted. Replacements are
// applied in a single pass, so a new reference is never rewritten again.
// Longer old values are tried first, so a locator that extends another one
// still maps to its own reference.
func Rewrite(content mime.Content, replacements []string) mime.Content {
	var r *strings.Replacer
	if len(replacements) > 0 {
		r = strings.NewReplacer(longestFirst(replacements)...)
	}
	out := make(mime.Content, len(content))
	for k, v := range content {
		v = StripLegacy(v)
		if r != nil {
			v = []byte(r.Replace(string(v)))
		}
		out[k] = v
	}
	return out
}

// longestFirst reorders old→new pairs by descending old length.
// strings.Replacer prefers earlier pairs over longer matches.
func longestFirst(pairs []string) []string {
	type pair struct{ old, new string }
	ps := make([]pair, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ps = append(ps, pair{pairs[i], pairs[i+1]})
	}
	slices.SortStableFunc(ps, func(a, b pair) int { return len(b.old) - len(a.old) })
	out := make([]string, 0, len(ps)*2)
	for _, p := range ps {
		out = append(out, p.old, p.new)
	}
	return out
}

// StripLegacy removes NUL and CR bytes, which legacy producers used as
// padding and separators inside path-bearing formats.
func StripLegacy(v []byte) []byte {
	out := make([]byte, 0, len(v))
	for _, c := range v {
		if c != 0 && c != '\r' {
			out = append(out, c)
		}
	}
	return out
}

// nameFromURL returns the last non-empty path segment of a locator, or "" if
// none is usable as a file name.
func nameFromURL(u string) string {
	segs := strings.FieldsFunc(u, func(r rune) bool { return r == '/' || r == '\\' })
	if len(segs) == 0 {
		return ""
	}
	name := segs[len(segs)-1]
	if dec, err := url.PathUnescape(name); err == nil {
		name = dec
	}
	name = filepath.Base(name)
	if name == "." || name == ".." || name == string(filepath.Separator) || strings.HasSuffix(name, ":") {
		return ""
	}
	return name
}

func uniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
	used[candidate] = true
	return candidate
}
