package bridge

import (
	"time"

	"go.klb.dev/clipshare/internal/mime"
)

// Snapshot holds one saved copy of the clipboard. Capturing again discards
// the previous copy; there is no history.
type Snapshot struct {
	content mime.Content
	taken   time.Time
}

// Capture replaces the held copy with a deep copy of c. An empty c is a
// valid snapshot.
func (s *Snapshot) Capture(c mime.Content) {
	s.content = c.Clone()
	s.taken = time.Now()
}

// Restore returns a fresh copy of the held content, or false if nothing has
// been captured yet.
func (s *Snapshot) Restore() (mime.Content, bool) {
	if s.taken.IsZero() {
		return nil, false
	}
	return s.content.Clone(), true
}

// Taken returns when the snapshot was captured, or the zero time.
func (s *Snapshot) Taken() time.Time { return s.taken }
