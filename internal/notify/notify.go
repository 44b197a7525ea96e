// Package notify delivers short user-facing notices (title, body, how long
// to show them). Delivery is fire-and-forget.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Notifier receives notices.
type Notifier interface {
	Notify(title, body string, d time.Duration)
}

// Log writes every notice to the default slog logger.
type Log struct{}

func (Log) Notify(title, body string, d time.Duration) {
	slog.Info(title, "body", body, "duration", d)
}

// Fanout delivers each notice to all of its notifiers in order.
type Fanout []Notifier

func (f Fanout) Notify(title, body string, d time.Duration) {
	for _, n := range f {
		n.Notify(title, body, d)
	}
}

// Notice is one delivered notification.
type Notice struct {
	Title    string
	Body     string
	Duration time.Duration
	At       time.Time
}

// Recent keeps the last few notices so they can be reported by the status
// command.
type Recent struct {
	mu      sync.Mutex
	max     int
	notices []Notice
}

// NewRecent returns a Recent holding at most max notices.
func NewRecent(max int) *Recent {
	if max <= 0 {
		max = 1
	}
	return &Recent{max: max}
}

func (r *Recent) Notify(title, body string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Title: title, Body: body, Duration: d, At: time.Now()})
	if over := len(r.notices) - r.max; over > 0 {
		r.notices = append(r.notices[:0:0], r.notices[over:]...)
	}
}

// List returns the held notices, oldest first.
func (r *Recent) List() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
