// Package tcppeer carries clipboard messages over a raw framed TCP
// connection and feeds inbound ones to the bridge.
package tcppeer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/clipshare/internal/bridge"
	"go.klb.dev/clipshare/internal/wire"
)

const (
	pingInterval = 15 * time.Second
	pongDeadline = 10 * time.Second
	sendQueue    = 16
)

// ErrClosed is returned by Send after the connection has gone away.
var ErrClosed = errors.New("peer connection closed")

// ErrQueueFull is returned by Send when the writer cannot keep up.
var ErrQueueFull = errors.New("peer send queue full")

// Sink is the side of the bridge a peer talks to.
type Sink interface {
	Attach(bridge.Transport)
	Detach(bridge.Transport)
	Receive(b []byte) error
}

type outFrame struct {
	typ     wire.Type
	payload []byte
}

// Peer wraps a single TCP connection as a bridge.Transport.
type Peer struct {
	id     string
	conn   *wire.Conn
	sink   Sink
	sendCh chan outFrame
	pongCh chan struct{}
	done   chan struct{}
	once   sync.Once

	lastSeen atomic.Int64 // UnixNano
	applying atomic.Bool  // sink.Receive in progress
	writing  atomic.Bool  // a frame is being written

	// PingInterval and PongDeadline tune the keepalive; zero uses defaults.
	PingInterval time.Duration
	PongDeadline time.Duration
}

// New creates a Peer for conn. key may be nil to disable encryption.
func New(conn net.Conn, sink Sink, key *[32]byte) *Peer {
	p := &Peer{
		id:     uuid.NewString(),
		conn:   wire.New(conn, key),
		sink:   sink,
		sendCh: make(chan outFrame, sendQueue),
		pongCh: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.lastSeen.Store(time.Now().UnixNano())
	return p
}

// ID is a per-connection session id.
func (p *Peer) ID() string { return p.id }

// SetMaxFrameSize bounds inbound frames.
func (p *Peer) SetMaxFrameSize(n int) { p.conn.MaxFrameSize = n }

// LastSeen returns when the peer last sent anything.
func (p *Peer) LastSeen() time.Time { return time.Unix(0, p.lastSeen.Load()) }

// Send queues one serialized message for the peer.
func (p *Peer) Send(b []byte) error {
	return p.enqueue(outFrame{typ: wire.FrameMessage, payload: b})
}

func (p *Peer) enqueue(f outFrame) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.sendCh <- f:
		return nil
	case <-p.done:
		return ErrClosed
	default:
		slog.Warn("tcp send queue full, dropping", "peer", p.id, "frame", f.typ)
		return ErrQueueFull
	}
}

// Close ends the connection; Serve returns shortly after.
func (p *Peer) Close() error {
	p.once.Do(func() { close(p.done) })
	return p.conn.Close()
}

func (p *Peer) notifyAlive() {
	p.lastSeen.Store(time.Now().UnixNano())
	select {
	case p.pongCh <- struct{}{}:
	default:
	}
}

// Serve attaches to the sink and runs the read, write and ping loops until
// the connection fails or ctx is done.
func (p *Peer) Serve(ctx context.Context) error {
	log := slog.With("peer", p.id, "addr", p.conn.RemoteAddr())
	defer p.Close()

	p.sink.Attach(p)
	defer p.sink.Detach(p)
	log.Info("peer connected")

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Close()
		case <-p.done:
		}
	}()

	// Writer
	go func() {
		for {
			select {
			case <-p.done:
				return
			case f := <-p.sendCh:
				p.writing.Store(true)
				err := p.conn.WriteFrame(f.typ, f.payload)
				p.writing.Store(false)
				if err != nil {
					log.Error("write failed", "err", err)
					_ = p.Close()
					return
				}
			}
		}
	}()

	// An early ping lets a listener that sniffs the first bytes (cmux)
	// route the connection before either side has a message to send.
	_ = p.enqueue(outFrame{typ: wire.FramePing})
	go p.keepalive(log)

	for {
		f, err := p.conn.ReadFrame()
		if err != nil {
			select {
			case <-p.done:
				return nil
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Info("connection closed")
				return nil
			}
			return fmt.Errorf("read from %s: %w", p.conn.RemoteAddr(), err)
		}

		p.notifyAlive()

		switch f.Type {
		case wire.FrameMessage:
			p.applying.Store(true)
			err := p.sink.Receive(f.Payload)
			p.applying.Store(false)
			p.lastSeen.Store(time.Now().UnixNano())
			if err != nil {
				log.Warn("message dropped", "err", err)
			}
		case wire.FramePing:
			_ = p.enqueue(outFrame{typ: wire.FramePong})
		case wire.FramePong:
			// handled by notifyAlive
		default:
			log.Warn("unexpected frame type", "type", f.Type)
		}
	}
}

func (p *Peer) keepalive(log *slog.Logger) {
	interval, deadline := p.PingInterval, p.PongDeadline
	if interval <= 0 {
		interval = pingInterval
	}
	if deadline <= 0 {
		deadline = pongDeadline
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		if err := p.enqueue(outFrame{typ: wire.FramePing}); errors.Is(err, ErrClosed) {
			return
		}
		if !p.awaitPong(deadline) {
			log.Warn("pong timeout, closing")
			_ = p.Close()
			return
		}
	}
}

// awaitPong waits for the answer to a ping. A peer that is mid-transfer in
// either direction, or whose bytes are still arriving, counts as alive.
func (p *Peer) awaitPong(deadline time.Duration) bool {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		select {
		case <-p.pongCh:
			return true
		case <-p.done:
			return true
		case <-timer.C:
			if p.applying.Load() || p.writing.Load() || time.Since(p.conn.LastRead()) < deadline {
				timer.Reset(deadline)
				continue
			}
			return false
		}
	}
}

// Dial connects to addr and returns an unstarted Peer.
func Dial(ctx context.Context, addr string, sink Sink, key *[32]byte) (*Peer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, sink, key), nil
}

// Serve accepts connections on ln and runs a Peer for each until ctx is
// done. A newer connection replaces the previously attached one.
func Serve(ctx context.Context, ln net.Listener, sink Sink, key *[32]byte, maxFrame int) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		p := New(conn, sink, key)
		p.SetMaxFrameSize(maxFrame)
		go func() {
			if err := p.Serve(ctx); err != nil {
				slog.Warn("peer ended", "peer", p.ID(), "err", err)
			}
		}()
	}
}
