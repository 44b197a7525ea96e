// Package wire handles reading and writing length-prefixed frames over a
// net.Conn, with optional NaCl secretbox encryption.
//
// Wire format (unencrypted):
//
//	[ 4-byte big-endian length ][ 1-byte type ][ payload ]
//
// Wire format (encrypted):
//
//	[ 4-byte big-endian length ][ secretbox(type + payload) ]
//
// The length always counts the bytes that follow it, so the framing logic
// is identical in both cases.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.klb.dev/clipshare/internal/crypto"
)

const (
	// DefaultMaxFrameSize is the largest frame body we will read (256 MiB).
	DefaultMaxFrameSize = 256 * 1024 * 1024

	// A write may take writeDeadline plus the time to push its bytes at
	// minWriteRate, so large frames over slow links still complete.
	writeDeadline = 30 * time.Second
	minWriteRate  = 256 * 1024 // bytes per second
)

// ErrFrameTooLarge is returned when a peer announces a frame over the limit.
var ErrFrameTooLarge = errors.New("frame too large")

// Type identifies what a frame carries.
type Type byte

const (
	// FrameMessage carries one serialized clipboard message.
	FrameMessage Type = iota + 1
	FramePing
	FramePong
	// FrameSend, FrameRestore and FrameStatus are local control requests.
	FrameSend
	FrameRestore
	FrameStatus
	// FrameAck answers a control request; its payload is optional detail.
	FrameAck
	// FrameError answers a failed control request with a message.
	FrameError
)

func (t Type) String() string {
	switch t {
	case FrameMessage:
		return "message"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameSend:
		return "send"
	case FrameRestore:
		return "restore"
	case FrameStatus:
		return "status"
	case FrameAck:
		return "ack"
	case FrameError:
		return "error"
	default:
		return fmt.Sprintf("frame(%d)", byte(t))
	}
}

// Frame is one decoded frame.
type Frame struct {
	Type    Type
	Payload []byte
}

// Conn wraps a net.Conn with buffered length-prefixed framing and optional
// encryption. Writes are serialized; reads must come from one goroutine.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	key  *[32]byte // nil = no encryption

	// MaxFrameSize bounds the body of inbound frames. Zero means
	// DefaultMaxFrameSize.
	MaxFrameSize int

	wmu      sync.Mutex
	lastRead atomic.Int64 // UnixNano of the last byte received
}

// activity records the time of every successful read from the connection.
type activity struct {
	r    io.Reader
	last *atomic.Int64
}

func (a activity) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.last.Store(time.Now().UnixNano())
	}
	return n, err
}

// New wraps conn. If key is non-nil every frame is encrypted with NaCl
// secretbox before being written and decrypted after being read.
func New(conn net.Conn, key *[32]byte) *Conn {
	c := &Conn{conn: conn, key: key}
	c.br = bufio.NewReaderSize(activity{r: conn, last: &c.lastRead}, 64*1024)
	c.lastRead.Store(time.Now().UnixNano())
	return c
}

// LastRead returns when bytes last arrived, including bytes of a frame that
// is still being read.
func (c *Conn) LastRead() time.Time { return time.Unix(0, c.lastRead.Load()) }

// WriteTimeout is the deadline WriteFrame allows for n bytes.
func WriteTimeout(n int) time.Duration {
	return writeDeadline + time.Duration(n/minWriteRate)*time.Second
}

// Underlying returns the underlying net.Conn.
func (c *Conn) Underlying() net.Conn { return c.conn }

// SetReadDeadline sets or clears the read deadline.
func (c *Conn) SetReadDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) maxFrame() int {
	if c.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return c.MaxFrameSize
}

// WriteFrame writes one frame, encrypting it first when a key is set.
func (c *Conn) WriteFrame(t Type, payload []byte) error {
	body := make([]byte, 0, 1+len(payload))
	body = append(body, byte(t))
	body = append(body, payload...)
	if c.key != nil {
		ct, err := crypto.Seal(body, c.key)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		body = ct
	}
	if uint64(len(body)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, len(body))
	}

	buf := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	buf = append(buf, body...)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout(len(buf))))
	_, err := c.conn.Write(buf)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// ReadFrame reads one frame, decrypting it when a key is set. io.EOF is
// returned unchanged when the peer closes between frames.
func (c *Conn) ReadFrame() (Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	limit := uint64(c.maxFrame()) + 1
	if c.key != nil {
		limit += crypto.Overhead
	}
	if uint64(n) > limit {
		return Frame{}, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, n)
	}
	if n == 0 {
		return Frame{}, errors.New("empty frame")
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(c.br, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	if c.key != nil {
		plain, err := crypto.Open(body, c.key)
		if err != nil {
			return Frame{}, fmt.Errorf("decrypt: %w", err)
		}
		if len(plain) == 0 {
			return Frame{}, errors.New("empty frame")
		}
		body = plain
	}
	return Frame{Type: Type(body[0]), Payload: body[1:]}, nil
}
