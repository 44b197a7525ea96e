// Package ipc is the local control channel between the clipshare daemon and
// the send/restore/status commands.
//
// The channel uses the same length-prefixed frames as the peer connection,
// unencrypted, over a Unix domain socket (a named pipe on Windows). Each
// connection carries one request frame and one reply frame.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"go.klb.dev/clipshare/internal/bridge"
	"go.klb.dev/clipshare/internal/wire"
)

const requestTimeout = 10 * time.Second

// ErrNotRunning is returned by Request when no daemon is listening.
var ErrNotRunning = errors.New("clipshare daemon is not running")

// SocketPath returns the platform-appropriate path for the control socket.
//
//   - $CLIPSHARE_SOCKET when set
//   - Linux:   $XDG_RUNTIME_DIR/clipshare.sock, else $TMPDIR/clipshare.sock
//   - Windows: \\.\pipe\clipshare
func SocketPath() string {
	if s := os.Getenv("CLIPSHARE_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a daemon appears to be listening. It does a
// cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := dialIPC(SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// ErrAlreadyRunning is returned by Listen when another daemon answers on
// the control socket.
var ErrAlreadyRunning = errors.New("clipshare daemon is already running")

// Listen creates the control socket, removing a stale one from a previous
// run first. A socket some other daemon still answers on is left alone.
func Listen() (net.Listener, error) {
	path := SocketPath()
	if IsRunning() {
		return nil, fmt.Errorf("ipc listen %s: %w", path, ErrAlreadyRunning)
	}
	removeStale(path)
	ln, err := listenIPC(path)
	if err != nil {
		return nil, fmt.Errorf("ipc listen %s: %w", path, err)
	}
	return ln, nil
}

// Controller is what the daemon exposes over the control socket.
type Controller interface {
	Send() error
	Restore() error
	Status() bridge.Status
}

// StatusReply is the payload of a FrameAck answering FrameStatus.
type StatusReply struct {
	Version    string    `json:"version"`
	Backend    string    `json:"backend"`
	Transport  string    `json:"transport"`
	Peer       string    `json:"peer,omitempty"`
	Attached   bool      `json:"attached"`
	Received   int       `json:"received"`
	Sent       int       `json:"sent"`
	SnapshotAt time.Time `json:"snapshot_at,omitzero"`
	Notices    []string  `json:"notices,omitempty"`
}

// Server answers control requests for one Controller.
type Server struct {
	Ctl Controller
	// Describe fills the fields of a status reply that the bridge does not
	// know about. Optional.
	Describe func(*StatusReply)
}

// Serve accepts control connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
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
			return fmt.Errorf("ipc accept: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	wc := wire.New(conn, nil)
	wc.SetReadDeadline(requestTimeout)

	req, err := wc.ReadFrame()
	if err != nil {
		slog.Debug("ipc: read failed", "err", err)
		return
	}
	wc.SetReadDeadline(0)
	slog.Debug("ipc: request", "frame", req.Type)

	reply := func(err error) {
		if err != nil {
			_ = wc.WriteFrame(wire.FrameError, []byte(err.Error()))
			return
		}
		_ = wc.WriteFrame(wire.FrameAck, nil)
	}

	switch req.Type {
	case wire.FrameSend:
		reply(s.Ctl.Send())
	case wire.FrameRestore:
		reply(s.Ctl.Restore())
	case wire.FrameStatus:
		st := s.Ctl.Status()
		out := StatusReply{
			Backend:    st.Backend,
			Attached:   st.Attached,
			Received:   st.Received,
			Sent:       st.Sent,
			SnapshotAt: st.SnapshotAt,
		}
		if s.Describe != nil {
			s.Describe(&out)
		}
		b, err := json.Marshal(out)
		if err != nil {
			reply(err)
			return
		}
		_ = wc.WriteFrame(wire.FrameAck, b)
	default:
		reply(fmt.Errorf("unsupported request %s", req.Type))
	}
}

// Request sends one control frame to the daemon and returns the payload of
// its acknowledgement.
func Request(ctx context.Context, t wire.Type) ([]byte, error) {
	conn, err := dialIPC(SocketPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotRunning, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(requestTimeout))
	}

	wc := wire.New(conn, nil)
	if err := wc.WriteFrame(t, nil); err != nil {
		return nil, fmt.Errorf("ipc write: %w", err)
	}
	resp, err := wc.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("ipc read: %w", err)
	}
	switch resp.Type {
	case wire.FrameAck:
		return resp.Payload, nil
	case wire.FrameError:
		return nil, fmt.Errorf("daemon: %s", resp.Payload)
	default:
		return nil, fmt.Errorf("unexpected reply %s", resp.Type)
	}
}

// RequestStatus asks the daemon for its status.
func RequestStatus(ctx context.Context) (*StatusReply, error) {
	b, err := Request(ctx, wire.FrameStatus)
	if err != nil {
		return nil, err
	}
	var st StatusReply
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}
