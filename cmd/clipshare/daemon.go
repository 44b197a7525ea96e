package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"go.klb.dev/clipshare/internal/bridge"
	"go.klb.dev/clipshare/internal/clip"
	"go.klb.dev/clipshare/internal/crypto"
	"go.klb.dev/clipshare/internal/ipc"
	"go.klb.dev/clipshare/internal/message"
	"go.klb.dev/clipshare/internal/notify"
	"go.klb.dev/clipshare/internal/transfer"
)

// daemon is the state shared by serve and connect: one clipboard, one
// bridge, and the settings both transports need.
type daemon struct {
	bridge  *bridge.Bridge
	backend clip.Backend
	recent  *notify.Recent

	token     string
	key       *[32]byte
	maxSize   int
	source    string
	transport string
	peer      string
}

func newDaemon(v *viper.Viper, transport, peer string) (*daemon, error) {
	scheme, err := transfer.ParseScheme(v.GetString("uri-prefix"))
	if err != nil {
		return nil, err
	}
	store, err := transfer.NewStore(v.GetString("temp-dir"), scheme)
	if err != nil {
		return nil, err
	}
	token := v.GetString("token")
	key, err := crypto.KeyFor(token)
	if err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}

	codec := message.NewCodec(store)
	codec.MaxSize = v.GetInt("max-message-size")

	var backend clip.Backend
	switch v.GetString("clipboard") {
	case "memory":
		backend = clip.NewMemory()
	default:
		backend = clip.New()
	}
	recent := notify.NewRecent(8)

	d := &daemon{
		bridge:    bridge.New(backend, codec, notify.Fanout{notify.Log{}, recent}),
		backend:   backend,
		recent:    recent,
		token:     token,
		key:       key,
		maxSize:   codec.MaxSize,
		source:    v.GetString("source"),
		transport: transport,
		peer:      peer,
	}
	slog.Info("clipshare starting",
		"version", Version,
		"clipboard", backend.Name(),
		"transport", transport,
		"temp_dir", store.Dir,
		"uri_prefix", string(scheme),
		"encrypted", token != "",
	)
	return d, nil
}

// start opens the control socket and, when enabled, the auto-send loop.
// Both stop when ctx is done.
func (d *daemon) start(ctx context.Context, v *viper.Viper) {
	if !v.GetBool("no-ipc") {
		ln, err := ipc.Listen()
		if err != nil {
			slog.Warn("IPC socket unavailable", "err", err)
		} else {
			slog.Info("IPC socket listening", "path", ipc.SocketPath())
			srv := &ipc.Server{Ctl: d.bridge, Describe: d.describe}
			go func() {
				if err := srv.Serve(ctx, ln); err != nil {
					slog.Error("IPC server stopped", "err", err)
				}
			}()
		}
	}
	if v.GetBool("auto-send") {
		go d.bridge.Run(ctx)
	}
}

func (d *daemon) describe(r *ipc.StatusReply) {
	r.Version = Version
	r.Transport = d.transport
	r.Peer = d.peer
	for _, n := range d.recent.List() {
		r.Notices = append(r.Notices, fmt.Sprintf("%s  %s: %s", n.At.Format("15:04:05"), n.Title, n.Body))
	}
}

func (d *daemon) close() { d.backend.Close() }
