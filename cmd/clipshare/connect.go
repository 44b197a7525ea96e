package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"go.klb.dev/clipshare/internal/grpcpeer"
	"go.klb.dev/clipshare/internal/tcppeer"
	"go.klb.dev/clipshare/internal/tlsconf"
)

const (
	minBackoff  = time.Second
	maxBackoff  = 30 * time.Second
	dialTimeout = 10 * time.Second
)

func newConnectCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a peer and share the local clipboard with it",
		Long: `Connects to a peer running "clipshare serve" and keeps the two clipboards
in step. Reconnects automatically with back-off when the connection drops.

Config file search order:
  /etc/clipshare/clipshare.toml
  $HOME/.config/clipshare/clipshare.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPSHARE_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runConnect(cmdContext(cmd), v) },
	}

	f := cmd.Flags()
	f.String("peer", "localhost:"+defaultPort, "peer address (host:port)")
	f.String("transport", "tcp", "transport: tcp|grpc")
	addDaemonFlags(cmd)

	return cmd
}

func runConnect(parent context.Context, v *viper.Viper) error {
	setupLogging(v)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	peer := withDefaultPort(v.GetString("peer"))
	transport := v.GetString("transport")
	var session func(context.Context, *daemon, string) error
	switch transport {
	case "tcp":
		session = tcpSession
	case "grpc":
		session = grpcSession
	default:
		return fmt.Errorf("unknown transport %q (want tcp or grpc)", transport)
	}

	d, err := newDaemon(v, transport, peer)
	if err != nil {
		return err
	}
	defer d.close()
	d.start(ctx, v)

	connectLoop(ctx, d, peer, session)
	return nil
}

// connectLoop runs session until ctx is done, backing off exponentially
// after sessions that fail quickly.
func connectLoop(ctx context.Context, d *daemon, peer string, session func(context.Context, *daemon, string) error) {
	delay := minBackoff
	for ctx.Err() == nil {
		slog.Info("connecting", "peer", peer, "transport", d.transport)
		started := time.Now()
		err := session(ctx, d, peer)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > maxBackoff {
			delay = minBackoff
		}
		slog.Warn("disconnected, reconnecting", "err", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxBackoff)
	}
}

func tcpSession(ctx context.Context, d *daemon, peer string) error {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	p, err := tcppeer.Dial(dctx, peer, d.bridge, d.key)
	cancel()
	if err != nil {
		return err
	}
	p.SetMaxFrameSize(d.maxSize)
	return p.Serve(ctx)
}

func grpcSession(ctx context.Context, d *daemon, peer string) error {
	var creds credentials.TransportCredentials = insecure.NewCredentials()
	if d.token != "" {
		pair, err := tlsconf.New(d.token)
		if err != nil {
			return err
		}
		creds = pair.ClientCredentials()
	}
	cc, err := grpc.NewClient(peer, grpcpeer.DialOptions(d.maxSize, creds, d.token, d.source)...)
	if err != nil {
		return fmt.Errorf("dial %s: %w", peer, err)
	}
	defer cc.Close()
	return grpcpeer.Connect(ctx, cc, d.bridge)
}
