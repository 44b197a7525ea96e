package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/soheilhy/cmux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"go.klb.dev/clipshare/internal/grpcpeer"
	"go.klb.dev/clipshare/internal/tcppeer"
	"go.klb.dev/clipshare/internal/tlsconf"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for a peer and share the local clipboard with it",
		Long: `Listens on --addr for one peer. Both transports are served on the
same port: gRPC streams and raw framed TCP are told apart by their first bytes.
A newly connected peer replaces the previous one.

Config file search order:
  /etc/clipshare/clipshare.toml
  $HOME/.config/clipshare/clipshare.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPSHARE_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runServe(cmdContext(cmd), v) },
	}

	f := cmd.Flags()
	f.String("addr", "0.0.0.0:"+defaultPort, "listen address")
	addDaemonFlags(cmd)

	return cmd
}

func runServe(parent context.Context, v *viper.Viper) error {
	setupLogging(v)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := withDefaultPort(v.GetString("addr"))
	d, err := newDaemon(v, "tcp+grpc", addr)
	if err != nil {
		return err
	}
	defer d.close()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	slog.Info("listening", "addr", ln.Addr())
	d.start(ctx, v)

	return serveMux(ctx, ln, d)
}

// serveMux splits ln between the gRPC transport and the raw frame
// transport and serves both until ctx is done. With a token, gRPC runs over
// token-derived TLS and raw frames are sealed with the token key.
func serveMux(ctx context.Context, ln net.Listener, d *daemon) error {
	m := cmux.New(ln)

	var (
		grpcL net.Listener
		creds credentials.TransportCredentials
	)
	if d.token != "" {
		pair, err := tlsconf.New(d.token)
		if err != nil {
			return err
		}
		creds = pair.ServerCredentials()
		grpcL = m.Match(cmux.TLS())
	} else {
		grpcL = m.Match(cmux.HTTP2())
	}
	rawL := m.Match(cmux.Any())

	gs := grpc.NewServer(grpcpeer.ServerOptions(d.maxSize, creds)...)
	grpcpeer.NewServer(d.bridge, d.token).Register(gs)

	errCh := make(chan error, 3)
	go func() { errCh <- gs.Serve(grpcL) }()
	go func() { errCh <- tcppeer.Serve(ctx, rawL, d.bridge, d.key, d.maxSize) }()
	go func() { errCh <- m.Serve() }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		gs.Stop()
		_ = ln.Close()
		return nil
	case err := <-errCh:
		gs.Stop()
		_ = ln.Close()
		if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	}
}
