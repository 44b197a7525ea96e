// Package grpcpeer carries clipboard messages over a gRPC bidirectional
// stream. Each serialized message travels as one BytesValue, so no
// generated stubs are needed.
package grpcpeer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"go.klb.dev/clipshare/internal/bridge"
)

const (
	serviceName  = "clipshare.v1.Bridge"
	exchangeName = "/" + serviceName + "/Exchange"
	sourceHeader = "x-clipshare-source"
	sendQueue    = 16

	// envelopeOverhead covers the BytesValue tag and length varint around a
	// message, so the gRPC limit matches the message size limit.
	envelopeOverhead = 16
)

// ErrClosed is returned by Send after the stream has ended.
var ErrClosed = errors.New("peer stream closed")

// ErrQueueFull is returned by Send when the stream cannot keep up.
var ErrQueueFull = errors.New("peer send queue full")

// Sink is the side of the bridge a stream talks to.
type Sink interface {
	Attach(bridge.Transport)
	Detach(bridge.Transport)
	Receive(b []byte) error
}

type exchanger interface {
	Exchange(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*exchanger)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Exchange",
		Handler:       func(srv any, stream grpc.ServerStream) error { return srv.(exchanger).Exchange(stream) },
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "clipshare/v1/bridge.proto",
}

// msgStream is what grpc.ServerStream and grpc.ClientStream share.
type msgStream interface {
	Context() context.Context
	SendMsg(m any) error
	RecvMsg(m any) error
}

// Stream is one live Exchange call, usable as a bridge.Transport.
type Stream struct {
	id     string
	source string
	s      msgStream
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newStream(s msgStream, source string) *Stream {
	return &Stream{
		id:     uuid.NewString(),
		source: source,
		s:      s,
		sendCh: make(chan []byte, sendQueue),
		done:   make(chan struct{}),
	}
}

// ID is a per-stream session id.
func (st *Stream) ID() string { return st.id }

// Source is the name the remote side announced, if any.
func (st *Stream) Source() string { return st.source }

// Send queues one serialized message for the peer.
func (st *Stream) Send(b []byte) error {
	select {
	case <-st.done:
		return ErrClosed
	default:
	}
	select {
	case st.sendCh <- b:
		return nil
	case <-st.done:
		return ErrClosed
	default:
		slog.Warn("grpc send queue full, dropping", "peer", st.id)
		return ErrQueueFull
	}
}

func (st *Stream) close() { st.once.Do(func() { close(st.done) }) }

// pump attaches st to sink and moves messages both ways until the stream
// ends. The caller owns cancellation of the stream's context.
func (st *Stream) pump(sink Sink) error {
	log := slog.With("peer", st.id, "source", st.source)
	sink.Attach(st)
	defer sink.Detach(st)
	defer st.close()
	log.Info("stream connected")

	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-st.done:
				writeErr <- nil
				return
			case <-st.s.Context().Done():
				writeErr <- nil
				return
			case b := <-st.sendCh:
				if err := st.s.SendMsg(wrapperspb.Bytes(b)); err != nil {
					writeErr <- err
					st.close()
					return
				}
			}
		}
	}()

	for {
		in := new(wrapperspb.BytesValue)
		if err := st.s.RecvMsg(in); err != nil {
			st.close()
			if werr := <-writeErr; werr != nil && !errors.Is(werr, io.EOF) {
				log.Warn("stream write failed", "err", werr)
			}
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				log.Info("stream closed")
				return nil
			}
			return err
		}
		if err := sink.Receive(in.GetValue()); err != nil {
			log.Warn("message dropped", "err", err)
		}
	}
}

// Server serves the Exchange stream. Each new stream replaces the
// previously attached peer.
type Server struct {
	sink  Sink
	token string
}

// NewServer returns a Server feeding sink. token may be empty to disable
// bearer auth.
func NewServer(sink Sink, token string) *Server {
	return &Server{sink: sink, token: token}
}

// Register adds the service to gs.
func (s *Server) Register(gs *grpc.Server) { gs.RegisterService(&serviceDesc, s) }

// Exchange implements the bidirectional message stream.
func (s *Server) Exchange(stream grpc.ServerStream) error {
	ctx := stream.Context()
	if err := s.auth(ctx); err != nil {
		return err
	}
	st := newStream(stream, sourceFromCtx(ctx))
	slog.Debug("exchange started", "peer", st.id, "addr", addrFromCtx(ctx))
	return st.pump(s.sink)
}

// auth validates the bearer token in ctx metadata. Skipped when s.token is
// empty.
func (s *Server) auth(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	const prefix = "Bearer "
	tok := vals[0]
	if len(tok) > len(prefix) && tok[:len(prefix)] == prefix {
		tok = tok[len(prefix):]
	}
	if tok != s.token {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

func sourceFromCtx(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(sourceHeader); len(vals) > 0 {
			return vals[0]
		}
	}
	return addrFromCtx(ctx)
}

func addrFromCtx(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok {
		return p.Addr.String()
	}
	return "unknown"
}

// ServerOptions returns the options a grpc.Server needs to carry messages
// up to maxSize bytes. creds may be nil for plaintext.
func ServerOptions(maxSize int, creds credentials.TransportCredentials) []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(envelopeLimit(maxSize)),
		grpc.MaxSendMsgSize(envelopeLimit(maxSize)),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             15 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}
	return opts
}

// envelopeLimit is the wire size of a BytesValue holding maxSize bytes.
func envelopeLimit(maxSize int) int { return maxSize + envelopeOverhead }

type callCreds struct {
	token  string
	source string
}

func (c *callCreds) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	md := make(map[string]string, 2)
	if c.token != "" {
		md["authorization"] = "Bearer " + c.token
	}
	if c.source != "" {
		md[sourceHeader] = c.source
	}
	return md, nil
}

func (c *callCreds) RequireTransportSecurity() bool { return false }

// DialOptions returns the options a client needs for messages up to maxSize
// bytes, plus bearer auth and the source name when set.
func DialOptions(maxSize int, creds credentials.TransportCredentials, token, source string) []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(envelopeLimit(maxSize)),
			grpc.MaxCallSendMsgSize(envelopeLimit(maxSize)),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if token != "" || source != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&callCreds{token: token, source: source}))
	}
	return opts
}

// Connect opens an Exchange stream on cc and pumps it into sink until the
// stream ends or ctx is done.
func Connect(ctx context.Context, cc grpc.ClientConnInterface, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cs, err := cc.NewStream(ctx, &serviceDesc.Streams[0], exchangeName)
	if err != nil {
		return fmt.Errorf("open exchange stream: %w", err)
	}
	err = newStream(cs, "server").pump(sink)
	_ = cs.CloseSend()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
