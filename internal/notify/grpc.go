package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName      = "meetlog.v1.Notifications"
	subscribeMethod  = "/" + serviceName + "/Subscribe"
	defaultKeepalive = 2 * time.Minute
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// NotificationsServer streams lifecycle events to subscribers.
type NotificationsServer interface {
	Subscribe(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

var notificationsServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NotificationsServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "meetlog/v1/notifications.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(NotificationsServer).Subscribe(req, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// GRPCServer serves hub events over gRPC.
type GRPCServer struct {
	hub    *Hub
	buffer int
	logger *slog.Logger
}

// RegisterGRPC registers the notifications service for hub on s.
func RegisterGRPC(s grpc.ServiceRegistrar, hub *Hub, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &GRPCServer{hub: hub, buffer: 64, logger: logger}
	s.RegisterService(&notificationsServiceDesc, srv)
	return srv
}

// Subscribe streams every event published after the call until the client
// goes away or the hub closes.
func (s *GRPCServer) Subscribe(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	events, unsubscribe := s.hub.Subscribe(s.buffer)
	defer unsubscribe()

	s.logger.Info("[NOTIFY] gRPC subscriber connected")
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[NOTIFY] gRPC subscriber disconnected")
			return nil
		case rec, ok := <-events:
			if !ok {
				return nil
			}
			msg, err := structpb.NewStruct(Encode(rec.Event))
			if err != nil {
				s.logger.Error("[NOTIFY] Failed to encode event", "error", err, "type", rec.Event.Kind())
				continue
			}
			if err := stream.Send(msg); err != nil {
				return fmt.Errorf("send event: %w", err)
			}
		}
	}
}

// Client subscribes to a remote notifications service.
type Client struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewClient connects to the notifications service at addr and waits until the
// connection is ready or ctx expires. Extra options are appended to the
// defaults (insecure transport, keepalive).
func NewClient(ctx context.Context, addr string, logger *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                defaultKeepalive,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to meetlog at %s: %w", addr, err)
	}

	if err := waitForReady(ctx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("meetlog at %s not ready: %w", addr, err)
	}

	logger.Debug("Connected to meetlog notifications", "address", addr)
	return &Client{conn: conn, addr: addr, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Events yields events until ctx is done or the stream ends.
func (c *Client) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		cs, err := c.conn.NewStream(ctx, &notificationsServiceDesc.Streams[0], subscribeMethod)
		if err != nil {
			yield(nil, fmt.Errorf("subscribe failed: %w", err))
			return
		}
		stream := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: cs}
		if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
			yield(nil, fmt.Errorf("subscribe failed: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, fmt.Errorf("subscribe failed: %w", err))
			return
		}

		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("event stream error: %w", err))
				return
			}
			ev, err := Decode(msg.AsMap())
			if err != nil {
				c.logger.Warn("Skipping undecodable event", "error", err)
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
