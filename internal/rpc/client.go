package rpc

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/pseusys/seaside-viridian/internal/buffer"
)

// serviceName is the fully-qualified WhirlpoolViridian gRPC service name:
// Authenticate, Handshake, Healthcheck, Exception.
const serviceName = "whirlpool.WhirlpoolViridian"

// TailHeader is the binary metadata key every call carries a random tail
// on, the same "seaside-tail-bin" convention the gateway expects.
const TailHeader = "seaside-tail-bin"

// MaxTailLength bounds the random per-call metadata tail.
const MaxTailLength = 64

// Client is a thin wrapper over a gRPC ClientConn dialed to a Caerulean
// control port, exposing exactly the four methods the core consumes.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens an mTLS gRPC channel to addr (host:port) using creds built by
// ClientCredentials.
func Dial(ctx context.Context, addr string, creds credentials.TransportCredentials) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: error dialing %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the underlying gRPC channel.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("rpc: error closing channel: %w", err)
	}
	return nil
}

// withTail attaches a random-length tail to the outgoing call metadata,
// frustrating traffic-shape analysis of the control channel the same way
// every wire frame's tail does.
func withTail(ctx context.Context) context.Context {
	tailLength := buffer.RandomInteger(1, MaxTailLength-1)
	tail := buffer.EmbedReliableTailLength(buffer.PacketPool.Get(0), tailLength)
	defer buffer.PacketPool.Put(tail)
	// grpc-go base64-encodes "-bin" metadata values itself; the raw bytes go
	// in as-is.
	return metadata.AppendToOutgoingContext(ctx, TailHeader, string(tail.Slice()))
}

// Authenticate obtains a session token and the gateway's healthcheck-cadence
// ceiling for a freshly generated session key.
func (c *Client) Authenticate(ctx context.Context, req *AuthenticateRequest) (*AuthenticateResponse, error) {
	resp := &AuthenticateResponse{}
	if err := c.conn.Invoke(withTail(ctx), "/"+serviceName+"/Authenticate", req, resp); err != nil {
		return nil, fmt.Errorf("rpc: authenticate failed: %w", err)
	}
	return resp, nil
}

// Handshake replays the session token into the data-plane handshake and
// returns the user-id the gateway assigned.
func (c *Client) Handshake(ctx context.Context, req *HandshakeRequest) (*HandshakeResponse, error) {
	resp := &HandshakeResponse{}
	if err := c.conn.Invoke(withTail(ctx), "/"+serviceName+"/Handshake", req, resp); err != nil {
		return nil, fmt.Errorf("rpc: handshake failed: %w", err)
	}
	return resp, nil
}

// Healthcheck proves liveness and announces the next check-in time.
func (c *Client) Healthcheck(ctx context.Context, req *HealthcheckRequest) error {
	resp := &HealthcheckResponse{}
	if err := c.conn.Invoke(withTail(ctx), "/"+serviceName+"/Healthcheck", req, resp); err != nil {
		return fmt.Errorf("rpc: healthcheck failed: %w", err)
	}
	return nil
}

// Exception reports, best-effort, that the session is being torn down.
// Failures are logged, never returned: callers invoke this on a shutdown
// path that must proceed regardless.
func (c *Client) Exception(ctx context.Context, req *ExceptionRequest) {
	resp := &ExceptionResponse{}
	if err := c.conn.Invoke(withTail(ctx), "/"+serviceName+"/Exception", req, resp); err != nil {
		logrus.Warnf("rpc: best-effort exception notice failed: %v", err)
	}
}
