// Package coordinator drives the control plane: a one-time
// Authenticate+Handshake exchange that bootstraps a data-plane session, and
// a steady-state healthcheck ticker that reinitializes the session on
// failure.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pseusys/betterbuf"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/credentials"

	"github.com/pseusys/seaside-viridian/internal/buffer"
	"github.com/pseusys/seaside-viridian/internal/crypto"
	"github.com/pseusys/seaside-viridian/internal/protocol"
	"github.com/pseusys/seaside-viridian/internal/rpc"
)

// MajorVersion is the protocol version this client advertises to the
// gateway during the control-plane handshake.
const MajorVersion = protocol.MajorVersion

// Session is the outcome of one successful Authenticate+Handshake round:
// the data-plane identity the protocol client needs to complete its own
// wire handshake.
type Session struct {
	UserID     uint16
	SessionKey *betterbuf.Buffer
	Token      *betterbuf.Buffer
	MaxNextIn  uint32
}

// Coordinator owns the control-plane RPC channel and the steady-state
// healthcheck ticker.
type Coordinator struct {
	client         *rpc.Client
	userName       string
	payload        string
	localPort      uint16
	minHealthcheck time.Duration
	maxHealthcheck time.Duration
}

// Dial resolves serverAddr (an A-record only; IPv6 results are rejected)
// and opens an mTLS channel to its control port.
func Dial(ctx context.Context, serverAddr string, controlPort uint16, creds credentials.TransportCredentials, userName, payload string, localPort uint16, minHealthcheck, maxHealthcheck time.Duration) (*Coordinator, error) {
	resolved, err := resolveV4(ctx, serverAddr)
	if err != nil {
		return nil, fmt.Errorf("coordinator: error resolving %q: %w", serverAddr, err)
	}

	client, err := rpc.Dial(ctx, fmt.Sprintf("%s:%d", resolved, controlPort), creds)
	if err != nil {
		return nil, fmt.Errorf("coordinator: error dialing control plane: %w", err)
	}

	return &Coordinator{
		client:         client,
		userName:       userName,
		payload:        payload,
		localPort:      localPort,
		minHealthcheck: minHealthcheck,
		maxHealthcheck: maxHealthcheck,
	}, nil
}

// resolveV4 looks up serverAddr's A-records and returns the first IPv4
// result, rejecting AAAA-only names: the tunnel carries IPv4 only.
func resolveV4(ctx context.Context, serverAddr string) (net.IP, error) {
	if ip := net.ParseIP(serverAddr); ip != nil {
		if ip.To4() == nil {
			return nil, fmt.Errorf("address %s is IPv6, which is unsupported", serverAddr)
		}
		return ip, nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("no A-record found for %s: %w", serverAddr, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no A-record found for %s", serverAddr)
	}
	return ips[0], nil
}

// Close tears down the RPC channel.
func (c *Coordinator) Close() error {
	return c.client.Close()
}

// Connect performs the one-time Authenticate+Handshake setup, returning the
// session a protocol client needs to complete its own wire handshake.
func (c *Coordinator) Connect(ctx context.Context, localIP net.IP) (*Session, error) {
	sessionKey, err := betterbuf.NewRandomBuffer(crypto.SymmetricKeySize)
	if err != nil {
		return nil, fmt.Errorf("coordinator: error generating session key: %w", err)
	}

	authResp, err := c.client.Authenticate(ctx, &rpc.AuthenticateRequest{
		UserName:   c.userName,
		SessionKey: sessionKey.Slice(),
		Payload:    c.payload,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: authenticate failed: %w", err)
	}

	handshakeResp, err := c.client.Handshake(ctx, &rpc.HandshakeRequest{
		Token:     authResp.Token,
		Version:   fmt.Sprintf("%d", MajorVersion),
		Payload:   c.payload,
		LocalIP:   localIP.To4(),
		LocalPort: int32(c.localPort),
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: handshake failed: %w", err)
	}

	logrus.Infof("coordinator: session established, user id %d", handshakeResp.UserID)
	return &Session{
		UserID:     handshakeResp.UserID,
		SessionKey: sessionKey,
		Token:      betterbuf.NewBufferFromSlice(authResp.Token),
		MaxNextIn:  authResp.MaxNextIn,
	}, nil
}

// RunHealthchecks drives the steady-state ticker: on a timer drawn
// uniformly from [minHealthcheck, maxHealthcheck], it sends a Healthcheck
// RPC. A failure is reported on the returned channel, once, and the loop
// exits — the caller (main's coordinator loop) is expected to call Connect
// again and restart RunHealthchecks with the fresh session.
func (c *Coordinator) RunHealthchecks(ctx context.Context, session *Session) <-chan error {
	failed := make(chan error, 1)
	go func() {
		defer close(failed)
		// The gateway's announced ceiling caps how long this client may
		// stay silent between checks.
		maxInterval := time.Duration(session.MaxNextIn) * time.Millisecond
		for {
			interval := jitteredInterval(c.minHealthcheck, c.maxHealthcheck)
			if maxInterval > 0 && interval > maxInterval {
				interval = maxInterval
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}

			nextIn := uint32(interval.Seconds())
			if err := c.client.Healthcheck(ctx, &rpc.HealthcheckRequest{UserID: session.UserID, NextIn: nextIn}); err != nil {
				if ctx.Err() != nil {
					return
				}
				failed <- fmt.Errorf("coordinator: healthcheck failed: %w", err)
				return
			}
		}
	}()
	return failed
}

// Terminate reports, best-effort, that the session is shutting down
// gracefully.
func (c *Coordinator) Terminate(ctx context.Context, userID uint16) {
	c.client.Exception(ctx, &rpc.ExceptionRequest{Status: rpc.ExceptionTermination, UserID: userID})
}

// ReportFailure reports, best-effort, that the session is shutting down
// because of a fatal error.
func (c *Coordinator) ReportFailure(ctx context.Context, userID uint16, cause error) {
	c.client.Exception(ctx, &rpc.ExceptionRequest{Status: rpc.ExceptionError, UserID: userID, Message: cause.Error()})
}

func jitteredInterval(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int(max - min)
	return min + time.Duration(buffer.RandomInteger(0, span))
}
