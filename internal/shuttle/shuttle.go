// Package shuttle ferries packets between the tunnel adapter and the active
// protocol client in both directions, structured the way the Caerulean
// server's protocol/port_server.go Serve shapes its own two-goroutine
// read/write split, but driving one tunnel<->peer pair instead of a
// dictionary of viridians.
package shuttle

import (
	"context"
	"fmt"

	"github.com/pseusys/betterbuf"
	"github.com/sirupsen/logrus"
)

// Tunnel is the subset of internal/tunnel.Adapter the shuttle depends on.
type Tunnel interface {
	Recv(ctx context.Context) (*betterbuf.Buffer, error)
	Send(ctx context.Context, packet *betterbuf.Buffer) error
}

// Peer is the subset either protocol client exposes to the shuttle.
type Peer interface {
	Read(ctx context.Context) (*betterbuf.Buffer, error)
	Write(ctx context.Context, packet *betterbuf.Buffer) error
}

// Run drives both ferry directions until ctx is cancelled or either
// direction's I/O fails, whichever comes first. It returns the first error
// encountered (nil on clean cancellation), after both goroutines have
// returned; cancellation always wins over in-flight I/O.
func Run(ctx context.Context, tunnel Tunnel, peer Peer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 2)
	go func() { errChan <- ferry(ctx, "tunnel->peer", tunnel.Recv, peer.Write) }()
	go func() { errChan <- ferry(ctx, "peer->tunnel", peer.Read, tunnel.Send) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errChan; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

// ferry repeatedly reads one packet with read and hands it to write, until
// ctx is cancelled or either call fails. A cancellation is not reported as
// an error: it is the expected way every ferry direction ends.
func ferry(ctx context.Context, direction string, read func(context.Context) (*betterbuf.Buffer, error), write func(context.Context, *betterbuf.Buffer) error) error {
	for {
		packet, err := read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("shuttle %s: read failed: %w", direction, err)
		}

		if err := write(ctx, packet); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("shuttle %s: write failed: %w", direction, err)
		}
	}
}

// LogOutcome logs the shuttle's terminal state: a single line on clean
// shutdown, the last error otherwise.
func LogOutcome(err error) {
	if err == nil {
		logrus.Info("terminated gracefully")
	} else {
		logrus.Errorf("shuttle terminated with error: %v", err)
	}
}
