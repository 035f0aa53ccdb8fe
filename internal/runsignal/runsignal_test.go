package runsignal

import (
	"context"
	"testing"
	"time"
)

func TestRunCancelsWhenCommandExits(t *testing.T) {
	shuttleErr := make(chan error)
	ctx, cancel := Run(context.Background(), "true", shuttleErr)
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled after command exit")
	}
}

func TestRunCancelsWhenShuttleFails(t *testing.T) {
	shuttleErr := make(chan error, 1)
	ctx, cancel := Run(context.Background(), "", shuttleErr)
	defer cancel()

	shuttleErr <- context.DeadlineExceeded

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled after shuttle failure")
	}
}

func TestRunCancelsWhenParentCancelled(t *testing.T) {
	parent, parentCancel := context.WithCancel(context.Background())
	shuttleErr := make(chan error)
	ctx, cancel := Run(parent, "", shuttleErr)
	defer cancel()

	parentCancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled after parent cancellation")
	}
}
