// Package runsignal drives process-level termination: it raises a shared
// cancellation the moment an OS termination signal arrives, a user-supplied
// subprocess exits, or the shuttle itself fails.
package runsignal

import (
	"context"
	"os/signal"

	"github.com/sirupsen/logrus"
)

// Run returns a context cancelled the first time any of the following
// happens: a termination signal arrives, command (if non-empty) finishes
// running, or shuttleErr receives a value (or is closed). The caller must
// invoke the returned cancel once done, to release the signal subscription.
func Run(parent context.Context, command string, shuttleErr <-chan error) (context.Context, context.CancelFunc) {
	signalCtx, stopSignals := signal.NotifyContext(parent, terminationSignals...)
	ctx, cancel := context.WithCancel(signalCtx)

	commandDone := runCommand(signalCtx, command)

	go func() {
		defer stopSignals()
		select {
		case <-signalCtx.Done():
			logrus.Info("received termination signal")
		case err, ok := <-shuttleErr:
			if ok && err != nil {
				logrus.Errorf("shuttle failed: %v", err)
			}
		case err := <-commandDone:
			if err != nil {
				logrus.Warnf("command exited with error: %v", err)
			} else {
				logrus.Info("command completed")
			}
		}
		cancel()
	}()

	return ctx, cancel
}

// runCommand spawns command (if non-empty) in the platform shell and reports
// its exit on the returned channel. If command is empty, the channel is
// never written to, so a select on it simply never fires.
func runCommand(ctx context.Context, command string) <-chan error {
	done := make(chan error, 1)
	if command == "" {
		return done
	}

	cmd := shellCommand(ctx, command)
	go func() {
		logrus.Infof("running command: %s", command)
		done <- cmd.Run()
	}()
	return done
}
