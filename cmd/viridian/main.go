// Command viridian is the Seaside VPN client: it captures IP traffic from a
// TUN device, carries it to a Caerulean gateway over either the PORT or
// TYPHOON wire protocol, and reinjects returned traffic.
package main

import (
	"context"
	"fmt"
	"io"
	"log/syslog"
	"net"
	"os"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	logrusSyslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/sirupsen/logrus/hooks/writer"

	"github.com/pseusys/seaside-viridian/internal/certificate"
	"github.com/pseusys/seaside-viridian/internal/config"
	"github.com/pseusys/seaside-viridian/internal/coordinator"
	"github.com/pseusys/seaside-viridian/internal/crypto"
	"github.com/pseusys/seaside-viridian/internal/protocol/port"
	"github.com/pseusys/seaside-viridian/internal/protocol/typhoon"
	"github.com/pseusys/seaside-viridian/internal/rpc"
	"github.com/pseusys/seaside-viridian/internal/runsignal"
	"github.com/pseusys/seaside-viridian/internal/shuttle"
	"github.com/pseusys/seaside-viridian/internal/tunnel"
)

const defaultLogLevel = "INFO"

func initLogging() {
	unparsedLevel := config.GetEnv("SEASIDE_LOG_LEVEL", defaultLogLevel)
	level, err := logrus.ParseLevel(unparsedLevel)
	if err != nil {
		logrus.Fatalf("error parsing log level environment variable: %v", unparsedLevel)
	}
	logrus.SetLevel(level)

	hook, err := logrusSyslog.NewSyslogHook("udp", "localhost:514", syslog.LOG_INFO, "seaside-viridian")
	if err != nil {
		logrus.Debug("unable to connect to local syslog daemon, continuing without it")
	} else {
		logrus.AddHook(hook)
	}

	logrus.SetOutput(io.Discard)
	logrus.AddHook(&writer.Hook{
		Writer:    os.Stderr,
		LogLevels: []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel},
	})
	logrus.AddHook(&writer.Hook{
		Writer:    os.Stdout,
		LogLevels: []logrus.Level{logrus.InfoLevel, logrus.DebugLevel},
	})

	logPath := config.GetEnv("SEASIDE_LOG_PATH", "logs")
	logrus.AddHook(lfshook.NewHook(
		lfshook.PathMap{
			logrus.PanicLevel: fmt.Sprintf("%s/danger.log", logPath),
			logrus.FatalLevel: fmt.Sprintf("%s/danger.log", logPath),
			logrus.ErrorLevel: fmt.Sprintf("%s/danger.log", logPath),
			logrus.WarnLevel:  fmt.Sprintf("%s/danger.log", logPath),
			logrus.InfoLevel:  fmt.Sprintf("%s/safe.log", logPath),
			logrus.DebugLevel: fmt.Sprintf("%s/safe.log", logPath),
		},
		new(logrus.JSONFormatter),
	))
}

// peer is the subset of either protocol client's API the run loop needs
// beyond what shuttle.Peer already asks for: tearing the session down.
type peer interface {
	shuttle.Peer
	Terminate() error
}

func connectPeer(ctx context.Context, protocolName string, cert *certificate.Certificate, asym *crypto.Asymmetric, localAddr net.IP, session *coordinator.Session, cfg *config.Tunables) (peer, uint32, error) {
	switch protocolName {
	case "port":
		authPort, err := cert.Port("port")
		if err != nil {
			return nil, 0, err
		}
		client := port.NewClient(localAddr, time.Duration(cfg.PortTimeout*float64(time.Second)), cfg.PortTailLength)
		if err := client.Connect(ctx, cert.Address, authPort, asym, cfg.UserName, session.Token); err != nil {
			return nil, 0, fmt.Errorf("error connecting PORT client: %w", err)
		}
		return client, 0, nil

	case "typhoon":
		authPort, err := cert.Port("typhoon")
		if err != nil {
			return nil, 0, err
		}
		// Environment tunables are expressed in seconds; the wire protocol
		// and the estimator count milliseconds.
		const msPerSec = 1000
		tunables := typhoon.Tunables{
			Alpha: cfg.TyphoonAlpha, Beta: cfg.TyphoonBeta,
			DefaultRTT: cfg.TyphoonDefaultRTT * msPerSec, MinRTT: cfg.TyphoonMinRTT * msPerSec, MaxRTT: cfg.TyphoonMaxRTT * msPerSec,
			RTTMult:           cfg.TyphoonRTTMult,
			MinTimeout:        cfg.TyphoonMinTimeout * msPerSec,
			MaxTimeout:        cfg.TyphoonMaxTimeout * msPerSec,
			DefaultTimeout:    cfg.TyphoonDefaultTimeout * msPerSec,
			MinNextIn:         cfg.TyphoonMinNextIn * msPerSec,
			MaxNextIn:         cfg.TyphoonMaxNextIn * msPerSec,
			InitialNextInMult: cfg.TyphoonInitialNextIn,
			MaxRetries:        cfg.TyphoonMaxRetries,
			MaxTailLength:     cfg.TyphoonMaxTailLength,
		}
		client := typhoon.NewClient(localAddr, tunables)
		nextIn, err := client.Connect(ctx, cert.Address, authPort, asym, cfg.UserName, session.Token)
		if err != nil {
			return nil, 0, fmt.Errorf("error connecting TYPHOON client: %w", err)
		}
		return client, nextIn, nil

	default:
		return nil, 0, fmt.Errorf("unknown protocol %q", protocolName)
	}
}

// runSession owns the control-plane channel for the run's lifetime and
// reinitializes the session (fresh session key, fresh user-id) whenever a
// healthcheck RPC fails. Any other failure (a broken tunnel/peer ferry, a
// rejected handshake, the driving context itself ending) is terminal.
func runSession(ctx context.Context, opts *options, cfg *config.Tunables, cert *certificate.Certificate, asym *crypto.Asymmetric, adapter *tunnel.Adapter, localIP net.IP) error {
	creds, err := rpc.ClientCredentialsFromFiles(cfg.CACertPath, cfg.ClientCertPath, cfg.ClientKeyPath, cert.Address)
	if err != nil {
		return fmt.Errorf("error building control-plane credentials: %w", err)
	}

	coord, err := coordinator.Dial(ctx, cert.Address, cfg.ControlPort, creds, cfg.UserName, cfg.Payload, 0,
		time.Duration(cfg.MinHealthcheck)*time.Second, time.Duration(cfg.MaxHealthcheck)*time.Second)
	if err != nil {
		return fmt.Errorf("error dialing control plane: %w", err)
	}
	defer coord.Close()

	for {
		reconnect, err := runAttempt(ctx, opts, cfg, cert, asym, adapter, localIP, coord)
		if !reconnect {
			return err
		}
		logrus.Warnf("reinitializing control-plane session: %v", err)
	}
}

// runAttempt drives one session: a control-plane handshake, a protocol
// client connection, and the ferry between them. It returns (true, err)
// when the caller should reinitialize the session (a healthcheck RPC
// failure), and (false, err) for every terminal outcome.
func runAttempt(ctx context.Context, opts *options, cfg *config.Tunables, cert *certificate.Certificate, asym *crypto.Asymmetric, adapter *tunnel.Adapter, localIP net.IP, coord *coordinator.Coordinator) (bool, error) {
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	session, err := coord.Connect(attemptCtx, localIP)
	if err != nil {
		return false, fmt.Errorf("error establishing control-plane session: %w", err)
	}

	client, initialNextIn, err := connectPeer(attemptCtx, opts.protocol, cert, asym, localIP, session, cfg)
	if err != nil {
		coord.ReportFailure(attemptCtx, session.UserID, err)
		return false, err
	}
	defer client.Terminate()

	// decayErr stays nil, and so is never ready, for a PORT session.
	var decayErr chan error
	if typhoonClient, ok := client.(*typhoon.Client); ok {
		decayErr = make(chan error, 1)
		go typhoonClient.StartDecay(attemptCtx, initialNextIn, decayErr)
	}

	shuttleErr := make(chan error, 1)
	go func() { shuttleErr <- shuttle.Run(attemptCtx, adapter, client) }()

	healthcheckFailed := coord.RunHealthchecks(attemptCtx, session)

	select {
	case <-ctx.Done():
		coord.Terminate(context.Background(), session.UserID)
		cancelAttempt()
		return false, <-shuttleErr
	case err := <-healthcheckFailed:
		if err == nil {
			// healthcheck loop only exits without an error when ctx was
			// already cancelled; treat it the same as the ctx.Done() case.
			coord.Terminate(context.Background(), session.UserID)
			cancelAttempt()
			return false, <-shuttleErr
		}
		cancelAttempt()
		<-shuttleErr // let the current ferry unwind before a fresh one starts
		return true, fmt.Errorf("control-plane healthcheck failed: %w", err)
	case err := <-shuttleErr:
		if err == nil {
			return false, nil
		}
		coord.ReportFailure(context.Background(), session.UserID, err)
		return false, err
	case err := <-decayErr:
		coord.ReportFailure(context.Background(), session.UserID, err)
		return false, fmt.Errorf("typhoon session ended: %w", err)
	}
}

func run() error {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("error parsing flags: %w", err)
	}

	cfg := config.Global()

	cert, err := certificate.Load(opts.certificatePath)
	if err != nil {
		return fmt.Errorf("error loading certificate: %w", err)
	}

	asym, err := crypto.NewAsymmetric(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("error building asymmetric envelope: %w", err)
	}

	localIP := opts.selection.localAddress
	if localIP == nil {
		if localIP, err = tunnel.DefaultRouteSourceIP(); err != nil {
			return fmt.Errorf("error discovering local address: %w", err)
		}
	}

	adapter, err := tunnel.Open(cfg.TunnelName, cfg.TunnelAddress, cfg.TunnelNetmask)
	if err != nil {
		return fmt.Errorf("error opening tunnel: %w", err)
	}
	defer adapter.Close()

	// runSession watches its own internal shuttle/healthcheck channels and
	// returns as soon as either ends; this one only needs to react to a
	// termination signal or the optional driving command exiting.
	noShuttleSignal := make(chan error)
	ctx, cancel := runsignal.Run(context.Background(), opts.command, noShuttleSignal)
	defer cancel()

	logrus.Infof("running seaside viridian %s (protocol %s, gateway %s)...", Version, opts.protocol, cert.Address)
	sessionErr := runSession(ctx, opts, cfg, cert, asym, adapter, localIP)

	shuttle.LogOutcome(sessionErr)
	return sessionErr
}

func main() {
	initLogging()
	if err := run(); err != nil {
		logrus.Fatalf("runtime error: %v", err)
	}
}
