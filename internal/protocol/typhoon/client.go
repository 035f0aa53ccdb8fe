package typhoon

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pseusys/betterbuf"
	"github.com/sirupsen/logrus"

	"github.com/pseusys/seaside-viridian/internal/buffer"
	"github.com/pseusys/seaside-viridian/internal/crypto"
	"github.com/pseusys/seaside-viridian/internal/protocol"
)

// State is a TYPHOON client's position in its Idle→Connecting→Established→
// Draining→Closed state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateEstablished
	StateDraining
	StateClosed
)

// Tunables bundles the TYPHOON-specific knobs a Client needs; all time
// values are in milliseconds, the wire protocol's own unit.
type Tunables struct {
	Alpha, Beta                float64
	DefaultRTT, MinRTT, MaxRTT float64
	RTTMult                    float64
	MinTimeout, MaxTimeout     float64
	DefaultTimeout             float64
	MinNextIn, MaxNextIn       float64
	InitialNextInMult          float64
	MaxRetries                 int
	MaxTailLength              uint
}

type controlEntry struct {
	packetNumber uint32
	nextIn       uint32
}

// Client is the datagram-oriented TYPHOON protocol client.
type Client struct {
	mu sync.RWMutex

	state     State
	socket    *net.UDPConn
	cipher    *crypto.Symmetric
	userID    uint16
	localAddr net.IP

	estimator        *Estimator
	prevPacketNumber *uint32
	prevNextIn       uint32
	prevSentAt       uint32

	controlChan chan controlEntry
	decayChan   chan uint32

	tunables Tunables
}

// NewClient builds an idle TYPHOON client.
func NewClient(localAddr net.IP, tunables Tunables) *Client {
	return &Client{
		state:       StateIdle,
		localAddr:   localAddr,
		estimator:   NewEstimator(tunables.Alpha, tunables.Beta, tunables.MinRTT, tunables.MaxRTT, tunables.RTTMult, tunables.MinTimeout, tunables.MaxTimeout, tunables.DefaultRTT, tunables.DefaultTimeout),
		controlChan: make(chan controlEntry, 1),
		decayChan:   make(chan uint32, 1),
		tunables:    tunables,
	}
}

func (c *Client) dial(remote *net.UDPAddr) (*net.UDPConn, error) {
	var local *net.UDPAddr
	if c.localAddr != nil {
		local = &net.UDPAddr{IP: c.localAddr}
	}
	conn, err := net.DialUDP("udp", local, remote)
	if err != nil {
		return nil, fmt.Errorf("error dialing %v: %w", remote, err)
	}
	return conn, nil
}

// Connect drives Idle→Connecting→Established: it repeatedly sends a
// Client-Init datagram with a fresh packet number until a matching
// Server-Init arrives, then dials a new UDP socket to the server-chosen
// user-id port and closes the handshake socket, so the data socket gets a
// fresh local port. Returns the gateway-announced next_in, which the caller
// hands to StartDecay.
func (c *Client) Connect(ctx context.Context, serverAddr string, authPort uint16, asym *crypto.Asymmetric, clientName string, token *betterbuf.Buffer) (uint32, error) {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	authAddr := &net.UDPAddr{IP: net.ParseIP(serverAddr), Port: int(authPort)}
	socket, err := c.dial(authAddr)
	if err != nil {
		return 0, fmt.Errorf("error opening auth socket: %w", err)
	}
	defer func() {
		if c.state != StateEstablished {
			socket.Close()
		}
	}()

	minInitial := uint32(c.tunables.MinNextIn * c.tunables.InitialNextInMult)
	maxInitial := uint32(c.tunables.MaxNextIn * c.tunables.InitialNextInMult)

	for attempt := 0; attempt < c.tunables.MaxRetries; attempt++ {
		packetNumber := timestamp()
		nextIn := minInitial + uint32(buffer.RandomInteger(0, int(maxInitial-minInitial)))

		sessionKey, frame, err := buildClientInit(asym, packetNumber, clientName, nextIn, token, c.tunables.MaxTailLength)
		if err != nil {
			return 0, fmt.Errorf("error building init datagram: %w", err)
		}
		if _, err := socket.Write(frame.Slice()); err != nil {
			buffer.PacketPool.Put(frame)
			return 0, fmt.Errorf("error sending init datagram: %w", err)
		}
		buffer.PacketPool.Put(frame)

		cipher, err := crypto.NewSymmetric(sessionKey)
		if err != nil {
			return 0, fmt.Errorf("error building session cipher: %w", err)
		}

		timeoutMs := clamp(float64(nextIn)+c.tunables.DefaultTimeout, c.tunables.MinTimeout, c.tunables.MaxTimeout)
		deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

		userID, nextInServer, matched := c.awaitServerInit(socket, cipher, packetNumber, deadline)
		if !matched {
			logrus.Warnf("TYPHOON handshake attempt %d/%d timed out", attempt+1, c.tunables.MaxRetries)
			continue
		}

		dataSocket, err := c.dial(&net.UDPAddr{IP: net.ParseIP(serverAddr), Port: int(userID)})
		if err != nil {
			return 0, fmt.Errorf("error opening data socket: %w", err)
		}
		socket.Close()

		c.mu.Lock()
		c.userID = userID
		c.cipher = cipher
		c.socket = dataSocket
		c.state = StateEstablished
		c.mu.Unlock()

		logrus.Infof("TYPHOON client established, user id %d", userID)
		return nextInServer, nil
	}

	return 0, fmt.Errorf("%w: %d attempts", protocol.ErrConnectionExhausted, c.tunables.MaxRetries)
}

func (c *Client) awaitServerInit(socket *net.UDPConn, cipher *crypto.Symmetric, wantPacketNumber uint32, deadline time.Time) (uint16, uint32, bool) {
	for time.Now().Before(deadline) {
		socket.SetReadDeadline(deadline)
		datagram := buffer.PacketPool.GetFull()
		n, err := socket.Read(datagram.Slice())
		if err != nil {
			buffer.PacketPool.Put(datagram)
			return 0, 0, false
		}
		received := datagram.RebufferEnd(n)

		packetNumber, userID, nextIn, err := parseServerInit(cipher, received)
		buffer.PacketPool.Put(datagram)
		if err != nil {
			logrus.Debugf("discarding malformed server-init: %v", err)
			continue
		}
		if packetNumber != wantPacketNumber {
			continue
		}
		return userID, nextIn, true
	}
	return 0, 0, false
}

// StartDecay runs the background liveness loop until ctx is cancelled or
// the session decays. Its only error, ErrDecayTimeout, is delivered on
// errChan; a failed bare-handshake send is logged and the round goes on.
func (c *Client) StartDecay(ctx context.Context, initialNextIn uint32, errChan chan<- error) {
	nextIn := initialNextIn

	for {
		c.mu.RLock()
		estimatedRTT := c.estimator.EstimatedRTT()
		c.mu.RUnlock()

		sleepMs := math.Max(0, float64(nextIn)-estimatedRTT)
		select {
		case fresh := <-c.decayChan:
			nextIn = fresh
			continue
		case <-time.After(time.Duration(sleepMs) * time.Millisecond):
		case <-ctx.Done():
			return
		}

		decayed := c.runDecayRound(ctx, &nextIn)
		if ctx.Err() != nil {
			return
		}
		if decayed {
			select {
			case errChan <- protocol.ErrDecayTimeout:
			case <-ctx.Done():
			}
			return
		}
	}
}

// runDecayRound executes one decay round. It returns true if the round
// completed MaxRetries attempts without a cancellation (meaning the session
// has decayed), and updates *nextIn in place whenever a fresh value arrives
// on decayChan.
func (c *Client) runDecayRound(ctx context.Context, nextIn *uint32) bool {
	for i := 0; i < c.tunables.MaxRetries; i++ {
		packetNumber := timestamp()

		c.mu.RLock()
		estimatedRTT := c.estimator.EstimatedRTT()
		c.mu.RUnlock()

		// A round aborted mid-wait can leave its entry unconsumed; replace
		// it instead of piggybacking a stale packet number.
		select {
		case <-c.controlChan:
		default:
		}
		select {
		case c.controlChan <- controlEntry{packetNumber: packetNumber, nextIn: *nextIn}:
		case <-ctx.Done():
			return false
		}

		select {
		case fresh := <-c.decayChan:
			*nextIn = fresh
			return false
		case <-time.After(time.Duration(2*estimatedRTT) * time.Millisecond):
		case <-ctx.Done():
			return false
		}

		select {
		case entry := <-c.controlChan:
			if err := c.sendBareHandshake(entry); err != nil {
				logrus.Warnf("error sending bare handshake: %v", err)
			}
		default:
			// an application write already consumed the entry and piggybacked it
		}

		c.mu.RLock()
		timeout := c.estimator.Timeout()
		prevNextIn := c.prevNextIn
		c.mu.RUnlock()

		select {
		case fresh := <-c.decayChan:
			*nextIn = fresh
			return false
		case <-time.After(time.Duration(float64(prevNextIn)+timeout) * time.Millisecond):
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (c *Client) sendBareHandshake(entry controlEntry) error {
	c.mu.Lock()
	cipher, socket := c.cipher, c.socket
	c.mu.Unlock()
	if cipher == nil || socket == nil {
		return fmt.Errorf("typhoon client not established")
	}

	frame, err := buildAnyHandshake(cipher, entry.packetNumber, entry.nextIn, nil, c.tunables.MaxTailLength)
	if err != nil {
		return fmt.Errorf("error building handshake datagram: %w", err)
	}
	defer buffer.PacketPool.Put(frame)

	c.mu.Lock()
	c.prevPacketNumber = &entry.packetNumber
	c.prevNextIn = entry.nextIn
	c.prevSentAt = timestamp()
	c.mu.Unlock()

	if _, err := socket.Write(frame.Slice()); err != nil {
		return fmt.Errorf("error sending handshake datagram: %w", err)
	}
	return nil
}

// Read blocks for the next application-data datagram, transparently
// consuming and acting on bare handshake replies in the meantime.
func (c *Client) Read(ctx context.Context) (*betterbuf.Buffer, error) {
	for {
		c.mu.RLock()
		socket, cipher := c.socket, c.cipher
		c.mu.RUnlock()
		if socket == nil {
			return nil, fmt.Errorf("typhoon client not established")
		}

		if deadline, ok := ctx.Deadline(); ok {
			socket.SetReadDeadline(deadline)
		} else {
			socket.SetReadDeadline(time.Time{})
		}

		datagram := buffer.PacketPool.GetFull()
		n, err := socket.Read(datagram.Slice())
		if err != nil {
			buffer.PacketPool.Put(datagram)
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", protocol.ErrTimeout, err)
			}
			return nil, fmt.Errorf("error reading datagram: %w", err)
		}
		received := datagram.RebufferEnd(n)

		msg, err := parseAny(cipher, received)
		if err != nil {
			buffer.PacketPool.Put(datagram)
			return nil, err
		}

		switch msg.kind {
		case kindTerm:
			buffer.PacketPool.Put(datagram)
			c.mu.Lock()
			c.state = StateDraining
			c.mu.Unlock()
			return nil, protocol.ErrPeerTerminated
		case kindData:
			return msg.data, nil
		case kindHandshake:
			if msg.nextIn < uint32(c.tunables.MinNextIn) || msg.nextIn > uint32(c.tunables.MaxNextIn) {
				buffer.PacketPool.Put(datagram)
				return nil, fmt.Errorf("%w: next_in %d out of range", protocol.ErrFraming, msg.nextIn)
			}

			c.mu.Lock()
			if c.prevPacketNumber != nil && *c.prevPacketNumber == msg.packetNumber {
				nowMs := float64(timestamp())
				rtt := math.Mod(nowMs-float64(c.prevSentAt)-float64(c.prevNextIn)+math.Pow(2, 32), math.Pow(2, 32))
				c.estimator.Sample(rtt)
			}
			c.prevPacketNumber = nil
			c.mu.Unlock()

			select {
			case c.decayChan <- msg.nextIn:
			default:
			}

			if msg.hasData {
				return msg.data, nil
			}
			// bare handshake: nothing to deliver, keep reading
			buffer.PacketPool.Put(datagram)
		}
	}
}

// Write seals and sends a single IP payload, piggybacking a pending
// handshake when the decay task has published one. data must come from
// buffer.PacketPool with room to prepend a handshake header and is consumed
// by Write.
func (c *Client) Write(ctx context.Context, data *betterbuf.Buffer) error {
	c.mu.RLock()
	socket, cipher, maxTail := c.socket, c.cipher, c.tunables.MaxTailLength
	c.mu.RUnlock()
	if socket == nil {
		buffer.PacketPool.Put(data)
		return fmt.Errorf("typhoon client not established")
	}

	if deadline, ok := ctx.Deadline(); ok {
		socket.SetWriteDeadline(deadline)
	} else {
		socket.SetWriteDeadline(time.Time{})
	}

	var entry *controlEntry
	select {
	case e := <-c.controlChan:
		entry = &e
	default:
	}

	var frame *betterbuf.Buffer
	var err error
	if entry != nil {
		frame, err = buildAnyHandshake(cipher, entry.packetNumber, entry.nextIn, data, maxTail)
		if err == nil {
			c.mu.Lock()
			c.prevPacketNumber = &entry.packetNumber
			c.prevNextIn = entry.nextIn
			c.prevSentAt = timestamp()
			c.mu.Unlock()
		}
	} else {
		frame, err = buildAnyData(cipher, data, maxTail)
	}
	if err != nil {
		return fmt.Errorf("error building data datagram: %w", err)
	}
	defer buffer.PacketPool.Put(frame)

	if _, err := socket.Write(frame.Slice()); err != nil {
		return fmt.Errorf("error sending data datagram: %w", err)
	}
	return nil
}

// Terminate sends a best-effort termination datagram and closes the socket.
func (c *Client) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var termErr error
	if c.state == StateEstablished && c.socket != nil {
		if frame, err := buildAnyTerm(c.cipher, c.tunables.MaxTailLength); err == nil {
			if _, err := c.socket.Write(frame.Slice()); err != nil {
				termErr = fmt.Errorf("error sending term datagram: %w", err)
			}
			buffer.PacketPool.Put(frame)
		} else {
			termErr = fmt.Errorf("error building term datagram: %w", err)
		}
	}
	if c.socket != nil {
		c.socket.Close()
	}
	c.state = StateClosed
	return termErr
}

// State reports the client's current state machine position.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
