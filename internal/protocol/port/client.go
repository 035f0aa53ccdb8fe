package port

import (
	"context"
	"errors"
	"fmt"
	"io"
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

// State is a PORT client's position in its Idle→Connecting→Authed→
// Established→Closed state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthed
	StateEstablished
	StateClosed
)

const (
	keepAliveIdle     = 7200 * time.Second
	keepAliveInterval = 75 * time.Second
)

// Client is the stream-oriented PORT protocol client. A single instance
// owns both TCP sockets (auth, then data). Reads and writes are serialized
// per direction, never against each other: a blocked steady-state read must
// not hold up the shuttle's write path. mu guards the state fields: Read and
// Write hold it only to snapshot them, never across socket I/O, while
// Connect and Terminate hold it for their whole run, socket I/O included.
type Client struct {
	mu      sync.Mutex
	readMu  sync.Mutex
	writeMu sync.Mutex

	state      State
	authSocket *net.TCPConn
	dataSocket *net.TCPConn
	cipher     *crypto.Symmetric

	userID        uint16
	localAddr     net.IP
	timeout       time.Duration
	maxTailLength uint
}

// NewClient builds an idle PORT client bound to localAddr (the default
// route's source address, or nil for an unspecified local endpoint).
func NewClient(localAddr net.IP, timeout time.Duration, maxTailLength uint) *Client {
	return &Client{
		state:         StateIdle,
		localAddr:     localAddr,
		timeout:       timeout,
		maxTailLength: maxTailLength,
	}
}

func (c *Client) dial(remote *net.TCPAddr) (*net.TCPConn, error) {
	var local *net.TCPAddr
	if c.localAddr != nil {
		local = &net.TCPAddr{IP: c.localAddr}
	}
	dialer := net.Dialer{LocalAddr: local, Control: setReuseAddr}
	conn, err := dialer.Dial("tcp", remote.String())
	if err != nil {
		return nil, fmt.Errorf("error dialing %v: %w", remote, err)
	}
	tcpConn := conn.(*net.TCPConn)

	keepAlive := net.KeepAliveConfig{Enable: true, Idle: keepAliveIdle, Interval: keepAliveInterval, Count: 5}
	if err := tcpConn.SetKeepAliveConfig(keepAlive); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("error configuring keepalive: %w", err)
	}
	return tcpConn, nil
}

// Connect drives Idle→Connecting→Authed→Established: it opens the auth
// socket, performs the asymmetric handshake, then opens the data socket on
// the server-chosen port.
func (c *Client) Connect(ctx context.Context, serverAddr string, authPort uint16, asym *crypto.Asymmetric, clientName string, token *betterbuf.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateConnecting
	authSocket, err := c.dial(&net.TCPAddr{IP: net.ParseIP(serverAddr), Port: int(authPort)})
	if err != nil {
		return fmt.Errorf("error opening auth socket: %w", err)
	}
	defer authSocket.Close()

	sessionKey, initFrame, err := buildClientInit(asym, clientName, token, c.maxTailLength)
	if err != nil {
		return fmt.Errorf("error building client-init frame: %w", err)
	}
	defer buffer.PacketPool.Put(initFrame)

	if err := authSocket.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("error setting write deadline: %w", err)
	}
	if _, err := authSocket.Write(initFrame.Slice()); err != nil {
		return fmt.Errorf("error writing client-init frame: %w", err)
	}

	header := buffer.PacketPool.Get(ServerInitHeader + crypto.SymmetricCiphertextOverhead)
	defer buffer.PacketPool.Put(header)
	if err := authSocket.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("error setting read deadline: %w", err)
	}
	if _, err := io.ReadFull(authSocket, header.Slice()); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("%w: reading server-init header: %v", protocol.ErrTimeout, err)
		}
		return fmt.Errorf("error reading server-init header: %w", err)
	}

	cipher, err := crypto.NewSymmetric(sessionKey)
	if err != nil {
		return fmt.Errorf("error rebuilding session cipher: %w", err)
	}

	userID, tailLength, err := parseServerInit(cipher, header)
	if err != nil {
		return fmt.Errorf("error parsing server-init frame: %w", err)
	}
	if tailLength > 0 {
		if _, err := io.CopyN(io.Discard, authSocket, int64(tailLength)); err != nil {
			return fmt.Errorf("error discarding server-init tail: %w", err)
		}
	}

	c.state = StateAuthed
	dataSocket, err := c.dial(&net.TCPAddr{IP: net.ParseIP(serverAddr), Port: int(userID)})
	if err != nil {
		return fmt.Errorf("error opening data socket: %w", err)
	}

	c.userID = userID
	c.cipher = cipher
	c.dataSocket = dataSocket
	c.authSocket = nil
	c.state = StateEstablished

	logrus.Infof("PORT client established, user id %d", userID)
	return nil
}

// Read blocks for the next steady-state frame and returns its decrypted IP
// payload.
func (c *Client) Read(ctx context.Context) (*betterbuf.Buffer, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	c.mu.Lock()
	state, socket, cipher := c.state, c.dataSocket, c.cipher
	c.mu.Unlock()
	if state != StateEstablished {
		return nil, fmt.Errorf("port client not established (state %d)", state)
	}

	if deadline, ok := ctx.Deadline(); ok {
		socket.SetReadDeadline(deadline)
	} else {
		socket.SetReadDeadline(time.Time{})
	}

	encryptedHeaderLength := AnyOtherHeader + crypto.SymmetricCiphertextOverhead
	header := buffer.PacketPool.Get(encryptedHeaderLength)
	defer buffer.PacketPool.Put(header)

	if _, err := io.ReadFull(socket, header.Slice()); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", protocol.ErrTimeout, err)
		}
		return nil, fmt.Errorf("error reading frame header: %w", err)
	}

	msgType, dataLength, tailLength, err := parseAnyHeader(cipher, header)
	if err != nil {
		return nil, err
	}

	if msgType == protocol.TypeTermination {
		if tailLength > 0 {
			io.CopyN(io.Discard, socket, int64(tailLength))
		}
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return nil, protocol.ErrPeerTerminated
	}
	if msgType != protocol.TypeData {
		return nil, fmt.Errorf("%w: type %d", protocol.ErrUnexpectedMessage, msgType)
	}

	dataBuffer := buffer.PacketPool.Get(int(dataLength))
	if _, err := io.ReadFull(socket, dataBuffer.Slice()); err != nil {
		buffer.PacketPool.Put(dataBuffer)
		return nil, fmt.Errorf("error reading data payload: %w", err)
	}
	if tailLength > 0 {
		if _, err := io.CopyN(io.Discard, socket, int64(tailLength)); err != nil {
			buffer.PacketPool.Put(dataBuffer)
			return nil, fmt.Errorf("error discarding tail: %w", err)
		}
	}

	plaintext, err := parseAnyData(cipher, dataBuffer)
	if err != nil {
		buffer.PacketPool.Put(dataBuffer)
		return nil, err
	}
	return plaintext, nil
}

// Write seals and sends a single IP payload. data must come from
// buffer.PacketPool and is consumed (returned to the pool) by Write.
func (c *Client) Write(ctx context.Context, data *betterbuf.Buffer) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	defer buffer.PacketPool.Put(data)

	c.mu.Lock()
	state, socket, cipher := c.state, c.dataSocket, c.cipher
	c.mu.Unlock()
	if state != StateEstablished {
		return fmt.Errorf("port client not established (state %d)", state)
	}

	if deadline, ok := ctx.Deadline(); ok {
		socket.SetWriteDeadline(deadline)
	} else {
		socket.SetWriteDeadline(time.Time{})
	}

	message, err := buildAnyData(cipher, data, c.maxTailLength)
	if err != nil {
		return fmt.Errorf("error building data frame: %w", err)
	}
	if _, err := socket.Write(message.Slice()); err != nil {
		return fmt.Errorf("error writing data frame: %w", err)
	}
	return nil
}

// Terminate sends a best-effort termination frame and closes both sockets.
func (c *Client) Terminate() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	var termErr error
	if c.state == StateEstablished && c.dataSocket != nil {
		if frame, err := buildAnyTerm(c.cipher, c.maxTailLength); err == nil {
			c.dataSocket.SetWriteDeadline(time.Now().Add(c.timeout))
			if _, err := c.dataSocket.Write(frame.Slice()); err != nil {
				termErr = fmt.Errorf("error writing term frame: %w", err)
			}
			buffer.PacketPool.Put(frame)
		} else {
			termErr = fmt.Errorf("error building term frame: %w", err)
		}
	}

	if c.authSocket != nil {
		c.authSocket.Close()
	}
	if c.dataSocket != nil {
		c.dataSocket.Close()
	}
	c.state = StateClosed
	return termErr
}

// State reports the client's current state machine position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
