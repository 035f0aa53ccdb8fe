// Package protocol holds the wire vocabulary shared by the PORT and TYPHOON
// clients: message flags, return codes and the sentinel errors both state
// machines raise, so callers can branch on them with errors.Is regardless of
// which transport is active.
package protocol

import "errors"

// ProtocolFlag is the leading byte of every frame on both wires.
type ProtocolFlag byte

const (
	FlagInit  ProtocolFlag = 128
	FlagHdsk  ProtocolFlag = 64
	FlagData  ProtocolFlag = 32
	FlagTerm  ProtocolFlag = 16
	FlagUndef ProtocolFlag = 0
)

// MessageType names a frame by its flag combination.
type MessageType byte

const (
	TypeHandshake     MessageType = MessageType(FlagHdsk)
	TypeHandshakeData MessageType = MessageType(FlagHdsk | FlagData)
	TypeData          MessageType = MessageType(FlagData)
	TypeTermination   MessageType = MessageType(FlagTerm)
	TypeUndef         MessageType = MessageType(FlagUndef)
)

// ReturnCode is the one-byte status embedded in a server's init reply.
type ReturnCode byte

const (
	CodeSuccess           ReturnCode = 0
	CodeTokenParseError   ReturnCode = 1
	CodeRegistrationError ReturnCode = 2
	CodeUnknownError      ReturnCode = 3
)

// MajorVersion is advertised as the Version field of the control-plane
// Handshake RPC; no PORT or TYPHOON frame carries it.
const MajorVersion byte = 1

var (
	// ErrHandshakeRejected means the gateway's init reply carried a non-zero
	// status code.
	ErrHandshakeRejected = errors.New("protocol: handshake rejected by gateway")
	// ErrDecryption wraps any AEAD open failure on an inbound frame.
	ErrDecryption = errors.New("protocol: decryption failed")
	// ErrFraming means a frame was shorter than its declared header or its
	// length fields described a malformed shape.
	ErrFraming = errors.New("protocol: malformed frame")
	// ErrUnexpectedMessage means a frame arrived with a flag combination
	// invalid for the state the client is in.
	ErrUnexpectedMessage = errors.New("protocol: unexpected message type")
	// ErrTimeout means a blocking read exceeded its deadline.
	ErrTimeout = errors.New("protocol: read timeout")
	// ErrPeerTerminated means the gateway sent an explicit termination frame.
	ErrPeerTerminated = errors.New("protocol: peer terminated the connection")
	// ErrDecayTimeout means a TYPHOON session's decay task gave up waiting
	// for a fresh handshake.
	ErrDecayTimeout = errors.New("protocol: session decayed without a handshake")
	// ErrConnectionExhausted means a TYPHOON handshake used up all its
	// retries without a matching Server-Init.
	ErrConnectionExhausted = errors.New("protocol: handshake retries exhausted")
)
