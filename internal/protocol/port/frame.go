// Package port implements the PORT wire protocol's client half: a
// stream-oriented handshake over one TCP socket followed by steady-state
// framing over a second, server-chosen data socket.
package port

import (
	"encoding/binary"
	"fmt"

	"github.com/pseusys/betterbuf"

	"github.com/pseusys/seaside-viridian/internal/buffer"
	"github.com/pseusys/seaside-viridian/internal/crypto"
	"github.com/pseusys/seaside-viridian/internal/protocol"
)

const (
	ClientInitHeader = 37
	ServerInitHeader = 6
	AnyOtherHeader   = 5

	clientNameFieldLength = 32
)

// buildClientInit assembles the Client-Init frame: a header (flag,
// zero-padded client name, token length, tail length) sealed alone under
// the asymmetric envelope, followed by the opaque session token and a
// random tail. The gateway parses the stream in exactly that order: a
// fixed-size envelope first, then the lengths it declared. Returns the
// resulting session key alongside the assembled frame.
func buildClientInit(cipher *crypto.Asymmetric, clientName string, token *betterbuf.Buffer, maxTailLength uint) (*betterbuf.Buffer, *betterbuf.Buffer, error) {
	tailLength := buffer.ReliableTailLength(maxTailLength)
	if token.Length() < crypto.SymmetricCiphertextOverhead {
		return nil, nil, fmt.Errorf("%w: token length %d below cipher overhead", protocol.ErrFraming, token.Length())
	}
	// The token-length field counts the sealed token's pre-overhead size;
	// the gateway adds the cipher overhead back when reading the token off
	// the wire.
	tokenLength := token.Length() - crypto.SymmetricCiphertextOverhead

	header := buffer.PacketPool.Get(ClientInitHeader)
	header.Set(0, byte(protocol.FlagInit))
	nameField := header.Reslice(1, 1+clientNameFieldLength)
	copy(nameField, make([]byte, clientNameFieldLength))
	copy(nameField, clientName)
	binary.BigEndian.PutUint16(header.ResliceStart(33), uint16(tokenLength))
	binary.BigEndian.PutUint16(header.ResliceStart(35), uint16(tailLength))

	sessionKey, envelope, err := cipher.Encrypt(header)
	if err != nil {
		return nil, nil, fmt.Errorf("error encrypting init header: %w", err)
	}

	message, err := envelope.AppendBuffer(token)
	if err != nil {
		return nil, nil, fmt.Errorf("error appending session token: %w", err)
	}
	return sessionKey, buffer.EmbedReliableTailLength(message, tailLength), nil
}

// parseServerInit validates and decodes a Server-Init header already read
// off the wire (ServerInitHeader-sized, encrypted). The caller discards the
// trailing tail bytes afterwards, using the returned tail length.
func parseServerInit(cipher *crypto.Symmetric, header *betterbuf.Buffer) (uint16, int, error) {
	decrypted, err := cipher.Decrypt(header, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", protocol.ErrDecryption, err)
	}
	if decrypted.Length() < ServerInitHeader {
		return 0, 0, fmt.Errorf("%w: server-init header too short: %d", protocol.ErrFraming, decrypted.Length())
	}

	if decrypted.Get(0) != byte(protocol.FlagInit) {
		return 0, 0, fmt.Errorf("%w: server-init flag %d", protocol.ErrUnexpectedMessage, decrypted.Get(0))
	}
	status := protocol.ReturnCode(decrypted.Get(1))
	if status != protocol.CodeSuccess {
		return 0, 0, fmt.Errorf("%w: status %d", protocol.ErrHandshakeRejected, status)
	}

	userID := binary.BigEndian.Uint16(decrypted.Reslice(2, 4))
	tailLength := int(binary.BigEndian.Uint16(decrypted.Reslice(4, 6)))
	return userID, tailLength, nil
}

// buildAnyData seals a header describing data's post-encryption length and
// a random tail length, then separately seals data itself, yielding a
// single contiguous `header-ciphertext || data-ciphertext || tail` blob
// assembled in place in data's backing region.
func buildAnyData(cipher *crypto.Symmetric, data *betterbuf.Buffer, maxTailLength uint) (*betterbuf.Buffer, error) {
	headerLength := AnyOtherHeader + crypto.SymmetricCiphertextOverhead
	tailLength := buffer.ReliableTailLength(maxTailLength)
	dataLength := data.Length()

	if dataLength > buffer.MaxBody {
		return nil, fmt.Errorf("%w: payload length %d exceeds %d", protocol.ErrFraming, dataLength, buffer.MaxBody)
	}

	withHeadroom, err := data.Expand(headerLength, 0)
	if err != nil {
		return nil, fmt.Errorf("error expanding message buffer: %w", err)
	}

	header := withHeadroom.RebufferEnd(AnyOtherHeader)
	header.Set(0, byte(protocol.FlagData))
	binary.BigEndian.PutUint16(header.ResliceStart(1), uint16(dataLength)+crypto.SymmetricCiphertextOverhead)
	binary.BigEndian.PutUint16(header.ResliceStart(3), uint16(tailLength))

	if _, err := cipher.Encrypt(header, nil); err != nil {
		return nil, fmt.Errorf("error encrypting data header: %w", err)
	}
	encryptedData, err := cipher.Encrypt(data, nil)
	if err != nil {
		return nil, fmt.Errorf("error encrypting data payload: %w", err)
	}

	message, err := encryptedData.Expand(headerLength, 0)
	if err != nil {
		return nil, fmt.Errorf("error rejoining header and payload: %w", err)
	}
	return buffer.EmbedReliableTailLength(message, tailLength), nil
}

// buildAnyTerm seals a bare termination header.
func buildAnyTerm(cipher *crypto.Symmetric, maxTailLength uint) (*betterbuf.Buffer, error) {
	tailLength := buffer.ReliableTailLength(maxTailLength)
	header := buffer.PacketPool.Get(AnyOtherHeader)

	header.Set(0, byte(protocol.FlagTerm))
	binary.BigEndian.PutUint16(header.ResliceStart(1), 0)
	binary.BigEndian.PutUint16(header.ResliceStart(3), uint16(tailLength))

	encrypted, err := cipher.Encrypt(header, nil)
	if err != nil {
		return nil, fmt.Errorf("error encrypting term frame: %w", err)
	}
	return buffer.EmbedReliableTailLength(encrypted, tailLength), nil
}

// parseAnyHeader decrypts an Any-other header and reports its message type,
// declared data length and tail length.
func parseAnyHeader(cipher *crypto.Symmetric, header *betterbuf.Buffer) (protocol.MessageType, uint16, uint16, error) {
	decrypted, err := cipher.Decrypt(header, nil)
	if err != nil {
		return protocol.TypeUndef, 0, 0, fmt.Errorf("%w: %v", protocol.ErrDecryption, err)
	}
	if decrypted.Length() < AnyOtherHeader {
		return protocol.TypeUndef, 0, 0, fmt.Errorf("%w: header too short: %d", protocol.ErrFraming, decrypted.Length())
	}

	flags := protocol.ProtocolFlag(decrypted.Get(0))
	dataLength := binary.BigEndian.Uint16(decrypted.Reslice(1, 3))
	tailLength := binary.BigEndian.Uint16(decrypted.Reslice(3, 5))

	switch flags {
	case protocol.FlagData:
		return protocol.TypeData, dataLength, tailLength, nil
	case protocol.FlagTerm:
		return protocol.TypeTermination, dataLength, tailLength, nil
	default:
		return protocol.TypeUndef, 0, 0, fmt.Errorf("%w: flags %d", protocol.ErrUnexpectedMessage, flags)
	}
}

// parseAnyData decrypts the data portion of an Any-other frame.
func parseAnyData(cipher *crypto.Symmetric, data *betterbuf.Buffer) (*betterbuf.Buffer, error) {
	decrypted, err := cipher.Decrypt(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrDecryption, err)
	}
	return decrypted, nil
}
