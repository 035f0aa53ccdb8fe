// Package typhoon implements the TYPHOON wire protocol's client half: an
// asymmetric handshake on one UDP socket, then symmetrically-encrypted
// datagrams on a second UDP socket dialed to the server-chosen user-id
// port, each of which doubles as a liveness proof for the background decay
// task.
package typhoon

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pseusys/betterbuf"

	"github.com/pseusys/seaside-viridian/internal/buffer"
	"github.com/pseusys/seaside-viridian/internal/crypto"
	"github.com/pseusys/seaside-viridian/internal/protocol"
)

const (
	ClientInitHeader = 43
	ServerInitHeader = 14
	AnyHdskHeader    = 11
	AnyOtherHeader   = 3

	clientNameFieldLength = 32
)

// timestamp is the current millisecond clock truncated to the 32-bit
// packet-number field width.
func timestamp() uint32 {
	return uint32(time.Now().UnixMilli())
}

// randomizeTail widens message by tailLength bytes of CSPRNG padding; unlike
// the post-encryption tails PORT appends, a TYPHOON tail is sealed inside
// the datagram, so it has to be written before the cipher runs.
func randomizeTail(message *betterbuf.Buffer, tailLength int) (*betterbuf.Buffer, error) {
	dataLength := message.Length()
	widened, err := message.ExpandAfter(tailLength)
	if err != nil {
		return nil, fmt.Errorf("insufficient buffer capacity for tail: %w", err)
	}
	if tailLength > 0 {
		if _, err := rand.Read(widened.ResliceStart(dataLength)); err != nil {
			return nil, fmt.Errorf("error reading tail: %w", err)
		}
	}
	return widened, nil
}

// buildClientInit assembles a Client-Init datagram: flag, packet number,
// zero-padded client name, next-in and tail length, then the session token
// and a random tail, sealed under the asymmetric envelope.
func buildClientInit(cipher *crypto.Asymmetric, packetNumber uint32, clientName string, nextIn uint32, token *betterbuf.Buffer, maxTailLength uint) (*betterbuf.Buffer, *betterbuf.Buffer, error) {
	tailLength := buffer.ReliableTailLength(maxTailLength)
	tokenLength := token.Length()

	plaintext, err := buffer.PacketPool.Get(ClientInitHeader).Expand(0, tokenLength+tailLength)
	if err != nil {
		return nil, nil, fmt.Errorf("error sizing init plaintext: %w", err)
	}

	header := plaintext.RebufferEnd(ClientInitHeader)
	header.Set(0, byte(protocol.FlagInit))
	binary.BigEndian.PutUint32(header.ResliceStart(1), packetNumber)
	nameField := header.Reslice(5, 5+clientNameFieldLength)
	copy(nameField, make([]byte, clientNameFieldLength))
	copy(nameField, clientName)
	binary.BigEndian.PutUint32(header.ResliceStart(37), nextIn)
	binary.BigEndian.PutUint16(header.ResliceStart(41), uint16(tailLength))

	copy(plaintext.Reslice(ClientInitHeader, ClientInitHeader+tokenLength), token.Slice())
	if tailLength > 0 {
		if _, err := rand.Read(plaintext.ResliceStart(ClientInitHeader + tokenLength)); err != nil {
			return nil, nil, fmt.Errorf("error reading tail: %w", err)
		}
	}

	sessionKey, ciphertext, err := cipher.Encrypt(plaintext.RebufferEnd(ClientInitHeader + tokenLength + tailLength))
	if err != nil {
		return nil, nil, fmt.Errorf("error encrypting init datagram: %w", err)
	}
	return sessionKey, ciphertext, nil
}

// parseServerInit decrypts and validates a Server-Init datagram.
func parseServerInit(cipher *crypto.Symmetric, packet *betterbuf.Buffer) (packetNumber uint32, userID uint16, nextIn uint32, err error) {
	decrypted, err := cipher.Decrypt(packet, nil)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %v", protocol.ErrDecryption, err)
	}
	if decrypted.Length() < ServerInitHeader {
		return 0, 0, 0, fmt.Errorf("%w: server-init too short: %d", protocol.ErrFraming, decrypted.Length())
	}

	if decrypted.Get(0) != byte(protocol.FlagInit) {
		return 0, 0, 0, fmt.Errorf("%w: server-init flag %d", protocol.ErrUnexpectedMessage, decrypted.Get(0))
	}
	packetNumber = binary.BigEndian.Uint32(decrypted.Reslice(1, 5))
	status := protocol.ReturnCode(decrypted.Get(5))
	if status != protocol.CodeSuccess {
		return 0, 0, 0, fmt.Errorf("%w: status %d", protocol.ErrHandshakeRejected, status)
	}
	userID = binary.BigEndian.Uint16(decrypted.Reslice(6, 8))
	nextIn = binary.BigEndian.Uint32(decrypted.Reslice(8, 12))
	return packetNumber, userID, nextIn, nil
}

// buildAnyHandshake seals a Client-Handshake (or Client-Handshake-Data, when
// data is non-nil) datagram. data, if given, must come from
// buffer.PacketPool with ExpandBefore headroom for AnyHdskHeader; it is
// consumed by this call.
func buildAnyHandshake(cipher *crypto.Symmetric, packetNumber, nextIn uint32, data *betterbuf.Buffer, maxTailLength uint) (*betterbuf.Buffer, error) {
	tailLength := buffer.ReliableTailLength(maxTailLength)

	flags := protocol.FlagHdsk
	var message *betterbuf.Buffer
	var err error
	if data != nil {
		flags |= protocol.FlagData
		message, err = data.ExpandBefore(AnyHdskHeader)
	} else {
		message, err = buffer.PacketPool.Get(AnyHdskHeader).Expand(0, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("error expanding handshake buffer: %w", err)
	}

	header := message.RebufferEnd(AnyHdskHeader)
	header.Set(0, byte(flags))
	binary.BigEndian.PutUint32(header.ResliceStart(1), packetNumber)
	binary.BigEndian.PutUint32(header.ResliceStart(5), nextIn)
	binary.BigEndian.PutUint16(header.ResliceStart(9), uint16(tailLength))

	packet, err := randomizeTail(message, tailLength)
	if err != nil {
		return nil, err
	}
	encrypted, err := cipher.Encrypt(packet, nil)
	if err != nil {
		return nil, fmt.Errorf("error encrypting handshake datagram: %w", err)
	}
	return encrypted, nil
}

// buildAnyData seals a plain Data datagram. data is consumed.
func buildAnyData(cipher *crypto.Symmetric, data *betterbuf.Buffer, maxTailLength uint) (*betterbuf.Buffer, error) {
	tailLength := buffer.ReliableTailLength(maxTailLength)

	message, err := data.ExpandBefore(AnyOtherHeader)
	if err != nil {
		return nil, fmt.Errorf("error expanding data buffer: %w", err)
	}
	header := message.RebufferEnd(AnyOtherHeader)
	header.Set(0, byte(protocol.FlagData))
	binary.BigEndian.PutUint16(header.ResliceStart(1), uint16(tailLength))

	packet, err := randomizeTail(message, tailLength)
	if err != nil {
		return nil, err
	}
	encrypted, err := cipher.Encrypt(packet, nil)
	if err != nil {
		return nil, fmt.Errorf("error encrypting data datagram: %w", err)
	}
	return encrypted, nil
}

// buildAnyTerm seals a bare Termination datagram.
func buildAnyTerm(cipher *crypto.Symmetric, maxTailLength uint) (*betterbuf.Buffer, error) {
	tailLength := buffer.ReliableTailLength(maxTailLength)
	header := buffer.PacketPool.Get(AnyOtherHeader)
	header.Set(0, byte(protocol.FlagTerm))
	binary.BigEndian.PutUint16(header.ResliceStart(1), uint16(tailLength))

	packet, err := randomizeTail(header, tailLength)
	if err != nil {
		return nil, err
	}
	encrypted, err := cipher.Encrypt(packet, nil)
	if err != nil {
		return nil, fmt.Errorf("error encrypting term datagram: %w", err)
	}
	return encrypted, nil
}

// messageKind discriminates a parsed steady-state datagram.
type messageKind int

const (
	kindHandshake messageKind = iota
	kindData
	kindTerm
)

type parsedMessage struct {
	kind         messageKind
	packetNumber uint32
	nextIn       uint32
	hasData      bool
	data         *betterbuf.Buffer
}

// parseAny decrypts a steady-state datagram and classifies it.
func parseAny(cipher *crypto.Symmetric, packet *betterbuf.Buffer) (*parsedMessage, error) {
	decrypted, err := cipher.Decrypt(packet, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrDecryption, err)
	}
	if decrypted.Length() < 1 {
		return nil, fmt.Errorf("%w: empty datagram", protocol.ErrFraming)
	}

	flags := protocol.ProtocolFlag(decrypted.Get(0))
	remainder := decrypted.RebufferStart(1)

	switch flags {
	case protocol.FlagData:
		data, err := parseAnyDataBody(remainder)
		if err != nil {
			return nil, err
		}
		return &parsedMessage{kind: kindData, data: data}, nil
	case protocol.FlagTerm:
		return &parsedMessage{kind: kindTerm}, nil
	case protocol.FlagHdsk, protocol.FlagHdsk | protocol.FlagData:
		hasData := flags&protocol.FlagData != 0
		if remainder.Length() < AnyHdskHeader-1 {
			return nil, fmt.Errorf("%w: handshake too short: %d", protocol.ErrFraming, remainder.Length())
		}
		packetNumber := binary.BigEndian.Uint32(remainder.Reslice(0, 4))
		nextIn := binary.BigEndian.Uint32(remainder.Reslice(4, 8))
		tailLength := int(binary.BigEndian.Uint16(remainder.Reslice(8, 10)))

		msg := &parsedMessage{kind: kindHandshake, packetNumber: packetNumber, nextIn: nextIn, hasData: hasData}
		if hasData {
			if AnyHdskHeader-1+tailLength > remainder.Length() {
				return nil, fmt.Errorf("%w: handshake tail %d exceeds datagram", protocol.ErrFraming, tailLength)
			}
			msg.data = remainder.Rebuffer(AnyHdskHeader-1, remainder.Length()-tailLength)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: flags %d", protocol.ErrUnexpectedMessage, flags)
	}
}

func parseAnyDataBody(remainder *betterbuf.Buffer) (*betterbuf.Buffer, error) {
	if remainder.Length() < AnyOtherHeader-1 {
		return nil, fmt.Errorf("%w: data body too short: %d", protocol.ErrFraming, remainder.Length())
	}
	tailLength := int(binary.BigEndian.Uint16(remainder.Reslice(0, 2)))
	if AnyOtherHeader-1+tailLength > remainder.Length() {
		return nil, fmt.Errorf("%w: data tail %d exceeds datagram", protocol.ErrFraming, tailLength)
	}
	return remainder.Rebuffer(AnyOtherHeader-1, remainder.Length()-tailLength), nil
}
