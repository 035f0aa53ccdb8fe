// Package ipfix reads the minimal set of IPv4 header fields the tunnel
// adapter logs for each captured packet, without rewriting the header — the
// Viridian tunnel endpoint forwards payloads opaquely and lets Caerulean's
// masquerade own address translation, so no checksum recomputation runs in
// the steady-state path.
package ipfix

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/pseusys/betterbuf"
)

const ipv4MinHeaderLength = 20

// Header carries the handful of IPv4 header fields the tunnel reader's
// debug trace needs.
type Header struct {
	TotalLength uint16
	Protocol    byte
	Source      net.IP
	Destination net.IP
}

// ReadIPv4 parses the header of an IPv4 packet without copying its payload.
func ReadIPv4(packet *betterbuf.Buffer) (*Header, error) {
	if packet.Length() < ipv4MinHeaderLength {
		return nil, fmt.Errorf("packet too short for IPv4: %d bytes", packet.Length())
	}

	version := packet.Get(0) >> 4
	if version != 4 {
		return nil, fmt.Errorf("not an IPv4 packet: version %d", version)
	}

	ihl := int(packet.Get(0)&0x0F) * 4
	if ihl < ipv4MinHeaderLength {
		return nil, fmt.Errorf("invalid IPv4 header length: %d", ihl)
	}
	if packet.Length() < ihl {
		return nil, fmt.Errorf("packet shorter than its declared header length: %d < %d", packet.Length(), ihl)
	}

	return &Header{
		TotalLength: binary.BigEndian.Uint16(packet.Reslice(2, 4)),
		Protocol:    packet.Get(9),
		Source:      net.IP(append([]byte{}, packet.Reslice(12, 16)...)),
		Destination: net.IP(append([]byte{}, packet.Reslice(16, 20)...)),
	}, nil
}

// VerifyChecksum recomputes the RFC 1071 Internet checksum over the IPv4
// header and reports whether it matches the embedded one. Used only by
// diagnostics and tests: the steady-state shuttle trusts the kernel's TUN
// device to hand it well-formed packets and never calls this on the hot
// path.
func VerifyChecksum(packet *betterbuf.Buffer) (bool, error) {
	if packet.Length() < ipv4MinHeaderLength {
		return false, fmt.Errorf("packet too short for IPv4: %d bytes", packet.Length())
	}
	ihl := int(packet.Get(0)&0x0F) * 4
	if ihl < ipv4MinHeaderLength || packet.Length() < ihl {
		return false, fmt.Errorf("invalid IPv4 header length: %d", ihl)
	}
	return calculateChecksum(packet.RebufferEnd(ihl)) == 0, nil
}

// calculateChecksum computes the Internet checksum (RFC 1071) over the
// concatenation of the given buffers, folding carries back into the low 16
// bits. A checksum computed over data that already includes a valid
// checksum field evaluates to zero.
func calculateChecksum(dataPieces ...*betterbuf.Buffer) uint16 {
	var sum uint32
	for _, data := range dataPieces {
		length := data.Length()
		for i := 0; i < length-1; i += 2 {
			sum += uint32(binary.BigEndian.Uint16(data.Reslice(i, i+2)))
		}
		if length%2 != 0 {
			sum += uint32(data.Get(length-1)) << 8
		}
	}
	for (sum >> 16) > 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
