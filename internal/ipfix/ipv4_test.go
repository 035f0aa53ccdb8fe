package ipfix

import (
	"net"
	"testing"

	"github.com/pseusys/betterbuf"
)

func buildIPv4Packet(t *testing.T, src, dst net.IP, protocol byte, payload []byte) *betterbuf.Buffer {
	t.Helper()
	totalLength := 20 + len(payload)
	raw := make([]byte, totalLength)
	raw[0] = 0x45
	raw[2] = byte(totalLength >> 8)
	raw[3] = byte(totalLength)
	raw[9] = protocol
	copy(raw[12:16], src.To4())
	copy(raw[16:20], dst.To4())
	copy(raw[20:], payload)

	packet := betterbuf.NewBufferFromSlice(raw)
	checksum := calculateChecksum(packet.RebufferEnd(20))
	raw[10] = byte(checksum >> 8)
	raw[11] = byte(checksum)
	return betterbuf.NewBufferFromSlice(raw)
}

func TestReadIPv4(t *testing.T) {
	src, dst := net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2)
	packet := buildIPv4Packet(t, src, dst, 6, []byte("payload"))

	header, err := ReadIPv4(packet)
	if err != nil {
		t.Fatalf("ReadIPv4 returned error: %v", err)
	}
	if header.Protocol != 6 {
		t.Errorf("protocol = %d, want 6", header.Protocol)
	}
	if !header.Source.Equal(src) {
		t.Errorf("source = %v, want %v", header.Source, src)
	}
	if !header.Destination.Equal(dst) {
		t.Errorf("destination = %v, want %v", header.Destination, dst)
	}
	if int(header.TotalLength) != packet.Length() {
		t.Errorf("total length = %d, want %d", header.TotalLength, packet.Length())
	}
}

func TestReadIPv4TooShort(t *testing.T) {
	packet := betterbuf.NewBufferFromSlice(make([]byte, 10))
	if _, err := ReadIPv4(packet); err == nil {
		t.Fatal("expected error for truncated packet, got nil")
	}
}

func TestReadIPv4WrongVersion(t *testing.T) {
	raw := make([]byte, 20)
	raw[0] = 0x65
	packet := betterbuf.NewBufferFromSlice(raw)
	if _, err := ReadIPv4(packet); err == nil {
		t.Fatal("expected error for non-IPv4 version nibble, got nil")
	}
}

func TestVerifyChecksum(t *testing.T) {
	packet := buildIPv4Packet(t, net.IPv4(192, 168, 0, 1), net.IPv4(192, 168, 0, 2), 17, []byte("udp"))

	ok, err := VerifyChecksum(packet)
	if err != nil {
		t.Fatalf("VerifyChecksum returned error: %v", err)
	}
	if !ok {
		t.Error("expected valid checksum to verify")
	}

	corrupted := betterbuf.NewBufferFromSlice(append([]byte{}, packet.Slice()...))
	corrupted.Set(10, corrupted.Get(10)^0xFF)
	ok, err = VerifyChecksum(corrupted)
	if err != nil {
		t.Fatalf("VerifyChecksum returned error: %v", err)
	}
	if ok {
		t.Error("expected corrupted checksum to fail verification")
	}
}
