package port

import (
	"testing"

	"github.com/pseusys/betterbuf"
	"github.com/pseusys/monocypher-go"

	"github.com/pseusys/seaside-viridian/internal/buffer"
	"github.com/pseusys/seaside-viridian/internal/crypto"
	"github.com/pseusys/seaside-viridian/internal/protocol"
)

func newTestAsymmetric(t *testing.T) (*crypto.Asymmetric, []byte) {
	t.Helper()
	privBytes, pubBytes, err := monocypher.GenerateKeyExchangeKeyPair()
	if err != nil {
		t.Fatalf("keypair generation failed: %v", err)
	}
	seed, err := betterbuf.NewRandomBuffer(crypto.SeedKeySize)
	if err != nil {
		t.Fatalf("seed generation failed: %v", err)
	}

	serverKeyBytes := append(append([]byte{}, pubBytes...), seed.Slice()...)
	client, err := crypto.NewAsymmetric(betterbuf.NewBufferFromSlice(serverKeyBytes))
	if err != nil {
		t.Fatalf("NewAsymmetric failed: %v", err)
	}
	return client, privBytes
}

func TestBuildClientInitShape(t *testing.T) {
	asym, _ := newTestAsymmetric(t)
	// A sealed token is its payload plus the cipher overhead the gateway
	// strips server-side.
	token := betterbuf.NewBufferFromSlice(make([]byte, 4+crypto.SymmetricCiphertextOverhead))

	sessionKey, frame, err := buildClientInit(asym, "my-client", token, 16)
	if err != nil {
		t.Fatalf("buildClientInit failed: %v", err)
	}
	if sessionKey.Length() != crypto.SymmetricHashSize {
		t.Errorf("session key length = %d, want %d", sessionKey.Length(), crypto.SymmetricHashSize)
	}
	if frame.Length() < ClientInitHeader+crypto.AsymmetricCiphertextOverhead+token.Length() {
		t.Errorf("frame shorter than expected minimum: %d", frame.Length())
	}
}

func TestBuildClientInitRejectsUndersizedToken(t *testing.T) {
	asym, _ := newTestAsymmetric(t)
	token := betterbuf.NewBufferFromSlice(make([]byte, crypto.SymmetricCiphertextOverhead-1))

	if _, _, err := buildClientInit(asym, "my-client", token, 16); err == nil {
		t.Fatal("expected an error for a token shorter than the cipher overhead")
	}
}

func TestBuildAndParseAnyData(t *testing.T) {
	cipher, err := crypto.NewSymmetric(nil)
	if err != nil {
		t.Fatalf("NewSymmetric failed: %v", err)
	}

	payload := []byte("a simulated IPv4 packet payload")
	data := buffer.PacketPool.Get(len(payload))
	copy(data.Slice(), payload)

	message, err := buildAnyData(cipher, data, 16)
	if err != nil {
		t.Fatalf("buildAnyData failed: %v", err)
	}

	// Walk the blob the way the read path walks the stream: encrypted
	// header first, then the declared data ciphertext, then the tail.
	encryptedHeaderLength := AnyOtherHeader + crypto.SymmetricCiphertextOverhead
	header := message.RebufferEnd(encryptedHeaderLength)

	msgType, dataLength, tailLength, err := parseAnyHeader(cipher, header)
	if err != nil {
		t.Fatalf("parseAnyHeader failed: %v", err)
	}
	if msgType != protocol.TypeData {
		t.Errorf("message type = %v, want TypeData", msgType)
	}
	if int(dataLength) != len(payload)+crypto.SymmetricCiphertextOverhead {
		t.Errorf("data length = %d, want %d", dataLength, len(payload)+crypto.SymmetricCiphertextOverhead)
	}
	if message.Length() != encryptedHeaderLength+int(dataLength)+int(tailLength) {
		t.Errorf("message length = %d, want header %d + data %d + tail %d", message.Length(), encryptedHeaderLength, dataLength, tailLength)
	}

	dataBuffer := message.Rebuffer(encryptedHeaderLength, encryptedHeaderLength+int(dataLength))
	plaintext, err := parseAnyData(cipher, dataBuffer)
	if err != nil {
		t.Fatalf("parseAnyData failed: %v", err)
	}
	if string(plaintext.Slice()) != string(payload) {
		t.Errorf("round-tripped payload = %q, want %q", plaintext.Slice(), payload)
	}
}

func TestBuildAnyDataRejectsOversizedPayload(t *testing.T) {
	cipher, err := crypto.NewSymmetric(nil)
	if err != nil {
		t.Fatalf("NewSymmetric failed: %v", err)
	}

	data := buffer.PacketPool.Get(buffer.MaxBody + 1)
	if _, err := buildAnyData(cipher, data, 16); err == nil {
		t.Fatal("expected an error for a payload above the framing ceiling")
	}
}

func TestBuildAnyTerm(t *testing.T) {
	cipher, err := crypto.NewSymmetric(nil)
	if err != nil {
		t.Fatalf("NewSymmetric failed: %v", err)
	}

	frame, err := buildAnyTerm(cipher, 8)
	if err != nil {
		t.Fatalf("buildAnyTerm failed: %v", err)
	}
	if frame.Length() < AnyOtherHeader+crypto.SymmetricCiphertextOverhead {
		t.Errorf("term frame too short: %d", frame.Length())
	}
}
