package certificate

import (
	"os"
	"path/filepath"
	"testing"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/pseusys/seaside-viridian/internal/crypto"
)

func buildCertificate(t *testing.T, address string, portPort, typhoonPort uint16, dns string, publicKey, token []byte) []byte {
	t.Helper()
	builder := flatbuffers.NewBuilder(256)

	addressOff := builder.CreateString(address)
	var dnsOff flatbuffers.UOffsetT
	if dns != "" {
		dnsOff = builder.CreateString(dns)
	}
	publicKeyOff := builder.CreateByteVector(publicKey)
	tokenOff := builder.CreateByteVector(token)

	SeasideCertificateStart(builder)
	SeasideCertificateAddAddress(builder, addressOff)
	SeasideCertificateAddPortPort(builder, portPort)
	SeasideCertificateAddTyphoonPort(builder, typhoonPort)
	if dns != "" {
		SeasideCertificateAddDns(builder, dnsOff)
	}
	SeasideCertificateAddPublicKey(builder, publicKeyOff)
	SeasideCertificateAddToken(builder, tokenOff)
	root := SeasideCertificateEnd(builder)
	builder.Finish(root)

	return builder.FinishedBytes()
}

func TestParseCertificate(t *testing.T) {
	publicKey := make([]byte, crypto.PublicKeySize+crypto.SeedKeySize)
	for i := range publicKey {
		publicKey[i] = byte(i)
	}
	token := []byte{0xCA, 0xFE, 0xBA, 0xBE}

	data := buildCertificate(t, "127.0.0.1", 9000, 9001, "", publicKey, token)

	cert, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if cert.Address != "127.0.0.1" {
		t.Errorf("address = %q, want 127.0.0.1", cert.Address)
	}
	if cert.PortPort != 9000 || cert.TyphoonPort != 9001 {
		t.Errorf("ports = (%d, %d), want (9000, 9001)", cert.PortPort, cert.TyphoonPort)
	}
	if cert.DNS != NoDNS {
		t.Errorf("dns = %q, want sentinel %q", cert.DNS, NoDNS)
	}
	if cert.PublicKey.Length() != len(publicKey) {
		t.Errorf("public key length = %d, want %d", cert.PublicKey.Length(), len(publicKey))
	}
	if cert.Token.Length() != len(token) {
		t.Errorf("token length = %d, want %d", cert.Token.Length(), len(token))
	}

	port, err := cert.Port("typhoon")
	if err != nil || port != 9001 {
		t.Errorf("Port(typhoon) = (%d, %v), want (9001, nil)", port, err)
	}
}

func TestParseCertificateWithDNS(t *testing.T) {
	publicKey := make([]byte, crypto.PublicKeySize+crypto.SeedKeySize)
	data := buildCertificate(t, "10.0.0.1", 1, 2, "8.8.8.8", publicKey, []byte{0x01})

	cert, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if cert.DNS != "8.8.8.8" {
		t.Errorf("dns = %q, want 8.8.8.8", cert.DNS)
	}
}

func TestParseCertificateRejectsBadPublicKeyLength(t *testing.T) {
	data := buildCertificate(t, "127.0.0.1", 1, 2, "", []byte{0x01, 0x02}, []byte{0x01})
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for undersized public key, got nil")
	}
}

func TestParseCertificateRejectsMissingToken(t *testing.T) {
	publicKey := make([]byte, crypto.PublicKeySize+crypto.SeedKeySize)
	data := buildCertificate(t, "127.0.0.1", 1, 2, "", publicKey, nil)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for missing token, got nil")
	}
}

func TestLoadFromFile(t *testing.T) {
	publicKey := make([]byte, crypto.PublicKeySize+crypto.SeedKeySize)
	data := buildCertificate(t, "127.0.0.1", 9000, 9001, "", publicKey, []byte{0xAB})

	path := filepath.Join(t.TempDir(), "cert.bin")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed writing fixture: %v", err)
	}

	cert, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cert.Address != "127.0.0.1" {
		t.Errorf("address = %q, want 127.0.0.1", cert.Address)
	}
}
