// Package certificate parses the session certificate the Viridian client is
// launched with: a FlatBuffers-encoded record naming the Caerulean gateway,
// its two protocol ports, an optional DNS override and the long-term key
// material needed to bootstrap the asymmetric envelope.
package certificate

import (
	"fmt"
	"net"
	"os"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/pseusys/betterbuf"

	"github.com/pseusys/seaside-viridian/internal/crypto"
)

// NoDNS is the sentinel DNS value meaning "no DNS override requested".
const NoDNS = "0.0.0.0"

// Certificate is the parsed, validated form of a SeasideCertificate record.
type Certificate struct {
	Address     string
	PortPort    uint16
	TyphoonPort uint16
	DNS         string
	PublicKey   *betterbuf.Buffer
	Token       *betterbuf.Buffer
}

// Load reads a certificate from a filesystem path.
func Load(path string) (*Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading certificate file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a certificate from its in-band FlatBuffers representation,
// accepting either a bare root-table buffer or one prefixed with its own
// size (flatc's FinishSizePrefixed convention).
func Parse(data []byte) (*Certificate, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("certificate record too short: %d bytes", len(data))
	}

	var raw *SeasideCertificate
	declaredSize := flatbuffers.GetUOffsetT(data)
	if int(declaredSize)+flatbuffers.SizeUint32 == len(data) {
		raw = GetSizePrefixedRootAsSeasideCertificate(data, 0)
	} else {
		raw = GetRootAsSeasideCertificate(data, 0)
	}

	address := string(raw.Address())
	if address == "" {
		return nil, fmt.Errorf("certificate is missing a server address")
	}

	dns := string(raw.Dns())
	if dns == "" {
		dns = NoDNS
	} else if net.ParseIP(dns) == nil {
		return nil, fmt.Errorf("certificate DNS hint %q is not a valid IP address", dns)
	}

	keyLength := crypto.PublicKeySize + crypto.SeedKeySize
	if raw.PublicKeyLength() != keyLength {
		return nil, fmt.Errorf("certificate public key length %d != %d", raw.PublicKeyLength(), keyLength)
	}
	if raw.TokenLength() == 0 {
		return nil, fmt.Errorf("certificate is missing a session token")
	}

	return &Certificate{
		Address:     address,
		PortPort:    raw.PortPort(),
		TyphoonPort: raw.TyphoonPort(),
		DNS:         dns,
		PublicKey:   betterbuf.NewBufferFromSlice(raw.PublicKeyBytes()),
		Token:       betterbuf.NewBufferFromSlice(raw.TokenBytes()),
	}, nil
}

// Port returns the certificate's port for the named protocol ("port" or
// "typhoon").
func (c *Certificate) Port(protocol string) (uint16, error) {
	switch protocol {
	case "port":
		return c.PortPort, nil
	case "typhoon":
		return c.TyphoonPort, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", protocol)
	}
}
