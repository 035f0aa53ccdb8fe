package port

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pseusys/betterbuf"
	"github.com/pseusys/monocypher-go"

	"github.com/pseusys/seaside-viridian/internal/buffer"
	"github.com/pseusys/seaside-viridian/internal/crypto"
	"github.com/pseusys/seaside-viridian/internal/protocol"
)

// stubGateway is the server half of the PORT handshake, reimplemented just
// far enough for the client state machine to run against a real socket: it
// unwraps the asymmetric envelope with the server private key, answers the
// auth exchange and echoes data frames on the data socket.
type stubGateway struct {
	privateKey []byte
	publicKey  []byte
	seed       *betterbuf.Buffer
}

func newStubGateway(t *testing.T) *stubGateway {
	t.Helper()
	privBytes, pubBytes, err := monocypher.GenerateKeyExchangeKeyPair()
	if err != nil {
		t.Fatalf("keypair generation failed: %v", err)
	}
	seed, err := betterbuf.NewRandomBuffer(crypto.SeedKeySize)
	if err != nil {
		t.Fatalf("seed generation failed: %v", err)
	}
	return &stubGateway{privateKey: privBytes, publicKey: pubBytes, seed: seed}
}

func (g *stubGateway) serverKey() *betterbuf.Buffer {
	return betterbuf.NewBufferFromSlice(append(append([]byte{}, g.publicKey...), g.seed.Slice()...))
}

// opaqueToken fabricates a sealed session token of the shape the coordinator
// relays: the given payload plus the cipher overhead the gateway strips
// server-side.
func opaqueToken(payload ...byte) *betterbuf.Buffer {
	token := make([]byte, len(payload)+crypto.SymmetricCiphertextOverhead)
	copy(token, payload)
	return betterbuf.NewBufferFromSlice(token)
}

// openEnvelope reverses the client's asymmetric envelope: de-obfuscates the
// ephemeral public key, re-derives the session key and opens the AEAD.
func (g *stubGateway) openEnvelope(t *testing.T, envelope []byte) (*crypto.Symmetric, []byte) {
	t.Helper()
	if len(envelope) < crypto.NumberN+crypto.PublicKeySize {
		t.Fatalf("envelope too short: %d", len(envelope))
	}

	hashSize := crypto.SymmetricHashSize
	maskHash, err := monocypher.NewBlake2bHash(nil, &hashSize)
	if err != nil {
		t.Fatalf("hash init failed: %v", err)
	}
	mask := maskHash.Update(envelope[:crypto.NumberN]).Update(g.seed.Slice()).Finalize()

	clientPub := make([]byte, crypto.PublicKeySize)
	for i := range clientPub {
		clientPub[i] = envelope[crypto.NumberN+i] ^ mask[i]
	}

	shared := monocypher.KeyExchange(g.privateKey, clientPub)
	keyHash, err := monocypher.NewBlake2bHash(nil, &hashSize)
	if err != nil {
		t.Fatalf("hash init failed: %v", err)
	}
	sessionKey := keyHash.Update(shared).Update(clientPub).Update(g.publicKey).Finalize()[:hashSize]

	cipher, err := crypto.NewSymmetric(betterbuf.NewBufferFromSlice(sessionKey))
	if err != nil {
		t.Fatalf("NewSymmetric failed: %v", err)
	}

	sealed := betterbuf.NewBufferFromSlice(envelope[crypto.NumberN+crypto.PublicKeySize:])
	plaintext, err := cipher.Decrypt(sealed, betterbuf.NewBufferFromSlice(clientPub))
	if err != nil {
		t.Fatalf("envelope decryption failed: %v", err)
	}
	return cipher, plaintext.Slice()
}

func buildServerInit(t *testing.T, cipher *crypto.Symmetric, userID uint16, tailLength int) []byte {
	t.Helper()
	header := buffer.PacketPool.Get(ServerInitHeader)
	defer buffer.PacketPool.Put(header)

	header.Set(0, byte(protocol.FlagInit))
	header.Set(1, byte(protocol.CodeSuccess))
	binary.BigEndian.PutUint16(header.ResliceStart(2), userID)
	binary.BigEndian.PutUint16(header.ResliceStart(4), uint16(tailLength))

	encrypted, err := cipher.Encrypt(header, nil)
	if err != nil {
		t.Fatalf("server-init encryption failed: %v", err)
	}
	tailed := buffer.EmbedReliableTailLength(encrypted, tailLength)
	return append([]byte{}, tailed.Slice()...)
}

// readDataFrame reads one steady-state frame off conn and returns its
// decrypted payload, or nil for a termination frame.
func readDataFrame(t *testing.T, cipher *crypto.Symmetric, conn net.Conn) []byte {
	t.Helper()
	encryptedHeaderLength := AnyOtherHeader + crypto.SymmetricCiphertextOverhead
	headerBytes := make([]byte, encryptedHeaderLength)
	if _, err := io.ReadFull(conn, headerBytes); err != nil {
		t.Fatalf("header read failed: %v", err)
	}

	msgType, dataLength, tailLength, err := parseAnyHeader(cipher, betterbuf.NewBufferFromSlice(headerBytes))
	if err != nil {
		t.Fatalf("header parse failed: %v", err)
	}
	if msgType == protocol.TypeTermination {
		io.CopyN(io.Discard, conn, int64(tailLength))
		return nil
	}

	dataBytes := make([]byte, dataLength)
	if _, err := io.ReadFull(conn, dataBytes); err != nil {
		t.Fatalf("data read failed: %v", err)
	}
	if _, err := io.CopyN(io.Discard, conn, int64(tailLength)); err != nil {
		t.Fatalf("tail discard failed: %v", err)
	}

	plaintext, err := parseAnyData(cipher, betterbuf.NewBufferFromSlice(dataBytes))
	if err != nil {
		t.Fatalf("data parse failed: %v", err)
	}
	return append([]byte{}, plaintext.Slice()...)
}

func writeDataFrame(t *testing.T, cipher *crypto.Symmetric, conn net.Conn, payload []byte) {
	t.Helper()
	data := buffer.PacketPool.Get(len(payload))
	copy(data.Slice(), payload)
	message, err := buildAnyData(cipher, data, 16)
	if err != nil {
		t.Fatalf("frame build failed: %v", err)
	}
	if _, err := conn.Write(message.Slice()); err != nil {
		t.Fatalf("frame write failed: %v", err)
	}
}

// runStubGateway accepts the auth connection, answers the handshake with the
// data listener's port as the user id, then serves handler on the data
// connection.
func runStubGateway(t *testing.T, gateway *stubGateway, handler func(*crypto.Symmetric, net.Conn)) (uint16, <-chan struct{}) {
	t.Helper()
	authListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("auth listen failed: %v", err)
	}
	dataListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("data listen failed: %v", err)
	}
	t.Cleanup(func() { authListener.Close(); dataListener.Close() })
	userID := uint16(dataListener.Addr().(*net.TCPAddr).Port)

	done := make(chan struct{})
	go func() {
		defer close(done)

		authConn, err := authListener.Accept()
		if err != nil {
			return
		}
		defer authConn.Close()

		// Fixed-size header envelope first, then the token and tail it
		// declares.
		envelope := make([]byte, ClientInitHeader+crypto.AsymmetricCiphertextOverhead)
		if _, err := io.ReadFull(authConn, envelope); err != nil {
			return
		}
		cipher, initPlain := gateway.openEnvelope(t, envelope)
		if initPlain[0] != byte(protocol.FlagInit) {
			t.Errorf("client-init flag = %d, want %d", initPlain[0], protocol.FlagInit)
			return
		}
		tokenLength := binary.BigEndian.Uint16(initPlain[33:35])
		tailLength := binary.BigEndian.Uint16(initPlain[35:37])
		// The token-length field is the sealed token's pre-overhead size;
		// the gateway reads the cipher overhead back on top of it.
		if _, err := io.ReadFull(authConn, make([]byte, int(tokenLength)+crypto.SymmetricCiphertextOverhead)); err != nil {
			return
		}
		if _, err := io.CopyN(io.Discard, authConn, int64(tailLength)); err != nil {
			return
		}

		if _, err := authConn.Write(buildServerInit(t, cipher, userID, 8)); err != nil {
			return
		}

		dataConn, err := dataListener.Accept()
		if err != nil {
			return
		}
		defer dataConn.Close()
		handler(cipher, dataConn)
	}()

	return uint16(authListener.Addr().(*net.TCPAddr).Port), done
}

func TestClientHandshakeAndEcho(t *testing.T) {
	gateway := newStubGateway(t)
	payload := make([]byte, 1200)
	for i := range payload {
		payload[i] = byte(i)
	}

	authPort, done := runStubGateway(t, gateway, func(cipher *crypto.Symmetric, conn net.Conn) {
		received := readDataFrame(t, cipher, conn)
		writeDataFrame(t, cipher, conn, received)
	})

	asym, err := crypto.NewAsymmetric(gateway.serverKey())
	if err != nil {
		t.Fatalf("NewAsymmetric failed: %v", err)
	}

	client := NewClient(nil, 5*time.Second, 16)
	token := opaqueToken(0xCA, 0xFE)
	if err := client.Connect(context.Background(), "127.0.0.1", authPort, asym, "test-client", token); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Terminate()

	if client.State() != StateEstablished {
		t.Fatalf("state = %d, want StateEstablished", client.State())
	}

	data := buffer.PacketPool.Get(len(payload))
	copy(data.Slice(), payload)
	if err := client.Write(context.Background(), data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	echoed, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(echoed.Slice()) != string(payload) {
		t.Error("echoed payload does not match the one sent")
	}
	buffer.PacketPool.Put(echoed)

	<-done
}

func TestClientReadReportsPeerTermination(t *testing.T) {
	gateway := newStubGateway(t)

	authPort, done := runStubGateway(t, gateway, func(cipher *crypto.Symmetric, conn net.Conn) {
		frame, err := buildAnyTerm(cipher, 8)
		if err != nil {
			t.Errorf("term build failed: %v", err)
			return
		}
		conn.Write(frame.Slice())
		buffer.PacketPool.Put(frame)
	})

	asym, err := crypto.NewAsymmetric(gateway.serverKey())
	if err != nil {
		t.Fatalf("NewAsymmetric failed: %v", err)
	}

	client := NewClient(nil, 5*time.Second, 16)
	token := opaqueToken(0x01)
	if err := client.Connect(context.Background(), "127.0.0.1", authPort, asym, "test-client", token); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Read(ctx); !errors.Is(err, protocol.ErrPeerTerminated) {
		t.Fatalf("Read error = %v, want ErrPeerTerminated", err)
	}
	if client.State() != StateClosed {
		t.Errorf("state = %d, want StateClosed", client.State())
	}

	<-done
}
