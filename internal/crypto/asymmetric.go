package crypto

import (
	"fmt"

	"github.com/pseusys/betterbuf"
	"github.com/pseusys/monocypher-go"
)

const (
	NumberN                      = 2
	SeedKeySize                  = 8
	PublicKeySize                = 32
	PrivateKeySize               = 32
	SymmetricHashSize            = 32
	AsymmetricCiphertextOverhead = SymmetricCiphertextOverhead + PublicKeySize + NumberN
)

func computeBlake2Hash(sharedSecret, clientKey, serverKey *betterbuf.Buffer) (*betterbuf.Buffer, error) {
	hashSize := SymmetricHashSize
	hash, err := monocypher.NewBlake2bHash(nil, &hashSize)
	if err != nil {
		return nil, fmt.Errorf("error generating Blake2 hash: %v", err)
	}
	hash = hash.Update(sharedSecret.Slice()).Update(clientKey.Slice()).Update(serverKey.Slice())
	return betterbuf.NewBufferFromSlice(hash.Finalize()[:hashSize]), nil
}

// Asymmetric is the client side of the key-agreement envelope: it only
// ever holds the gateway's public material, never a private key (the
// decrypting half of the envelope lives on the gateway).
type Asymmetric struct {
	serverPublicKey, seedKey *betterbuf.Buffer
}

// NewAsymmetric builds an Asymmetric envelope from the 40-byte public
// material embedded in the session certificate (32-byte X25519 public key
// concatenated with an 8-byte obfuscation seed).
func NewAsymmetric(serverKey *betterbuf.Buffer) (*Asymmetric, error) {
	if serverKey.Length() != PublicKeySize+SeedKeySize {
		return nil, fmt.Errorf("invalid server public key length: %d != %d", serverKey.Length(), PublicKeySize+SeedKeySize)
	}
	pub, seed := serverKey.RebufferEnd(PublicKeySize), serverKey.RebufferStart(PublicKeySize)
	return &Asymmetric{serverPublicKey: pub, seedKey: seed}, nil
}

func (a *Asymmetric) hidePublicKey(ephemeralPub *betterbuf.Buffer) (*betterbuf.Buffer, error) {
	n, err := betterbuf.NewRandomBuffer(NumberN)
	if err != nil {
		return nil, fmt.Errorf("error generating obfuscation prefix: %v", err)
	}

	hashSize := SymmetricHashSize
	hash, err := monocypher.NewBlake2bHash(nil, &hashSize)
	if err != nil {
		return nil, fmt.Errorf("error generating Blake2 hash: %v", err)
	}
	hash = hash.Update(n.Slice()).Update(a.seedKey.Slice())
	mask := hash.Finalize()[:hashSize]

	hidden := betterbuf.NewClearBuffer(0, NumberN+PublicKeySize, 0)
	copy(hidden.ResliceEnd(NumberN), n.Slice())
	maskedKey := hidden.Reslice(NumberN, NumberN+PublicKeySize)
	copy(maskedKey, ephemeralPub.Slice())
	for i := range maskedKey {
		maskedKey[i] ^= mask[i]
	}
	return hidden, nil
}

// Encrypt generates a fresh ephemeral X25519 keypair, derives the session
// key, obfuscates the ephemeral public key against the server's seed and
// seals plaintext under the session key with the (unobfuscated) ephemeral
// public key as AAD. The derived session key is returned alongside the
// ciphertext: it keys every symmetric frame that follows.
func (a *Asymmetric) Encrypt(plaintext *betterbuf.Buffer) (*betterbuf.Buffer, *betterbuf.Buffer, error) {
	privBytes, pubBytes, err := monocypher.GenerateKeyExchangeKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("asymmetrical keypair generating error: %v", err)
	}
	ephemeralPriv, ephemeralPub := betterbuf.NewBufferFromSlice(privBytes), betterbuf.NewBufferFromSlice(pubBytes)

	shared := betterbuf.NewBufferFromSlice(monocypher.KeyExchange(ephemeralPriv.Slice(), a.serverPublicKey.Slice()))
	sessionKey, err := computeBlake2Hash(shared, ephemeralPub, a.serverPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error calculating Blake2 hash: %v", err)
	}

	cipher, err := NewSymmetric(sessionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("symmetrical cipher creation error: %v", err)
	}

	hidden, err := a.hidePublicKey(ephemeralPub)
	if err != nil {
		return nil, nil, fmt.Errorf("error obfuscating ephemeral public key: %v", err)
	}

	sealed, err := cipher.Encrypt(plaintext, ephemeralPub)
	if err != nil {
		return nil, nil, fmt.Errorf("error encrypting plaintext with ephemeral session key: %v", err)
	}

	ciphertext, err := sealed.PrependBuffer(hidden)
	if err != nil {
		return nil, nil, fmt.Errorf("error prepending hidden public key: %v", err)
	}

	return sessionKey, ciphertext, nil
}

// CiphertextOverhead returns the number of bytes Encrypt adds around the
// plaintext: the obfuscated ephemeral key prefix plus the symmetric AEAD
// overhead, 2 + 32 + NonceSize + MacSize = 74.
func (a *Asymmetric) CiphertextOverhead() int {
	return AsymmetricCiphertextOverhead
}
