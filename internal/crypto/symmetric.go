package crypto

import (
	"crypto/cipher"
	"fmt"

	"github.com/pseusys/betterbuf"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	SymmetricKeySize            = 32
	NonceSize                   = 24
	MacSize                     = 16
	SymmetricCiphertextOverhead = NonceSize + MacSize
)

// Symmetric wraps an XChaCha20-Poly1305 AEAD. Wire convention: ciphertext is
// laid out as `sealed-data || tag || nonce` — the nonce trails the payload
// instead of leading it, matching the gateway's encoding so frames stay
// byte-exact across the wire.
type Symmetric struct {
	aead cipher.AEAD
}

// NewSymmetric builds a Symmetric cipher from a 32-byte key, or from a fresh
// random key if key is nil.
func NewSymmetric(key *betterbuf.Buffer) (*Symmetric, error) {
	var err error
	if key == nil {
		key, err = betterbuf.NewRandomBuffer(chacha20poly1305.KeySize)
		if err != nil {
			return nil, fmt.Errorf("symmetrical key reading error: %v", err)
		}
	}

	aead, err := chacha20poly1305.NewX(key.Slice())
	if err != nil {
		return nil, fmt.Errorf("symmetrical key creation error: %v", err)
	}

	return &Symmetric{aead}, nil
}

// Encrypt seals plaintext in place (plaintext must have MacSize bytes of
// forward headroom and NonceSize bytes of additional forward headroom for
// the trailing nonce) and returns the widened buffer.
func (s *Symmetric) Encrypt(plaintext, additional *betterbuf.Buffer) (*betterbuf.Buffer, error) {
	nonce, err := betterbuf.NewRandomBuffer(s.aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("nonce generation error: %v", err)
	}

	var additionalSlice []byte
	if additional != nil {
		additionalSlice = additional.Slice()
	}

	encrypted := s.aead.Seal(plaintext.ResliceEnd(0), nonce.Slice(), plaintext.Slice(), additionalSlice)
	ciphertext, err := plaintext.EnsureSameSlice(encrypted)
	if err != nil {
		return nil, fmt.Errorf("unexpected allocation performed during symmetrical encryption: %v", err)
	}

	message, err := ciphertext.AppendBuffer(nonce)
	if err != nil {
		return nil, fmt.Errorf("appending nonce to ciphertext error: %v", err)
	}
	return message, nil
}

// Decrypt opens a ciphertext built by Encrypt (nonce trailing).
func (s *Symmetric) Decrypt(ciphertext, additional *betterbuf.Buffer) (*betterbuf.Buffer, error) {
	cipherLength := ciphertext.Length()
	if cipherLength < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext length %d too short (less than nonce length %d + overhead %d)", cipherLength, s.aead.NonceSize(), s.aead.Overhead())
	}

	var additionalSlice []byte
	if additional != nil {
		additionalSlice = additional.Slice()
	}

	encryptedLength := cipherLength - s.aead.NonceSize()
	body, nonce := ciphertext.RebufferEnd(encryptedLength), ciphertext.RebufferStart(encryptedLength)
	decrypted, err := s.aead.Open(body.ResliceEnd(0), nonce.Slice(), body.Slice(), additionalSlice)
	if err != nil {
		return nil, fmt.Errorf("symmetrical decrypting error: %v", err)
	}

	plaintext, err := body.EnsureSameSlice(decrypted)
	if err != nil {
		return nil, fmt.Errorf("unexpected allocation performed during symmetrical decryption: %v", err)
	}
	return plaintext, nil
}
