package crypto

import (
	"testing"

	"github.com/pseusys/betterbuf"
	"github.com/pseusys/monocypher-go"
)

func newServerKey(t *testing.T) *betterbuf.Buffer {
	t.Helper()
	_, pubBytes, err := monocypher.GenerateKeyExchangeKeyPair()
	if err != nil {
		t.Fatalf("keypair generation failed: %v", err)
	}
	seed, err := betterbuf.NewRandomBuffer(SeedKeySize)
	if err != nil {
		t.Fatalf("seed generation failed: %v", err)
	}
	return betterbuf.NewBufferFromSlice(append(append([]byte{}, pubBytes...), seed.Slice()...))
}

func TestAsymmetricCiphertextOverhead(t *testing.T) {
	asym, err := NewAsymmetric(newServerKey(t))
	if err != nil {
		t.Fatalf("NewAsymmetric failed: %v", err)
	}
	if asym.CiphertextOverhead() != 74 {
		t.Errorf("ciphertext overhead = %d, want 74", asym.CiphertextOverhead())
	}
}

func TestAsymmetricRejectsWrongKeyLength(t *testing.T) {
	short := betterbuf.NewClearBuffer(0, PublicKeySize, 0)
	if _, err := NewAsymmetric(short); err == nil {
		t.Fatal("expected an error for key material missing its seed")
	}
}

func TestAsymmetricEncryptShape(t *testing.T) {
	asym, err := NewAsymmetric(newServerKey(t))
	if err != nil {
		t.Fatalf("NewAsymmetric failed: %v", err)
	}

	payload := []byte("client-init plaintext")
	sessionKey, ciphertext, err := asym.Encrypt(newSealable(payload))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if sessionKey.Length() != SymmetricKeySize {
		t.Errorf("session key length = %d, want %d", sessionKey.Length(), SymmetricKeySize)
	}
	if ciphertext.Length() != len(payload)+AsymmetricCiphertextOverhead {
		t.Errorf("ciphertext length = %d, want %d", ciphertext.Length(), len(payload)+AsymmetricCiphertextOverhead)
	}
}

func TestAsymmetricSessionKeysDifferPerEncryption(t *testing.T) {
	asym, err := NewAsymmetric(newServerKey(t))
	if err != nil {
		t.Fatalf("NewAsymmetric failed: %v", err)
	}

	first, _, err := asym.Encrypt(newSealable([]byte("one")))
	if err != nil {
		t.Fatalf("first Encrypt failed: %v", err)
	}
	second, _, err := asym.Encrypt(newSealable([]byte("two")))
	if err != nil {
		t.Fatalf("second Encrypt failed: %v", err)
	}

	if string(first.Slice()) == string(second.Slice()) {
		t.Error("two encryptions derived the same session key; ephemeral keypair is not fresh")
	}
}
