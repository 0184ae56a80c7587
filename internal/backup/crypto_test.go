package backup

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}

	plaintext := []byte("sqlite file contents go here")
	enc, err := Encrypt(plaintext, "correct horse", salt)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(enc, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	dec, err := Decrypt(enc, "correct horse")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(dec, plaintext) {
		t.Errorf("roundtrip mismatch: %q", dec)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	salt, _ := GenerateSalt()
	enc, err := Encrypt([]byte("secret"), "right", salt)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := Decrypt(enc, "wrong"); err == nil {
		t.Error("wrong passphrase should fail authentication")
	}
}

func TestDecryptTruncated(t *testing.T) {
	if _, err := Decrypt([]byte("short"), "pass"); err == nil {
		t.Error("truncated input should error")
	}
}

func TestGenerateSaltUnique(t *testing.T) {
	a, _ := GenerateSalt()
	b, _ := GenerateSalt()
	if bytes.Equal(a, b) {
		t.Error("two salts should differ")
	}
	if len(a) != saltSize {
		t.Errorf("salt length = %d, want %d", len(a), saltSize)
	}
}
