// Package seal provides authenticated at-rest encryption for content-store blobs.
//
// Every sealed blob is nonce || ciphertext. The key is derived once from a
// passphrase with scrypt, so every process configured with the same
// passphrase and salt can open every blob.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// ErrOpen is returned when a blob fails authentication or is too short to
// contain a nonce. Callers treat it as corruption, never as "missing".
var ErrOpen = errors.New("seal: message authentication failed")

// scrypt cost parameters (N=2^15, r=8, p=1) per the x/crypto recommendation
// for interactive logins.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Sealer encrypts and decrypts blobs.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// AEAD seals with XChaCha20-Poly1305 and a random 24-byte nonce.
type AEAD struct {
	aead cipher.AEAD
}

// NewPassphrase derives a key from passphrase and salt.
func NewPassphrase(passphrase, salt string) (*AEAD, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("seal: passphrase is required")
	}
	if len(salt) < 8 {
		return nil, fmt.Errorf("seal: salt must be at least 8 bytes")
	}
	key, err := scrypt.Key([]byte(passphrase), []byte(salt), scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("seal: derive key: %w", err)
	}
	return NewKey(key)
}

// NewKey builds a sealer from a raw 32-byte key.
func NewKey(key []byte) (*AEAD, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal: init cipher: %w", err)
	}
	return &AEAD{aead: aead}, nil
}

func (a *AEAD) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.aead.NonceSize(), a.aead.NonceSize()+len(plaintext)+a.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return a.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (a *AEAD) Open(sealed []byte) ([]byte, error) {
	ns := a.aead.NonceSize()
	if len(sealed) < ns+a.aead.Overhead() {
		return nil, ErrOpen
	}
	plain, err := a.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
