// Package cryptox is the crypto envelope: symmetric AEAD over opaque byte
// payloads. It is the single point where plaintext meets ciphertext; it does
// no I/O and never logs.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the symmetric key length (AES-256).
	KeySize = 32
	// SaltSize is the length of the KDF salt.
	SaltSize = 16
)

// ErrAuthenticationFailed is returned by Open when the ciphertext fails
// authentication: wrong key, truncated blob, or any tampered byte.
var ErrAuthenticationFailed = errors.New("authentication failed")

// DeriveMasterKey derives the session master key from a passphrase and salt
// using Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// MakeVerifier returns a value safe to persist for detecting a wrong
// passphrase at login without storing the master key itself.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// GenerateKey returns a fresh random symmetric key.
func GenerateKey() ([]byte, error) {
	return randBytes(KeySize)
}

// GenerateSalt returns a fresh random KDF salt.
func GenerateSalt() ([]byte, error) {
	return randBytes(SaltSize)
}

// Seal encrypts plaintext with AES-GCM under key. A fresh nonce is generated
// per call and prepended to the returned blob, so the output is
// self-contained: nonce || ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce, err := randBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. Any single-bit modification of the
// blob makes Open fail with ErrAuthenticationFailed; it never returns
// corrupted plaintext.
func Open(key, blob []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < aead.NonceSize() {
		return nil, ErrAuthenticationFailed
	}

	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("rand: %w", err)
	}
	return b, nil
}
