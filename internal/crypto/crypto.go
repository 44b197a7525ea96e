// Package crypto provides NaCl secretbox encryption for clipshare frames.
//
// A 32-byte symmetric key is derived from the shared token using
// HKDF-SHA256. Every frame is sealed with a random 24-byte nonce prepended
// to the ciphertext:
//
//	[ 24-byte nonce ][ ciphertext ]
//
// An empty token means no encryption: the wire layer is given a nil key.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24

	// Overhead is how many bytes Seal adds to a plaintext.
	Overhead = nonceSize + secretbox.Overhead
)

// ErrDecrypt is returned when a ciphertext fails authentication, usually
// because the peers were configured with different tokens.
var ErrDecrypt = errors.New("decryption failed (wrong token?)")

var hkdfInfo = []byte("clipshare-v1")

// DeriveKey derives a 32-byte NaCl secretbox key from a token string using
// HKDF-SHA256. Both sides must use the same token to derive the same key.
func DeriveKey(token string) (*[keySize]byte, error) {
	h := hkdf.New(sha256.New, []byte(token), nil, hkdfInfo)
	var key [keySize]byte
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return &key, nil
}

// KeyFor returns the key for token, or nil when token is empty.
func KeyFor(token string) (*[keySize]byte, error) {
	if token == "" {
		return nil, nil
	}
	return DeriveKey(token)
}

// Seal encrypts plaintext with key and returns nonce+ciphertext.
func Seal(plaintext []byte, key *[keySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Open decrypts nonce+ciphertext with key.
func Open(ciphertext []byte, key *[keySize]byte) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, fmt.Errorf("ciphertext too short (%d bytes)", len(ciphertext))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
