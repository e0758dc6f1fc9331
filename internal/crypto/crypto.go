package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length of a secretbox key.
	KeySize = 32
	// SaltSize is the length of the salt stored next to a sealed vault.
	SaltSize = 16
	// Iterations is the PBKDF2 work factor.
	Iterations = 100000

	nonceSize = 24
)

// ErrDecrypt is returned when a sealed message cannot be opened with the key.
var ErrDecrypt = errors.New("decryption failed")

// GenerateSalt returns SaltSize random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKey stretches a passphrase into a secretbox key.
func DeriveKey(passphrase string, salt []byte) *[KeySize]byte {
	var key [KeySize]byte
	copy(key[:], pbkdf2.Key([]byte(passphrase), salt, Iterations, KeySize, sha256.New))
	return &key
}

// Seal encrypts message with key. The nonce is prepended to the ciphertext.
func Seal(message []byte, key *[KeySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], message, &nonce, key), nil
}

// Open decrypts a message produced by Seal.
func Open(sealed []byte, key *[KeySize]byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errors.New("message too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
