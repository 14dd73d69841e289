// Package secrets encrypts mailbox credentials at rest.
//
// Ciphertext format is hex(iv):hex(tag):hex(ciphertext) using AES-256-GCM
// with a random 12-byte IV.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	ivSize  = 12
	tagSize = 16
)

// ErrInvalidKey is returned when the key is not 32 bytes of hex.
var ErrInvalidKey = errors.New("encryption key must be 64 hex characters")

// Box encrypts and decrypts credential strings.
type Box struct {
	aead cipher.AEAD
}

// New builds a Box from a 64-character hex key.
func New(hexKey string) (*Box, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext.
func (b *Box) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("iv: %w", err)
	}
	sealed := b.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a value produced by Encrypt. Values that are not in the
// ciphertext format, or that fail authentication, are returned unchanged so
// legacy plaintext credentials keep working.
func (b *Box) Decrypt(value string) string {
	plain, err := b.open(value)
	if err != nil {
		return value
	}
	return plain
}

func (b *Box) open(value string) (string, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return "", errors.New("not ciphertext")
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", errors.New("bad iv")
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", errors.New("bad tag")
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", errors.New("bad ciphertext")
	}
	plain, err := b.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Decrypter is satisfied by Box and by test doubles.
type Decrypter interface {
	Decrypt(value string) string
}

// Plain is a Decrypter that returns values unchanged, used when no key is
// configured.
type Plain struct{}

// Decrypt returns value.
func (Plain) Decrypt(value string) string { return value }
