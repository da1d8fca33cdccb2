// Package cryptox seals provider credentials at rest with AES-256-GCM.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"golang.org/x/crypto/argon2"
)

const nonceSize = 12

// keySalt is fixed so that the same passphrase always derives the same key
// across restarts and instances.
var keySalt = []byte("gophsync/provider-tokens/v1")

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// DeriveKey stretches a configured passphrase into a 32-byte AES key.
func DeriveKey(passphrase []byte) []byte {
	return argon2.IDKey(passphrase, keySalt, 1, 64*1024, 4, 32)
}

// TokenCipher encrypts short secrets. Output layout is nonce || ciphertext.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher builds a cipher from a 16, 24 or 32 byte key.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{aead: aead}, nil
}

// NewTokenCipherFromPassphrase derives the key with DeriveKey.
func NewTokenCipherFromPassphrase(passphrase string) (*TokenCipher, error) {
	key := DeriveKey([]byte(passphrase))
	defer common.WipeByteArray(key)
	return NewTokenCipher(key)
}

// Seal encrypts plaintext. associated binds the ciphertext to its owner (for
// example user and provider) so sealed values cannot be swapped between rows.
func (c *TokenCipher) Seal(plaintext string, associated []byte) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	nonce := common.GenerateRandByteArray(nonceSize)
	return c.aead.Seal(nonce, nonce, []byte(plaintext), associated), nil
}

// Open decrypts a value produced by Seal with the same associated data.
func (c *TokenCipher) Open(sealed []byte, associated []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	if len(sealed) < nonceSize {
		return "", ErrCiphertextTooShort
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], associated)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(plaintext)
	return string(plaintext), nil
}
