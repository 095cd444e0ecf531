// Package encryption seals report files at rest before they reach the file store.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrCiphertextTooShort is returned when the payload cannot hold a nonce
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// AESEncryption seals payloads with AES-256-GCM. The nonce is prepended to the ciphertext.
type AESEncryption struct {
	aead cipher.AEAD
}

// NewAESEncryption derives a 256-bit key from passphrase
func NewAESEncryption(passphrase string) (*AESEncryption, error) {
	if passphrase == "" {
		return nil, errors.New("encryption passphrase is empty")
	}
	key := sha256.Sum256([]byte(passphrase))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESEncryption{aead: gcm}, nil
}

// Encrypt seals plaintext under a fresh random nonce
func (a *AESEncryption) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return a.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt
func (a *AESEncryption) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := a.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := a.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// HashData returns the hex SHA-256 digest of data
func HashData(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
