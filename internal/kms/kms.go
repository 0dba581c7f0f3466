// Package kms encrypts configuration secrets at rest with AES-256-GCM.
// The master key is a 32-byte value supplied as a 64-char hex string in
// SWEEPER_KMS_KEY. Ciphertexts are hex(nonce || sealed) and are written into
// config files behind an "enc:" prefix.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const keySize = 32

// Encryptor seals and opens secrets with one master key.
type Encryptor struct {
	aead cipher.AEAD
}

// New creates an Encryptor from a 64-char hex-encoded 32-byte master key.
func New(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("kms: decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("kms: master key must be 32 bytes (got %d)", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// GenerateKey returns a fresh random master key in the hex form New expects.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("kms: generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext and returns hex(nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("kms: nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (e *Encryptor) Decrypt(hexCiphertext string) (string, error) {
	data, err := hex.DecodeString(hexCiphertext)
	if err != nil {
		return "", fmt.Errorf("kms: decode hex: %w", err)
	}
	ns := e.aead.NonceSize()
	if len(data) < ns {
		return "", fmt.Errorf("kms: ciphertext too short")
	}
	plaintext, err := e.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("kms: decrypt: %w", err)
	}
	return string(plaintext), nil
}
