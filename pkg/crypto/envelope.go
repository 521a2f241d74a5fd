// Package crypto decrypts the symmetric envelopes used for at-rest
// credentials. Collaborators persist secrets as "enc:v1:<base64>" strings;
// the gateway only ever decrypts, it never re-encrypts.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const envelopePrefix = "enc:v1:"

// Cipher opens AES-256-GCM envelopes produced by the persistence layer.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a base64-encoded 32-byte key.
func NewCipher(keyBase64 string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead}, nil
}

// IsEnvelope reports whether s carries the encrypted-credential prefix.
func IsEnvelope(s string) bool {
	return strings.HasPrefix(s, envelopePrefix)
}

// Decrypt opens an envelope. Plain strings pass through unchanged, so call
// sites can apply it to every credential without checking first.
func (c *Cipher) Decrypt(s string) (string, error) {
	if !IsEnvelope(s) {
		return s, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, envelopePrefix))
	if err != nil {
		return "", fmt.Errorf("malformed credential envelope: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("malformed credential envelope: too short")
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return string(plaintext), nil
}

// Encrypt seals a value into an envelope. Only used by tests and the CLI's
// key tooling; the serving path never encrypts.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return envelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}
