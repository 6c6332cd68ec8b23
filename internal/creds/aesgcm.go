package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const aesKeySize = 32 // AES-256

// AESGCM decrypts credential blobs sealed with AES-256-GCM. The wire format
// is base64(nonce || ciphertext || tag).
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM builds a decryptor from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != aesKeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", aesKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

// Decrypt opens a blob and parses the enclosed JSON object. Any failure is
// reported as ErrCannotDecrypt; the underlying cause is deliberately not
// surfaced to callers so it cannot leak into controller error messages.
func (a *AESGCM) Decrypt(blob string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrCannotDecrypt
	}
	if len(raw) < a.aead.NonceSize() {
		return nil, ErrCannotDecrypt
	}

	nonce, ciphertext := raw[:a.aead.NonceSize()], raw[a.aead.NonceSize():]
	plaintext, err := a.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCannotDecrypt
	}

	var fields map[string]any
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return nil, ErrCannotDecrypt
	}
	return fields, nil
}

// Encrypt seals a credential object. Used by the controller provisioning
// tooling and the tests; the poll pipeline itself only ever decrypts.
func (a *AESGCM) Encrypt(fields map[string]any) (string, error) {
	plaintext, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}

	nonce := make([]byte, a.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := a.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}
