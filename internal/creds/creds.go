// Package creds turns a controller's stored credential blob into the
// brand-specific fields its adapter needs. Blobs are AES-256-GCM ciphertext
// (base64), or — for rows written before encryption at rest — the plaintext
// JSON object itself.
package creds

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"enviroflow/internal/database"
)

// ErrCannotDecrypt marks a structurally broken blob: malformed ciphertext,
// wrong key, or tampering. Terminal for the poll, never retried.
var ErrCannotDecrypt = errors.New("cannot decrypt credentials")

// ErrIncomplete marks a blob that decrypted fine but is missing fields the
// brand requires.
var ErrIncomplete = errors.New("incomplete credentials")

// Decryptor is the decryption collaborator. Implementations must wrap
// failures in ErrCannotDecrypt.
type Decryptor interface {
	Decrypt(blob string) (map[string]any, error)
}

// Credentials carries the superset of fields the brand adapters accept.
type Credentials struct {
	Email          string
	Password       string
	ApplicationKey string
	APIKey         string
	MAC            string
}

// Resolve decrypts a controller's credential blob and validates it against
// the brand's requirements. A blob that already looks like a JSON object is
// passed through without decryption.
func Resolve(dec Decryptor, brand, blob string) (Credentials, error) {
	fields, err := decode(dec, blob)
	if err != nil {
		return Credentials{}, err
	}

	resolved := Credentials{
		Email:          stringField(fields, "email"),
		Password:       stringField(fields, "password"),
		ApplicationKey: stringField(fields, "applicationKey"),
		APIKey:         stringField(fields, "apiKey"),
		MAC:            stringField(fields, "mac"),
	}

	switch brand {
	case database.BrandACInfinity, database.BrandInkbird:
		if resolved.Email == "" || resolved.Password == "" {
			return Credentials{}, fmt.Errorf("%s requires email and password: %w", brand, ErrIncomplete)
		}
	case database.BrandEcowitt:
		if resolved.ApplicationKey == "" || resolved.APIKey == "" || resolved.MAC == "" {
			return Credentials{}, fmt.Errorf("ecowitt requires application key, api key and mac: %w", ErrIncomplete)
		}
	}

	return resolved, nil
}

func decode(dec Decryptor, blob string) (map[string]any, error) {
	trimmed := strings.TrimSpace(blob)
	if trimmed == "" {
		return nil, fmt.Errorf("credential blob is empty: %w", ErrIncomplete)
	}

	// Legacy rows store the plaintext object directly.
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]any
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
			return nil, fmt.Errorf("parse legacy credential object: %w", ErrCannotDecrypt)
		}
		return fields, nil
	}

	return dec.Decrypt(trimmed)
}

func stringField(fields map[string]any, key string) string {
	value, ok := fields[key]
	if !ok {
		return ""
	}
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
