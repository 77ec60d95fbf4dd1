package crypto

import (
	"encoding/base64"
	"errors"
)

var ErrInvalidSealerKey = errors.New("invalid sealer key: must be base64 of 32 bytes")

// Sealer encrypts transcription text before it is written to storage.
// A nil *Sealer passes text through unchanged.
type Sealer struct {
	key []byte
}

// NewSealer parses a base64-encoded AES-256 key. An empty key returns a nil Sealer.
func NewSealer(keyBase64 string) (*Sealer, error) {
	if keyBase64 == "" {
		return nil, nil
	}

	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidSealerKey
	}

	return &Sealer{key: key}, nil
}

// Seal encrypts text
func (s *Sealer) Seal(text string) (string, error) {
	if s == nil {
		return text, nil
	}
	return Encrypt(text, s.key)
}

// Open decrypts text produced by Seal
func (s *Sealer) Open(text string) (string, error) {
	if s == nil {
		return text, nil
	}
	return Decrypt(text, s.key)
}
