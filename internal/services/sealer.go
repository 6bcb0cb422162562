package services

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Sealer encrypts sensitive caregiver fields (bank details) before they reach storage.
type Sealer struct {
	key [32]byte
}

// NewSealer builds a sealer from a 64-char hex key. An empty key generates an
// ephemeral one, which is only acceptable outside production.
func NewSealer(hexKey string) (*Sealer, error) {
	s := &Sealer{}
	if hexKey == "" {
		if _, err := io.ReadFull(rand.Reader, s.key[:]); err != nil {
			return nil, fmt.Errorf("generate sealing key: %w", err)
		}
		return s, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode sealing key: %w", err)
	}
	if len(raw) != len(s.key) {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", len(s.key), len(raw))
	}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts plaintext and returns nonce||box, base64 encoded.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed value: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return nil, errors.New("sealed value too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("sealed value failed authentication")
	}
	return plain, nil
}
