package blob

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrSealed is returned when a sealed object cannot be opened.
var ErrSealed = errors.New("cannot open sealed object")

var sealMagic = []byte("XTD1")

// Sealer encrypts objects at rest with AES-256-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256 key from secret with HKDF-SHA256.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("empty encryption secret")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("extractd blob")), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns magic || nonce || ciphertext. The key is bound as
// additional data so objects cannot be swapped between keys.
func (s *Sealer) Seal(key string, plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(sealMagic)+len(nonce)+len(plain)+s.aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plain, []byte(key)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(key string, sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < len(sealMagic)+ns || string(sealed[:len(sealMagic)]) != string(sealMagic) {
		return nil, fmt.Errorf("%w: %s: missing header", ErrSealed, key)
	}
	body := sealed[len(sealMagic):]
	plain, err := s.aead.Open(nil, body[:ns], body[ns:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSealed, key, err)
	}
	return plain, nil
}
