package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

var (
	ErrKeyLength = errors.New("secretbox: key must be 32 bytes")
	ErrFormat    = errors.New("secretbox: malformed sealed value")
	ErrDecrypt   = errors.New("secretbox: decryption failed")
)

// Sealer encrypts and decrypts stored secrets. Implementations must use a
// fresh nonce for every Seal call.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// AESGCM is an AES-256-GCM Sealer.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM builds a Sealer from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, ErrKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

// NewAESGCMFromHex decodes a 64-character hex key. A 32-character raw string
// is accepted as-is for .env files that store the key unencoded.
func NewAESGCMFromHex(key string) (*AESGCM, error) {
	key = strings.TrimSpace(key)
	if len(key) == 64 {
		raw, err := hex.DecodeString(key)
		if err != nil {
			return nil, ErrKeyLength
		}
		return NewAESGCM(raw)
	}
	return NewAESGCM([]byte(key))
}

// Seal returns nonce:tag:ciphertext, each part hex encoded.
func (s *AESGCM) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	out := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(out) - s.aead.Overhead()
	ciphertext, tag := out[:tagStart], out[tagStart:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Open reverses Seal.
func (s *AESGCM) Open(sealed string) (string, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return "", ErrFormat
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != s.aead.NonceSize() {
		return "", ErrFormat
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != s.aead.Overhead() {
		return "", ErrFormat
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrFormat
	}

	plaintext, err := s.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
