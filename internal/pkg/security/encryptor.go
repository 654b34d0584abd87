package security

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// columnVersion prefixes every blob so the key scheme can be rotated later
const columnVersion byte = 1

var (
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrUnknownVersion     = errors.New("unknown ciphertext version")
)

// Encryptor is the column encryption boundary. Everything that may carry PHI
// passes through it before it reaches the store.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

// ColumnEncryptor seals columns with XChaCha20-Poly1305. Blob layout is
// version byte, 24 byte nonce, ciphertext and tag.
type ColumnEncryptor struct {
	aead cipher.AEAD
}

// NewColumnEncryptor creates an encryptor from a 32 byte key
func NewColumnEncryptor(key []byte) (*ColumnEncryptor, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init column cipher: %w", err)
	}
	return &ColumnEncryptor{aead: aead}, nil
}

// NewColumnEncryptorFromBase64 decodes a standard base64 key
func NewColumnEncryptorFromBase64(encoded string) (*ColumnEncryptor, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return NewColumnEncryptor(key)
}

// Encrypt seals plaintext with a fresh random nonce
func (e *ColumnEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize(), 1+e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := append([]byte{columnVersion}, nonce...)
	return e.aead.Seal(out, nonce, plaintext, []byte{columnVersion}), nil
}

// Decrypt opens a blob produced by Encrypt
func (e *ColumnEncryptor) Decrypt(blob []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(blob) < 1+ns+e.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	if blob[0] != columnVersion {
		return nil, ErrUnknownVersion
	}
	nonce := blob[1 : 1+ns]
	return e.aead.Open(nil, nonce, blob[1+ns:], blob[:1])
}

// GenerateKey returns a random base64 key suitable for ENCRYPTION_KEY
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// EncryptString is a convenience for optional text columns; empty stays nil
func EncryptString(e Encryptor, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return e.Encrypt([]byte(s))
}

// DecryptString reverses EncryptString
func DecryptString(e Encryptor, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	b, err := e.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
