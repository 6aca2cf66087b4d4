// Package cipher seals conversation summaries at rest with AES-256-GCM.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

const (
	// KeySize is the required key length for AES-256-GCM.
	KeySize = 32
	// NonceSize is the GCM standard nonce size, stored in front of each blob.
	NonceSize = 12
)

var (
	ErrInvalidKey = errors.New("invalid cipher key")
	// ErrDecryption marks a blob that could not be opened with the configured key.
	ErrDecryption = errors.New("decryption failed")
)

// Cipher encrypts and decrypts summaries. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, goerr.Wrap(ErrInvalidKey, "key must be 32 bytes", goerr.V("len", len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, goerr.Wrap(err, "new aes cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, goerr.Wrap(err, "new gcm")
	}
	return &Cipher{aead: aead}, nil
}

// NewFromBase64 decodes a standard base64 key such as the CHAT_KEY setting.
func NewFromBase64(encoded string) (*Cipher, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, goerr.Wrap(ErrInvalidKey, "key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidKey, "key is not valid base64", goerr.V("cause", err.Error()))
	}
	return New(key)
}

// Encrypt seals plaintext under a fresh random nonce. The returned blob is
// nonce || ciphertext.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, goerr.Wrap(err, "generate nonce")
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a blob produced by Encrypt. Any failure wraps ErrDecryption.
func (c *Cipher) Decrypt(blob []byte) (string, error) {
	if len(blob) < NonceSize+c.aead.Overhead() {
		return "", goerr.Wrap(ErrDecryption, "ciphertext too short", goerr.V("len", len(blob)))
	}
	nonce, data := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", goerr.Wrap(ErrDecryption, "open sealed summary", goerr.V("cause", err.Error()))
	}
	return string(plaintext), nil
}
