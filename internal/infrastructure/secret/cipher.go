// Package secret implements at-rest encryption of provider credentials
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// MinMasterKeyLength is the shortest master key accepted
	MinMasterKeyLength = 16

	version  = "v1"
	hkdfSalt = "ledgersync/secret/v1"
	hkdfInfo = "tenant-connection-tokens"
)

var (
	// ErrWeakMasterKey is returned when the master key is too short
	ErrWeakMasterKey = errors.New("secret: master key too short")
	// ErrMalformedCiphertext is returned for values not produced by Encrypt
	ErrMalformedCiphertext = errors.New("secret: malformed ciphertext")
	// ErrDecrypt is returned when authentication of the ciphertext fails
	ErrDecrypt = errors.New("secret: decryption failed")
)

// XChaChaCipher encrypts secrets with XChaCha20-Poly1305 under a key derived
// from the master key with HKDF-SHA256. Output is "v1:" + base64(nonce|sealed).
type XChaChaCipher struct {
	aead cipher.AEAD
}

// NewXChaChaCipher derives the data key from masterKey
func NewXChaChaCipher(masterKey string) (*XChaChaCipher, error) {
	if len(masterKey) < MinMasterKeyLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakMasterKey, MinMasterKeyLength)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(masterKey), []byte(hkdfSalt), []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secret: derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secret: init cipher: %w", err)
	}
	return &XChaChaCipher{aead: aead}, nil
}

// Encrypt seals plaintext with a random nonce
func (c *XChaChaCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secret: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(version))
	return version + ":" + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt
func (c *XChaChaCipher) Decrypt(ciphertext string) (string, error) {
	prefix, encoded, ok := strings.Cut(ciphertext, ":")
	if !ok || prefix != version {
		return "", ErrMalformedCiphertext
	}
	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", ErrMalformedCiphertext
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], []byte(version))
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
