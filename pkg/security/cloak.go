package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// DefaultCloakSecret is only meant for local development. Deployments are
// expected to set their own secret.
const DefaultCloakSecret = "link-tracker-development-cloak-secret"

// ErrDecode is returned for any ciphertext that cannot be opened: bad
// encoding, truncation, tampering or a different key.
var ErrDecode = errors.New("cloak: cannot decode destination")

var (
	hkdfSalt = []byte("link-tracker cloak v1")
	hkdfInfo = []byte("destination url")
)

// CloakCodec hides destination URLs at rest with XChaCha20-Poly1305. Every
// Encode draws a fresh random nonce, so the same URL never encodes to the
// same string twice.
type CloakCodec struct {
	aead cipher.AEAD
}

// NewCloakCodec derives the cipher key from secret with HKDF-SHA256.
func NewCloakCodec(secret string) (*CloakCodec, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), hkdfSalt, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("failed to derive cloak key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloak cipher: %w", err)
	}
	return &CloakCodec{aead: aead}, nil
}

// Encode returns nonce||ciphertext||tag as unpadded URL-safe base64.
func (c *CloakCodec) Encode(plaintextURL string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintextURL)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintextURL), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode never panics; every failure is ErrDecode.
func (c *CloakCodec) Decode(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecode
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", ErrDecode
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecode
	}
	if !utf8.Valid(plain) {
		return "", ErrDecode
	}
	return string(plain), nil
}
