// Package encryption provides at-rest encryption for OAuth secrets using
// AES-256-GCM with an explicit IV. The key is derived deterministically from a
// configured secret, so the same derived key survives process restarts.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/complyflow/ledgersync/models"
)

const (
	keyLen     = 32
	iterations = 100_000
	ivLen      = 12
	tagLen     = 16
)

// Fixed salt: the derivation must be deterministic across restarts and
// replicas sharing the same configured secret.
var keySalt = []byte("ledgersync.secret.v1")

// EncryptedSecret is the persisted form of a secret: three opaque base64
// strings. The GCM tag is stored apart from the ciphertext so tampering with
// any one component is detectable independently.
type EncryptedSecret struct {
	Ciphertext string
	IV         string
	AuthTag    string
}

// Cipher encrypts and decrypts secrets with a key derived once at construction.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256 key from the configured secret via
// PBKDF2-SHA256 and returns a ready cipher. The secret must come from durable
// external configuration, never be generated at runtime.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret must not be empty")
	}

	key := pbkdf2.Key([]byte(secret), keySalt, iterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals the plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext string) (EncryptedSecret, error) {
	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return EncryptedSecret{}, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)

	// Seal appends the tag to the ciphertext; split them for storage.
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	return EncryptedSecret{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Decrypt opens the sealed secret. Any tampering with the ciphertext, IV or
// auth tag, or a rekeyed cipher, yields a *models.DecryptionError. Callers
// must surface it: a corrupt secret makes the connection unusable until the
// tenant re-authorizes.
func (c *Cipher) Decrypt(enc EncryptedSecret) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	if err != nil {
		return "", &models.DecryptionError{Err: fmt.Errorf("bad ciphertext encoding: %w", err)}
	}

	iv, err := base64.StdEncoding.DecodeString(enc.IV)
	if err != nil {
		return "", &models.DecryptionError{Err: fmt.Errorf("bad iv encoding: %w", err)}
	}

	tag, err := base64.StdEncoding.DecodeString(enc.AuthTag)
	if err != nil {
		return "", &models.DecryptionError{Err: fmt.Errorf("bad auth tag encoding: %w", err)}
	}

	if len(iv) != ivLen {
		return "", &models.DecryptionError{Err: fmt.Errorf("iv must be %d bytes, got %d", ivLen, len(iv))}
	}

	plaintext, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", &models.DecryptionError{Err: err}
	}

	return string(plaintext), nil
}
