package settings

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"filippo.io/age"
)

// Crypto errors.
var (
	// ErrNoPublicKey is returned when no public key is configured for encryption.
	ErrNoPublicKey = errors.New("no public key configured for encryption")
	// ErrNoPrivateKey is returned when no private key is configured for decryption.
	ErrNoPrivateKey = errors.New("no private key configured for decryption")
	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrEncryptionFailed is returned when encryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrInvalidKey is returned when a key is invalid.
	ErrInvalidKey = errors.New("invalid key format")
)

// Cipher encrypts provider API keys at rest using age. Values are
// stored as base64-wrapped age ciphertext so the settings file stays
// valid JSON.
type Cipher struct {
	publicKey  *age.X25519Recipient
	privateKey *age.X25519Identity
	logger     *slog.Logger
}

// CipherConfig holds the age key material.
type CipherConfig struct {
	// AgePublicKey is the age public key for encryption.
	// Format: age1... (Bech32 encoded)
	AgePublicKey string
	// AgePrivateKey is the age private key for decryption.
	// Format: AGE-SECRET-KEY-1... (Bech32 encoded)
	AgePrivateKey string
}

// NewCipher creates a cipher from the configured keys. Either key may
// be empty; the corresponding operation is then unavailable.
func NewCipher(cfg CipherConfig, logger *slog.Logger) (*Cipher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cipher{logger: logger}

	if cfg.AgePublicKey != "" {
		recipient, err := age.ParseX25519Recipient(cfg.AgePublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid public key: %v", ErrInvalidKey, err)
		}
		c.publicKey = recipient
	}

	if cfg.AgePrivateKey != "" {
		identity, err := age.ParseX25519Identity(cfg.AgePrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key: %v", ErrInvalidKey, err)
		}
		c.privateKey = identity
	}

	return c, nil
}

// EncryptString encrypts a plaintext value for storage.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	if c.publicKey == nil {
		return "", ErrNoPublicKey
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.publicKey)
	if err != nil {
		c.logger.Error("failed to create age encryptor", "error", err)
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	if _, err := w.Write([]byte(plaintext)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecryptString decrypts a stored value.
func (c *Cipher) DecryptString(stored string) (string, error) {
	if c.privateKey == nil {
		return "", ErrNoPrivateKey
	}

	ciphertext, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// CanEncrypt returns true if the cipher is configured for encryption.
func (c *Cipher) CanEncrypt() bool {
	return c.publicKey != nil
}

// CanDecrypt returns true if the cipher is configured for decryption.
func (c *Cipher) CanDecrypt() bool {
	return c.privateKey != nil
}

// GenerateKeyPair generates a new age key pair.
// Returns the public key (for encryption) and private key (for decryption).
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate age key pair: %w", err)
	}

	return identity.Recipient().String(), identity.String(), nil
}
