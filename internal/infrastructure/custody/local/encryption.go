package localcustody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	minMasterKeyLen = 16
	saltSize        = 32
	keySize         = 32
	iterations      = 10000
)

// keyCipher encrypts private keys at rest with AES-256-GCM. Every key is encrypted with a
// key derived from the master passphrase and a random salt, stored as nonce|ciphertext|salt.
type keyCipher struct {
	passphrase []byte
}

func newKeyCipher(masterKey string) (*keyCipher, error) {
	if len(masterKey) < minMasterKeyLen {
		return nil, fmt.Errorf("master key must be at least %d chars long", minMasterKeyLen)
	}
	return &keyCipher{[]byte(masterKey)}, nil
}

func (c *keyCipher) encrypt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, data, nil)
	return append(ciphertext, salt...), nil
}

func (c *keyCipher) decrypt(encrypted []byte) ([]byte, error) {
	if len(encrypted) <= saltSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	salt := encrypted[len(encrypted)-saltSize:]
	data := encrypted[:len(encrypted)-saltSize]

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, text := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	// #nosec G407
	plaintext, err := gcm.Open(nil, nonce, text, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid master key")
	}
	return plaintext, nil
}

func (c *keyCipher) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.passphrase, salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
