package output

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/medforge/casgen/internal/domain"
)

// Encryptor seals output files with AES-GCM. Every Seal draws a fresh
// nonce from crypto/rand; the nonce is prefixed to the ciphertext.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a raw AES key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, domain.NewEngineError(domain.ErrEncryptionKey.Code,
			fmt.Sprintf("encryption key must be 16, 24, or 32 bytes, got %d", len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrEncryption.Code, "creating cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrEncryption.Code, "creating GCM", err)
	}
	return &Encryptor{aead: aead}, nil
}

// KeyFromHex decodes a hex-encoded AES key and checks its length.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrEncryptionKey.Code, "decoding hex key", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, domain.NewEngineError(domain.ErrEncryptionKey.Code,
			fmt.Sprintf("encryption key must be 16, 24, or 32 bytes, got %d", len(key)))
	}
}

// Seal encrypts plaintext and returns nonce||ciphertext.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, domain.WrapEngineError(domain.ErrEncryption.Code, "drawing nonce", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts nonce||ciphertext produced by Seal.
func (e *Encryptor) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < e.aead.NonceSize() {
		return nil, domain.NewEngineError(domain.ErrEncryption.Code, "ciphertext shorter than nonce")
	}
	nonce, ciphertext := sealed[:e.aead.NonceSize()], sealed[e.aead.NonceSize():]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrEncryption.Code, "opening ciphertext", err)
	}
	return plaintext, nil
}

// SealFile encrypts path into path+".enc" and removes the original.
// Returns the new file name.
func (e *Encryptor) SealFile(path string) (string, error) {
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrEncryption.Code, "reading source", err)
	}
	sealed, err := e.Seal(plaintext)
	if err != nil {
		return "", err
	}
	dstPath := path + ".enc"
	if err := os.WriteFile(dstPath, sealed, 0o600); err != nil {
		return "", domain.WrapEngineError(domain.ErrEncryption.Code, "writing sealed file", err)
	}
	if err := os.Remove(path); err != nil {
		os.Remove(dstPath)
		return "", domain.WrapEngineError(domain.ErrEncryption.Code, "removing plaintext", err)
	}
	return dstPath, nil
}

// OpenFile decrypts a ".enc" file next to itself, dropping the suffix.
func (e *Encryptor) OpenFile(path string) (string, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrEncryption.Code, "reading sealed file", err)
	}
	plaintext, err := e.Open(sealed)
	if err != nil {
		return "", err
	}
	dstPath := trimSuffix(path, ".enc")
	if err := os.WriteFile(dstPath, plaintext, 0o644); err != nil {
		return "", domain.WrapEngineError(domain.ErrEncryption.Code, "writing plaintext", err)
	}
	return dstPath, nil
}
