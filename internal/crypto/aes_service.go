package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// Service encrypts and decrypts stored secrets (SSH private keys) with a
// process-wide AES-256-GCM key loaded at startup.
type Service interface {
	Encrypt(plaintext []byte) (*domain.EncryptedBlob, error)
	Decrypt(blob *domain.EncryptedBlob) ([]byte, error)
}

type AESService struct {
	// Pre-calculate the AEAD interface to reduce allocations
	aead cipher.AEAD
}

// NewAESService builds the service from a hex-encoded 32-byte key.
func NewAESService(hexKey string) (*AESService, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key encoding: %w", err)
	}

	if len(key) != 32 {
		return nil, errors.New("crypto: key must be 32 bytes for AES-256")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: block cipher failure: %w", err)
	}

	// Zeroize the temporary key slice once the cipher holds its schedule.
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: GCM failure: %w", err)
	}

	return &AESService{aead: aesGCM}, nil
}

// Encrypt seals plaintext into the (ciphertext, IV, auth tag) triple the
// persistence layer stores. The GCM tag is split off the sealed output so the
// stored record carries all three parts explicitly.
func (s *AESService) Encrypt(plaintext []byte) (*domain.EncryptedBlob, error) {
	iv := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("crypto: nonce generation failure: %w", err)
	}

	sealed := s.aead.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - s.aead.Overhead()

	return &domain.EncryptedBlob{
		Ciphertext: hex.EncodeToString(sealed[:tagStart]),
		IV:         hex.EncodeToString(iv),
		AuthTag:    hex.EncodeToString(sealed[tagStart:]),
	}, nil
}

// Decrypt verifies the auth tag and returns the original plaintext. A blob
// whose tag does not verify (tampered ciphertext, wrong key) is rejected.
func (s *AESService) Decrypt(blob *domain.EncryptedBlob) ([]byte, error) {
	if !blob.Complete() {
		return nil, errors.New("crypto: incomplete encrypted blob")
	}

	ciphertext, err := hex.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: ciphertext decode failure: %w", err)
	}
	iv, err := hex.DecodeString(blob.IV)
	if err != nil {
		return nil, fmt.Errorf("crypto: iv decode failure: %w", err)
	}
	tag, err := hex.DecodeString(blob.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("crypto: auth tag decode failure: %w", err)
	}

	if len(iv) != s.aead.NonceSize() {
		return nil, errors.New("crypto: iv length mismatch")
	}

	plaintext, err := s.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, errors.New("crypto: integrity violation - potential tampering detected")
	}

	return plaintext, nil
}
