// Package aeswrapper seals data at rest with AES-256-GCM.
package aeswrapper

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/sha3"
)

var (
	ErrEmptyPassphrase    = errors.New("passphrase is empty")
	ErrCipherFailure      = errors.New("cipher creation failure")
	ErrGCMFailure         = errors.New("gcm creation failure")
	ErrRandomNonceFailure = errors.New("random nonce creation failure")
	ErrOpenDataFailure    = errors.New("open data failure, cannot decrypt data")
)

const nonceSize = 12

// Helper wraps AES encryption and decryption in Galois Counter Mode.
// The 32 byte key is the sha3-256 digest of the passphrase.
type Helper struct{}

// New creates a new Helper.
func New() Helper {
	return Helper{}
}

// Encrypt encrypts data with the passphrase. Random nonce is prepended to the sealed data.
func (h Helper) Encrypt(passphrase, data []byte) ([]byte, error) {
	aesgcm, err := gcm(passphrase)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Join(ErrRandomNonceFailure, err)
	}

	return aesgcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt decrypts data sealed by Encrypt with the same passphrase.
func (h Helper) Decrypt(passphrase, data []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, errors.Join(ErrOpenDataFailure, errors.New("data shorter than nonce"))
	}
	aesgcm, err := gcm(passphrase)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, errors.Join(ErrOpenDataFailure, err)
	}

	return plaintext, nil
}

func gcm(passphrase []byte) (cipher.AEAD, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	key := sha3.Sum256(passphrase)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Join(ErrCipherFailure, err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrGCMFailure, err)
	}
	return aesgcm, nil
}
