package fileoperations

import (
	"errors"
	"os"

	"github.com/bartossh/ledgerdriver/keypair"
)

var ErrEmptyPath = errors.New("keys file path is empty")

// Sealer encrypts and decrypts the data with the passphrase.
type Sealer interface {
	Encrypt(passphrase, data []byte) ([]byte, error)
	Decrypt(passphrase, data []byte) ([]byte, error)
}

// Config holds configuration of the file operator Helper.
type Config struct {
	KeysPath   string `yaml:"keys_path"`   // Path to the encrypted key pair file.
	KeysPasswd string `yaml:"keys_passwd"` // Passphrase sealing the key pair file.
	PemPath    string `yaml:"pem_path"`    // Path prefix of the PEM key pair export.
}

// Helper holds all file operation methods.
type Helper struct {
	s   Sealer
	cfg Config
}

// New creates new Helper.
func New(cfg Config, s Sealer) Helper {
	return Helper{
		cfg: cfg,
		s:   s,
	}
}

// ReadKeyPair reads the sealed key pair from the file.
func (h Helper) ReadKeyPair() (keypair.KeyPair, error) {
	if h.cfg.KeysPath == "" {
		return keypair.KeyPair{}, ErrEmptyPath
	}
	raw, err := os.ReadFile(h.cfg.KeysPath)
	if err != nil {
		return keypair.KeyPair{}, err
	}

	opened, err := h.s.Decrypt([]byte(h.cfg.KeysPasswd), raw)
	if err != nil {
		return keypair.KeyPair{}, err
	}

	k, err := keypair.DecodeGOB(opened)
	if err != nil {
		return keypair.KeyPair{}, err
	}
	if !k.Valid() {
		return keypair.KeyPair{}, keypair.ErrInvalidSigningKey
	}
	return k, nil
}

// SaveKeyPair seals the key pair and saves it to the file.
func (h Helper) SaveKeyPair(k *keypair.KeyPair) error {
	if h.cfg.KeysPath == "" {
		return ErrEmptyPath
	}
	raw, err := k.EncodeGOB()
	if err != nil {
		return err
	}

	closed, err := h.s.Encrypt([]byte(h.cfg.KeysPasswd), raw)
	if err != nil {
		return err
	}

	return os.WriteFile(h.cfg.KeysPath, closed, 0600)
}

// ExportPem saves the key pair to PemPath and PemPath.pub files.
func (h Helper) ExportPem(k *keypair.KeyPair) error {
	if h.cfg.PemPath == "" {
		return ErrEmptyPath
	}
	return k.SaveToPem(h.cfg.PemPath)
}

// ImportPem reads the key pair from PemPath and PemPath.pub files.
func (h Helper) ImportPem() (keypair.KeyPair, error) {
	if h.cfg.PemPath == "" {
		return keypair.KeyPair{}, ErrEmptyPath
	}
	return keypair.ReadFromPem(h.cfg.PemPath)
}
