package keypair

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/gob"
	"encoding/pem"
	"errors"
	"os"

	"github.com/bartossh/ledgerdriver/serializer"
)

var (
	ErrInvalidSigningKey   = errors.New("invalid signing key")
	ErrInvalidVerifyingKey = errors.New("invalid verifying key")
)

// KeyPair holds ed25519 signing (private) and verifying (public) key of the assets owner.
type KeyPair struct {
	Private ed25519.PrivateKey `json:"private" yaml:"private"`
	Public  ed25519.PublicKey  `json:"public"  yaml:"public"`
}

// Generate creates a new random KeyPair or returns error otherwise.
func Generate() (KeyPair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Private: private, Public: public}, nil
}

// FromSigningKey recreates the KeyPair from the base58 encoded signing key seed.
func FromSigningKey(signingKey string) (KeyPair, error) {
	seed, err := serializer.Base58Decode(signingKey)
	if err != nil {
		return KeyPair{}, errors.Join(ErrInvalidSigningKey, err)
	}
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, ErrInvalidSigningKey
	}
	private := ed25519.NewKeyFromSeed(seed)
	return KeyPair{Private: private, Public: private.Public().(ed25519.PublicKey)}, nil
}

// VerifyingKeyOf derives the base58 encoded verifying key from the base58 encoded signing key.
func VerifyingKeyOf(signingKey string) (string, error) {
	kp, err := FromSigningKey(signingKey)
	if err != nil {
		return "", err
	}
	return kp.VerifyingKey(), nil
}

// DecodeVerifyingKey decodes base58 encoded verifying key to the ed25519 public key.
func DecodeVerifyingKey(verifyingKey string) (ed25519.PublicKey, error) {
	raw, err := serializer.Base58Decode(verifyingKey)
	if err != nil {
		return nil, errors.Join(ErrInvalidVerifyingKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidVerifyingKey
	}
	return ed25519.PublicKey(raw), nil
}

// VerifyingKey returns base58 encoded public key.
func (k *KeyPair) VerifyingKey() string {
	return serializer.Base58Encode(k.Public)
}

// SigningKey returns base58 encoded private key seed.
func (k *KeyPair) SigningKey() string {
	return serializer.Base58Encode(k.Private.Seed())
}

// Valid reports whether the public key is the derivation of the private key.
func (k *KeyPair) Valid() bool {
	if len(k.Private) != ed25519.PrivateKeySize || len(k.Public) != ed25519.PublicKeySize {
		return false
	}
	return bytes.Equal(k.Private.Public().(ed25519.PublicKey), k.Public)
}

// Sign signs the message with Ed25519 signature.
func (k *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.Private, message)
}

// Verify verifies message ED25519 signature.
func (k *KeyPair) Verify(message, signature []byte) bool {
	return ed25519.Verify(k.Public, message, signature)
}

// SaveToPem saves private and public key to the PEM format file.
// Saved files are like in the example:
// - PRIVATE: "your/path/name"
// - PUBLIC: "your/path/name.pub"
func (k *KeyPair) SaveToPem(filepath string) error {
	prv, err := x509.MarshalPKCS8PrivateKey(k.Private)
	if err != nil {
		return err
	}
	pub, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return err
	}
	blockPrv := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: prv,
	}
	blockPub := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pub,
	}
	if err := os.WriteFile(filepath, pem.EncodeToMemory(blockPrv), 0600); err != nil {
		return err
	}
	if err := os.WriteFile(filepath+".pub", pem.EncodeToMemory(blockPub), 0644); err != nil {
		return err
	}
	return nil
}

// ReadFromPem creates KeyPair from PEM format file.
// Provide the path to a file without specifying the extension : <your/path/name".
func ReadFromPem(filepath string) (KeyPair, error) {
	var k KeyPair
	rawPub, err := os.ReadFile(filepath + ".pub")
	if err != nil {
		return k, err
	}
	rawPrv, err := os.ReadFile(filepath)
	if err != nil {
		return k, err
	}

	blockPub, _ := pem.Decode(rawPub)
	if blockPub == nil || blockPub.Type != "PUBLIC KEY" {
		return k, errors.New("cannot decode public key from PEM format")
	}
	pub, err := x509.ParsePKIXPublicKey(blockPub.Bytes)
	if err != nil {
		return k, err
	}
	blockPrv, _ := pem.Decode(rawPrv)
	if blockPrv == nil || blockPrv.Type != "PRIVATE KEY" {
		return k, errors.New("cannot decode private key from PEM format")
	}
	prv, err := x509.ParsePKCS8PrivateKey(blockPrv.Bytes)
	if err != nil {
		return k, err
	}
	var ok bool
	k.Public, ok = pub.(ed25519.PublicKey)
	if !ok {
		return k, errors.New("cannot cast x509 decoded parsed key to ed25519 public key")
	}
	k.Private, ok = prv.(ed25519.PrivateKey)
	if !ok {
		return k, errors.New("cannot cast x509 decoded parsed key to ed25519 private key")
	}
	if !k.Valid() {
		return KeyPair{}, errors.Join(ErrInvalidVerifyingKey, errors.New("public key does not match private key"))
	}
	return k, nil
}

// DecodeGOB tries to decode KeyPair from gob representation or returns error otherwise.
func DecodeGOB(data []byte) (KeyPair, error) {
	var k KeyPair
	decoder := gob.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&k); err != nil {
		return KeyPair{}, err
	}
	return k, nil
}

// EncodeGOB tries to encode KeyPair in to the gob representation or returns error otherwise.
func (k *KeyPair) EncodeGOB() ([]byte, error) {
	var content bytes.Buffer
	encoder := gob.NewEncoder(&content)
	if err := encoder.Encode(k); err != nil {
		return nil, err
	}
	return content.Bytes(), nil
}
