// Package condition encodes asset ownership as crypto-condition URIs and proves it with
// fulfillment URIs holding an ed25519 signature.
//
// Condition URI:   cc:<type>:<feature bitmask>:<base64url fingerprint>:<max fulfillment length>
// Fulfillment URI: cf:<type>:<base64url payload>
//
// Only the single owner ed25519 type is implemented. Other condition types plug in by
// extending ParseFulfillment and MakeCondition with a new Type.
package condition

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bartossh/ledgerdriver/keypair"
)

// Type is a crypto-condition type identifier.
type Type int

const (
	TypeEd25519 Type = 4 // single owner ed25519 signature
)

const (
	conditionScheme   = "cc"
	fulfillmentScheme = "cf"
	featureEd25519    = 0x20
	ed25519PayloadLen = ed25519.PublicKeySize + ed25519.SignatureSize
)

var (
	ErrUnsupportedConditionType = errors.New("unsupported condition type")
	ErrMalformedFulfillment     = errors.New("malformed fulfillment")
	ErrMalformedCondition       = errors.New("malformed condition")
)

var encoding = base64.RawURLEncoding.Strict()

// Condition describes who may claim an output.
type Condition struct {
	OwnersAfter  []string `json:"owners_after"`
	ConditionURI string   `json:"condition_uri"`
}

// Ed25519 is a parsed ed25519 fulfillment.
type Ed25519 struct {
	PublicKey ed25519.PublicKey
	Signature []byte
}

// MakeCondition encodes ownership of the given owners as a Condition.
func MakeCondition(ownersAfter []string) (Condition, error) {
	switch len(ownersAfter) {
	case 0:
		return Condition{}, errors.Join(ErrUnsupportedConditionType, errors.New("condition requires at least one owner"))
	case 1:
	default:
		return Condition{}, errors.Join(
			ErrUnsupportedConditionType,
			fmt.Errorf("threshold condition of %d owners is not supported", len(ownersAfter)))
	}

	pub, err := keypair.DecodeVerifyingKey(ownersAfter[0])
	if err != nil {
		return Condition{}, err
	}

	return Condition{
		OwnersAfter:  []string{ownersAfter[0]},
		ConditionURI: ed25519ConditionURI(pub),
	}, nil
}

// Validate checks that the condition URI is the encoding of its owners.
func (c Condition) Validate() error {
	expected, err := MakeCondition(c.OwnersAfter)
	if err != nil {
		return err
	}
	if expected.ConditionURI != c.ConditionURI {
		return errors.Join(ErrMalformedCondition, fmt.Errorf("condition uri [ %s ] does not match owners", c.ConditionURI))
	}
	return nil
}

// SignFulfillment signs message with base58 encoded signing key and returns the fulfillment URI.
func SignFulfillment(message []byte, signingKey string) (string, error) {
	kp, err := keypair.FromSigningKey(signingKey)
	if err != nil {
		return "", err
	}
	f := Ed25519{PublicKey: kp.Public, Signature: kp.Sign(message)}
	return f.URI(), nil
}

// VerifyFulfillment returns true if fulfillment is a valid signature over message made by the owner of the condition.
// It never panics, any malformed input results in false.
func VerifyFulfillment(c Condition, fulfillment string, message []byte) bool {
	f, err := ParseFulfillment(fulfillment)
	if err != nil {
		return false
	}
	if f.ConditionURI() != c.ConditionURI {
		return false
	}
	if !f.ownedBy(c.OwnersAfter) {
		return false
	}
	return ed25519.Verify(f.PublicKey, message, f.Signature)
}

// ParseFulfillment decodes fulfillment URI.
func ParseFulfillment(uri string) (Ed25519, error) {
	parts := strings.Split(uri, ":")
	if len(parts) != 3 || parts[0] != fulfillmentScheme {
		return Ed25519{}, ErrMalformedFulfillment
	}
	typ, err := strconv.ParseInt(parts[1], 16, 32)
	if err != nil {
		return Ed25519{}, errors.Join(ErrMalformedFulfillment, err)
	}
	if strconv.FormatInt(typ, 16) != parts[1] {
		return Ed25519{}, errors.Join(ErrMalformedFulfillment, fmt.Errorf("type %q is not in the canonical form", parts[1]))
	}

	switch Type(typ) {
	case TypeEd25519:
	default:
		return Ed25519{}, errors.Join(ErrUnsupportedConditionType, fmt.Errorf("type %d", typ))
	}

	payload, err := encoding.DecodeString(parts[2])
	if err != nil {
		return Ed25519{}, errors.Join(ErrMalformedFulfillment, err)
	}
	// The decoder skips CR and LF, only the canonical encoding is accepted.
	if encoding.EncodeToString(payload) != parts[2] {
		return Ed25519{}, errors.Join(ErrMalformedFulfillment, errors.New("payload is not in the canonical form"))
	}
	if len(payload) != ed25519PayloadLen {
		return Ed25519{}, errors.Join(
			ErrMalformedFulfillment,
			fmt.Errorf("expected payload length %d but got %d", ed25519PayloadLen, len(payload)))
	}

	return Ed25519{
		PublicKey: ed25519.PublicKey(payload[:ed25519.PublicKeySize]),
		Signature: payload[ed25519.PublicKeySize:],
	}, nil
}

// URI returns fulfillment URI.
func (f Ed25519) URI() string {
	payload := make([]byte, 0, ed25519PayloadLen)
	payload = append(payload, f.PublicKey...)
	payload = append(payload, f.Signature...)
	return fmt.Sprintf("%s:%x:%s", fulfillmentScheme, int(TypeEd25519), encoding.EncodeToString(payload))
}

// ConditionURI returns URI of the condition this fulfillment satisfies.
func (f Ed25519) ConditionURI() string {
	return ed25519ConditionURI(f.PublicKey)
}

func (f Ed25519) ownedBy(owners []string) bool {
	for _, owner := range owners {
		pub, err := keypair.DecodeVerifyingKey(owner)
		if err != nil {
			continue
		}
		if pub.Equal(f.PublicKey) {
			return true
		}
	}
	return false
}

func ed25519ConditionURI(pub ed25519.PublicKey) string {
	return fmt.Sprintf(
		"%s:%x:%x:%s:%d",
		conditionScheme, int(TypeEd25519), featureEd25519, encoding.EncodeToString(pub), ed25519PayloadLen,
	)
}
