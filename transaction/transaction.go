package transaction

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/bartossh/ledgerdriver/condition"
	"github.com/bartossh/ledgerdriver/keypair"
	"github.com/bartossh/ledgerdriver/serializer"
)

var (
	ErrInvalidSigningKey        = keypair.ErrInvalidSigningKey
	ErrInvalidVerifyingKey      = keypair.ErrInvalidVerifyingKey
	ErrUnsupportedConditionType = condition.ErrUnsupportedConditionType
	ErrEmptyInputs              = errors.New("transfer requires at least one input")
	ErrKeyMismatch              = errors.New("no signing key matches the fulfillment owner")
	ErrOwnerMismatch            = errors.New("input has no owners before")
	ErrMalformedInput           = errors.New("malformed input")
	ErrMalformedTransaction     = errors.New("malformed transaction")
	ErrUnknownOperation         = errors.New("unknown operation")
	ErrOutputNotFound           = errors.New("output not found")
	ErrIDMismatch               = errors.New("transaction id does not match its content")
	ErrInvalidData              = errors.New("data is not a valid JSON document")
)

// Builder builds unsigned transactions. The clock stamps the transaction timestamp.
type Builder struct {
	now func() time.Time
}

// NewBuilder creates a new Builder with the given clock.
func NewBuilder(now func() time.Time) Builder {
	if now == nil {
		now = time.Now
	}
	return Builder{now: now}
}

var defaultBuilder = NewBuilder(time.Now)

// Create builds unsigned CREATE transaction with owner as the issuer and the first owner of the asset.
func Create(owner string, data Data) (Transaction, error) {
	return defaultBuilder.Create(owner, data)
}

// Transfer builds unsigned TRANSFER transaction spending inputs in favour of ownersAfter.
func Transfer(inputs []Input, ownersAfter []string, data Data) (Transaction, error) {
	return defaultBuilder.Transfer(inputs, ownersAfter, data)
}

// Create builds unsigned CREATE transaction with owner as the issuer and the first owner of the asset.
func (b Builder) Create(owner string, data Data) (Transaction, error) {
	c, err := condition.MakeCondition([]string{owner})
	if err != nil {
		return Transaction{}, err
	}
	data, err = normalizeData(data)
	if err != nil {
		return Transaction{}, err
	}

	t := Transaction{
		Version: Version,
		Body: Body{
			Operation: OperationCreate,
			Data:      data,
			Timestamp: b.timestamp(),
			Fulfillments: []Fulfillment{
				{OwnersBefore: []string{owner}},
			},
			Conditions: []condition.Condition{c},
		},
	}

	return withID(t)
}

// Transfer builds unsigned TRANSFER transaction spending inputs in favour of ownersAfter.
// There is one fulfillment per input in the inputs order and one single owner condition per owner after.
func (b Builder) Transfer(inputs []Input, ownersAfter []string, data Data) (Transaction, error) {
	if len(inputs) == 0 {
		return Transaction{}, ErrEmptyInputs
	}
	if len(ownersAfter) == 0 {
		return Transaction{}, errors.Join(ErrInvalidVerifyingKey, errors.New("transfer requires at least one owner after"))
	}
	data, err := normalizeData(data)
	if err != nil {
		return Transaction{}, err
	}

	fulfillments := make([]Fulfillment, 0, len(inputs))
	spent := make(map[Link]struct{}, len(inputs))
	for i, in := range inputs {
		if len(in.OwnersBefore) == 0 {
			return Transaction{}, errors.Join(ErrOwnerMismatch, fmt.Errorf("input [ %d ]", i))
		}
		if in.TransactionID == "" || in.OutputIndex < 0 {
			return Transaction{}, errors.Join(ErrMalformedInput, fmt.Errorf("input [ %d ] %+v", i, in))
		}
		link := in.Link()
		if _, ok := spent[link]; ok {
			return Transaction{}, errors.Join(ErrMalformedInput, fmt.Errorf("input [ %d ] is spent twice", i))
		}
		spent[link] = struct{}{}
		fulfillments = append(fulfillments, Fulfillment{
			OwnersBefore: append([]string(nil), in.OwnersBefore...),
			Input:        &link,
		})
	}

	conditions := make([]condition.Condition, 0, len(ownersAfter))
	for _, owner := range ownersAfter {
		c, err := condition.MakeCondition([]string{owner})
		if err != nil {
			return Transaction{}, err
		}
		conditions = append(conditions, c)
	}

	t := Transaction{
		Version: Version,
		Body: Body{
			Operation:    OperationTransfer,
			Data:         data,
			Timestamp:    b.timestamp(),
			Fulfillments: fulfillments,
			Conditions:   conditions,
		},
	}

	return withID(t)
}

func (b Builder) timestamp() string {
	return strconv.FormatInt(b.now().UTC().Unix(), 10)
}

// ComputeID computes the id of the transaction: hex encoded SHA3-256 of the canonical serialization
// of the version and the body with all fulfillments set to null.
// Signatures do not affect the id.
func ComputeID(t Transaction) (string, error) {
	body := t.Body
	body.Fulfillments = make([]Fulfillment, len(t.Body.Fulfillments))
	for i, f := range t.Body.Fulfillments {
		body.Fulfillments[i] = Fulfillment{OwnersBefore: f.OwnersBefore, Input: f.Input}
	}

	raw, err := serializer.Canonical(struct {
		Version int  `json:"version"`
		Body    Body `json:"transaction"`
	}{Version: t.Version, Body: body})
	if err != nil {
		return "", errors.Join(ErrMalformedTransaction, err)
	}

	sum := sha3.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// SigningMessage returns the message signed by the fulfillment at index i.
// It binds the transaction id with the owners and the input of that fulfillment.
func SigningMessage(t Transaction, i int) ([]byte, error) {
	if i < 0 || i >= len(t.Body.Fulfillments) {
		return nil, errors.Join(ErrMalformedTransaction, fmt.Errorf("no fulfillment at index [ %d ]", i))
	}
	f := t.Body.Fulfillments[i]
	return serializer.Canonical(struct {
		ID               string   `json:"id"`
		FulfillmentIndex int      `json:"fulfillment_index"`
		OwnersBefore     []string `json:"owners_before"`
		Input            *Link    `json:"input"`
	}{
		ID:               t.ID,
		FulfillmentIndex: i,
		OwnersBefore:     f.OwnersBefore,
		Input:            f.Input,
	})
}

// normalizeData detaches data from the caller, it is decoded back from its canonical form.
func normalizeData(data Data) (Data, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := serializer.Canonical(data)
	if err != nil {
		return nil, errors.Join(ErrInvalidData, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized Data
	if err := dec.Decode(&normalized); err != nil {
		return nil, errors.Join(ErrInvalidData, err)
	}
	return normalized, nil
}

func withID(t Transaction) (Transaction, error) {
	id, err := ComputeID(t)
	if err != nil {
		return Transaction{}, err
	}
	t.ID = id
	return t, nil
}
