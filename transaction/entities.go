package transaction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bartossh/ledgerdriver/condition"
)

// Version is the only transaction format version produced and accepted.
const Version = 1

// Operation is a tagged variant of the transaction operation.
type Operation string

const (
	OperationCreate   Operation = "CREATE"
	OperationTransfer Operation = "TRANSFER"
)

// Valid reports whether the operation is one of the known operations.
func (o Operation) Valid() bool {
	return o == OperationCreate || o == OperationTransfer
}

// UnmarshalJSON rejects unknown operations.
func (o *Operation) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	if !Operation(s).Valid() {
		return errors.Join(ErrUnknownOperation, fmt.Errorf("operation [ %s ]", s))
	}
	*o = Operation(s)
	return nil
}

// Data is an opaque payload attached to the transaction. Nil Data is serialized as null.
type Data map[string]any

// Link points at the output of a prior transaction that is being spent.
type Link struct {
	TransactionID string `json:"transaction_id"`
	OutputIndex   int    `json:"output_index"`
}

// Input is a spendable reference to the output of a committed transaction.
type Input struct {
	TransactionID string   `json:"transaction_id"`
	OutputIndex   int      `json:"output_index"`
	OwnersBefore  []string `json:"owners_before"`
}

// Link returns the Link the Input refers to.
func (in Input) Link() Link {
	return Link{TransactionID: in.TransactionID, OutputIndex: in.OutputIndex}
}

// Fulfillment proves the right to spend. Fulfillment is nil until the transaction is signed.
// Input is nil for CREATE transactions.
type Fulfillment struct {
	OwnersBefore []string `json:"owners_before"`
	Fulfillment  *string  `json:"fulfillment"`
	Input        *Link    `json:"input"`
}

// Body is the hashed and signed part of the Transaction.
type Body struct {
	Operation    Operation             `json:"operation"`
	Data         Data                  `json:"data"`
	Timestamp    string                `json:"timestamp"`
	Fulfillments []Fulfillment         `json:"fulfillments"`
	Conditions   []condition.Condition `json:"conditions"`
}

// Transaction is the wire representation of the ledger transaction.
// Once signed it shall be treated as an immutable value.
type Transaction struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Body    Body   `json:"transaction"`
}

// Signed reports whether every fulfillment carries a fulfillment URI.
func (t Transaction) Signed() bool {
	for _, f := range t.Body.Fulfillments {
		if f.Fulfillment == nil {
			return false
		}
	}
	return len(t.Body.Fulfillments) > 0
}

// Output returns the condition at index i.
func (t Transaction) Output(i int) (condition.Condition, error) {
	if i < 0 || i >= len(t.Body.Conditions) {
		return condition.Condition{}, errors.Join(
			ErrOutputNotFound,
			fmt.Errorf("transaction [ %s ] has no output at index [ %d ]", t.ID, i))
	}
	return t.Body.Conditions[i], nil
}

// Validate checks structural invariants of the transaction. It does not verify signatures.
func (t Transaction) Validate() error {
	if t.Version != Version {
		return errors.Join(ErrMalformedTransaction, fmt.Errorf("unsupported version [ %d ]", t.Version))
	}
	if !t.Body.Operation.Valid() {
		return errors.Join(ErrUnknownOperation, fmt.Errorf("operation [ %s ]", t.Body.Operation))
	}
	if t.Body.Timestamp == "" {
		return errors.Join(ErrMalformedTransaction, errors.New("missing timestamp"))
	}
	if len(t.Body.Fulfillments) == 0 {
		return errors.Join(ErrMalformedTransaction, errors.New("at least one fulfillment is required"))
	}
	if len(t.Body.Conditions) == 0 {
		return errors.Join(ErrMalformedTransaction, errors.New("at least one condition is required"))
	}

	for i, f := range t.Body.Fulfillments {
		if len(f.OwnersBefore) == 0 {
			return errors.Join(ErrOwnerMismatch, fmt.Errorf("fulfillment [ %d ] has no owners before", i))
		}
		switch t.Body.Operation {
		case OperationCreate:
			if f.Input != nil {
				return errors.Join(ErrMalformedTransaction, fmt.Errorf("CREATE fulfillment [ %d ] spends an input", i))
			}
		case OperationTransfer:
			if f.Input == nil {
				return errors.Join(ErrMalformedTransaction, fmt.Errorf("TRANSFER fulfillment [ %d ] has no input", i))
			}
			if f.Input.TransactionID == "" || f.Input.OutputIndex < 0 {
				return errors.Join(ErrMalformedInput, fmt.Errorf("fulfillment [ %d ] input %+v", i, *f.Input))
			}
		}
	}

	for i, c := range t.Body.Conditions {
		if err := c.Validate(); err != nil {
			return errors.Join(ErrMalformedTransaction, fmt.Errorf("condition [ %d ]", i), err)
		}
	}

	return nil
}

// Encode encodes transaction to the JSON wire representation.
func (t Transaction) Encode() ([]byte, error) {
	return json.Marshal(t)
}

type wireFulfillment struct {
	OwnersBefore []string `json:"owners_before"`
	Fulfillment  *string  `json:"fulfillment"`
	Input        *Link    `json:"input"`
}

type wireBody struct {
	Operation    *Operation            `json:"operation"`
	Data         Data                  `json:"data"`
	Timestamp    *string               `json:"timestamp"`
	Fulfillments []wireFulfillment     `json:"fulfillments"`
	Conditions   []condition.Condition `json:"conditions"`
}

type wireTransaction struct {
	ID      *string   `json:"id"`
	Version *int      `json:"version"`
	Body    *wireBody `json:"transaction"`
}

// Decode decodes JSON wire representation in to the Transaction.
// Documents missing required fields, with unknown operation or breaking structural invariants are rejected.
func Decode(raw []byte) (Transaction, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var w wireTransaction
	if err := dec.Decode(&w); err != nil {
		return Transaction{}, errors.Join(ErrMalformedTransaction, err)
	}

	switch {
	case w.ID == nil:
		return Transaction{}, errors.Join(ErrMalformedTransaction, errors.New("missing id"))
	case w.Version == nil:
		return Transaction{}, errors.Join(ErrMalformedTransaction, errors.New("missing version"))
	case w.Body == nil:
		return Transaction{}, errors.Join(ErrMalformedTransaction, errors.New("missing transaction body"))
	case w.Body.Operation == nil:
		return Transaction{}, errors.Join(ErrMalformedTransaction, errors.New("missing operation"))
	case w.Body.Timestamp == nil:
		return Transaction{}, errors.Join(ErrMalformedTransaction, errors.New("missing timestamp"))
	}

	t := Transaction{
		ID:      *w.ID,
		Version: *w.Version,
		Body: Body{
			Operation:    *w.Body.Operation,
			Data:         w.Body.Data,
			Timestamp:    *w.Body.Timestamp,
			Fulfillments: make([]Fulfillment, 0, len(w.Body.Fulfillments)),
			Conditions:   w.Body.Conditions,
		},
	}
	for _, f := range w.Body.Fulfillments {
		t.Body.Fulfillments = append(t.Body.Fulfillments, Fulfillment(f))
	}

	if err := t.Validate(); err != nil {
		return Transaction{}, err
	}

	return t, nil
}

// UnmarshalJSON decodes Transaction with the strict rules of Decode.
func (t *Transaction) UnmarshalJSON(raw []byte) error {
	decoded, err := Decode(raw)
	if err != nil {
		return err
	}
	*t = decoded
	return nil
}

func (t Transaction) clone() Transaction {
	c := t
	c.Body.Data = copyData(t.Body.Data)
	c.Body.Fulfillments = make([]Fulfillment, len(t.Body.Fulfillments))
	for i, f := range t.Body.Fulfillments {
		c.Body.Fulfillments[i] = Fulfillment{
			OwnersBefore: append([]string(nil), f.OwnersBefore...),
			Fulfillment:  f.Fulfillment,
			Input:        f.Input,
		}
		if f.Fulfillment != nil {
			s := *f.Fulfillment
			c.Body.Fulfillments[i].Fulfillment = &s
		}
		if f.Input != nil {
			l := *f.Input
			c.Body.Fulfillments[i].Input = &l
		}
	}
	c.Body.Conditions = make([]condition.Condition, len(t.Body.Conditions))
	for i, cond := range t.Body.Conditions {
		c.Body.Conditions[i] = condition.Condition{
			OwnersAfter:  append([]string(nil), cond.OwnersAfter...),
			ConditionURI: cond.ConditionURI,
		}
	}
	return c
}

// copyData deep copies JSON objects and arrays, other values are immutable or shared.
func copyData(d Data) Data {
	if d == nil {
		return nil
	}
	c := make(Data, len(d))
	for k, v := range d {
		c[k] = copyValue(v)
	}
	return c
}

func copyValue(v any) any {
	switch x := v.(type) {
	case Data:
		return copyData(x)
	case map[string]any:
		return map[string]any(copyData(x))
	case []any:
		c := make([]any, len(x))
		for i := range x {
			c[i] = copyValue(x[i])
		}
		return c
	default:
		return v
	}
}
