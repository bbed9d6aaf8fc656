package transaction

import (
	"errors"
	"fmt"

	"github.com/bartossh/ledgerdriver/condition"
	"github.com/bartossh/ledgerdriver/keypair"
)

// Sign signs every fulfillment of the transaction and returns a new signed Transaction.
// The fulfillment is signed by the key whose verifying key is the first of its owners before.
// The given transaction is not modified and the id stays the same.
func Sign(t Transaction, signingKeys []string) (Transaction, error) {
	if len(signingKeys) == 0 {
		return Transaction{}, errors.Join(ErrInvalidSigningKey, errors.New("no signing keys given"))
	}

	keys := make(map[string]string, len(signingKeys))
	for _, sk := range signingKeys {
		vk, err := keypair.VerifyingKeyOf(sk)
		if err != nil {
			return Transaction{}, err
		}
		keys[vk] = sk
	}

	id, err := ComputeID(t)
	if err != nil {
		return Transaction{}, err
	}
	if t.ID != "" && t.ID != id {
		return Transaction{}, errors.Join(ErrIDMismatch, fmt.Errorf("expected [ %s ] but got [ %s ]", id, t.ID))
	}

	signed := t.clone()
	signed.ID = id
	for i, f := range signed.Body.Fulfillments {
		if len(f.OwnersBefore) == 0 {
			return Transaction{}, errors.Join(ErrOwnerMismatch, fmt.Errorf("fulfillment [ %d ]", i))
		}
		sk, ok := keys[f.OwnersBefore[0]]
		if !ok {
			return Transaction{}, errors.Join(
				ErrKeyMismatch,
				fmt.Errorf("fulfillment [ %d ] requires key of owner [ %s ]", i, f.OwnersBefore[0]))
		}
		message, err := SigningMessage(signed, i)
		if err != nil {
			return Transaction{}, err
		}
		ff, err := condition.SignFulfillment(message, sk)
		if err != nil {
			return Transaction{}, err
		}
		signed.Body.Fulfillments[i].Fulfillment = &ff
	}

	return signed, nil
}
