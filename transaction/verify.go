package transaction

import (
	"errors"
	"fmt"

	"github.com/bartossh/ledgerdriver/condition"
)

var ErrUnknownTransaction = errors.New("unknown transaction")

// ConditionResolver resolves the condition of the output spent by a TRANSFER fulfillment.
type ConditionResolver func(transactionID string, outputIndex int) (condition.Condition, error)

// ResolverFromTransactions creates ConditionResolver that looks up the given transactions.
func ResolverFromTransactions(txs ...Transaction) ConditionResolver {
	known := make(map[string]Transaction, len(txs))
	for _, t := range txs {
		known[t.ID] = t
	}
	return func(transactionID string, outputIndex int) (condition.Condition, error) {
		t, ok := known[transactionID]
		if !ok {
			return condition.Condition{}, errors.Join(ErrUnknownTransaction, fmt.Errorf("transaction [ %s ]", transactionID))
		}
		return t.Output(outputIndex)
	}
}

// FulfillmentsValid returns true if every fulfillment of the transaction satisfies the condition it claims.
// CREATE fulfillments are checked against the transaction own conditions,
// TRANSFER fulfillments against the spent conditions returned by resolve.
// Any malformed, unsigned or unresolvable transaction is reported as not valid.
func FulfillmentsValid(t Transaction, resolve ConditionResolver) bool {
	if err := t.Validate(); err != nil {
		return false
	}
	id, err := ComputeID(t)
	if err != nil || id != t.ID {
		return false
	}

	spent := make(map[Link]struct{}, len(t.Body.Fulfillments))
	for i, f := range t.Body.Fulfillments {
		if f.Fulfillment == nil {
			return false
		}

		var c condition.Condition
		switch t.Body.Operation {
		case OperationCreate:
			if i >= len(t.Body.Conditions) {
				return false
			}
			c = t.Body.Conditions[i]
		case OperationTransfer:
			if _, ok := spent[*f.Input]; ok {
				return false
			}
			spent[*f.Input] = struct{}{}
			c, err = safeResolve(resolve, *f.Input)
			if err != nil {
				return false
			}
		default:
			return false
		}

		if !sameOwners(f.OwnersBefore, c.OwnersAfter) {
			return false
		}
		message, err := SigningMessage(t, i)
		if err != nil {
			return false
		}
		if !condition.VerifyFulfillment(c, *f.Fulfillment, message) {
			return false
		}
	}

	return true
}

func safeResolve(resolve ConditionResolver, l Link) (c condition.Condition, err error) {
	if resolve == nil {
		return c, errors.New("no condition resolver")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("condition resolver panicked: %v", r)
		}
	}()
	return resolve(l.TransactionID, l.OutputIndex)
}

func sameOwners(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
