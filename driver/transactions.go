package driver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bartossh/ledgerdriver/condition"
	"github.com/bartossh/ledgerdriver/httpclient"
	"github.com/bartossh/ledgerdriver/keypair"
	"github.com/bartossh/ledgerdriver/transaction"
)

const transactionsURL = "/transactions/"

// Status is the ledger status of the submitted transaction.
type Status string

const (
	StatusUndecided Status = "undecided"
	StatusValid     Status = "valid"
	StatusInvalid   Status = "invalid"
	StatusBacklog   Status = "backlog"
)

// Terminal reports whether the status will not change anymore.
func (s Status) Terminal() bool {
	return s == StatusValid || s == StatusInvalid
}

// StatusResponse is the node response to the status request.
type StatusResponse struct {
	Status Status `json:"status"`
}

// CreateParams are parameters of the CREATE transaction. Empty keys fall back to the driver keys.
type CreateParams struct {
	VerifyingKey string
	SigningKey   string
	Data         transaction.Data
}

// TransferParams are parameters of the TRANSFER transaction. Empty signing key falls back to the driver key.
type TransferParams struct {
	OwnersAfter []string
	SigningKey  string
	Data        transaction.Data
}

// TransactionsEndpoint exposes transactions operations of the node API.
type TransactionsEndpoint struct {
	d *Driver
}

// Create builds, signs and submits CREATE transaction.
func (e *TransactionsEndpoint) Create(ctx context.Context, p CreateParams) (transaction.Transaction, error) {
	if p.SigningKey == "" {
		p.SigningKey = e.d.SigningKey()
	}
	if p.VerifyingKey == "" {
		p.VerifyingKey = e.d.VerifyingKey()
	}
	if p.SigningKey == "" {
		return transaction.Transaction{}, errors.Join(ErrInvalidSigningKey, errors.New("no signing key given nor configured"))
	}
	if p.VerifyingKey == "" {
		return transaction.Transaction{}, errors.Join(ErrInvalidVerifyingKey, errors.New("no verifying key given nor configured"))
	}

	trx, err := transaction.Create(p.VerifyingKey, p.Data)
	if err != nil {
		return transaction.Transaction{}, err
	}
	signed, err := transaction.Sign(trx, []string{p.SigningKey})
	if err != nil {
		return transaction.Transaction{}, err
	}
	if !transaction.FulfillmentsValid(signed, nil) {
		return transaction.Transaction{}, ErrInvalidFulfillments
	}

	return e.submit(ctx, signed)
}

// Transfer builds, signs and submits TRANSFER of every output of prior owned by the signing key.
// Prior shall be committed by the ledger, see WaitForStatus.
func (e *TransactionsEndpoint) Transfer(
	ctx context.Context, prior transaction.Transaction, p TransferParams,
) (transaction.Transaction, error) {
	if p.SigningKey == "" {
		p.SigningKey = e.d.SigningKey()
	}
	if p.SigningKey == "" {
		return transaction.Transaction{}, errors.Join(ErrInvalidSigningKey, errors.New("no signing key given nor configured"))
	}
	owner, err := keypair.VerifyingKeyOf(p.SigningKey)
	if err != nil {
		return transaction.Transaction{}, err
	}

	inputs := make([]transaction.Input, 0, len(prior.Body.Conditions))
	for _, in := range transaction.ToInputs(prior) {
		if len(in.OwnersBefore) > 0 && in.OwnersBefore[0] == owner {
			inputs = append(inputs, in)
		}
	}
	if len(inputs) == 0 && len(prior.Body.Conditions) > 0 {
		return transaction.Transaction{}, errors.Join(
			ErrKeyMismatch,
			fmt.Errorf("transaction [ %s ] has no output owned by [ %s ]", prior.ID, owner))
	}

	trx, err := transaction.Transfer(inputs, p.OwnersAfter, p.Data)
	if err != nil {
		return transaction.Transaction{}, err
	}
	signed, err := transaction.Sign(trx, []string{p.SigningKey})
	if err != nil {
		return transaction.Transaction{}, err
	}
	if !transaction.FulfillmentsValid(signed, transaction.ResolverFromTransactions(prior)) {
		return transaction.Transaction{}, ErrInvalidFulfillments
	}

	return e.submit(ctx, signed)
}

// Submit submits already signed transaction.
func (e *TransactionsEndpoint) Submit(ctx context.Context, signed transaction.Transaction) (transaction.Transaction, error) {
	if !signed.Signed() {
		return transaction.Transaction{}, errors.Join(ErrInvalidFulfillments, errors.New("transaction is not signed"))
	}
	return e.submit(ctx, signed)
}

// Retrieve reads transaction known to the ledger. The transaction may not be committed yet,
// use Committed to read only transactions safe to spend from.
func (e *TransactionsEndpoint) Retrieve(ctx context.Context, id string) (transaction.Transaction, error) {
	if trx, err := e.d.cache.Read(id); err == nil {
		return trx, nil
	}

	var trx transaction.Transaction
	err := e.d.each(ctx, func(node string, timeout time.Duration) error {
		return httpclient.MakeGet(timeout, node+transactionsURL+url.PathEscape(id), &trx)
	})
	if err != nil {
		return transaction.Transaction{}, err
	}
	if trx.ID != id {
		return transaction.Transaction{}, errors.Join(
			ErrInconsistentData,
			fmt.Errorf("requested transaction [ %s ] but received [ %s ]", id, trx.ID))
	}
	if computed, err := transaction.ComputeID(trx); err != nil || computed != id {
		return transaction.Transaction{}, errors.Join(
			ErrInconsistentData,
			fmt.Errorf("content of transaction [ %s ] does not match its id", id))
	}

	return trx, nil
}

// Committed reads transaction only if the ledger reports it valid. Committed transactions are cached.
func (e *TransactionsEndpoint) Committed(ctx context.Context, id string) (transaction.Transaction, error) {
	if trx, err := e.d.cache.Read(id); err == nil {
		return trx, nil
	}

	status, err := e.Status(ctx, id)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if status != StatusValid {
		return transaction.Transaction{}, errors.Join(ErrNotCommitted, fmt.Errorf("transaction [ %s ] is %s", id, status))
	}
	trx, err := e.Retrieve(ctx, id)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if err := e.d.cache.Write(trx); err != nil {
		return transaction.Transaction{}, errors.Join(ErrInconsistentData, err)
	}
	return trx, nil
}

// Status reads transaction status.
func (e *TransactionsEndpoint) Status(ctx context.Context, id string) (Status, error) {
	var res StatusResponse
	err := e.d.each(ctx, func(node string, timeout time.Duration) error {
		return httpclient.MakeGet(timeout, node+transactionsURL+url.PathEscape(id)+"/status", &res)
	})
	if err != nil {
		return "", err
	}
	switch res.Status {
	case StatusUndecided, StatusValid, StatusInvalid, StatusBacklog:
		return res.Status, nil
	default:
		return "", errors.Join(ErrInconsistentData, fmt.Errorf("unknown status [ %s ]", res.Status))
	}
}

// WaitForStatus polls transaction status with exponential backoff until the status is terminal.
// Transaction not yet visible to the node is polled for as well.
// ErrTimeout is returned when ctx is done first.
func (e *TransactionsEndpoint) WaitForStatus(ctx context.Context, id string) (Status, error) {
	start := time.Now()
	interval := e.d.pollInterval
	for {
		status, err := e.Status(ctx, id)
		switch {
		case err == nil && status.Terminal():
			e.d.observe(metricCommitWait, time.Since(start))
			if status == StatusInvalid {
				e.d.count(metricRejected)
			}
			if status == StatusValid {
				e.cacheCommitted(ctx, id)
			}
			e.d.info(fmt.Sprintf("transaction [ %s ] reached status [ %s ]", id, status))
			return status, nil
		case err == nil:
			e.d.debug(fmt.Sprintf("transaction [ %s ] status [ %s ], next poll in %s", id, status, interval))
		case errors.Is(err, ErrNotFound):
			e.d.debug(fmt.Sprintf("transaction [ %s ] not visible yet, next poll in %s", id, interval))
		case expired(ctx):
			return "", errors.Join(ErrTimeout, err)
		default:
			return "", err
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", errors.Join(ErrTimeout, ctx.Err())
		case <-timer.C:
		}

		interval *= 2
		if interval > e.d.maxPollInterval {
			interval = e.d.maxPollInterval
		}
	}
}

// Commit submits signed transaction and waits until the ledger commits it.
// It returns the transaction once it is safe to derive inputs from it.
func (e *TransactionsEndpoint) Commit(ctx context.Context, signed transaction.Transaction) (transaction.Transaction, error) {
	trx, err := e.Submit(ctx, signed)
	if err != nil {
		return transaction.Transaction{}, err
	}
	status, err := e.WaitForStatus(ctx, trx.ID)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if status != StatusValid {
		return transaction.Transaction{}, errors.Join(ErrRejectedByNode, fmt.Errorf("transaction [ %s ] is %s", trx.ID, status))
	}
	if err := e.d.cache.Write(trx); err != nil {
		return transaction.Transaction{}, err
	}
	return trx, nil
}

// Resolver returns ConditionResolver resolving outputs of committed transactions only.
func (e *TransactionsEndpoint) Resolver(ctx context.Context) transaction.ConditionResolver {
	return func(transactionID string, outputIndex int) (condition.Condition, error) {
		trx, err := e.Committed(ctx, transactionID)
		if err != nil {
			return condition.Condition{}, err
		}
		return trx.Output(outputIndex)
	}
}

// Verify verifies fulfillments of the transaction resolving spent outputs with Resolver.
func (e *TransactionsEndpoint) Verify(ctx context.Context, trx transaction.Transaction) bool {
	return transaction.FulfillmentsValid(trx, e.Resolver(ctx))
}

func (e *TransactionsEndpoint) cacheCommitted(ctx context.Context, id string) {
	trx, err := e.Retrieve(ctx, id)
	if err == nil {
		err = e.d.cache.Write(trx)
	}
	if err != nil {
		e.d.warn(fmt.Sprintf("committed transaction [ %s ] not cached: %s", id, err))
	}
}

func (e *TransactionsEndpoint) submit(ctx context.Context, signed transaction.Transaction) (transaction.Transaction, error) {
	var res transaction.Transaction
	var attempts int
	err := e.d.each(ctx, func(node string, timeout time.Duration) error {
		attempts++
		return httpclient.MakePost(timeout, node+transactionsURL, signed, &res)
	})
	if attempts > 1 && errors.Is(err, httpclient.ErrConflict) {
		// The node that failed to respond accepted the transaction already.
		e.d.debug(fmt.Sprintf("transaction [ %s ] already known after node failover", signed.ID))
		res, err = signed, nil
	}
	if err != nil {
		if errors.Is(err, httpclient.ErrStatusCodeMismatch) {
			e.d.count(metricRejected)
			return transaction.Transaction{}, errors.Join(ErrRejectedByNode, err)
		}
		return transaction.Transaction{}, err
	}
	if res.ID != signed.ID {
		return transaction.Transaction{}, errors.Join(
			ErrInconsistentData,
			fmt.Errorf("submitted transaction [ %s ] but node returned [ %s ]", signed.ID, res.ID))
	}

	e.d.count(metricSubmitted)
	e.d.info(fmt.Sprintf("transaction [ %s ] %s submitted", signed.ID, signed.Body.Operation))
	return signed, nil
}

func expired(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}
