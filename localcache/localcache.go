package localcache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bartossh/ledgerdriver/condition"
	"github.com/bartossh/ledgerdriver/transaction"
)

const minLen = 64

var (
	ErrNotFound       = errors.New("transaction not found in cache")
	ErrIDMismatch     = errors.New("transaction id does not match its content")
	ErrEmptyID        = errors.New("transaction id is empty")
	ErrNotCommittable = errors.New("transaction is not signed")
)

// Config holds cache configuration.
type Config struct {
	MaxLen int `yaml:"max_len"`
}

// TransactionCache stores transactions known to be committed by the ledger.
// When full the oldest entry is evicted.
type TransactionCache struct {
	mux    sync.RWMutex
	trxs   map[string]transaction.Transaction
	order  []string
	maxLen int
}

// NewTransactionCache creates a new TransactionCache according to Config.
func NewTransactionCache(cfg Config) *TransactionCache {
	if cfg.MaxLen < minLen {
		cfg.MaxLen = minLen
	}
	return &TransactionCache{
		trxs:   make(map[string]transaction.Transaction, cfg.MaxLen),
		order:  make([]string, 0, cfg.MaxLen),
		maxLen: cfg.MaxLen,
	}
}

// Write stores committed transaction.
func (c *TransactionCache) Write(trx transaction.Transaction) error {
	if trx.ID == "" {
		return ErrEmptyID
	}
	if !trx.Signed() {
		return errors.Join(ErrNotCommittable, fmt.Errorf("transaction [ %s ]", trx.ID))
	}
	id, err := transaction.ComputeID(trx)
	if err != nil {
		return err
	}
	if id != trx.ID {
		return errors.Join(ErrIDMismatch, fmt.Errorf("expected [ %s ] but got [ %s ]", id, trx.ID))
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	if _, ok := c.trxs[trx.ID]; ok {
		return nil
	}
	if len(c.order) == c.maxLen {
		delete(c.trxs, c.order[0])
		c.order = c.order[1:]
	}
	c.trxs[trx.ID] = trx
	c.order = append(c.order, trx.ID)
	return nil
}

// Read reads transaction by id.
func (c *TransactionCache) Read(id string) (transaction.Transaction, error) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	trx, ok := c.trxs[id]
	if !ok {
		return transaction.Transaction{}, errors.Join(ErrNotFound, fmt.Errorf("transaction [ %s ]", id))
	}
	return trx, nil
}

// Len returns number of cached transactions.
func (c *TransactionCache) Len() int {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return len(c.trxs)
}

// Resolve resolves condition of the output of cached transaction.
func (c *TransactionCache) Resolve(transactionID string, outputIndex int) (condition.Condition, error) {
	trx, err := c.Read(transactionID)
	if err != nil {
		return condition.Condition{}, err
	}
	return trx.Output(outputIndex)
}
