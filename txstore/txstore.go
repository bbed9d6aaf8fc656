// Package txstore persists transactions known to the client in a bbolt database.
// It lets the command line chain transfers from transactions it created or fetched earlier.
package txstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/ledgerdriver/condition"
	"github.com/bartossh/ledgerdriver/transaction"
	"go.etcd.io/bbolt"
)

var (
	transactionsBucket = []byte("transactions")
	committedBucket    = []byte("committed")
)

var (
	ErrEmptyPath  = errors.New("store path is empty")
	ErrNotFound   = errors.New("transaction not found in store")
	ErrIDMismatch = errors.New("transaction id does not match its content")
)

const openTimeout = time.Second

// Config holds store configuration.
type Config struct {
	Path string `yaml:"path"` // Path to the database file.
}

// Record is a stored transaction with its ledger state as seen by the client.
type Record struct {
	Transaction transaction.Transaction
	Committed   bool
}

// Store is a bbolt backed transaction store. It is safe for concurrent use.
type Store struct {
	bolt *bbolt.DB
}

// New opens the store, creating the database file when missing.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, ErrEmptyPath
	}
	db, err := bbolt.Open(cfg.Path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	err = db.Update(func(txn *bbolt.Tx) error {
		for _, b := range [][]byte{transactionsBucket, committedBucket} {
			if _, err := txn.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{bolt: db}, nil
}

// Close closes the database. Any call after Close results in an error.
func (s *Store) Close() error {
	return s.bolt.Close()
}

// Save stores the transaction. Saving already stored transaction is a no-op.
func (s *Store) Save(trx transaction.Transaction) error {
	id, err := transaction.ComputeID(trx)
	if err != nil {
		return err
	}
	if id != trx.ID {
		return errors.Join(ErrIDMismatch, fmt.Errorf("expected [ %s ] but got [ %s ]", id, trx.ID))
	}
	raw, err := trx.Encode()
	if err != nil {
		return err
	}

	return s.bolt.Update(func(txn *bbolt.Tx) error {
		return txn.Bucket(transactionsBucket).Put([]byte(trx.ID), raw)
	})
}

// MarkCommitted records that the ledger committed the stored transaction.
func (s *Store) MarkCommitted(id string) error {
	return s.bolt.Update(func(txn *bbolt.Tx) error {
		if txn.Bucket(transactionsBucket).Get([]byte(id)) == nil {
			return errors.Join(ErrNotFound, fmt.Errorf("transaction [ %s ]", id))
		}
		at, err := time.Now().UTC().MarshalBinary()
		if err != nil {
			return err
		}
		return txn.Bucket(committedBucket).Put([]byte(id), at)
	})
}

// Read reads the transaction record by id.
func (s *Store) Read(id string) (Record, error) {
	var r Record
	err := s.bolt.View(func(txn *bbolt.Tx) error {
		raw := txn.Bucket(transactionsBucket).Get([]byte(id))
		if raw == nil {
			return errors.Join(ErrNotFound, fmt.Errorf("transaction [ %s ]", id))
		}
		trx, err := transaction.Decode(raw)
		if err != nil {
			return err
		}
		r.Transaction = trx
		r.Committed = txn.Bucket(committedBucket).Get([]byte(id)) != nil
		return nil
	})
	return r, err
}

// List lists all stored records ordered by transaction id.
func (s *Store) List() ([]Record, error) {
	var records []Record
	err := s.bolt.View(func(txn *bbolt.Tx) error {
		committed := txn.Bucket(committedBucket)
		return txn.Bucket(transactionsBucket).ForEach(func(k, v []byte) error {
			trx, err := transaction.Decode(v)
			if err != nil {
				return fmt.Errorf("transaction [ %s ]: %w", k, err)
			}
			records = append(records, Record{Transaction: trx, Committed: committed.Get(k) != nil})
			return nil
		})
	})
	return records, err
}

// Resolve resolves the condition of the committed transaction output.
func (s *Store) Resolve(transactionID string, outputIndex int) (condition.Condition, error) {
	r, err := s.Read(transactionID)
	if err != nil {
		return condition.Condition{}, err
	}
	if !r.Committed {
		return condition.Condition{}, errors.Join(ErrNotFound, fmt.Errorf("transaction [ %s ] is not committed", transactionID))
	}
	return r.Transaction.Output(outputIndex)
}
