// Package driver talks to the ledger nodes over HTTP. It builds and signs transactions with the
// core transaction package, submits them and polls their status until the ledger commits them.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bartossh/ledgerdriver/httpclient"
	"github.com/bartossh/ledgerdriver/keypair"
	"github.com/bartossh/ledgerdriver/localcache"
	"github.com/bartossh/ledgerdriver/logger"
	"github.com/bartossh/ledgerdriver/transaction"
)

// DefaultNode is used when no node is configured.
const DefaultNode = "http://localhost:9984/api/v1"

const (
	defaultTimeout         = 5 * time.Second
	defaultPollInterval    = 250 * time.Millisecond
	defaultMaxPollInterval = 5 * time.Second
)

const (
	metricSubmitted  = "ledgerdriver_submitted_transactions_total"
	metricRejected   = "ledgerdriver_rejected_transactions_total"
	metricCommitWait = "ledgerdriver_commit_wait_time"
)

// Errors returned by the driver. Core errors are re-exported so the caller has one taxonomy.
var (
	ErrNotFound                 = httpclient.ErrNotFound
	ErrInvalidSigningKey        = transaction.ErrInvalidSigningKey
	ErrInvalidVerifyingKey      = transaction.ErrInvalidVerifyingKey
	ErrEmptyInputs              = transaction.ErrEmptyInputs
	ErrKeyMismatch              = transaction.ErrKeyMismatch
	ErrOwnerMismatch            = transaction.ErrOwnerMismatch
	ErrUnsupportedConditionType = transaction.ErrUnsupportedConditionType
	ErrTimeout                  = errors.New("timeout waiting for terminal transaction status")
	ErrRejectedByNode           = errors.New("rejected by node")
	ErrInconsistentData         = errors.New("node returns inconsistent data")
	ErrInvalidFulfillments      = errors.New("transaction fulfillments are not valid")
	ErrNotCommitted             = errors.New("transaction is not committed")
)

// Measurer records driver metrics.
type Measurer interface {
	CreateUpdateObservableHistogram(name, description string)
	CreateUpdateObservableCounter(name, description string)
	RecordHistogramTime(name string, t time.Duration) bool
	IncrementCounter(name string) bool
}

// Config contains configuration of the driver.
type Config struct {
	Nodes           []string          `yaml:"nodes"`             // Node API roots, tried in order.
	Timeout         time.Duration     `yaml:"timeout"`           // Single request timeout.
	PollInterval    time.Duration     `yaml:"poll_interval"`     // First status poll interval.
	MaxPollInterval time.Duration     `yaml:"max_poll_interval"` // Poll interval backoff cap.
	Cache           localcache.Config `yaml:"cache"`
}

// Driver is the ledger client. Keys given on creation are defaults for each call and may be nil.
type Driver struct {
	nodes           []string
	keys            *keypair.KeyPair
	timeout         time.Duration
	pollInterval    time.Duration
	maxPollInterval time.Duration
	log             logger.Logger
	metrics         Measurer
	cache           *localcache.TransactionCache

	Transactions *TransactionsEndpoint
}

// New creates a new Driver.
func New(cfg Config, keys *keypair.KeyPair, log logger.Logger, metrics Measurer) *Driver {
	nodes := make([]string, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if n = strings.TrimRight(strings.TrimSpace(n), "/"); n != "" {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		nodes = append(nodes, DefaultNode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = defaultMaxPollInterval
		if cfg.MaxPollInterval < cfg.PollInterval {
			cfg.MaxPollInterval = cfg.PollInterval
		}
	}
	if metrics != nil {
		metrics.CreateUpdateObservableCounter(metricSubmitted, "The total number of transactions submitted to the ledger.")
		metrics.CreateUpdateObservableCounter(metricRejected, "The total number of transactions rejected by the ledger.")
		metrics.CreateUpdateObservableHistogram(metricCommitWait, "Time in microseconds until transaction status is terminal.")
	}

	d := &Driver{
		nodes:           nodes,
		keys:            keys,
		timeout:         cfg.Timeout,
		pollInterval:    cfg.PollInterval,
		maxPollInterval: cfg.MaxPollInterval,
		log:             log,
		metrics:         metrics,
		cache:           localcache.NewTransactionCache(cfg.Cache),
	}
	d.Transactions = &TransactionsEndpoint{d: d}
	return d
}

// NewTemp creates a new Driver with a freshly generated keypair.
func NewTemp(cfg Config, log logger.Logger, metrics Measurer) (*Driver, error) {
	keys, err := keypair.Generate()
	if err != nil {
		return nil, err
	}
	return New(cfg, &keys, log, metrics), nil
}

// Nodes returns node API roots the driver talks to.
func (d *Driver) Nodes() []string {
	return append([]string(nil), d.nodes...)
}

// VerifyingKey returns default verifying key or empty string if driver has no keys.
func (d *Driver) VerifyingKey() string {
	if d.keys == nil {
		return ""
	}
	return d.keys.VerifyingKey()
}

// SigningKey returns default signing key or empty string if driver has no keys.
func (d *Driver) SigningKey() string {
	if d.keys == nil {
		return ""
	}
	return d.keys.SigningKey()
}

// Cache returns cache of transactions known to be committed.
func (d *Driver) Cache() *localcache.TransactionCache {
	return d.cache
}

// each calls fn for consecutive nodes until the request reaches a node.
func (d *Driver) each(ctx context.Context, fn func(node string, timeout time.Duration) error) error {
	var err error
	for _, node := range d.nodes {
		timeout, errx := d.requestTimeout(ctx)
		if errx != nil {
			return errors.Join(err, errx)
		}
		err = fn(node, timeout)
		if !errors.Is(err, httpclient.ErrRequestFailed) {
			return err
		}
		d.warn(fmt.Sprintf("node [ %s ] unreachable: %s", node, err))
	}
	return err
}

func (d *Driver) requestTimeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return 0, context.DeadlineExceeded
	}
	return timeout, nil
}

func (d *Driver) debug(msg string) {
	if d.log != nil {
		d.log.Debug(msg)
	}
}

func (d *Driver) info(msg string) {
	if d.log != nil {
		d.log.Info(msg)
	}
}

func (d *Driver) warn(msg string) {
	if d.log != nil {
		d.log.Warn(msg)
	}
}

func (d *Driver) count(name string) {
	if d.metrics != nil {
		d.metrics.IncrementCounter(name)
	}
}

func (d *Driver) observe(name string, t time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordHistogramTime(name, t)
	}
}
