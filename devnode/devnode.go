// Package devnode is an in-memory development ledger node exposing the ledger HTTP API.
// It validates submitted transactions, rejects double spends and commits accepted transactions
// after a configurable delay. It is not a ledger: nothing is persisted and there is no consensus.
package devnode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bartossh/ledgerdriver/condition"
	"github.com/bartossh/ledgerdriver/logger"
	"github.com/bartossh/ledgerdriver/reactive"
	"github.com/bartossh/ledgerdriver/transaction"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Ledgerdriver-Devnode"
)

const (
	DefaultPrefix = "/api/v1"
	defaultPort   = 9984
)

const (
	transactionsURL = "/transactions/"
	transactionURL  = "/transactions/:id"
	statusURL       = "/transactions/:id/status"
)

const subscriptionBuffer = 64

const (
	statusBacklog = "backlog"
	statusValid   = "valid"
)

var (
	ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")
	ErrDoubleSpend        = errors.New("output already spent")
	ErrDuplicate          = errors.New("transaction already submitted")
	ErrInvalid            = errors.New("transaction is not valid")
)

// Config contains configuration of the development node.
type Config struct {
	Port        int           `yaml:"port"`         // Port to listen on.
	Prefix      string        `yaml:"prefix"`       // API root path.
	CommitDelay time.Duration `yaml:"commit_delay"` // Time a transaction stays in backlog before commit.
}

// Node is the development ledger node.
type Node struct {
	mux       sync.RWMutex
	committed map[string]transaction.Transaction
	pending   map[string]transaction.Transaction
	status    map[string]string
	spent     map[transaction.Link]string
	timers    map[string]*time.Timer
	closed    bool
	commits   *reactive.Observable[transaction.Transaction]

	delay  time.Duration
	prefix string
	log    logger.Logger
	app    *fiber.App
}

// New creates a new Node with routing set up.
func New(c Config, log logger.Logger) *Node {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	n := &Node{
		committed: make(map[string]transaction.Transaction),
		pending:   make(map[string]transaction.Transaction),
		status:    make(map[string]string),
		spent:     make(map[transaction.Link]string),
		timers:    make(map[string]*time.Timer),
		commits:   reactive.New[transaction.Transaction](subscriptionBuffer),
		delay:     c.CommitDelay,
		prefix:    c.Prefix,
		log:       log,
	}

	router := fiber.New(fiber.Config{
		Prefork:               false,
		CaseSensitive:         true,
		StrictRouting:         true,
		ReadTimeout:           time.Second * 5,
		WriteTimeout:          time.Second * 5,
		ServerHeader:          Header,
		AppName:               ApiVersion,
		DisableStartupMessage: true,
	})
	router.Use(recover.New())

	router.Get("/", n.root)
	api := router.Group(c.Prefix)
	api.Get("/", n.root)
	api.Post(transactionsURL, n.submit)
	api.Get(statusURL, n.transactionStatus)
	api.Get(transactionURL, n.readTransaction)

	n.app = router
	return n
}

// Listen serves the node API on the given listener. It blocks until Shutdown is called.
func (n *Node) Listen(ln net.Listener) error {
	return n.app.Listener(ln)
}

// Shutdown stops the server and drops not yet committed transactions.
func (n *Node) Shutdown() error {
	n.mux.Lock()
	n.closed = true
	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
	n.mux.Unlock()

	return n.app.Shutdown()
}

// Run runs the node on the configured port. To stop the node cancel the context.
// It blocks until the context is canceled.
func Run(ctx context.Context, c Config, log logger.Logger) error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return ErrWrongPortSpecified
	}

	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%v", c.Port))
	if err != nil {
		return err
	}

	n := New(c, log)
	go func() {
		if err := n.Listen(ln); err != nil {
			log.Error(fmt.Sprintf("devnode listener failed: %s", err))
			cancel()
		}
	}()
	log.Info(fmt.Sprintf("devnode listens on port [ %v ] with api root [ %s ]", c.Port, n.prefix))

	<-ctxx.Done()

	return n.Shutdown()
}

// Accept validates the transaction and puts it in the backlog.
// The transaction is committed when the commit delay passes.
func (n *Node) Accept(trx transaction.Transaction) error {
	n.mux.Lock()
	defer n.mux.Unlock()

	if _, ok := n.status[trx.ID]; ok {
		return errors.Join(ErrDuplicate, fmt.Errorf("transaction [ %s ]", trx.ID))
	}
	if !transaction.FulfillmentsValid(trx, n.resolve) {
		return errors.Join(ErrInvalid, fmt.Errorf("transaction [ %s ]", trx.ID))
	}
	for _, f := range trx.Body.Fulfillments {
		if f.Input == nil {
			continue
		}
		if by, ok := n.spent[*f.Input]; ok {
			return errors.Join(
				ErrDoubleSpend,
				fmt.Errorf("output %d of [ %s ] spent by [ %s ]", f.Input.OutputIndex, f.Input.TransactionID, by))
		}
	}
	for _, f := range trx.Body.Fulfillments {
		if f.Input != nil {
			n.spent[*f.Input] = trx.ID
		}
	}

	if n.delay <= 0 {
		n.commitLocked(trx)
		return nil
	}

	n.pending[trx.ID] = trx
	n.status[trx.ID] = statusBacklog
	n.timers[trx.ID] = time.AfterFunc(n.delay, func() { n.commit(trx.ID) })
	return nil
}

// Subscribe subscribes to transactions committed from now on.
// A slow subscriber misses commits once its buffer is full.
func (n *Node) Subscribe() *reactive.Subscription[transaction.Transaction] {
	return n.commits.Subscribe()
}

// Committed returns committed transaction.
func (n *Node) Committed(id string) (transaction.Transaction, bool) {
	n.mux.RLock()
	defer n.mux.RUnlock()
	trx, ok := n.committed[id]
	return trx, ok
}

// Status returns transaction status or false if transaction is unknown.
func (n *Node) Status(id string) (string, bool) {
	n.mux.RLock()
	defer n.mux.RUnlock()
	s, ok := n.status[id]
	return s, ok
}

func (n *Node) commit(id string) {
	n.mux.Lock()
	defer n.mux.Unlock()
	if n.closed {
		return
	}
	trx, ok := n.pending[id]
	if !ok {
		return
	}
	delete(n.pending, id)
	delete(n.timers, id)
	n.commitLocked(trx)
}

func (n *Node) commitLocked(trx transaction.Transaction) {
	n.committed[trx.ID] = trx
	n.status[trx.ID] = statusValid
	n.commits.Publish(trx)
	if n.log != nil {
		n.log.Info(fmt.Sprintf("transaction [ %s ] %s committed", trx.ID, trx.Body.Operation))
	}
}

// resolve resolves only committed outputs, transaction in backlog cannot be spent yet.
func (n *Node) resolve(transactionID string, outputIndex int) (condition.Condition, error) {
	trx, ok := n.committed[transactionID]
	if !ok {
		return condition.Condition{}, errors.Join(
			transaction.ErrUnknownTransaction,
			fmt.Errorf("transaction [ %s ] is not committed", transactionID))
	}
	return trx.Output(outputIndex)
}
