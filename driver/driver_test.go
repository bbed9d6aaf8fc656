package driver_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bartossh/ledgerdriver/devnode"
	"github.com/bartossh/ledgerdriver/driver"
	"github.com/bartossh/ledgerdriver/keypair"
	"github.com/bartossh/ledgerdriver/logging"
	"github.com/bartossh/ledgerdriver/stdoutwriter"
	"github.com/bartossh/ledgerdriver/telemetry"
	"github.com/bartossh/ledgerdriver/transaction"
)

func runNode(t *testing.T, delay time.Duration) string {
	url, _ := startNode(t, delay)
	return url
}

func startNode(t *testing.T, delay time.Duration) (string, *devnode.Node) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)

	n := devnode.New(devnode.Config{CommitDelay: delay}, nil)
	go n.Listen(ln)
	t.Cleanup(func() { n.Shutdown() })

	return fmt.Sprintf("http://%s%s", ln.Addr().String(), devnode.DefaultPrefix), n
}

func newDriver(t *testing.T, nodes ...string) (*driver.Driver, keypair.KeyPair) {
	k, err := keypair.Generate()
	assert.Nil(t, err)
	log := logging.New(nil, nil, stdoutwriter.New(io.Discard))
	d := driver.New(driver.Config{
		Nodes:           nodes,
		PollInterval:    10 * time.Millisecond,
		MaxPollInterval: 50 * time.Millisecond,
	}, &k, log, telemetry.New())
	return d, k
}

func commit(t *testing.T, d *driver.Driver, trx transaction.Transaction) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := d.Transactions.WaitForStatus(ctx, trx.ID)
	assert.Nil(t, err)
	assert.Equal(t, driver.StatusValid, status)
}

func TestDefaultNode(t *testing.T) {
	d := driver.New(driver.Config{}, nil, nil, nil)
	assert.Equal(t, []string{driver.DefaultNode}, d.Nodes())
	assert.Empty(t, d.VerifyingKey())
	assert.Empty(t, d.SigningKey())
	assert.NotNil(t, d.Transactions)

	d = driver.New(driver.Config{Nodes: []string{" http://node:9984/api/v1/ ", ""}}, nil, nil, nil)
	assert.Equal(t, []string{"http://node:9984/api/v1"}, d.Nodes())
}

func TestNewTemp(t *testing.T) {
	d, err := driver.NewTemp(driver.Config{}, nil, nil)
	assert.Nil(t, err)
	vk, err := keypair.VerifyingKeyOf(d.SigningKey())
	assert.Nil(t, err)
	assert.Equal(t, d.VerifyingKey(), vk)
}

func TestCreateRetrieve(t *testing.T) {
	node := runNode(t, 0)
	d, k := newDriver(t, node)
	ctx := context.Background()

	trx, err := d.Transactions.Create(ctx, driver.CreateParams{Data: transaction.Data{"msg": "Hello Ledger!"}})
	assert.Nil(t, err)
	assert.Equal(t, transaction.OperationCreate, trx.Body.Operation)
	assert.Equal(t, []string{k.VerifyingKey()}, trx.Body.Conditions[0].OwnersAfter)
	assert.True(t, trx.Signed())

	commit(t, d, trx)

	got, err := d.Transactions.Retrieve(ctx, trx.ID)
	assert.Nil(t, err)
	assert.Equal(t, trx.ID, got.ID)
	assert.Equal(t, trx.Body.Conditions, got.Body.Conditions)
	assert.Equal(t, "Hello Ledger!", got.Body.Data["msg"])
	assert.Equal(t, 1, d.Cache().Len())
}

func TestCreateOverrideKeys(t *testing.T) {
	node := runNode(t, 0)
	d, _ := newDriver(t, node)
	other, err := keypair.Generate()
	assert.Nil(t, err)

	trx, err := d.Transactions.Create(context.Background(), driver.CreateParams{
		VerifyingKey: other.VerifyingKey(),
		SigningKey:   other.SigningKey(),
	})
	assert.Nil(t, err)
	assert.Equal(t, []string{other.VerifyingKey()}, trx.Body.Fulfillments[0].OwnersBefore)
}

func TestCreateMissingKeys(t *testing.T) {
	d := driver.New(driver.Config{Nodes: []string{"http://127.0.0.1:1"}}, nil, nil, nil)
	ctx := context.Background()

	_, err := d.Transactions.Create(ctx, driver.CreateParams{})
	assert.ErrorIs(t, err, driver.ErrInvalidSigningKey)

	k, err := keypair.Generate()
	assert.Nil(t, err)
	_, err = d.Transactions.Create(ctx, driver.CreateParams{SigningKey: k.SigningKey()})
	assert.ErrorIs(t, err, driver.ErrInvalidVerifyingKey)

	_, err = d.Transactions.Transfer(ctx, transaction.Transaction{}, driver.TransferParams{OwnersAfter: []string{k.VerifyingKey()}})
	assert.ErrorIs(t, err, driver.ErrInvalidSigningKey)
}

func TestCreateKeyMismatch(t *testing.T) {
	d := driver.New(driver.Config{Nodes: []string{"http://127.0.0.1:1"}}, nil, nil, nil)
	a, err := keypair.Generate()
	assert.Nil(t, err)
	b, err := keypair.Generate()
	assert.Nil(t, err)

	_, err = d.Transactions.Create(context.Background(), driver.CreateParams{
		VerifyingKey: a.VerifyingKey(),
		SigningKey:   b.SigningKey(),
	})
	assert.ErrorIs(t, err, driver.ErrKeyMismatch)
}

func TestTransferChain(t *testing.T) {
	node := runNode(t, 20*time.Millisecond)
	d, alice := newDriver(t, node)
	bob, err := keypair.Generate()
	assert.Nil(t, err)
	ctx := context.Background()

	created, err := d.Transactions.Create(ctx, driver.CreateParams{Data: transaction.Data{"asset": "bicycle"}})
	assert.Nil(t, err)
	commit(t, d, created)

	toBob, err := d.Transactions.Transfer(ctx, created, driver.TransferParams{OwnersAfter: []string{bob.VerifyingKey()}})
	assert.Nil(t, err)
	assert.Equal(t, transaction.OperationTransfer, toBob.Body.Operation)
	assert.Equal(t, created.ID, toBob.Body.Fulfillments[0].Input.TransactionID)
	assert.Equal(t, []string{alice.VerifyingKey()}, toBob.Body.Fulfillments[0].OwnersBefore)
	commit(t, d, toBob)

	back, err := d.Transactions.Transfer(ctx, toBob, driver.TransferParams{
		OwnersAfter: []string{alice.VerifyingKey()},
		SigningKey:  bob.SigningKey(),
	})
	assert.Nil(t, err)
	commit(t, d, back)

	assert.True(t, d.Transactions.Verify(ctx, toBob))
	assert.True(t, d.Transactions.Verify(ctx, back))
}

func TestTransferNotOwned(t *testing.T) {
	node := runNode(t, 0)
	d, _ := newDriver(t, node)
	mallory, err := keypair.Generate()
	assert.Nil(t, err)
	ctx := context.Background()

	created, err := d.Transactions.Create(ctx, driver.CreateParams{Data: transaction.Data{"asset": "car"}})
	assert.Nil(t, err)
	commit(t, d, created)

	_, err = d.Transactions.Transfer(ctx, created, driver.TransferParams{
		OwnersAfter: []string{mallory.VerifyingKey()},
		SigningKey:  mallory.SigningKey(),
	})
	assert.ErrorIs(t, err, driver.ErrKeyMismatch)
}

func TestTransferBeforeCommitIsRejected(t *testing.T) {
	node := runNode(t, time.Hour)
	d, _ := newDriver(t, node)
	bob, err := keypair.Generate()
	assert.Nil(t, err)
	ctx := context.Background()

	created, err := d.Transactions.Create(ctx, driver.CreateParams{Data: transaction.Data{"asset": "boat"}})
	assert.Nil(t, err)

	status, err := d.Transactions.Status(ctx, created.ID)
	assert.Nil(t, err)
	assert.Equal(t, driver.StatusBacklog, status)

	_, err = d.Transactions.Retrieve(ctx, created.ID)
	assert.ErrorIs(t, err, driver.ErrNotFound)

	_, err = d.Transactions.Transfer(ctx, created, driver.TransferParams{OwnersAfter: []string{bob.VerifyingKey()}})
	assert.ErrorIs(t, err, driver.ErrRejectedByNode)
}

func TestDoubleSpendIsRejected(t *testing.T) {
	node := runNode(t, 0)
	d, _ := newDriver(t, node)
	bob, err := keypair.Generate()
	assert.Nil(t, err)
	carol, err := keypair.Generate()
	assert.Nil(t, err)
	ctx := context.Background()

	created, err := d.Transactions.Create(ctx, driver.CreateParams{Data: transaction.Data{"asset": "house"}})
	assert.Nil(t, err)
	commit(t, d, created)

	_, err = d.Transactions.Transfer(ctx, created, driver.TransferParams{OwnersAfter: []string{bob.VerifyingKey()}})
	assert.Nil(t, err)
	_, err = d.Transactions.Transfer(ctx, created, driver.TransferParams{OwnersAfter: []string{carol.VerifyingKey()}})
	assert.ErrorIs(t, err, driver.ErrRejectedByNode)
}

func TestRetrieveNotFound(t *testing.T) {
	node := runNode(t, 0)
	d, _ := newDriver(t, node)
	ctx := context.Background()

	_, err := d.Transactions.Retrieve(ctx, "b3c4dd1e5d2a3bd4ae3b36d8f1a2b4c7a3de8d3c6b22c28e6f8ab1ab4cf1e9c1")
	assert.ErrorIs(t, err, driver.ErrNotFound)

	_, err = d.Transactions.Status(ctx, "unknown")
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestWaitForStatusTimeout(t *testing.T) {
	node := runNode(t, 0)
	d, _ := newDriver(t, node)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := d.Transactions.WaitForStatus(ctx, "unknown")
	assert.ErrorIs(t, err, driver.ErrTimeout)
}

func TestNodeFailover(t *testing.T) {
	node := runNode(t, 0)
	d, _ := newDriver(t, "http://127.0.0.1:1/api/v1", node)

	trx, err := d.Transactions.Create(context.Background(), driver.CreateParams{Data: transaction.Data{"asset": "plane"}})
	assert.Nil(t, err)
	commit(t, d, trx)
}

func TestCommit(t *testing.T) {
	node := runNode(t, 10*time.Millisecond)
	d, k := newDriver(t, node)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	trx, err := transaction.Create(k.VerifyingKey(), transaction.Data{"asset": "train"})
	assert.Nil(t, err)
	_, err = d.Transactions.Commit(ctx, trx)
	assert.ErrorIs(t, err, driver.ErrInvalidFulfillments)

	signed, err := transaction.Sign(trx, []string{k.SigningKey()})
	assert.Nil(t, err)
	committed, err := d.Transactions.Commit(ctx, signed)
	assert.Nil(t, err)
	assert.Equal(t, signed.ID, committed.ID)

	cached, err := d.Cache().Read(signed.ID)
	assert.Nil(t, err)
	assert.Equal(t, signed.ID, cached.ID)
}

// backlogNode serves trx on GET but reports the status stored in status.
func backlogNode(t *testing.T, trx transaction.Transaction, status *atomic.Value) string {
	raw, err := trx.Encode()
	assert.Nil(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case devnode.DefaultPrefix + "/transactions/" + trx.ID:
			w.Write(raw)
		case devnode.DefaultPrefix + "/transactions/" + trx.ID + "/status":
			fmt.Fprintf(w, `{"status":%q}`, status.Load().(string))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL + devnode.DefaultPrefix
}

func TestBacklogTransactionIsNotSpendable(t *testing.T) {
	alice, err := keypair.Generate()
	assert.Nil(t, err)
	bob, err := keypair.Generate()
	assert.Nil(t, err)
	created, err := transaction.Create(alice.VerifyingKey(), transaction.Data{"asset": "bicycle"})
	assert.Nil(t, err)
	created, err = transaction.Sign(created, []string{alice.SigningKey()})
	assert.Nil(t, err)

	var status atomic.Value
	status.Store("backlog")
	d := driver.New(driver.Config{Nodes: []string{backlogNode(t, created, &status)}}, &alice, nil, nil)
	ctx := context.Background()

	got, err := d.Transactions.Retrieve(ctx, created.ID)
	assert.Nil(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 0, d.Cache().Len())

	_, err = d.Transactions.Committed(ctx, created.ID)
	assert.ErrorIs(t, err, driver.ErrNotCommitted)
	_, err = d.Transactions.Resolver(ctx)(created.ID, 0)
	assert.ErrorIs(t, err, driver.ErrNotCommitted)
	assert.Equal(t, 0, d.Cache().Len())

	spend, err := transaction.Transfer(transaction.ToInputs(created), []string{bob.VerifyingKey()}, nil)
	assert.Nil(t, err)
	spend, err = transaction.Sign(spend, []string{alice.SigningKey()})
	assert.Nil(t, err)
	assert.False(t, d.Transactions.Verify(ctx, spend))

	status.Store("valid")
	committed, err := d.Transactions.Committed(ctx, created.ID)
	assert.Nil(t, err)
	assert.Equal(t, created.ID, committed.ID)
	assert.Equal(t, 1, d.Cache().Len())
	assert.True(t, d.Transactions.Verify(ctx, spend))
}

func TestSubmitAcceptedByUnresponsiveNode(t *testing.T) {
	nodeURL, n := startNode(t, 0)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/transactions/") {
			raw, err := io.ReadAll(r.Body)
			if err == nil {
				if trx, err := transaction.Decode(raw); err == nil {
					n.Accept(trx)
				}
			}
		}
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(slow.Close)

	k, err := keypair.Generate()
	assert.Nil(t, err)
	d := driver.New(driver.Config{
		Nodes:           []string{slow.URL + devnode.DefaultPrefix, nodeURL},
		Timeout:         100 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		MaxPollInterval: 50 * time.Millisecond,
	}, &k, nil, nil)

	trx, err := d.Transactions.Create(context.Background(), driver.CreateParams{Data: transaction.Data{"asset": "glider"}})
	assert.Nil(t, err)
	_, ok := n.Committed(trx.ID)
	assert.True(t, ok)
	commit(t, d, trx)
}

func TestSubmitConflictWithoutFailoverIsRejected(t *testing.T) {
	d, _ := newDriver(t, runNode(t, 0))
	trx, err := d.Transactions.Create(context.Background(), driver.CreateParams{Data: transaction.Data{"asset": "kite"}})
	assert.Nil(t, err)

	_, err = d.Transactions.Submit(context.Background(), trx)
	assert.ErrorIs(t, err, driver.ErrRejectedByNode)
}
