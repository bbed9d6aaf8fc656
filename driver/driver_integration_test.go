//go:build integration

// Requires the ledger node listening on driver.DefaultNode or on LEDGERDRIVER_NODE.
// Run with: `go test -v ./driver/... -tags integration`

package driver_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"

	"github.com/bartossh/ledgerdriver/driver"
	"github.com/bartossh/ledgerdriver/keypair"
	"github.com/bartossh/ledgerdriver/transaction"
)

func liveDriver(t *testing.T) (*driver.Driver, keypair.KeyPair) {
	godotenv.Load("../.env")
	node := os.Getenv("LEDGERDRIVER_NODE")
	if node == "" {
		node = driver.DefaultNode
	}
	k, err := keypair.Generate()
	assert.Nil(t, err)
	return driver.New(driver.Config{Nodes: []string{node}}, &k, nil, nil), k
}

func TestLiveCreateTransferCycle(t *testing.T) {
	d, _ := liveDriver(t)
	bob, err := keypair.Generate()
	assert.Nil(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	created, err := d.Transactions.Create(ctx, driver.CreateParams{})
	assert.Nil(t, err)
	assert.Nil(t, created.Body.Data)
	status, err := d.Transactions.WaitForStatus(ctx, created.ID)
	assert.Nil(t, err)
	assert.Equal(t, driver.StatusValid, status)

	got, err := d.Transactions.Retrieve(ctx, created.ID)
	assert.Nil(t, err)
	assert.Equal(t, created.ID, got.ID)

	moved, err := d.Transactions.Transfer(ctx, got, driver.TransferParams{OwnersAfter: []string{bob.VerifyingKey()}})
	assert.Nil(t, err)
	status, err = d.Transactions.WaitForStatus(ctx, moved.ID)
	assert.Nil(t, err)
	assert.Equal(t, driver.StatusValid, status)

	_, err = d.Transactions.Retrieve(ctx, "dummy_id")
	assert.ErrorIs(t, err, driver.ErrNotFound)
	_, err = d.Transactions.Status(ctx, "dummy_id")
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestLiveConcurrentCreates(t *testing.T) {
	d, _ := liveDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trx, err := d.Transactions.Create(ctx, driver.CreateParams{Data: transaction.Data{"n": i}})
			assert.Nil(t, err)
			status, err := d.Transactions.WaitForStatus(ctx, trx.ID)
			assert.Nil(t, err)
			assert.Equal(t, driver.StatusValid, status)
		}(i)
	}
	wg.Wait()
}
