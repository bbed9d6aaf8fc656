package devnode

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bartossh/ledgerdriver/keypair"
	"github.com/bartossh/ledgerdriver/transaction"
)

func signedCreate(t *testing.T, k keypair.KeyPair, data transaction.Data) transaction.Transaction {
	trx, err := transaction.Create(k.VerifyingKey(), data)
	assert.Nil(t, err)
	trx, err = transaction.Sign(trx, []string{k.SigningKey()})
	assert.Nil(t, err)
	return trx
}

func signedTransfer(t *testing.T, prior transaction.Transaction, from, to keypair.KeyPair) transaction.Transaction {
	trx, err := transaction.Transfer(transaction.ToInputs(prior), []string{to.VerifyingKey()}, nil)
	assert.Nil(t, err)
	trx, err = transaction.Sign(trx, []string{from.SigningKey()})
	assert.Nil(t, err)
	return trx
}

func mustKeyPair(t *testing.T) keypair.KeyPair {
	k, err := keypair.Generate()
	assert.Nil(t, err)
	return k
}

func TestAcceptCommitsImmediately(t *testing.T) {
	n := New(Config{}, nil)
	alice := mustKeyPair(t)
	trx := signedCreate(t, alice, transaction.Data{"n": 1})

	assert.Nil(t, n.Accept(trx))
	s, ok := n.Status(trx.ID)
	assert.True(t, ok)
	assert.Equal(t, statusValid, s)
	_, ok = n.Committed(trx.ID)
	assert.True(t, ok)

	assert.ErrorIs(t, n.Accept(trx), ErrDuplicate)
}

func TestAcceptCommitsAfterDelay(t *testing.T) {
	n := New(Config{CommitDelay: 20 * time.Millisecond}, nil)
	defer n.Shutdown()
	alice := mustKeyPair(t)
	trx := signedCreate(t, alice, nil)

	assert.Nil(t, n.Accept(trx))
	s, _ := n.Status(trx.ID)
	assert.Equal(t, statusBacklog, s)
	_, ok := n.Committed(trx.ID)
	assert.False(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := n.Committed(trx.ID)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeCommits(t *testing.T) {
	n := New(Config{CommitDelay: 10 * time.Millisecond}, nil)
	defer n.Shutdown()
	sub := n.Subscribe()
	defer sub.Cancel()

	alice := mustKeyPair(t)
	trx := signedCreate(t, alice, transaction.Data{"asset": "scooter"})
	assert.Nil(t, n.Accept(trx))

	select {
	case committed := <-sub.Channel():
		assert.Equal(t, trx.ID, committed.ID)
	case <-time.After(time.Second):
		t.Fatal("commit not published")
	}
}

func TestAcceptRejects(t *testing.T) {
	n := New(Config{}, nil)
	alice := mustKeyPair(t)
	bob := mustKeyPair(t)

	unsigned, err := transaction.Create(alice.VerifyingKey(), nil)
	assert.Nil(t, err)
	assert.ErrorIs(t, n.Accept(unsigned), ErrInvalid)

	created := signedCreate(t, alice, transaction.Data{"asset": "bike"})
	pending := signedTransfer(t, created, alice, bob)
	assert.ErrorIs(t, n.Accept(pending), ErrInvalid)

	assert.Nil(t, n.Accept(created))
	assert.Nil(t, n.Accept(pending))

	again := signedTransfer(t, created, alice, alice)
	assert.ErrorIs(t, n.Accept(again), ErrDoubleSpend)
}

func TestRoutes(t *testing.T) {
	n := New(Config{}, nil)
	alice := mustKeyPair(t)
	trx := signedCreate(t, alice, transaction.Data{"asset": "kite"})
	raw, err := trx.Encode()
	assert.Nil(t, err)

	req := httptest.NewRequest("POST", DefaultPrefix+transactionsURL, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.app.Test(req)
	assert.Nil(t, err)
	assert.Equal(t, 202, resp.StatusCode)

	resp, err = n.app.Test(httptest.NewRequest("POST", DefaultPrefix+transactionsURL, bytes.NewReader(raw)))
	assert.Nil(t, err)
	assert.Equal(t, 409, resp.StatusCode)

	resp, err = n.app.Test(httptest.NewRequest("POST", DefaultPrefix+transactionsURL, bytes.NewReader([]byte(`{"id":"x"}`))))
	assert.Nil(t, err)
	assert.Equal(t, 400, resp.StatusCode)

	resp, err = n.app.Test(httptest.NewRequest("GET", DefaultPrefix+"/transactions/"+trx.ID, nil))
	assert.Nil(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.Nil(t, err)
	got, err := transaction.Decode(body)
	assert.Nil(t, err)
	assert.Equal(t, trx.ID, got.ID)

	resp, err = n.app.Test(httptest.NewRequest("GET", DefaultPrefix+"/transactions/"+trx.ID+"/status", nil))
	assert.Nil(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	var status StatusResponse
	assert.Nil(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, statusValid, status.Status)

	resp, err = n.app.Test(httptest.NewRequest("GET", DefaultPrefix+"/transactions/unknown", nil))
	assert.Nil(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	resp, err = n.app.Test(httptest.NewRequest("GET", DefaultPrefix+"/transactions/unknown/status", nil))
	assert.Nil(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	resp, err = n.app.Test(httptest.NewRequest("GET", "/", nil))
	assert.Nil(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	var root RootResponse
	assert.Nil(t, json.NewDecoder(resp.Body).Decode(&root))
	assert.Equal(t, DefaultPrefix, root.APIRoot)
}

func TestRunWrongPort(t *testing.T) {
	assert.ErrorIs(t, Run(context.Background(), Config{Port: 70000}, nil), ErrWrongPortSpecified)
}
