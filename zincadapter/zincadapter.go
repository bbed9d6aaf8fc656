// Package zincadapter ships log records to the zincsearch backend.
package zincadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/ledgerdriver/httpclient"
)

const (
	healthz        = "/healthz"
	createDocument = "/api/%s/_doc"
)

const timeout = time.Second * 5

var (
	ErrZincServerNotResponding = errors.New("zinc server not responding on given address")
	ErrZincServerWriteFailed   = errors.New("zinc server write failed")
	ErrNotJSON                 = errors.New("log record is not a JSON document")
)

// Config contains configuration for the logger back-end.
type Config struct {
	Address string `yaml:"address"` // Logger back-end server address.
	Index   string `yaml:"index"`   // Unique index per service to easy search for logs by the service.
}

// ZincClient provides a client that sends logs to the zincsearch backend.
type ZincClient struct {
	address  string
	document string
}

// New creates a new ZincClient checking the backend is alive.
func New(cfg Config) (ZincClient, error) {
	if err := httpclient.MakeGet(timeout, cfg.Address+healthz, nil); err != nil {
		return ZincClient{}, errors.Join(ErrZincServerNotResponding, err)
	}
	return ZincClient{
		address:  cfg.Address,
		document: cfg.Address + fmt.Sprintf(createDocument, cfg.Index),
	}, nil
}

// Write satisfies io.Writer abstraction. Each write is a single JSON log record stored as a document.
func (z *ZincClient) Write(p []byte) (n int, err error) {
	if !json.Valid(p) {
		return 0, ErrNotJSON
	}
	doc := make(json.RawMessage, len(p))
	copy(doc, p)
	if err := httpclient.MakePost(timeout, z.document, doc, nil); err != nil {
		return 0, errors.Join(ErrZincServerWriteFailed, err)
	}
	return len(p), nil
}
