package devnode

import (
	"errors"
	"fmt"

	"github.com/bartossh/ledgerdriver/transaction"
	"github.com/gofiber/fiber/v2"
)

// RootResponse describes the node API.
type RootResponse struct {
	Software   string `json:"software"`
	APIVersion string `json:"api_version"`
	APIHeader  string `json:"api_header"`
	APIRoot    string `json:"api_root"`
}

func (n *Node) root(c *fiber.Ctx) error {
	return c.JSON(RootResponse{
		Software:   "ledgerdriver-devnode",
		APIVersion: ApiVersion,
		APIHeader:  Header,
		APIRoot:    n.prefix,
	})
}

// StatusResponse is a response for transaction status.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is a response for rejected request.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (n *Node) submit(c *fiber.Ctx) error {
	trx, err := transaction.Decode(c.Body())
	if err != nil {
		n.warn(fmt.Sprintf("malformed transaction rejected: %s", err))
		return n.reject(c, err)
	}
	if err := n.Accept(trx); err != nil {
		n.warn(fmt.Sprintf("transaction [ %s ] rejected: %s", trx.ID, err))
		if errors.Is(err, ErrDuplicate) {
			c.Status(fiber.StatusConflict)
			return c.JSON(ErrorResponse{Status: fiber.StatusConflict, Message: err.Error()})
		}
		return n.reject(c, err)
	}

	c.Status(fiber.StatusAccepted)
	return c.JSON(trx)
}

func (n *Node) readTransaction(c *fiber.Ctx) error {
	trx, ok := n.Committed(c.Params("id"))
	if !ok {
		return fiber.ErrNotFound
	}
	return c.JSON(trx)
}

func (n *Node) transactionStatus(c *fiber.Ctx) error {
	s, ok := n.Status(c.Params("id"))
	if !ok {
		return fiber.ErrNotFound
	}
	return c.JSON(StatusResponse{Status: s})
}

func (n *Node) reject(c *fiber.Ctx, err error) error {
	c.Status(fiber.StatusBadRequest)
	return c.JSON(ErrorResponse{Status: fiber.StatusBadRequest, Message: err.Error()})
}

func (n *Node) warn(msg string) {
	if n.log != nil {
		n.log.Warn(msg)
	}
}
