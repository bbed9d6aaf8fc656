package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/ledgerdriver/driver"
	"github.com/bartossh/ledgerdriver/keypair"
	"github.com/bartossh/ledgerdriver/transaction"
	"github.com/bartossh/ledgerdriver/txstore"
)

const defaultWaitTimeout = time.Second * 30

type setupFunc func(ctx context.Context, withStore bool) (*env, context.Context, error)

var (
	idFlag = &cli.StringFlag{
		Name:     "id",
		Usage:    "Transaction `ID`",
		Required: true,
	}
	dataFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "Transaction payload as JSON `OBJECT`",
	}
	waitFlag = &cli.BoolFlag{
		Name:  "wait",
		Usage: "Wait until the ledger commits the transaction",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Time to wait for the terminal transaction status",
		Value: defaultWaitTimeout,
	}
)

func commands(setup setupFunc) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "keygen",
			Usage: "Creates new key pair, saves it to encrypted GOBINARY file and to PEM files if pem_path is configured.",
			Action: func(c *cli.Context) error {
				e, _, err := setup(c.Context, false)
				if err != nil {
					return err
				}
				defer e.close()
				return keygen(e)
			},
		},
		{
			Name:  "pem",
			Usage: "Reads PEM files and saves the key pair to encrypted GOBINARY file.",
			Action: func(c *cli.Context) error {
				e, _, err := setup(c.Context, false)
				if err != nil {
					return err
				}
				defer e.close()
				k, err := e.files.ImportPem()
				if err != nil {
					return err
				}
				if err := e.files.SaveKeyPair(&k); err != nil {
					return err
				}
				pterm.Success.Printfln("key pair [ %s ] imported", k.VerifyingKey())
				return nil
			},
		},
		{
			Name:  "create",
			Usage: "Creates new asset owned by your key.",
			Flags: []cli.Flag{dataFlag, waitFlag, timeoutFlag},
			Action: func(c *cli.Context) error {
				e, ctx, err := setup(c.Context, true)
				if err != nil {
					return err
				}
				defer e.close()
				data, err := parseData(c.String(dataFlag.Name))
				if err != nil {
					return err
				}
				d, err := e.driver()
				if err != nil {
					return err
				}
				trx, err := d.Transactions.Create(ctx, driver.CreateParams{Data: data})
				if err != nil {
					return err
				}
				return e.submitted(ctx, d, trx, c.Bool(waitFlag.Name), c.Duration(timeoutFlag.Name))
			},
		},
		{
			Name:  "transfer",
			Usage: "Transfers every output of the committed transaction owned by your key to new owners.",
			Flags: []cli.Flag{
				idFlag, dataFlag, waitFlag, timeoutFlag,
				&cli.StringSliceFlag{
					Name:     "to",
					Usage:    "Verifying `KEY` of the new owner, repeat for many owners",
					Required: true,
				},
			},
			Action: func(c *cli.Context) error {
				e, ctx, err := setup(c.Context, true)
				if err != nil {
					return err
				}
				defer e.close()
				data, err := parseData(c.String(dataFlag.Name))
				if err != nil {
					return err
				}
				d, err := e.driver()
				if err != nil {
					return err
				}
				prior, err := e.committed(ctx, d, c.String(idFlag.Name))
				if err != nil {
					return err
				}
				trx, err := d.Transactions.Transfer(ctx, prior, driver.TransferParams{
					OwnersAfter: c.StringSlice("to"),
					Data:        data,
				})
				if err != nil {
					return err
				}
				return e.submitted(ctx, d, trx, c.Bool(waitFlag.Name), c.Duration(timeoutFlag.Name))
			},
		},
		{
			Name:  "retrieve",
			Usage: "Retrieves committed transaction.",
			Flags: []cli.Flag{idFlag},
			Action: func(c *cli.Context) error {
				e, ctx, err := setup(c.Context, true)
				if err != nil {
					return err
				}
				defer e.close()
				d, err := e.driver()
				if err != nil {
					return err
				}
				trx, err := e.committed(ctx, d, c.String(idFlag.Name))
				if err != nil {
					return err
				}
				return printTransaction(trx)
			},
		},
		{
			Name:  "status",
			Usage: "Reads transaction status.",
			Flags: []cli.Flag{idFlag},
			Action: func(c *cli.Context) error {
				e, ctx, err := setup(c.Context, false)
				if err != nil {
					return err
				}
				defer e.close()
				d, err := e.driver()
				if err != nil {
					return err
				}
				status, err := d.Transactions.Status(ctx, c.String(idFlag.Name))
				if err != nil {
					return err
				}
				pterm.Info.Printfln("transaction [ %s ] status [ %s ]", c.String(idFlag.Name), status)
				return nil
			},
		},
		{
			Name:  "wait",
			Usage: "Waits until the transaction status is valid or invalid.",
			Flags: []cli.Flag{idFlag, timeoutFlag},
			Action: func(c *cli.Context) error {
				e, ctx, err := setup(c.Context, true)
				if err != nil {
					return err
				}
				defer e.close()
				d, err := e.driver()
				if err != nil {
					return err
				}
				return e.wait(ctx, d, c.String(idFlag.Name), c.Duration(timeoutFlag.Name))
			},
		},
		{
			Name:  "list",
			Usage: "Lists transactions in the local store.",
			Action: func(c *cli.Context) error {
				e, _, err := setup(c.Context, true)
				if err != nil {
					return err
				}
				defer e.close()
				return list(e.store)
			},
		},
	}
}

func keygen(e *env) error {
	k, err := keypair.Generate()
	if err != nil {
		return err
	}
	if err := e.files.SaveKeyPair(&k); err != nil {
		return err
	}
	if e.cfg.FileOperator.PemPath != "" {
		if err := e.files.ExportPem(&k); err != nil {
			return err
		}
	}
	pterm.Success.Printfln("verifying key [ %s ]", k.VerifyingKey())
	return nil
}

func (e *env) submitted(ctx context.Context, d *driver.Driver, trx transaction.Transaction, wait bool, timeout time.Duration) error {
	if err := e.store.Save(trx); err != nil {
		return err
	}
	pterm.Success.Printfln("transaction [ %s ] %s submitted", trx.ID, trx.Body.Operation)
	if !wait {
		return nil
	}
	return e.wait(ctx, d, trx.ID, timeout)
}

func (e *env) wait(ctx context.Context, d *driver.Driver, id string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("waiting for transaction [ %s ]", id))
	status, err := d.Transactions.WaitForStatus(ctx, id)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	if status != driver.StatusValid {
		spinner.Fail(fmt.Sprintf("transaction [ %s ] is %s", id, status))
		return driver.ErrRejectedByNode
	}
	spinner.Success(fmt.Sprintf("transaction [ %s ] committed", id))

	trx, err := d.Transactions.Retrieve(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.Save(trx); err != nil {
		return err
	}
	return e.store.MarkCommitted(id)
}

// committed returns the committed transaction from the store or from the ledger.
func (e *env) committed(ctx context.Context, d *driver.Driver, id string) (transaction.Transaction, error) {
	r, err := e.store.Read(id)
	if err == nil && r.Committed {
		return r.Transaction, nil
	}
	if err != nil && !errors.Is(err, txstore.ErrNotFound) {
		return transaction.Transaction{}, err
	}

	trx, err := d.Transactions.Committed(ctx, id)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if err := e.store.Save(trx); err != nil {
		return transaction.Transaction{}, err
	}
	if err := e.store.MarkCommitted(id); err != nil {
		return transaction.Transaction{}, err
	}
	return trx, nil
}

func list(s *txstore.Store) error {
	records, err := s.List()
	if err != nil {
		return err
	}
	rows := pterm.TableData{{"ID", "OPERATION", "TIMESTAMP", "COMMITTED"}}
	for _, r := range records {
		rows = append(rows, []string{
			r.Transaction.ID,
			string(r.Transaction.Body.Operation),
			r.Transaction.Body.Timestamp,
			fmt.Sprintf("%v", r.Committed),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func parseData(raw string) (transaction.Data, error) {
	if raw == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var data transaction.Data
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("data is not a JSON object: %w", err)
	}
	return data, nil
}

func printTransaction(trx transaction.Transaction) error {
	raw, err := json.MarshalIndent(trx, "", "  ")
	if err != nil {
		return err
	}
	pterm.Println(string(raw))
	return nil
}
