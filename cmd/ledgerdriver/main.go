package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/ledgerdriver/aeswrapper"
	"github.com/bartossh/ledgerdriver/configuration"
	"github.com/bartossh/ledgerdriver/driver"
	"github.com/bartossh/ledgerdriver/fileoperations"
	"github.com/bartossh/ledgerdriver/logger"
	"github.com/bartossh/ledgerdriver/logging"
	"github.com/bartossh/ledgerdriver/logo"
	"github.com/bartossh/ledgerdriver/stdoutwriter"
	"github.com/bartossh/ledgerdriver/telemetry"
	"github.com/bartossh/ledgerdriver/txstore"
	"github.com/bartossh/ledgerdriver/zincadapter"
)

const usage = `Ledgerdriver creates, signs and transfers assets on the ledger.
Keys are kept in the AES encrypted GOBINARY file, transactions known to the client in the local store.`

// env holds everything the commands need, it is created per command and closed after it.
type env struct {
	cfg     configuration.Configuration
	log     logger.Logger
	files   fileoperations.Helper
	store   *txstore.Store
	metrics *telemetry.Measurements
	cancel  context.CancelFunc
}

func main() {
	godotenv.Load()

	var file, passwd string
	var verbose bool

	setup := func(ctx context.Context, withStore bool) (*env, context.Context, error) {
		if file == "" {
			return nil, ctx, errors.New("please specify configuration file path with -c <path to file>")
		}
		cfg, err := configuration.Read(file)
		if err != nil {
			return nil, ctx, err
		}
		if passwd != "" {
			cfg.FileOperator.KeysPasswd = passwd
		}

		ctx, cancel := context.WithCancel(ctx)
		e := &env{
			cfg:     cfg,
			files:   fileoperations.New(cfg.FileOperator, aeswrapper.New()),
			metrics: telemetry.New(),
			cancel:  cancel,
		}
		e.log = newLogger(cfg.ZincLogger, verbose)

		if cfg.Telemetry.Port != 0 {
			if err := telemetry.Run(ctx, cancel, cfg.Telemetry.Port, e.metrics); err != nil {
				cancel()
				return nil, ctx, err
			}
		}
		if withStore {
			if e.store, err = txstore.New(cfg.Store); err != nil {
				cancel()
				return nil, ctx, err
			}
		}
		return e, ctx, nil
	}

	app := &cli.App{
		Name:  "ledgerdriver",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				EnvVars:     []string{"LEDGERDRIVER_CONFIG"},
				Destination: &file,
			},
			&cli.StringFlag{
				Name:        "passwd",
				Usage:       "Passphrase of the encrypted keys file, overrides configuration",
				EnvVars:     []string{"LEDGERDRIVER_KEYS_PASSWD"},
				Destination: &passwd,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "Print logs to the standard output",
				Destination: &verbose,
			},
		},
		Before: func(_ *cli.Context) error {
			logo.Display()
			return nil
		},
		Commands: commands(setup),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func newLogger(cfg zincadapter.Config, verbose bool) logging.Helper {
	callbackOnErr := func(err error) {
		if verbose {
			fmt.Println("error with logger: ", err)
		}
	}
	callbackOnFatal := func(err error) {
		panic(fmt.Sprintf("error with logger: %s", err))
	}

	var writers []io.Writer
	if verbose {
		writers = append(writers, stdoutwriter.New(nil))
	}
	if cfg.Address != "" {
		zinc, err := zincadapter.New(cfg)
		if err != nil {
			pterm.Warning.Println(err.Error())
		} else {
			writers = append(writers, &zinc)
		}
	}
	return logging.New(callbackOnErr, callbackOnFatal, writers...).WithSource("ledgerdriver")
}

func (e *env) close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.log.Error(err.Error())
		}
	}
	e.cancel()
}

func (e *env) driver() (*driver.Driver, error) {
	keys, err := e.files.ReadKeyPair()
	if err != nil {
		return nil, fmt.Errorf("cannot read keys, run keygen first: %w", err)
	}
	return driver.New(e.cfg.Driver, &keys, e.log, e.metrics), nil
}
