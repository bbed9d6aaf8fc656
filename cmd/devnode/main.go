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

	"github.com/bartossh/ledgerdriver/configuration"
	"github.com/bartossh/ledgerdriver/devnode"
	"github.com/bartossh/ledgerdriver/logging"
	"github.com/bartossh/ledgerdriver/logo"
	"github.com/bartossh/ledgerdriver/stdoutwriter"
	"github.com/bartossh/ledgerdriver/zincadapter"
)

const usage = `Devnode runs in-memory development ledger node serving the ledger HTTP API.
Nothing is persisted, the node state is lost on exit.`

func main() {
	godotenv.Load()
	logo.Display()

	var file string
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.Read(file)
		if err != nil {
			return cfg, err
		}

		return cfg, nil
	}

	app := &cli.App{
		Name:  "devnode",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				EnvVars:     []string{"LEDGERDRIVER_CONFIG"},
				Destination: &file,
			},
		},
		Action: func(_ *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func run(cfg configuration.Configuration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	callbackOnErr := func(err error) {
		fmt.Println("error with logger: ", err)
	}

	callbackOnFatal := func(err error) {
		panic(fmt.Sprintf("error with logger: %s", err))
	}

	writers := []io.Writer{stdoutwriter.New(nil)}
	if cfg.ZincLogger.Address != "" {
		zinc, err := zincadapter.New(cfg.ZincLogger)
		if err != nil {
			return err
		}
		writers = append(writers, &zinc)
	}

	log := logging.New(callbackOnErr, callbackOnFatal, writers...).WithSource("devnode")

	return devnode.Run(ctx, cfg.DevNode, log)
}
