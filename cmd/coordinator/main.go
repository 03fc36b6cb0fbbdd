package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/photon-storage/go-common/log"

	"github.com/chainrelay/swap-coordinator/cmd"
	"github.com/chainrelay/swap-coordinator/cmd/runtime/version"
	"github.com/chainrelay/swap-coordinator/config"
	"github.com/chainrelay/swap-coordinator/coordinator"
	"github.com/chainrelay/swap-coordinator/database/mysql"
	"github.com/chainrelay/swap-coordinator/deposit"
	"github.com/chainrelay/swap-coordinator/ledger"
	"github.com/chainrelay/swap-coordinator/ledger/evm"
	"github.com/chainrelay/swap-coordinator/ledger/sim"
	"github.com/chainrelay/swap-coordinator/monitor"
	"github.com/chainrelay/swap-coordinator/store"
)

func main() {
	app := cli.App{
		Name:    "swap-coordinator",
		Usage:   "cross-chain atomic swap coordinator daemon",
		Action:  exec,
		Version: version.Get(),
		Flags: []cli.Flag{
			cmd.ConfigPathFlag,
			cmd.VerbosityFlag,
			cmd.LogFormatFlag,
			cmd.LogFilenameFlag,
			cmd.LogColorFlag,
		},
	}

	app.Before = cmd.InitLogger

	if err := app.Run(os.Args); err != nil {
		log.Error("running coordinator application failed", "error", err)
	}
}

func exec(cliCtx *cli.Context) error {
	cfg := &config.CoordinatorConfig{}
	if err := config.Load(cliCtx.String(cmd.ConfigPathFlag.Name), cfg); err != nil {
		log.Fatal("reading coordinator config failed", "error", err)
	}

	db, err := mysql.NewMySQLDB(cfg.MySQL)
	if err != nil {
		log.Fatal("initialize mysql db error", "error", err)
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()

	adapters, err := buildAdapters(ctx, cfg.Ledgers)
	if err != nil {
		log.Fatal("initialize ledger adapters failed", "error", err)
	}

	multiplier, err := decimal.NewFromString(cfg.DepositMultiplier)
	if err != nil {
		log.Fatal("parse deposit multiplier failed", "error", err)
	}

	orders := store.NewGormStore(db)
	coord := coordinator.New(
		coordinator.Config{
			SafetyMargin:      time.Duration(cfg.SafetyMarginSeconds) * time.Second,
			DepositMultiplier: multiplier,
			CASRetryBudget:    cfg.CASRetryBudget,
			MaxOrderLifetime:  time.Duration(cfg.MaxOrderLifetimeSeconds) * time.Second,
		},
		adapters,
		orders,
		deposit.NewGormLedger(db),
	)
	coord.Start(ctx)

	sweepInterval := time.Duration(cfg.SweepSeconds) * time.Second
	if sweepInterval == 0 {
		sweepInterval = 30 * time.Second
	}

	go coord.RunSweeper(ctx, sweepInterval)

	for i, a := range adapters {
		pollInterval := time.Duration(cfg.Ledgers[i].PollSeconds) * time.Second
		if pollInterval == 0 {
			pollInterval = 5 * time.Second
		}

		m := monitor.New(a, orders, orders, coord, pollInterval)
		go m.Run(ctx)
		log.Info("ledger monitor started",
			"ledger", a.LedgerID(),
			"poll_interval", pollInterval,
		)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
	log.Info("Got interrupt, shutting down...")

	cancel()
	coord.Wait()
	return nil
}

func buildAdapters(
	ctx context.Context,
	cfgs []config.LedgerConfig,
) ([]ledger.Adapter, error) {
	adapters := make([]ledger.Adapter, 0, len(cfgs))
	for _, lc := range cfgs {
		switch lc.Kind {
		case "evm":
			a, err := evm.New(ctx, lc.EVM)
			if err != nil {
				return nil, err
			}

			adapters = append(adapters, a)

		case "sim":
			adapters = append(adapters, sim.New(lc.LedgerID, lc.HashAlgorithm))

		default:
			return nil, errors.Errorf("unknown ledger kind %q", lc.Kind)
		}
	}

	return adapters, nil
}
