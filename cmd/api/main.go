package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/photon-storage/go-common/log"

	"github.com/chainrelay/swap-coordinator/api/server"
	"github.com/chainrelay/swap-coordinator/api/service"
	"github.com/chainrelay/swap-coordinator/cmd"
	"github.com/chainrelay/swap-coordinator/cmd/runtime/version"
	"github.com/chainrelay/swap-coordinator/config"
	"github.com/chainrelay/swap-coordinator/database/mysql"
)

func main() {
	app := cli.App{
		Name:    "swap-api",
		Usage:   "query api for the cross-chain swap coordinator",
		Action:  exec,
		Version: version.Get(),
		Flags: []cli.Flag{
			cmd.ConfigPathFlag,
			cmd.VerbosityFlag,
			cmd.LogFormatFlag,
		},
	}

	app.Before = cmd.InitLogger

	if err := app.Run(os.Args); err != nil {
		log.Error("running api application failed", "error", err)
	}
}

func exec(ctx *cli.Context) error {
	cfg := &config.APIConfig{}
	if err := config.Load(ctx.String(cmd.ConfigPathFlag.Name), cfg); err != nil {
		log.Fatal("reading api config failed", "error", err)
	}

	db, err := mysql.NewMySQLDB(cfg.MySQL)
	if err != nil {
		log.Fatal("initialize mysql db error", "error", err)
	}

	server.New(cfg.Port, service.New(db)).Run()
	return nil
}
