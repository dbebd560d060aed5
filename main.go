package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/whyrusleeping/tansu/viewdb"
)

func main() {
	app := cli.App{
		Name:  "tansu",
		Usage: "materialized view database over a replicated gossip log",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "data-dir",
			Value:   "data",
			EnvVars: []string{"TANSU_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:     "identity",
			Usage:    "public key of the local feed",
			EnvVars:  []string{"TANSU_IDENTITY"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "network-key",
			EnvVars: []string{"TANSU_NETWORK_KEY"},
		},
		&cli.StringFlag{
			Name:  "api-bind",
			Value: ":4434",
		},
		&cli.StringFlag{
			Name:  "metrics-bind",
			Value: ":4435",
		},
	}
	app.Action = func(cctx *cli.Context) error {
		db, err := viewdb.Open(cctx.String("data-dir"), viewdb.Options{
			Identity:   cctx.String("identity"),
			NetworkKey: cctx.String("network-key"),
		})
		if err != nil {
			return fmt.Errorf("failed to open view database: %w", err)
		}
		defer db.Close()

		cur, err := db.Cursor()
		if err != nil {
			return err
		}
		slog.Info("view database open",
			"identity", db.Identity(),
			"receive_log", cur.ReceiveLog,
			"replay_from", cur.ReplayFrom())

		go func() {
			if err := http.ListenAndServe(cctx.String("metrics-bind"), promhttp.Handler()); err != nil {
				slog.Error("metrics listener failed", "error", err)
			}
		}()

		s := &Server{db: db}
		return s.runApiServer(cctx.String("api-bind"))
	}

	app.RunAndExitOnError()
}

type Server struct {
	db *viewdb.ViewDatabase
}
