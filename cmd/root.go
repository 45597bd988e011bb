/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func RootApp() *cli.App {
	return &cli.App{
		Name:  "vitals",
		Usage: "A system vitals dashboard backend",
		Description: `A dashboard backend that polls system sensors on configurable
		intervals and serves the results over HTTP.

		Vitals reads its panel layout from a TOML file. Panels that sample the
		same sensor with the same options share a single feed, polled at the
		fastest requested interval. Samples are written to an SQLite database
		and streamed to dashboard clients via server-sent events.

		Flags can generally be set via environment variables, e.g.:

		--config => VITALS_CONFIG=vitals.toml
		--port => VITALS_PORT=8080
		`,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			tidyCmd(),
			watchCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}
