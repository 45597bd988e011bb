/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"vitals/db"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing samples that are old.

		Remove samples that are older than the retention window from the database.
		This is to keep the database size down and the history queries fast.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Value:   "vitals.db",
				Usage:   "SQLite database file location",
				EnvVars: []string{"VITALS_DATABASE"},
			},
			&cli.IntFlag{
				Name:    "retention-days",
				Value:   7,
				Usage:   "Number of days of samples to keep",
				EnvVars: []string{"VITALS_RETENTION_DAYS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			database := ctx.String("database")
			fmt.Println("Database configured: ", database)
			return db.Tidy(database, ctx.Int("retention-days"))
		},
	}
}
