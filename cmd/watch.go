/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"vitals/config"
	"vitals/feeds"
	"vitals/models"
	"vitals/panels"
	"vitals/scheduler"
)

// watchCmd runs the scheduler without the HTTP server and logs samples
func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Log all samples to the command line",
		Description: `Runs the update scheduler for the configured panels and logs
every sample to the command line.

Can be used if you want to collect sensor readings by passing the output
to a file or another application.

Returns each sample as a JSON object on a single line. Use a tool like jq
to process the output.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "vitals.toml",
				Usage:   "TOML configuration file location",
				EnvVars: []string{"VITALS_CONFIG"},
			},
		},
		Action: func(ctx *cli.Context) error {
			// Disable logging to stdout
			log.SetOutput(os.Stderr)

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}

			// Channel for subscribing to sample events
			eventChan := make(chan models.SampleEvent, 1024)

			registry := feeds.NewRegistry(feeds.DefaultFactory())
			sched := scheduler.New(registry, scheduler.Options{})

			for _, tp := range cfg.Panels {
				panel := panels.New(tp.Id, tp.Title, tp.FeedConfig(), eventChan)
				if !sched.EnqueueAdd(panel) {
					log.WithFields(log.Fields{
						"panel": tp.Id,
					}).Warn("Scheduler mailbox full, panel not registered")
				}
			}

			runCtx, cancel := context.WithCancel(ctx.Context)
			defer cancel()

			go sched.Run(runCtx)

			// Subscribe to the event channel and log the samples
			// Stop if the context is cancelled
			for evt := range eventChan {
				select {
				case <-ctx.Context.Done():
					fmt.Println("Stopping watch")
					sched.Stop()
					return nil
				default:
					printStdout(&evt)
				}
			}

			return nil
		},
	}
}

func printStdout(evt *models.SampleEvent) {
	// Print as single JSON string on a single line
	evtJson, err := json.Marshal(evt)
	if err == nil {
		fmt.Println(string(evtJson))
	}
}
