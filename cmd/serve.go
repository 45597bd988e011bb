/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"vitals/config"
	"vitals/db"
	"vitals/feeds"
	"vitals/models"
	"vitals/panels"
	"vitals/scheduler"
	"vitals/server"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the vitals dashboard",
		Description: `Starts the vitals HTTP server and update scheduler.

Loads the panel layout from the configuration file, registers each panel
with the scheduler and launches the HTTP server on the configured port.
Samples are persisted to the SQLite database and streamed to connected
dashboard clients.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "vitals.toml",
				Usage:   "TOML configuration file location",
				EnvVars: []string{"VITALS_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override the HTTP port from the configuration file",
				EnvVars: []string{"VITALS_PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}
			if port := ctx.Int("port"); port != 0 {
				cfg.Server.Port = port
			}

			log.WithFields(log.Fields{
				"config":   ctx.String("config"),
				"port":     cfg.Server.Port,
				"database": cfg.Database.Path,
				"panels":   len(cfg.Panels),
			}).Info("Starting vitals")

			if err := db.Migrate(cfg.Database.Path); err != nil {
				return fmt.Errorf("error running migrations: %w", err)
			}

			writer, err := db.NewWriter(cfg.Database.Path, cfg.Database.RetentionDays)
			if err != nil {
				return fmt.Errorf("error opening database for writing: %w", err)
			}
			reader, err := db.NewReader(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("error opening database for reading: %w", err)
			}

			// Channel that panels publish sample events on
			eventChan := make(chan models.SampleEvent, 1024)

			registry := feeds.NewRegistry(feeds.DefaultFactory())
			sched := scheduler.New(registry, scheduler.Options{
				BaseTick:             time.Duration(cfg.Scheduler.BaseTickMs) * time.Millisecond,
				ConfigCheckInterval:  time.Duration(cfg.Scheduler.ConfigCheckMs) * time.Millisecond,
				MailboxSize:          cfg.Scheduler.MailboxSize,
				MaxConcurrentUpdates: cfg.Scheduler.MaxConcurrentUpdates,
			})

			store := panels.NewStore()
			for _, tp := range cfg.Panels {
				panel := panels.New(tp.Id, tp.Title, tp.FeedConfig(), eventChan)
				if !sched.EnqueueAdd(panel) {
					log.WithFields(log.Fields{
						"panel": tp.Id,
					}).Warn("Scheduler mailbox full, panel not registered")
					continue
				}
				store.Add(panel)
			}

			bc := server.NewBroadcaster()
			app := server.Server(&server.ServerConfig{
				Reader:      reader,
				Broadcaster: bc,
				Store:       store,
				Scheduler:   sched,
				Events:      eventChan,
			})

			runCtx, cancel := context.WithCancel(ctx.Context)
			defer cancel()

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			var wg sync.WaitGroup

			go func() {
				<-c
				fmt.Println("Gracefully shutting down...")
				cancel()
				sched.Stop()
				app.ShutdownWithTimeout(60 * time.Second)
				writer.Stop()
				bc.Shutdown()
				defer wg.Add(-2) // Decrement the waitgroup counter by 2 after shutdown of server and scheduler
			}()

			go func() {
				log.Info("Starting scheduler")
				sched.Run(runCtx)
			}()

			go func() {
				log.Info("Starting sample writer")
				writer.Subscribe()
			}()

			go func() {
				// Fan sample events out to SSE clients and the database writer
				for evt := range eventChan {
					bc.BroadcastSample(evt)
					writer.Enqueue(evt)
				}
			}()

			go func() {
				log.Info("Starting server")
				if err := app.Listen(fmt.Sprintf("%s:%d", cfg.Server.Hostname, cfg.Server.Port)); err != nil {
					log.Panic(err)
				}
			}()

			// Wait for both the server and scheduler to shutdown
			wg.Add(2)
			wg.Wait()

			fmt.Println("Done!")

			return nil
		},
	}
}
