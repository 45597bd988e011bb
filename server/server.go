package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"vitals/db"
	"vitals/feeds"
	"vitals/models"
	"vitals/panels"
	"vitals/scheduler"
)

type ServerConfig struct {

	// The reader to use for reading sample history
	Reader *db.Reader

	// Broadcast channels to pass sample events to SSE clients
	Broadcaster *Broadcaster

	// The panel store backing the dashboard endpoints
	Store *panels.Store

	// The scheduler driving panel updates
	Scheduler *scheduler.Scheduler

	// Channel that panels publish sample events on
	Events chan<- models.SampleEvent
}

// Make it sync
type Broadcaster struct {
	sync.RWMutex
	sampleClients map[string]chan models.SampleEvent
}

// Constructor
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		sampleClients: make(map[string]chan models.SampleEvent, 10000),
	}
}

func (b *Broadcaster) BroadcastSample(evt models.SampleEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.sampleClients {
		select {
		case client <- evt: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping sample for client: %v", id)
		}
	}
}

// Function to add a client to the broadcaster
func (b *Broadcaster) AddClient(key string, sampleClient chan models.SampleEvent) {
	b.Lock()
	defer b.Unlock()
	b.sampleClients[key] = sampleClient
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.sampleClients),
	}).Info("Adding client to broadcaster")
}

// Function to remove a client from the broadcaster
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.sampleClients[key]; ok { // Check if the client exists
		close(client)                // Safely close the channel
		delete(b.sampleClients, key) // Remove from the map
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.sampleClients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.sampleClients {
		close(client)
		delete(b.sampleClients, key)
	}
}

type addPanelRequest struct {
	Id         string                 `json:"id"`
	Title      string                 `json:"title"`
	Type       string                 `json:"type"`
	IntervalMs int64                  `json:"interval_ms"`
	Options    map[string]interface{} `json:"options"`
}

// Returns a fiber.App instance to be used as an HTTP server for the vitals dashboard
func Server(config *ServerConfig) *fiber.App {

	bc := config.Broadcaster

	app := fiber.New()

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		// start timer
		start := time.Now()

		// next routes
		err := c.Next()

		// stop timer
		stop := time.Now()

		// Diff
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": stop.Sub(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	// Setup CORS for localhost:3001
	app.Use(func(c *fiber.Ctx) error {
		corsConfig := cors.Config{
			AllowOrigins:     "http://localhost:3001",
			AllowHeaders:     "Cache-Control",
			AllowCredentials: true,
		}
		return cors.New(corsConfig)(c)
	})

	// Setup cache for the history endpoint only; live endpoints must not
	// serve stale responses
	app.Use(cache.New(cache.Config{
		Expiration: 30 * time.Second,
		Next: func(c *fiber.Ctx) bool {

			if c.Method() != "GET" {
				return true
			}

			if strings.HasPrefix(c.Path(), "/dashboard/history") {
				log.WithFields(log.Fields{
					"path": c.Path(),
				}).Info("Cache request")
				return false
			}
			return true
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			// Get URL with query string to use as cache key
			url := c.Request().URI().String()
			return url
		},
	}))

	// Prometheus metrics
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/dashboard/panels", func(c *fiber.Ctx) error {
		return c.JSON(config.Store.Snapshots())
	})

	app.Post("/dashboard/panels", func(c *fiber.Ctx) error {
		var req addPanelRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(400).SendString("Invalid request body")
		}
		if req.Id == "" || req.Type == "" {
			return c.Status(400).SendString("Panel id and type are required")
		}
		if req.IntervalMs < 1 {
			req.IntervalMs = 1000
		}

		cfg := &feeds.Config{
			Type:         req.Type,
			PollInterval: time.Duration(req.IntervalMs) * time.Millisecond,
			Options:      req.Options,
		}

		panel := panels.New(req.Id, req.Title, cfg, config.Events)
		if !config.Scheduler.EnqueueAdd(panel) {
			return c.Status(503).SendString("Scheduler mailbox full, try again later")
		}
		config.Store.Add(panel)

		log.WithFields(log.Fields{
			"panel": req.Id,
			"type":  req.Type,
		}).Info("Panel added")

		return c.Status(201).JSON(panel.Snapshot())
	})

	app.Delete("/dashboard/panels/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, ok := config.Store.Get(id); !ok {
			return c.Status(404).SendString("Unknown panel")
		}
		if !config.Scheduler.EnqueueRemove(id) {
			return c.Status(503).SendString("Scheduler mailbox full, try again later")
		}
		config.Store.Remove(id)

		log.WithFields(log.Fields{
			"panel": id,
		}).Info("Panel removed")

		return c.Status(200).SendString("OK")
	})

	app.Get("/dashboard/diagnostics", func(c *fiber.Ctx) error {
		return c.JSON(config.Scheduler.Diagnostics())
	})

	app.Get("/dashboard/history", func(c *fiber.Ctx) error {
		feedKey := c.Query("feed", "")
		field := c.Query("field", "")
		timeAgg := c.Query("time", "")

		if feedKey == "" || field == "" {
			return c.Status(400).SendString("feed and field are required")
		}

		if timeAgg == "" {
			timeAgg = "hour"
		}

		// check if time is minute, hour or day
		if timeAgg != "minute" && timeAgg != "hour" && timeAgg != "day" {
			return c.Status(400).SendString("Invalid time")
		}

		samplesPerTime, err := config.Reader.GetSamplesPerTime(feedKey, field, timeAgg)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error getting samples per time")

			return c.Status(500).SendString("Error getting samples per time")
		}

		log.WithFields(log.Fields{
			"feed":  feedKey,
			"field": field,
			"count": len(samplesPerTime),
		}).Info("Get samples per time")

		return c.Status(200).JSON(samplesPerTime)
	})

	app.Get("/dashboard/samples", func(c *fiber.Ctx) error {
		feedKey := c.Query("feed", "")
		if feedKey == "" {
			return c.Status(400).SendString("feed is required")
		}
		limit, err := strconv.Atoi(c.Query("limit", "100"))
		if err != nil {
			limit = 100
		}

		samples, err := config.Reader.GetRecentSamples(feedKey, limit)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error getting recent samples")

			return c.Status(500).SendString("Error getting recent samples")
		}

		return c.Status(200).JSON(samples)
	})

	app.Delete("/dashboard/feed/sse", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(200).SendString("OK")
	})

	app.Get("/dashboard/feed/sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		sseSampleChannel := make(chan models.SampleEvent, 10) // Buffered channel
		aliveChan := time.NewTicker(5 * time.Second)

		defer aliveChan.Stop()

		// Register the client
		bc.AddClient(key, sseSampleChannel)

		// Cleanup function
		cleanup := func() {
			log.Infof("Cleaning up SSE stream for client: %s", key)
			bc.RemoveClient(key)
		}

		// Use StreamWriter to manage SSE streaming
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cleanup()

			// Send initial event with client key
			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			// Start streaming loop
			for {
				select {
				case <-aliveChan.C:
					// Send keep-alive pings
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case evt, ok := <-sseSampleChannel:
					if !ok {
						log.Warnf("Sample channel closed for client %s", key)
						return
					}
					jsonSample, err := json.Marshal(evt)
					if err != nil {
						log.Errorf("Error marshalling sample for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: sample\ndata: %s\n\n", jsonSample); err != nil {
						log.Warnf("Failed to send sample event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush sample event for client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}
