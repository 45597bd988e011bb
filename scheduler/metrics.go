package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_scheduler_ticks_total",
		Help: "The total number of scheduler ticks processed",
	})

	feedPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_feed_polls_total",
		Help: "Feed poll attempts by result",
	}, []string{"result"})

	feedPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vitals_feed_poll_duration_seconds",
		Help:    "Duration of individual feed polls",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs up to ~26s
	})

	consumerUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_consumer_updates_total",
		Help: "Consumer update tasks by result",
	}, []string{"result"})

	mailboxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_scheduler_mailbox_dropped_total",
		Help: "Registration messages dropped because the mailbox was full",
	})

	activeConsumers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vitals_scheduler_active_consumers",
		Help: "The current number of registered consumers",
	})

	activeFeeds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vitals_scheduler_active_feeds",
		Help: "The current number of live shared feeds",
	})

	openBreakers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vitals_scheduler_open_breakers",
		Help: "The number of feeds whose circuit breaker is currently open",
	})
)
