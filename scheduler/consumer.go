package scheduler

import (
	"time"

	"vitals/feeds"
	"vitals/models"
)

// SchedulingConfig is the scheduling-relevant view of a consumer's
// configuration, re-read on every config-drift check.
type SchedulingConfig struct {
	FeedType string
	Interval time.Duration

	// FeedConfig describes the shared feed this consumer wants. Nil means
	// the consumer has no shared feed and updates itself when due.
	FeedConfig *feeds.Config
}

// Consumer is a scheduling client that wants fresh values pushed into its
// display state at its configured interval.
type Consumer interface {
	ID() string
	SchedulingConfig() SchedulingConfig

	// Update receives the shared feed's cached values, or nil when the
	// consumer has no shared feed and should gather data on its own.
	Update(values models.Values) error
}

// consumerState is the scheduler's per-consumer bookkeeping. Created on
// registration, destroyed on removal; only touched under the scheduler's
// consumer lock.
type consumerState struct {
	consumer Consumer
	feedKey  string

	lastUpdate      time.Time
	lastConfigCheck time.Time

	// cachedInterval avoids re-reading the consumer's configuration every
	// tick; refreshed when the scheduling hash changes.
	cachedInterval time.Duration
	schedHash      uint64
}

// feedState tracks update timing and fault state for one shared feed.
// Created lazily, destroyed with the feed or when a poll reports it gone.
type feedState struct {
	lastUpdate time.Time
	interval   time.Duration
	breaker    *breaker
}
