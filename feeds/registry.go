package feeds

import (
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"vitals/models"
)

// sharedFeed is one deduplicated feed instance plus its bookkeeping. The
// struct carries its own mutex so a slow hardware poll only blocks users of
// this feed, never the whole registry table.
type sharedFeed struct {
	mu sync.Mutex

	feed   Feed
	cached models.Values

	refCount    int
	minInterval time.Duration

	// intervals maps consumer ID to its requested poll interval, so the
	// minimum can be recomputed when a consumer leaves.
	intervals map[string]time.Duration
}

// recalcMinInterval derives minInterval from the surviving consumers.
// Caller holds mu.
func (s *sharedFeed) recalcMinInterval() {
	s.refCount = len(s.intervals)
	if s.refCount == 0 {
		return
	}
	s.minInterval = lo.Min(lo.Values(s.intervals))
}

// FeedInfo is the per-feed view handed to the scheduler each tick.
type FeedInfo struct {
	Key         string
	MinInterval time.Duration
	RefCount    int
}

// Registry maintains at most one live Feed instance per distinct
// (type, config-sans-interval) pair. Consumers requesting an identical
// configuration share the instance, reference-counted.
type Registry struct {
	factory *Factory

	mu    sync.RWMutex
	feeds map[string]*sharedFeed
}

func NewRegistry(factory *Factory) *Registry {
	return &Registry{
		factory: factory,
		feeds:   make(map[string]*sharedFeed),
	}
}

// GetOrCreate returns the feed key for the given configuration, creating
// and configuring a feed instance if no consumer has requested this
// configuration yet. Registering against an existing feed never fails.
func (r *Registry) GetOrCreate(cfg *Config, consumerID string) (string, error) {
	key, err := cfg.Key()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if existing, ok := r.feeds[key]; ok {
		r.mu.Unlock()

		existing.mu.Lock()
		existing.intervals[consumerID] = cfg.PollInterval
		existing.recalcMinInterval()
		log.WithFields(log.Fields{
			"key":      key,
			"consumer": consumerID,
			"refCount": existing.refCount,
			"interval": existing.minInterval,
		}).Debug("Reusing shared feed")
		existing.mu.Unlock()
		return key, nil
	}

	feed, err := r.factory.Create(cfg.Type)
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	if err := feed.Configure(cfg); err != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("configure feed %s: %w", key, err)
	}

	shared := &sharedFeed{
		feed:        feed,
		refCount:    1,
		minInterval: cfg.PollInterval,
		intervals:   map[string]time.Duration{consumerID: cfg.PollInterval},
	}
	r.feeds[key] = shared
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"key":      key,
		"consumer": consumerID,
		"interval": cfg.PollInterval,
	}).Info("Created shared feed")

	// Prime the cache so consumers have data before the first scheduled
	// poll. A failure here is the breaker's problem later, not ours.
	if _, err := r.Poll(key); err != nil {
		log.WithFields(log.Fields{"key": key, "error": err}).Warn("Initial feed poll failed")
	}

	return key, nil
}

// Release drops consumerID's reference to key. The feed instance is
// destroyed the moment its last consumer releases it. Releasing an unknown
// key or consumer is a no-op, so teardown paths can call it defensively.
// Returns true when the feed entry was removed.
func (r *Registry) Release(key, consumerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	shared, ok := r.feeds[key]
	if !ok {
		return false
	}

	shared.mu.Lock()
	if _, held := shared.intervals[consumerID]; !held {
		shared.mu.Unlock()
		return false
	}
	delete(shared.intervals, consumerID)
	shared.recalcMinInterval()
	removed := shared.refCount == 0
	log.WithFields(log.Fields{
		"key":      key,
		"consumer": consumerID,
		"refCount": shared.refCount,
	}).Debug("Released shared feed")
	shared.mu.Unlock()

	if removed {
		delete(r.feeds, key)
		log.WithFields(log.Fields{"key": key}).Info("Removed unused shared feed")
	}
	return removed
}

// Poll drives the feed's poll and replaces the cached snapshot on success.
// The registry table lock is released before any I/O happens; only the
// individual feed's mutex is held while polling hardware.
func (r *Registry) Poll(key string) (models.Values, error) {
	r.mu.RLock()
	shared, ok := r.feeds[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFeedNotFound, key)
	}

	shared.mu.Lock()
	defer shared.mu.Unlock()
	if err := shared.feed.Poll(); err != nil {
		return nil, fmt.Errorf("poll %s: %w", key, err)
	}
	shared.cached = shared.feed.Values()
	return shared.cached.Clone(), nil
}

// Cached returns the last polled snapshot without touching hardware.
func (r *Registry) Cached(key string) (models.Values, bool) {
	r.mu.RLock()
	shared, ok := r.feeds[key]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.cached == nil {
		return nil, true
	}
	return shared.cached.Clone(), true
}

// Reconfigure re-applies configuration to a live feed without changing its
// identity. Used when a consumer edits options that are not part of the
// sharing key.
func (r *Registry) Reconfigure(key string, cfg *Config) error {
	r.mu.RLock()
	shared, ok := r.feeds[key]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrFeedNotFound, key)
	}

	shared.mu.Lock()
	defer shared.mu.Unlock()
	if err := shared.feed.Configure(cfg); err != nil {
		return fmt.Errorf("reconfigure %s: %w", key, err)
	}
	return nil
}

// UpdateInterval records a consumer's new requested interval and recomputes
// the feed's effective minimum.
func (r *Registry) UpdateInterval(key, consumerID string, interval time.Duration) {
	r.mu.RLock()
	shared, ok := r.feeds[key]
	r.mu.RUnlock()
	if !ok {
		return
	}

	shared.mu.Lock()
	defer shared.mu.Unlock()
	if _, held := shared.intervals[consumerID]; !held {
		return
	}
	old := shared.minInterval
	shared.intervals[consumerID] = interval
	shared.recalcMinInterval()
	if shared.minInterval != old {
		log.WithFields(log.Fields{
			"key":  key,
			"from": old,
			"to":   shared.minInterval,
		}).Info("Shared feed interval changed")
	}
}

// MinInterval returns the effective poll interval for a feed.
func (r *Registry) MinInterval(key string) (time.Duration, bool) {
	r.mu.RLock()
	shared, ok := r.feeds[key]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	shared.mu.Lock()
	defer shared.mu.Unlock()
	return shared.minInterval, true
}

// Snapshot lists all feeds with their effective intervals, for the
// scheduler's due-set computation and for diagnostics.
func (r *Registry) Snapshot() []FeedInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]FeedInfo, 0, len(r.feeds))
	for key, shared := range r.feeds {
		shared.mu.Lock()
		infos = append(infos, FeedInfo{
			Key:         key,
			MinInterval: shared.minInterval,
			RefCount:    shared.refCount,
		})
		shared.mu.Unlock()
	}
	return infos
}

// Len returns the number of live shared feeds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}
