package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"vitals/feeds"
	"vitals/models"
)

// Options tunes the scheduler. Zero values fall back to defaults.
type Options struct {
	// BaseTick is the wake-up cadence of the control loop. Feed and
	// consumer intervals are quantized to it.
	BaseTick time.Duration
	// ConfigCheckInterval bounds how often a consumer's scheduling
	// configuration is re-hashed for drift detection.
	ConfigCheckInterval time.Duration
	// MailboxSize is the capacity of the registration mailbox. Messages
	// beyond it are dropped and logged.
	MailboxSize int
	// MaxConcurrentUpdates bounds the consumer update fan-out per tick.
	MaxConcurrentUpdates int
	// Breaker configures per-feed circuit breaking.
	Breaker BreakerConfig
}

func (o *Options) withDefaults() {
	if o.BaseTick <= 0 {
		o.BaseTick = 250 * time.Millisecond
	}
	if o.ConfigCheckInterval <= 0 {
		o.ConfigCheckInterval = time.Second
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = 256
	}
	if o.MaxConcurrentUpdates <= 0 {
		o.MaxConcurrentUpdates = 16
	}
	if o.Breaker.FailureThreshold <= 0 {
		o.Breaker = DefaultBreakerConfig()
	}
}

type mailboxMsg struct {
	add    Consumer
	remove string
}

// Scheduler owns the periodic tick loop. Each tick it drains the
// registration mailbox, polls the shared feeds that are due (sequentially,
// breaker-gated), then updates the consumers that are due from cached feed
// values under a bounded worker pool.
//
// Consumer state and feed state live behind independent locks so computing
// one never blocks mutating the other; feed I/O happens with neither held.
type Scheduler struct {
	registry *feeds.Registry
	opts     Options

	mailbox  chan mailboxMsg
	stop     chan struct{}
	stopOnce sync.Once

	consumersMu sync.RWMutex
	consumers   map[string]*consumerState

	feedsMu    sync.RWMutex
	feedStates map[string]*feedState

	// now is swappable for tests.
	now func() time.Time
}

func New(registry *feeds.Registry, opts Options) *Scheduler {
	opts.withDefaults()
	return &Scheduler{
		registry:   registry,
		opts:       opts,
		mailbox:    make(chan mailboxMsg, opts.MailboxSize),
		stop:       make(chan struct{}),
		consumers:  make(map[string]*consumerState),
		feedStates: make(map[string]*feedState),
		now:        time.Now,
	}
}

// EnqueueAdd asks the scheduler to register a consumer. Non-blocking and
// safe to call from any goroutine. Returns false when the mailbox is full
// and the request was dropped; callers may retry.
func (s *Scheduler) EnqueueAdd(c Consumer) bool {
	select {
	case s.mailbox <- mailboxMsg{add: c}:
		return true
	default:
		mailboxDropped.Inc()
		log.WithFields(log.Fields{"consumer": c.ID()}).Warn("Scheduler mailbox full, dropping add")
		return false
	}
}

// EnqueueRemove asks the scheduler to unregister a consumer. Non-blocking;
// removing an unknown consumer is a no-op, so teardown can call this
// defensively.
func (s *Scheduler) EnqueueRemove(id string) bool {
	select {
	case s.mailbox <- mailboxMsg{remove: id}:
		return true
	default:
		mailboxDropped.Inc()
		log.WithFields(log.Fields{"consumer": id}).Warn("Scheduler mailbox full, dropping remove")
		return false
	}
}

// Stop requests a cooperative shutdown. Run observes it at the next tick
// boundary; in-flight update tasks are always awaited before Run returns.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Scheduler) stopped(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run drives the control loop until Stop is called or the context is
// cancelled. It returns only after the current tick, including all spawned
// consumer updates, has completed.
func (s *Scheduler) Run(ctx context.Context) {
	log.WithFields(log.Fields{
		"baseTick": s.opts.BaseTick,
		"workers":  s.opts.MaxConcurrentUpdates,
	}).Info("Scheduler started")

	ticker := time.NewTicker(s.opts.BaseTick)
	defer ticker.Stop()

	for {
		if s.stopped(ctx) {
			break
		}
		select {
		case <-ctx.Done():
		case <-s.stop:
		case <-ticker.C:
		}
		if s.stopped(ctx) {
			break
		}
		s.tick()
	}

	log.Info("Scheduler stopped")
}

// tick runs one scheduling cycle. Ordering matters: all due feeds finish
// polling before any due consumer reads cached values.
func (s *Scheduler) tick() {
	ticksTotal.Inc()

	s.drainMailbox()
	s.pollDueFeeds()
	s.updateDueConsumers()

	s.consumersMu.RLock()
	activeConsumers.Set(float64(len(s.consumers)))
	s.consumersMu.RUnlock()
	activeFeeds.Set(float64(s.registry.Len()))
}

// drainMailbox applies all pending registrations and removals.
func (s *Scheduler) drainMailbox() {
	for {
		select {
		case msg := <-s.mailbox:
			if msg.add != nil {
				s.register(msg.add)
			} else {
				s.unregister(msg.remove)
			}
		default:
			return
		}
	}
}

func (s *Scheduler) register(c Consumer) {
	id := c.ID()
	now := s.now()

	// Re-adding an existing ID replaces the old registration.
	s.unregister(id)

	sc := c.SchedulingConfig()
	state := &consumerState{
		consumer:        c,
		lastUpdate:      now,
		lastConfigCheck: now,
		cachedInterval:  sc.Interval,
		schedHash:       feeds.SchedulingHash(sc.FeedType, sc.Interval),
	}

	if sc.FeedConfig != nil {
		key, err := s.registry.GetOrCreate(sc.FeedConfig, id)
		if err != nil {
			// The consumer still registers; the next drift check
			// retries feed construction.
			log.WithFields(log.Fields{
				"consumer": id,
				"feedType": sc.FeedType,
				"error":    err,
			}).Error("Feed construction failed")
		} else {
			state.feedKey = key
		}
	}

	s.consumersMu.Lock()
	s.consumers[id] = state
	s.consumersMu.Unlock()

	log.WithFields(log.Fields{
		"consumer": id,
		"feedType": sc.FeedType,
		"interval": sc.Interval,
	}).Info("Consumer registered")
}

func (s *Scheduler) unregister(id string) {
	s.consumersMu.Lock()
	state, ok := s.consumers[id]
	delete(s.consumers, id)
	s.consumersMu.Unlock()
	if !ok {
		return
	}

	if state.feedKey != "" {
		if s.registry.Release(state.feedKey, id) {
			s.dropFeedState(state.feedKey)
		}
	}
	log.WithFields(log.Fields{"consumer": id}).Info("Consumer unregistered")
}

func (s *Scheduler) dropFeedState(key string) {
	s.feedsMu.Lock()
	delete(s.feedStates, key)
	s.feedsMu.Unlock()
}

type dueFeed struct {
	key string
	fs  *feedState
}

// pollDueFeeds computes the due set under a short lock, then polls each
// feed sequentially with no scheduler lock held, then writes the results
// back under a short lock. Slow hardware I/O therefore never blocks
// readers of the feed-state table.
func (s *Scheduler) pollDueFeeds() {
	now := s.now()
	infos := s.registry.Snapshot()

	var due []dueFeed
	open := 0

	s.feedsMu.Lock()
	live := make(map[string]bool, len(infos))
	for _, info := range infos {
		live[info.Key] = true
		fs, ok := s.feedStates[info.Key]
		if !ok {
			// Lazily created; the registry primed the cache on
			// construction, so the first scheduled poll waits a
			// full interval.
			fs = &feedState{lastUpdate: now, breaker: newBreaker(s.opts.Breaker)}
			s.feedStates[info.Key] = fs
		}
		// The effective interval may have changed as consumers came
		// and went; the registry's minimum is authoritative.
		fs.interval = info.MinInterval

		if st, _, _ := fs.breaker.snapshot(); st == breakerOpen {
			open++
		}
		if now.Sub(fs.lastUpdate) >= fs.interval && fs.breaker.allow(now) {
			due = append(due, dueFeed{key: info.Key, fs: fs})
		}
	}
	// Drop tracking for feeds that no longer exist in the registry.
	for key := range s.feedStates {
		if !live[key] {
			delete(s.feedStates, key)
		}
	}
	s.feedsMu.Unlock()
	openBreakers.Set(float64(open))

	polled := make([]dueFeed, 0, len(due))
	gone := make([]string, 0)

	for _, d := range due {
		start := time.Now()
		_, err := s.registry.Poll(d.key)
		feedPollDuration.Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			feedPolls.WithLabelValues("success").Inc()
			d.fs.breaker.recordSuccess()
			polled = append(polled, d)
		case errors.Is(err, feeds.ErrFeedNotFound):
			// Expected race: the feed was released while due. Drop
			// the tracking entry instead of counting a failure.
			feedPolls.WithLabelValues("not_found").Inc()
			log.WithFields(log.Fields{"key": d.key}).Debug("Feed vanished before poll")
			gone = append(gone, d.key)
		default:
			feedPolls.WithLabelValues("error").Inc()
			d.fs.breaker.recordFailure(now)
			log.WithFields(log.Fields{"key": d.key, "error": err}).Warn("Feed poll failed")
		}
	}

	if len(polled) == 0 && len(gone) == 0 {
		return
	}
	s.feedsMu.Lock()
	for _, d := range polled {
		d.fs.lastUpdate = now
	}
	for _, key := range gone {
		delete(s.feedStates, key)
	}
	s.feedsMu.Unlock()
}

type updateTask struct {
	consumer Consumer
	feedKey  string
}

// updateDueConsumers spawns one update task per due consumer, bounded by a
// fixed-size worker pool, and waits for the whole batch before returning.
func (s *Scheduler) updateDueConsumers() {
	now := s.now()

	// Drift checks may construct feeds, so the due set is collected under
	// the lock and the registry calls happen with it released. Consumer
	// state fields are only ever written from the control loop, which makes
	// that safe.
	type driftCheck struct {
		id    string
		state *consumerState
	}
	var checks []driftCheck
	s.consumersMu.RLock()
	for id, state := range s.consumers {
		if now.Sub(state.lastConfigCheck) >= s.opts.ConfigCheckInterval {
			checks = append(checks, driftCheck{id: id, state: state})
		}
	}
	s.consumersMu.RUnlock()
	for _, c := range checks {
		s.checkConfigDrift(c.id, c.state, now)
	}

	var tasks []updateTask

	s.consumersMu.Lock()
	for _, state := range s.consumers {
		if now.Sub(state.lastUpdate) >= state.cachedInterval {
			state.lastUpdate = now
			tasks = append(tasks, updateTask{consumer: state.consumer, feedKey: state.feedKey})
		}
	}
	s.consumersMu.Unlock()

	if len(tasks) == 0 {
		return
	}

	work := make(chan updateTask)
	var wg sync.WaitGroup

	workers := min(s.opts.MaxConcurrentUpdates, len(tasks))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				s.runUpdate(t)
			}
		}()
	}

	for _, t := range tasks {
		work <- t
	}
	close(work)
	wg.Wait()
}

// runUpdate pushes cached feed values into one consumer. Errors are logged
// and isolated; they never affect the loop or other consumers.
func (s *Scheduler) runUpdate(t updateTask) {
	var values models.Values
	if t.feedKey != "" {
		values, _ = s.registry.Cached(t.feedKey)
	}

	if err := t.consumer.Update(values); err != nil {
		consumerUpdates.WithLabelValues("error").Inc()
		log.WithFields(log.Fields{
			"consumer": t.consumer.ID(),
			"error":    err,
		}).Error("Consumer update failed")
		return
	}
	consumerUpdates.WithLabelValues("success").Inc()
}

// checkConfigDrift re-hashes the scheduling-relevant subset of a consumer's
// configuration (feed type + interval, never the full option set) and
// re-homes the consumer when its feed identity changed. Runs on the control
// loop with no scheduler lock held, since re-homing polls hardware.
func (s *Scheduler) checkConfigDrift(id string, state *consumerState, now time.Time) {
	state.lastConfigCheck = now

	sc := state.consumer.SchedulingConfig()
	hash := feeds.SchedulingHash(sc.FeedType, sc.Interval)
	changed := hash != state.schedHash
	if changed {
		state.schedHash = hash
		state.cachedInterval = sc.Interval
		log.WithFields(log.Fields{
			"consumer": id,
			"interval": sc.Interval,
		}).Debug("Consumer scheduling config changed")
	}

	if sc.FeedConfig == nil {
		if state.feedKey != "" {
			if s.registry.Release(state.feedKey, id) {
				s.dropFeedState(state.feedKey)
			}
			state.feedKey = ""
		}
		return
	}

	newKey, err := sc.FeedConfig.Key()
	if err != nil {
		log.WithFields(log.Fields{"consumer": id, "error": err}).Error("Feed config hash failed")
		return
	}

	if newKey == state.feedKey {
		if changed {
			s.registry.UpdateInterval(state.feedKey, id, sc.Interval)
		}
		return
	}

	// Feed identity changed (or construction failed earlier and feedKey
	// is empty): move to the new feed and garbage-collect the old one.
	if state.feedKey != "" {
		if s.registry.Release(state.feedKey, id) {
			s.dropFeedState(state.feedKey)
		}
	}
	key, err := s.registry.GetOrCreate(sc.FeedConfig, id)
	if err != nil {
		log.WithFields(log.Fields{"consumer": id, "error": err}).Error("Feed construction failed")
		state.feedKey = ""
		return
	}
	state.feedKey = key
}
