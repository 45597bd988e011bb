package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vitals/feeds"
	"vitals/models"
)

// stubConsumer is a minimal scheduling client whose configuration can be
// swapped mid-test to exercise drift detection.
type stubConsumer struct {
	id string

	mu      sync.Mutex
	cfg     SchedulingConfig
	updates int
	last    models.Values
	err     error
}

func (c *stubConsumer) ID() string {
	return c.id
}

func (c *stubConsumer) SchedulingConfig() SchedulingConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *stubConsumer) Update(values models.Values) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	c.last = values
	return c.err
}

func (c *stubConsumer) setConfig(cfg SchedulingConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

func (c *stubConsumer) updateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates
}

func (c *stubConsumer) lastValues() models.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// failingFeed always errors, driving the breaker.
type failingFeed struct {
	polls int
}

func (f *failingFeed) Configure(cfg *feeds.Config) error { return nil }
func (f *failingFeed) Poll() error {
	f.polls++
	return errors.New("sensor unavailable")
}
func (f *failingFeed) Values() models.Values { return nil }

func testConfig(interval time.Duration, options map[string]interface{}) SchedulingConfig {
	return SchedulingConfig{
		FeedType: feeds.TypeTest,
		Interval: interval,
		FeedConfig: &feeds.Config{
			Type:         feeds.TypeTest,
			PollInterval: interval,
			Options:      options,
		},
	}
}

// testScheduler returns a scheduler with a swappable clock starting at a
// fixed instant.
func testScheduler(registry *feeds.Registry, opts Options) (*Scheduler, *time.Time) {
	s := New(registry, opts)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestMailboxCapacity(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s := New(registry, Options{MailboxSize: 2})

	assert.True(t, s.EnqueueAdd(&stubConsumer{id: "a"}))
	assert.True(t, s.EnqueueAdd(&stubConsumer{id: "b"}))

	// Mailbox full, both adds and removes are dropped
	assert.False(t, s.EnqueueAdd(&stubConsumer{id: "c"}))
	assert.False(t, s.EnqueueRemove("a"))

	s.tick()

	// Drained, there is room again
	assert.True(t, s.EnqueueAdd(&stubConsumer{id: "c"}))
}

func TestMailboxRegistrationStorm(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s := New(registry, Options{})

	accepted := 0
	for i := 0; i < 300; i++ {
		if s.EnqueueAdd(&stubConsumer{id: fmt.Sprintf("panel-%d", i)}) {
			accepted++
		}
	}
	// Default mailbox capacity, the overflow is dropped
	assert.Equal(t, 256, accepted)

	s.tick()
	assert.Equal(t, 256, s.Diagnostics().Consumers)
}

func TestRegisterSharesFeed(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s, _ := testScheduler(registry, Options{})

	fast := &stubConsumer{id: "fast", cfg: testConfig(100*time.Millisecond, nil)}
	slow := &stubConsumer{id: "slow", cfg: testConfig(500*time.Millisecond, nil)}
	assert.True(t, s.EnqueueAdd(fast))
	assert.True(t, s.EnqueueAdd(slow))

	s.tick()

	assert.Equal(t, 1, registry.Len())

	diag := s.Diagnostics()
	assert.Equal(t, 2, diag.Consumers)
	assert.Len(t, diag.Feeds, 1)
	assert.Equal(t, 2, diag.Feeds[0].RefCount)
	assert.Equal(t, int64(100), diag.Feeds[0].MinIntervalMs)
	assert.Equal(t, "closed", diag.Feeds[0].BreakerState)
}

func TestUnregisterLastConsumerDestroysFeed(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s, _ := testScheduler(registry, Options{})

	a := &stubConsumer{id: "a", cfg: testConfig(100*time.Millisecond, nil)}
	b := &stubConsumer{id: "b", cfg: testConfig(100*time.Millisecond, nil)}
	s.EnqueueAdd(a)
	s.EnqueueAdd(b)
	s.tick()
	assert.Equal(t, 1, registry.Len())

	s.EnqueueRemove("a")
	s.tick()
	assert.Equal(t, 1, registry.Len())

	s.EnqueueRemove("b")
	s.tick()
	assert.Equal(t, 0, registry.Len())
	assert.Equal(t, 0, s.Diagnostics().Consumers)
}

func TestDuplicateIDReplacesRegistration(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s, _ := testScheduler(registry, Options{})

	first := &stubConsumer{id: "panel", cfg: testConfig(time.Second, map[string]interface{}{"waveform": "sine"})}
	second := &stubConsumer{id: "panel", cfg: testConfig(time.Second, map[string]interface{}{"waveform": "square"})}
	s.EnqueueAdd(first)
	s.EnqueueAdd(second)

	s.tick()

	// The first registration was replaced and its feed torn down
	assert.Equal(t, 1, s.Diagnostics().Consumers)
	assert.Equal(t, 1, registry.Len())

	wantKey, err := second.SchedulingConfig().FeedConfig.Key()
	assert.NoError(t, err)
	assert.Equal(t, wantKey, s.Diagnostics().Feeds[0].Key)
}

func TestDueConsumersReceiveCachedValues(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s, now := testScheduler(registry, Options{})

	consumer := &stubConsumer{id: "panel", cfg: testConfig(100*time.Millisecond, nil)}
	s.EnqueueAdd(consumer)
	s.tick()

	// Not due yet, nothing happens
	assert.Equal(t, 0, consumer.updateCount())

	*now = now.Add(150 * time.Millisecond)
	s.tick()

	assert.Equal(t, 1, consumer.updateCount())
	values := consumer.lastValues()
	assert.NotNil(t, values)
	assert.Contains(t, values, "value")

	// Immediately after an update the consumer is not due again
	s.tick()
	assert.Equal(t, 1, consumer.updateCount())
}

func TestUpdateErrorsAreIsolated(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s, now := testScheduler(registry, Options{})

	broken := &stubConsumer{id: "broken", cfg: testConfig(100*time.Millisecond, nil), err: errors.New("render failed")}
	healthy := &stubConsumer{id: "healthy", cfg: testConfig(100*time.Millisecond, nil)}
	s.EnqueueAdd(broken)
	s.EnqueueAdd(healthy)
	s.tick()

	*now = now.Add(150 * time.Millisecond)
	s.tick()

	// One consumer failing never starves the other
	assert.Equal(t, 1, broken.updateCount())
	assert.Equal(t, 1, healthy.updateCount())
}

func TestConcurrentUpdatesBounded(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s, now := testScheduler(registry, Options{MaxConcurrentUpdates: 2})

	var inFlight, maxInFlight int64
	consumers := make([]*boundedConsumer, 8)
	for i := range consumers {
		consumers[i] = &boundedConsumer{
			id:          fmt.Sprintf("panel-%d", i),
			inFlight:    &inFlight,
			maxInFlight: &maxInFlight,
		}
		s.EnqueueAdd(consumers[i])
	}
	s.tick()

	*now = now.Add(time.Second)
	s.tick()

	for _, c := range consumers {
		assert.Equal(t, int64(1), atomic.LoadInt64(&c.updates))
	}
	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(2))
}

// boundedConsumer tracks how many updates run at once. It has no shared
// feed, so the scheduler updates it on its own interval with nil values.
type boundedConsumer struct {
	id string

	inFlight    *int64
	maxInFlight *int64
	updates     int64
}

func (c *boundedConsumer) ID() string { return c.id }

func (c *boundedConsumer) SchedulingConfig() SchedulingConfig {
	return SchedulingConfig{FeedType: "self", Interval: 100 * time.Millisecond}
}

func (c *boundedConsumer) Update(values models.Values) error {
	n := atomic.AddInt64(c.inFlight, 1)
	for {
		max := atomic.LoadInt64(c.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt64(c.maxInFlight, max, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt64(c.inFlight, -1)
	atomic.AddInt64(&c.updates, 1)
	return nil
}

func TestConfigDriftRehomesConsumer(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s, now := testScheduler(registry, Options{})

	consumer := &stubConsumer{id: "panel", cfg: testConfig(time.Second, map[string]interface{}{"waveform": "sine"})}
	s.EnqueueAdd(consumer)
	s.tick()

	oldKey, err := consumer.SchedulingConfig().FeedConfig.Key()
	assert.NoError(t, err)

	// The panel switches waveforms; same type and interval but a new
	// sharing identity
	consumer.setConfig(testConfig(time.Second, map[string]interface{}{"waveform": "square"}))
	newKey, err := consumer.SchedulingConfig().FeedConfig.Key()
	assert.NoError(t, err)
	assert.NotEqual(t, oldKey, newKey)

	*now = now.Add(2 * time.Second)
	s.tick()

	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, newKey, s.Diagnostics().Feeds[0].Key)
	_, ok := registry.Cached(oldKey)
	assert.False(t, ok)
}

func TestConfigDriftIntervalChange(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s, now := testScheduler(registry, Options{})

	consumer := &stubConsumer{id: "panel", cfg: testConfig(time.Second, nil)}
	s.EnqueueAdd(consumer)
	s.tick()

	key, err := consumer.SchedulingConfig().FeedConfig.Key()
	assert.NoError(t, err)

	// Same feed identity, faster cadence
	consumer.setConfig(testConfig(100*time.Millisecond, nil))

	*now = now.Add(2 * time.Second)
	s.tick()

	assert.Equal(t, 1, registry.Len())
	interval, ok := registry.MinInterval(key)
	assert.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, interval)
}

func TestBreakerSuppressesFailingFeed(t *testing.T) {
	feed := &failingFeed{}
	factory := feeds.NewFactory()
	factory.Register("flaky", func() feeds.Feed { return feed })
	registry := feeds.NewRegistry(factory)

	s, now := testScheduler(registry, Options{
		Breaker: BreakerConfig{
			FailureThreshold:  3,
			BaseRetryInterval: 10 * time.Second,
			MaxRetryInterval:  300 * time.Second,
		},
	})

	consumer := &stubConsumer{id: "panel", cfg: SchedulingConfig{
		FeedType: "flaky",
		Interval: 100 * time.Millisecond,
		FeedConfig: &feeds.Config{
			Type:         "flaky",
			PollInterval: 100 * time.Millisecond,
		},
	}}
	s.EnqueueAdd(consumer)
	s.tick() // registration primes the cache once, and that poll fails

	assert.Equal(t, 1, feed.polls)

	// Three scheduled polls fail and trip the breaker
	for i := 0; i < 3; i++ {
		*now = now.Add(200 * time.Millisecond)
		s.tick()
	}
	assert.Equal(t, 4, feed.polls)
	assert.Equal(t, "open", s.Diagnostics().Feeds[0].BreakerState)

	// While open, due ticks do not touch the feed
	*now = now.Add(200 * time.Millisecond)
	s.tick()
	assert.Equal(t, 4, feed.polls)

	// After the retry interval one probe goes through and fails, doubling
	// the retry interval
	*now = now.Add(10 * time.Second)
	s.tick()
	assert.Equal(t, 5, feed.polls)

	diag := s.Diagnostics()
	assert.Equal(t, "open", diag.Feeds[0].BreakerState)
	assert.Equal(t, int64(20000), diag.Feeds[0].RetryIntervalMs)

	// Consumers keep getting updates from the (empty) cache regardless
	assert.Greater(t, consumer.updateCount(), 0)
}

// blockingConsumer parks inside Update until released, so a batch can be
// held in flight while the test pokes at the scheduler.
type blockingConsumer struct {
	id        string
	started   chan<- struct{}
	release   <-chan struct{}
	completed *int64
}

func (c *blockingConsumer) ID() string { return c.id }

func (c *blockingConsumer) SchedulingConfig() SchedulingConfig {
	return SchedulingConfig{FeedType: "self", Interval: time.Nanosecond}
}

func (c *blockingConsumer) Update(values models.Values) error {
	c.started <- struct{}{}
	<-c.release
	atomic.AddInt64(c.completed, 1)
	return nil
}

func TestStopAwaitsInFlightUpdates(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s := New(registry, Options{BaseTick: 5 * time.Millisecond, MaxConcurrentUpdates: 5})

	started := make(chan struct{}, 5)
	release := make(chan struct{})
	var completed int64

	for i := 0; i < 5; i++ {
		s.EnqueueAdd(&blockingConsumer{
			id:        fmt.Sprintf("panel-%d", i),
			started:   started,
			release:   release,
			completed: &completed,
		})
	}

	runDone := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(runDone)
	}()

	// Wait until the whole batch is in flight
	for i := 0; i < 5; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("updates never started")
		}
	}

	s.Stop()

	// Updates are still parked, Run must not have returned
	select {
	case <-runDone:
		t.Fatal("Run returned with updates in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after updates completed")
	}
	assert.Equal(t, int64(5), atomic.LoadInt64(&completed))
}

// gatedFeed parks inside its first Poll until released, simulating a feed
// whose construction-time poll talks to slow hardware.
type gatedFeed struct {
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

func (f *gatedFeed) Configure(cfg *feeds.Config) error { return nil }

func (f *gatedFeed) Poll() error {
	f.startOnce.Do(func() { close(f.started) })
	<-f.release
	return nil
}

func (f *gatedFeed) Values() models.Values { return models.Values{} }

func TestDiagnosticsNotBlockedByRehoming(t *testing.T) {
	gated := &gatedFeed{started: make(chan struct{}), release: make(chan struct{})}
	factory := feeds.NewFactory()
	factory.Register(feeds.TypeTest, func() feeds.Feed { return feeds.NewTestFeed() })
	factory.Register("gated", func() feeds.Feed { return gated })
	registry := feeds.NewRegistry(factory)

	s, now := testScheduler(registry, Options{})

	consumer := &stubConsumer{id: "panel", cfg: testConfig(time.Second, nil)}
	s.EnqueueAdd(consumer)
	s.tick()

	// The panel moves to a feed whose construction-time poll hangs
	consumer.setConfig(SchedulingConfig{
		FeedType: "gated",
		Interval: time.Second,
		FeedConfig: &feeds.Config{
			Type:         "gated",
			PollInterval: time.Second,
		},
	})
	*now = now.Add(2 * time.Second)

	tickDone := make(chan struct{})
	go func() {
		s.tick()
		close(tickDone)
	}()
	<-gated.started

	// Diagnostics must stay responsive while the poll is parked
	diagDone := make(chan struct{})
	go func() {
		s.Diagnostics()
		close(diagDone)
	}()
	select {
	case <-diagDone:
	case <-time.After(time.Second):
		t.Fatal("Diagnostics blocked during feed construction")
	}

	close(gated.release)
	select {
	case <-tickDone:
	case <-time.After(time.Second):
		t.Fatal("tick did not finish after the poll was released")
	}
}

func TestStopEndsRun(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s := New(registry, Options{BaseTick: 10 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestContextCancelEndsRun(t *testing.T) {
	registry := feeds.NewRegistry(feeds.DefaultFactory())
	s := New(registry, Options{BaseTick: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}
	opts.withDefaults()

	assert.Equal(t, 250*time.Millisecond, opts.BaseTick)
	assert.Equal(t, time.Second, opts.ConfigCheckInterval)
	assert.Equal(t, 256, opts.MailboxSize)
	assert.Equal(t, 16, opts.MaxConcurrentUpdates)
	assert.Equal(t, 3, opts.Breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, opts.Breaker.BaseRetryInterval)
	assert.Equal(t, 300*time.Second, opts.Breaker.MaxRetryInterval)
}
