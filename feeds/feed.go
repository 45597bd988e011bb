package feeds

import (
	"errors"
	"fmt"
	"sync"

	"vitals/models"
)

var (
	// ErrFeedNotFound is returned when a feed key no longer resolves to a
	// live feed. Callers treat this as an expected race, not a failure.
	ErrFeedNotFound = errors.New("feed not found")

	// ErrUnknownFeedType is returned by the factory for unregistered types.
	ErrUnknownFeedType = errors.New("unknown feed type")
)

// Feed is a data collector. Implementations poll some underlying system
// resource and expose the latest readings as a value map. Poll may fail;
// Values returns whatever the last successful poll produced.
type Feed interface {
	Configure(cfg *Config) error
	Poll() error
	Values() models.Values
}

// Constructor builds an unconfigured feed instance.
type Constructor func() Feed

// Factory creates feeds by type name.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register adds a constructor for a feed type, replacing any previous one.
func (f *Factory) Register(feedType string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[feedType] = ctor
}

// Create builds a new unconfigured feed of the given type.
func (f *Factory) Create(feedType string) (Feed, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[feedType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeedType, feedType)
	}
	return ctor(), nil
}

// Types returns the registered feed type names.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	return types
}

// DefaultFactory returns a factory with all built-in feed types registered.
func DefaultFactory() *Factory {
	f := NewFactory()
	f.Register(TypeCPU, func() Feed { return NewCPUFeed() })
	f.Register(TypeMemory, func() Feed { return NewMemoryFeed() })
	f.Register(TypeDisk, func() Feed { return NewDiskFeed() })
	f.Register(TypeNetwork, func() Feed { return NewNetworkFeed() })
	f.Register(TypeTemps, func() Feed { return NewTempsFeed() })
	f.Register(TypeClock, func() Feed { return NewClockFeed() })
	f.Register(TypeTest, func() Feed { return NewTestFeed() })
	return f
}
