package scheduler

import (
	"sort"

	"vitals/models"
)

// Diagnostics returns a read-only snapshot of the scheduler's state:
// active consumer count plus, per shared feed, its ref count, effective
// interval and circuit breaker state.
func (s *Scheduler) Diagnostics() models.Diagnostics {
	s.consumersMu.RLock()
	consumers := len(s.consumers)
	s.consumersMu.RUnlock()

	infos := s.registry.Snapshot()

	diag := models.Diagnostics{
		Consumers: consumers,
		Feeds:     make([]models.FeedDiagnostics, 0, len(infos)),
	}

	s.feedsMu.RLock()
	for _, info := range infos {
		fd := models.FeedDiagnostics{
			Key:           info.Key,
			RefCount:      info.RefCount,
			MinIntervalMs: info.MinInterval.Milliseconds(),
			BreakerState:  breakerClosed.String(),
		}
		if fs, ok := s.feedStates[info.Key]; ok {
			state, failures, retry := fs.breaker.snapshot()
			fd.BreakerState = state.String()
			fd.ConsecutiveFailures = failures
			fd.RetryIntervalMs = retry.Milliseconds()
		}
		diag.Feeds = append(diag.Feeds, fd)
	}
	s.feedsMu.RUnlock()

	sort.Slice(diag.Feeds, func(i, j int) bool { return diag.Feeds[i].Key < diag.Feeds[j].Key })
	return diag
}
