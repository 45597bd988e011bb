package panels

import (
	"sort"
	"sync"

	"vitals/models"
)

// Store holds the live panels so the HTTP layer can list and edit them.
// Scheduling state lives in the scheduler; this is only the display-side
// index.
type Store struct {
	mu     sync.RWMutex
	panels map[string]*Panel
}

func NewStore() *Store {
	return &Store{panels: make(map[string]*Panel)}
}

func (s *Store) Add(p *Panel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels[p.ID()] = p
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.panels, id)
}

func (s *Store) Get(id string) (*Panel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.panels[id]
	return p, ok
}

// Snapshots lists all panels sorted by ID.
func (s *Store) Snapshots() []models.PanelSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]models.PanelSnapshot, 0, len(s.panels))
	for _, p := range s.panels {
		snaps = append(snaps, p.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}
