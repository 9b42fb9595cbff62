package broadcast

import (
	"sort"
	"time"
)

const (
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

// PruneStatuses drops finished statuses older than the TTL, then the oldest
// ones beyond the size bound. Running jobs are never dropped.
func (s *Service) PruneStatuses(now time.Time) int {
	return s.pruneStatus(now)
}

func (s *Service) pruneStatus(now time.Time) int {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	max := s.statusMax
	if max <= 0 {
		max = defaultStatusMax
	}
	ttl := s.statusTTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}

	removed := 0
	for id, st := range s.status {
		if st == nil {
			delete(s.status, id)
			removed++
			continue
		}
		if st.Running {
			continue
		}
		reference := st.DoneAt
		if reference.IsZero() {
			reference = st.CreatedAt
		}
		if !reference.IsZero() && now.Sub(reference) > ttl {
			delete(s.status, id)
			removed++
		}
	}

	if len(s.status) <= max {
		return removed
	}

	type kv struct {
		id string
		t  time.Time
	}
	items := make([]kv, 0, len(s.status))
	for id, st := range s.status {
		if st.Running || st.DoneAt.IsZero() {
			continue
		}
		items = append(items, kv{id: id, t: st.DoneAt})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].t.Before(items[j].t) })

	excess := len(s.status) - max
	for i := 0; i < excess && i < len(items); i++ {
		delete(s.status, items[i].id)
		removed++
	}
	return removed
}
