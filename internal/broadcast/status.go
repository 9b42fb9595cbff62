package broadcast

import "kolpulse/internal/model"

const maxFailuresTracked = 200

func (s *Service) setRunning(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.StartedAt = s.now()
		st.Running = true
	}
}

func (s *Service) markDone(id string, ok, fallback bool, recipient int64) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status[id]
	if st == nil {
		return
	}
	st.Done++
	switch {
	case ok:
		st.Success++
		if fallback {
			st.Fallbacks++
		}
	default:
		st.Failed++
		if len(st.Failures) < maxFailuresTracked {
			st.Failures = append(st.Failures, recipient)
		}
	}
}

// finish copies the final persisted counts into the live status.
func (s *Service) finish(j model.BroadcastJob) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[j.ID]; st != nil {
		st.Success = j.Success
		st.Failed = j.Failed
		st.Done = j.Success + j.Failed
		st.DoneAt = s.now()
		st.Running = false
	}
}
