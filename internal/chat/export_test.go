package chat

import "time"

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Tracked reports how many conversations the service keeps state for.
func (s *Service) Tracked() (conversations, timestamps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations), len(s.lastSent)
}
