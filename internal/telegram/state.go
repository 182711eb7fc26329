package telegram

import "sync"

// supportSessions remembers which chats were asked to describe a problem for
// the support team. The next text of such a chat is forwarded.
type supportSessions struct {
	mu      sync.RWMutex
	waiting map[int64]bool
}

func newSupportSessions() *supportSessions {
	return &supportSessions{waiting: make(map[int64]bool)}
}

func (s *supportSessions) Start(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting[chatID] = true
}

func (s *supportSessions) Waiting(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waiting[chatID]
}

// Stop reports whether the chat was waiting.
func (s *supportSessions) Stop(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.waiting[chatID]
	delete(s.waiting, chatID)
	return was
}
