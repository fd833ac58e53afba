package reconcile

import "sync"

// Manager keeps at most one live session per order id
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Attach registers s under its order id, tearing down any session it replaces
func (m *Manager) Attach(s *Session) {
	orderID := s.OrderID()
	if orderID == "" {
		return
	}

	m.mu.Lock()
	prev := m.sessions[orderID]
	m.sessions[orderID] = s
	m.mu.Unlock()

	if prev != nil && prev != s {
		prev.Teardown()
	}
}

// AttachIfAbsent registers s unless a live session for its order id is
// already attached. It returns the session that ends up registered; a losing
// s is torn down.
func (m *Manager) AttachIfAbsent(s *Session) *Session {
	orderID := s.OrderID()
	if orderID == "" {
		return s
	}

	m.mu.Lock()
	current, ok := m.sessions[orderID]
	if ok && current != s && !current.Snapshot().Closed {
		m.mu.Unlock()
		s.Teardown()
		return current
	}
	m.sessions[orderID] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(orderID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[orderID]
	return s, ok
}

// Close tears down and forgets the session for orderID
func (m *Manager) Close(orderID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[orderID]
	delete(m.sessions, orderID)
	m.mu.Unlock()

	if ok {
		s.Teardown()
	}
	return ok
}

// Prune forgets sessions that reached a terminal status, ran out of polling
// window or were torn down
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		snap := s.Snapshot()
		if snap.Closed || (!snap.Polling && (snap.Status.IsTerminal() || snap.PollingExpired)) {
			s.Teardown()
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Teardown()
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
