package signalling

import (
	"context"
	"fmt"
	"sync"

	"ftx/pkg/utils"
)

// MemoryServer is a process-local SignalingServer, for running both peers in
// one process.
type MemoryServer struct {
	mu       sync.Mutex
	sessions map[string]*Session
	answered map[string]chan struct{}
}

var _ SignalingServer = (*MemoryServer)(nil)

func NewMemoryServer() *MemoryServer {
	return &MemoryServer{
		sessions: make(map[string]*Session),
		answered: make(map[string]chan struct{}),
	}
}

func (m *MemoryServer) CreateSession(_ context.Context, offer string) (string, error) {
	code, err := utils.GenerateCode(utils.CodeLength)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[code] = &Session{ID: code, Offer: offer}
	m.answered[code] = make(chan struct{})
	return code, nil
}

func (m *MemoryServer) GetOffer(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Offer == "" {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s.Offer, nil
}

func (m *MemoryServer) UpdateAnswer(_ context.Context, sessionID, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	alreadyAnswered := s.Answer != ""
	s.Answer = answer
	if !alreadyAnswered {
		close(m.answered[sessionID])
	}
	return nil
}

func (m *MemoryServer) WaitForAnswer(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	ch, ok := m.answered[sessionID]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	select {
	case <-ch:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s.Answer, nil
}

func (m *MemoryServer) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.answered, sessionID)
	return nil
}
