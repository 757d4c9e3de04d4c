// Package registry tracks the receiver session bound to each live connection.
package registry

import (
	"sync"

	"ftx/internal/receiver"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Factory builds the session for a newly opened connection.
type Factory func(id string) *receiver.Session

// Registry maps connection ids to their sessions. It is safe for concurrent
// use; each session serializes its own input.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*receiver.Session
	factory  Factory
}

// New returns an empty registry that creates sessions with factory.
func New(factory Factory) *Registry {
	return &Registry{
		sessions: make(map[string]*receiver.Session),
		factory:  factory,
	}
}

// WithOptions returns a factory producing sessions configured by opts.
func WithOptions(opts receiver.Options) Factory {
	return func(id string) *receiver.Session {
		return receiver.NewSession(id, opts)
	}
}

// NewID returns a fresh connection identifier.
func NewID() string {
	return uuid.NewString()
}

// Open creates the session for id. A stale session registered under the same
// id is closed and replaced.
func (r *Registry) Open(id string) *receiver.Session {
	s := r.factory(id)

	r.mu.Lock()
	stale := r.sessions[id]
	r.sessions[id] = s
	r.mu.Unlock()

	if stale != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Open",
			"conn_id":  id,
		}).Warn("Replacing stale session")
		_ = stale.Close()
	}
	return s
}

// Get returns the session for id, if any.
func (r *Registry) Get(id string) (*receiver.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Dispatch feeds data to the session for id and returns its replies. Bytes
// for an unknown id are dropped. Once the session is terminal its file handle
// and buffer are released; the entry remains until Close.
func (r *Registry) Dispatch(id string, data []byte) ([][]byte, error) {
	s, ok := r.Get(id)
	if !ok || s.Terminal() {
		return nil, nil
	}

	replies, err := s.OnBytes(data)
	if err != nil {
		return nil, err
	}
	if s.Terminal() {
		if cerr := s.Close(); cerr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Dispatch",
				"conn_id":  id,
				"error":    cerr.Error(),
			}).Warn("Failed to release terminal session")
		}
	}
	return replies, nil
}

// Close removes and disposes the session for id. Unknown ids are ignored.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		_ = s.Close()
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll disposes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*receiver.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}
