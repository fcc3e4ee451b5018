package session

import "sync"

// Registry is the process-wide table of live sessions. It only guards
// insertion and lookup; per-session serialization is the Session's own lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the live session for key, lazily creating it on first
// reference.
func (r *Registry) GetOrCreate(key string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s
	}
	s = newSession(key)
	r.sessions[key] = s
	return s
}

// Get returns the live session for key, or nil if none exists.
func (r *Registry) Get(key string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[key]
}

// All returns a snapshot of every live session, used by the disconnection
// sweeper.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
