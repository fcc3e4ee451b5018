package session

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"time"
)

// Service owns every mutation of live session state. Each exported method
// runs the full handler, broadcasts included, under the target session's
// lock; independent sessions proceed concurrently.
type Service struct {
	registry *Registry
	rooms    *Rooms
	projects ProjectStore
	storage  Storage
	bus      Publisher
}

// NewService wires the coordination core. bus may be nil, in which case
// lifecycle events are not published.
func NewService(registry *Registry, rooms *Rooms, projects ProjectStore, storage Storage, bus Publisher) *Service {
	return &Service{
		registry: registry,
		rooms:    rooms,
		projects: projects,
		storage:  storage,
		bus:      bus,
	}
}

// Rooms exposes the membership relation to the transport layer, which needs
// it only for read-side diagnostics.
func (s *Service) Rooms() *Rooms { return s.rooms }

// IsAdmin reports whether accountID owns the project behind key. Used by
// transport adapters to gate admin-only inbound events.
func (s *Service) IsAdmin(key string, accountID uint) bool {
	proj, err := s.projects.FindBySessionKey(key)
	if err != nil {
		return false
	}
	return accountID != 0 && accountID == proj.AdminID
}

func assignColor() string {
	return userColors[rand.Intn(len(userColors))]
}

// lookup resolves the project record and live session for a mutating
// operation, notifying connID privately on failure.
func (s *Service) lookup(key, connID string) (*ProjectRecord, *Session, error) {
	proj, err := s.projects.FindBySessionKey(key)
	if err != nil {
		s.rooms.ToConn(connID, ErrorEvent{Message: "Session not found or inactive"})
		return nil, nil, ErrSessionNotFound
	}
	if !proj.Active {
		s.rooms.ToConn(connID, ErrorEvent{Message: "Session not found or inactive"})
		return nil, nil, ErrSessionInactive
	}
	sess := s.registry.GetOrCreate(key)
	return proj, sess, nil
}

func (s *Service) publish(routingKey string, payload any) {
	if s.bus == nil {
		return
	}
	body, err := json.Marshal(map[string]any{
		"event":     routingKey,
		"timestamp": time.Now().UTC(),
		"payload":   payload,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, routingKey, body); err != nil {
		log.Printf("❌ Failed to publish %s event: %v", routingKey, err)
	}
}

// SessionCreated reports a freshly provisioned session to the lifecycle
// bus.
func (s *Service) SessionCreated(key, name string) {
	s.publish("session.created", map[string]string{"session_key": key, "name": name})
}

// Close flags the owning project inactive, broadcasts a terminal
// session-closed event, and refuses all further mutations against the
// session. The live session object stays in the registry, only marked
// closed.
func (s *Service) Close(key string) error {
	sess := s.registry.Get(key)
	if sess == nil {
		// No live state; still flag the record so joins are refused.
		if err := s.projects.SetInactive(key); err != nil {
			return err
		}
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrSessionInactive
	}
	if err := s.projects.SetInactive(key); err != nil {
		return err
	}
	sess.closed = true
	s.rooms.ToRoom(key, SessionClosed{Message: "Session has been closed"})
	s.publish("session.closed", map[string]string{"session_key": key})
	return nil
}
