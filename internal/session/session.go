// Package session implements the per-session coordination core: presence,
// admin-gated join and write approvals, and event fan-out to connected
// participants. All external collaborators (project records, the workspace
// file system, the lifecycle bus, the websocket transport) are reached
// through narrow interfaces so the core can be exercised in isolation.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionInactive  = errors.New("session is inactive")
	ErrSessionFull      = errors.New("session is full")
	ErrInvalidPath      = errors.New("invalid path")
	ErrUnauthorized     = errors.New("not authorized")
	ErrApprovalNotFound = errors.New("approval not found")
)

// Colors assigned to participants on admit. Collisions are allowed.
var userColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
}

// Participant is one logical person currently associated with a session.
// StableID is a client-held token that survives reconnects; ConnID is the
// current transport connection and is rewritten on every reconnect.
type Participant struct {
	StableID    string `json:"stable_id"`
	ConnID      string `json:"conn_id"`
	Username    string `json:"username"`
	Color       string `json:"color"`
	CurrentFile string `json:"current_file,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// UserDescriptor identifies the acting user on file events without tying the
// event to a live connection.
type UserDescriptor struct {
	Username string `json:"username"`
	Color    string `json:"color"`
}

type ApprovalKind string

const (
	ApprovalJoin  ApprovalKind = "join"
	ApprovalWrite ApprovalKind = "write"
)

// PendingApproval is one outstanding admin-gated request. At most one
// join-kind approval exists per stable identity within a session.
type PendingApproval struct {
	ID       string
	Kind     ApprovalKind
	ConnID   string
	StableID string

	// join
	Username    string
	IsAnonymous bool

	// write
	Path    string
	Content string
	By      UserDescriptor
}

// Session is the live, in-memory state of one collaboration. It is owned
// exclusively by the Registry; all mutations go through Service methods,
// which hold mu for the full handler including broadcast side effects.
type Session struct {
	mu sync.Mutex

	Key          string
	closed       bool
	participants []*Participant
	pending      map[string]*PendingApproval
}

func newSession(key string) *Session {
	return &Session{
		Key:     key,
		pending: make(map[string]*PendingApproval),
	}
}

func (s *Session) byConnID(connID string) (*Participant, int) {
	for i, p := range s.participants {
		if p.ConnID == connID {
			return p, i
		}
	}
	return nil, -1
}

func (s *Session) byStableID(stableID string) *Participant {
	if stableID == "" {
		return nil
	}
	for _, p := range s.participants {
		if p.StableID == stableID {
			return p
		}
	}
	return nil
}

func (s *Session) pendingJoinFor(stableID string) *PendingApproval {
	if stableID == "" {
		return nil
	}
	for _, a := range s.pending {
		if a.Kind == ApprovalJoin && a.StableID == stableID {
			return a
		}
	}
	return nil
}

func (s *Session) removeParticipantAt(i int) {
	s.participants = append(s.participants[:i], s.participants[i+1:]...)
}

// roster returns a copy of the participant slice for snapshot events, so the
// receiver cannot observe later mutations mid-marshal.
func (s *Session) roster() []*Participant {
	out := make([]*Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

// ProjectRecord is the slice of the persisted project this core consumes but
// does not own.
type ProjectRecord struct {
	SessionKey    string
	Name          string
	Capacity      int
	AdminID       uint
	WorkspaceRoot string
	Active        bool
}

// ProjectStore looks up and flags project records. Implementations return
// ErrSessionNotFound when no project matches the key.
type ProjectStore interface {
	FindBySessionKey(key string) (*ProjectRecord, error)
	SetInactive(key string) error
}

// Storage is the external file-system collaborator used by the
// write-approval workflow. WriteFile must reject paths escaping root with
// ErrInvalidPath and return the new modification time on success.
type Storage interface {
	CheckPath(root, path string) error
	WriteFile(ctx context.Context, root, path, content string) (time.Time, error)
}

// Publisher pushes lifecycle events onto the bus. A nil Publisher disables
// publishing.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}
