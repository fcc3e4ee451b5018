package session

import (
	"context"

	"github.com/google/uuid"
)

func newApprovalID() string {
	return uuid.NewString()
}

// ResolveJoin applies the admin's decision on a pending join. Unknown
// approval ids are a silent no-op: resolution is inherently racy against
// disconnects, so double-resolving must not double-notify.
func (s *Service) ResolveJoin(key, approvalID string, approved bool) error {
	proj, err := s.projects.FindBySessionKey(key)
	if err != nil {
		return ErrSessionNotFound
	}
	sess := s.registry.Get(key)
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrSessionInactive
	}

	a, ok := sess.pending[approvalID]
	if !ok || a.Kind != ApprovalJoin {
		return nil
	}
	delete(sess.pending, approvalID)

	if !approved {
		s.rooms.ToConn(a.ConnID, JoinRejected{Message: "Your request to join was denied"})
		return nil
	}

	// Capacity may have been exhausted between request and decision.
	if len(sess.participants) >= proj.Capacity {
		s.rooms.ToConn(a.ConnID, ErrorEvent{Message: "Session is full"})
		return ErrSessionFull
	}

	p := &Participant{
		StableID:    a.StableID,
		ConnID:      a.ConnID,
		Username:    a.Username,
		Color:       assignColor(),
		IsAnonymous: a.IsAnonymous,
		IsAdmin:     false,
	}
	sess.participants = append(sess.participants, p)

	// The target may have disconnected and reconnected while pending, so
	// room membership is established here against the current connection id.
	s.rooms.Join(key, a.ConnID, RoleMember)

	s.rooms.ToConn(a.ConnID, JoinApproved{User: p})
	s.rooms.ToConn(a.ConnID, SessionState{Users: sess.roster()})
	s.rooms.ToRoom(key, ParticipantJoined{
		Username: p.Username,
		Color:    p.Color,
		User:     p,
		Users:    sess.roster(),
	})
	s.publish("participant.joined", map[string]string{"session_key": key, "username": p.Username})
	return nil
}

// RequestWrite creates a write-kind pending approval for a non-admin save
// and notifies the admin room. connID may be empty when the requester has
// no live connection; the eventual private notification is then dropped.
func (s *Service) RequestWrite(key, connID, path, content string, by UserDescriptor) (string, error) {
	proj, sess, err := s.lookup(key, connID)
	if err != nil {
		return "", err
	}

	if err := s.storage.CheckPath(proj.WorkspaceRoot, path); err != nil {
		s.rooms.ToConn(connID, ErrorEvent{Message: "Invalid path"})
		return "", ErrInvalidPath
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return "", ErrSessionInactive
	}

	a := &PendingApproval{
		ID:      newApprovalID(),
		Kind:    ApprovalWrite,
		ConnID:  connID,
		Path:    path,
		Content: content,
		By:      by,
	}
	sess.pending[a.ID] = a
	s.rooms.ToAdmins(key, WriteApprovalRequest{
		ID:   a.ID,
		Kind: string(ApprovalWrite),
		Path: path,
		User: by,
	})
	return a.ID, nil
}

// ResolveWrite applies the admin's decision on a pending write. On approval
// the file is committed through the external storage collaborator and the
// room receives the new content; storage failures are reported room-wide,
// not privately (the requester's channel is not retained on this path).
// Either way the room sees an approval-result and the pending entry is
// removed exactly once.
func (s *Service) ResolveWrite(ctx context.Context, key, approvalID string, approved bool) error {
	proj, err := s.projects.FindBySessionKey(key)
	if err != nil {
		return ErrSessionNotFound
	}
	sess := s.registry.Get(key)
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrSessionInactive
	}

	a, ok := sess.pending[approvalID]
	if !ok || a.Kind != ApprovalWrite {
		return nil
	}
	delete(sess.pending, approvalID)

	if approved {
		mtime, err := s.storage.WriteFile(ctx, proj.WorkspaceRoot, a.Path, a.Content)
		if err != nil {
			s.rooms.ToRoom(key, ErrorEvent{Message: "Failed to save: " + err.Error()})
		} else {
			s.rooms.ToRoom(key, FileSaved{
				Path:    a.Path,
				User:    a.By,
				Content: a.Content,
				MTime:   float64(mtime.UnixNano()) / 1e9,
			})
			s.publish("file.saved", map[string]string{"session_key": key, "path": a.Path})
		}
	}

	s.rooms.ToRoom(key, ApprovalResult{ID: approvalID, Approved: approved})
	return nil
}
