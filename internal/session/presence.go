package session

// Join handles a connection's request to enter a session. Depending on prior
// state this is a reconnect (connection id rewritten in place), a direct
// admit (session admin), a re-armed pending join (approval kept, connection
// id updated), or a fresh approval request routed to the admin room.
func (s *Service) Join(key, connID, stableID, username string, isAnonymous bool, accountID uint) error {
	proj, sess, err := s.lookup(key, connID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		s.rooms.ToConn(connID, ErrorEvent{Message: "Session not found or inactive"})
		return ErrSessionInactive
	}

	isAdmin := accountID != 0 && accountID == proj.AdminID

	// Requester reloaded while still pending: update the stored connection
	// id, re-send the waiting notice, do not re-notify the admin.
	if a := sess.pendingJoinFor(stableID); a != nil {
		a.ConnID = connID
		s.rooms.ToConn(connID, WaitingApproval{Message: "Waiting for admin approval..."})
		return nil
	}

	// Reconnect: same stable identity, new transport connection. Membership
	// is re-established and the roster snapshot re-sent; nobody else is
	// notified.
	if p := sess.byStableID(stableID); p != nil {
		s.rooms.Leave(key, p.ConnID)
		p.ConnID = connID
		role := RoleMember
		if isAdmin {
			p.IsAdmin = true
			role = RoleAdmin
		}
		s.rooms.Join(key, connID, role)
		s.rooms.ToConn(connID, ParticipantConnected{User: p})
		s.rooms.ToConn(connID, SessionState{Users: sess.roster()})
		return nil
	}

	if isAdmin {
		return s.admitDirect(proj, sess, stableID, connID, username, isAnonymous)
	}

	if len(sess.participants) >= proj.Capacity {
		s.rooms.ToConn(connID, ErrorEvent{Message: "Session is full"})
		return ErrSessionFull
	}

	a := &PendingApproval{
		ID:          newApprovalID(),
		Kind:        ApprovalJoin,
		ConnID:      connID,
		StableID:    stableID,
		Username:    username,
		IsAnonymous: isAnonymous,
	}
	sess.pending[a.ID] = a
	s.rooms.ToAdmins(key, JoinApprovalRequest{ID: a.ID, Username: username})
	s.rooms.ToConn(connID, WaitingApproval{Message: "Waiting for admin approval..."})
	return nil
}

// admitDirect adds a participant without approval. Callers hold sess.mu.
func (s *Service) admitDirect(proj *ProjectRecord, sess *Session, stableID, connID, username string, isAnonymous bool) error {
	if len(sess.participants) >= proj.Capacity {
		s.rooms.ToConn(connID, ErrorEvent{Message: "Session is full"})
		return ErrSessionFull
	}

	p := &Participant{
		StableID:    stableID,
		ConnID:      connID,
		Username:    username,
		Color:       assignColor(),
		IsAnonymous: isAnonymous,
		IsAdmin:     true,
	}
	sess.participants = append(sess.participants, p)
	s.rooms.Join(sess.Key, connID, RoleAdmin)

	s.rooms.ToConn(connID, ParticipantConnected{User: p})
	s.rooms.ToRoom(sess.Key, ParticipantJoined{
		Username: username,
		Color:    p.Color,
		User:     p,
		Users:    sess.roster(),
	})
	s.publish("participant.joined", map[string]string{"session_key": sess.Key, "username": username})
	return nil
}

// Leave handles a voluntary departure.
func (s *Service) Leave(key, connID string) error {
	sess := s.registry.Get(key)
	if sess == nil {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	p, i := sess.byConnID(connID)
	if p == nil {
		return nil
	}
	sess.removeParticipantAt(i)
	s.rooms.Leave(key, connID)
	s.rooms.ToRoom(key, ParticipantLeft{ConnID: connID, Username: p.Username})
	s.publish("participant.left", map[string]string{"session_key": key, "username": p.Username})
	return nil
}

// Evict removes a participant at the admin's request. Same removal
// semantics as Leave, plus a private forced-removal notice to the evicted
// connection. Authorization is checked at the transport boundary.
func (s *Service) Evict(key, connID string) error {
	sess := s.registry.Get(key)
	if sess == nil {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	p, i := sess.byConnID(connID)
	if p != nil {
		sess.removeParticipantAt(i)
		s.rooms.Leave(key, connID)
		s.rooms.ToRoom(key, ParticipantLeft{ConnID: connID, Username: p.Username})
		s.publish("participant.left", map[string]string{"session_key": key, "username": p.Username})
	}
	s.rooms.ToConn(connID, ForcedRemoval{Message: "You have been removed from the session"})
	return nil
}
