package session

// HandleDisconnect reacts to a transport-level disconnect. The first session
// holding a participant with this connection id loses that participant (a
// participant belongs to exactly one session at a time); pending approvals
// filed from the connection are purged across all sessions either way, so
// they cannot dangle forever.
func (s *Service) HandleDisconnect(connID string) {
	removed := false
	for _, sess := range s.registry.All() {
		sess.mu.Lock()

		if !removed {
			if p, i := sess.byConnID(connID); p != nil {
				sess.removeParticipantAt(i)
				s.rooms.Leave(sess.Key, connID)
				s.rooms.ToRoom(sess.Key, ParticipantLeft{ConnID: connID, Username: p.Username}, connID)
				s.publish("participant.left", map[string]string{"session_key": sess.Key, "username": p.Username})
				removed = true
			}
		}

		for id, a := range sess.pending {
			if a.ConnID == connID {
				delete(sess.pending, id)
			}
		}

		sess.mu.Unlock()
	}
}
