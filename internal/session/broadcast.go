package session

import (
	"encoding/json"
	"time"
)

// CursorMove fans a cursor position out to everyone but the sender,
// enriched with the sender's color and username. Unknown connections are
// dropped silently.
func (s *Service) CursorMove(key, connID string, position json.RawMessage, file string) error {
	sess := s.registry.Get(key)
	if sess == nil {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrSessionInactive
	}
	p, _ := sess.byConnID(connID)
	if p == nil {
		return nil
	}
	s.rooms.ToRoom(key, CursorUpdate{
		ConnID:   connID,
		Position: position,
		File:     file,
		Color:    p.Color,
		Username: p.Username,
	}, connID)
	return nil
}

// ContentChange fans an opaque content diff out to everyone but the sender.
// Diffs are not merged server-side; the storage layer is last-write-wins.
func (s *Service) ContentChange(key, connID string, changes json.RawMessage, file string, version int) error {
	sess := s.registry.Get(key)
	if sess == nil {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrSessionInactive
	}
	s.rooms.ToRoom(key, ContentUpdate{
		ConnID:  connID,
		Changes: changes,
		File:    file,
		Version: version,
	}, connID)
	return nil
}

// OpenFile records the participant's current file and tells the whole room,
// the sender included: the origin's own UI reacts to the broadcast too.
func (s *Service) OpenFile(key, connID, file string) error {
	sess := s.registry.Get(key)
	if sess == nil {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrSessionInactive
	}
	if p, _ := sess.byConnID(connID); p != nil {
		p.CurrentFile = file
	}
	s.rooms.ToRoom(key, UserFileChange{ConnID: connID, File: file})
	return nil
}

// Chat echoes a message to the whole room with a server-assigned UTC
// timestamp. If the username matches a connected participant the message
// carries that participant's color, otherwise a neutral fallback.
func (s *Service) Chat(key, connID, username, message string) error {
	sess := s.registry.Get(key)
	if sess == nil {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrSessionInactive
	}
	color := "#999"
	for _, p := range sess.participants {
		if p.Username == username {
			color = p.Color
			break
		}
	}
	s.rooms.ToRoom(key, ChatMessage{
		Username:  username,
		Color:     color,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// FileSaved broadcasts a direct admin commit. The admin's writes bypass the
// approval workflow entirely; the REST handler performs the write and calls
// this for fan-out.
func (s *Service) FileSaved(key, path, content string, mtime time.Time, by UserDescriptor) error {
	sess := s.registry.Get(key)
	if sess == nil {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return ErrSessionInactive
	}
	s.rooms.ToRoom(key, FileSaved{
		Path:    path,
		User:    by,
		Content: content,
		MTime:   float64(mtime.UnixNano()) / 1e9,
	})
	s.publish("file.saved", map[string]string{"session_key": key, "path": path})
	return nil
}

// FileCreated, FileDeleted and FileRenamed broadcast admin tree mutations
// performed over REST.

func (s *Service) NotifyFileCreated(key, path string, isDir bool) {
	s.notifyTree(key, FileCreated{Path: path, IsDir: isDir})
}

func (s *Service) NotifyFileDeleted(key, path string) {
	s.notifyTree(key, FileDeleted{Path: path})
}

func (s *Service) NotifyFileRenamed(key, oldPath, newPath string) {
	s.notifyTree(key, FileRenamed{OldPath: oldPath, NewPath: newPath})
}

// NotifyTreeChanged reports an out-of-band workspace change seen on disk.
func (s *Service) NotifyTreeChanged(key, path, op string) {
	s.notifyTree(key, TreeChanged{Path: path, Op: op})
}

func (s *Service) notifyTree(key string, e Event) {
	sess := s.registry.Get(key)
	if sess == nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	s.rooms.ToRoom(key, e)
}
