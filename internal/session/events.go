package session

import "encoding/json"

// Event is one outbound message variant. The wire envelope is
// {"type": <EventType()>, "payload": <event>}; the set of variants below is
// closed and every field is statically typed.
type Event interface {
	EventType() string
}

// ParticipantConnected is sent privately to a connection after a direct
// admit or a reconnect.
type ParticipantConnected struct {
	User *Participant `json:"user"`
}

func (ParticipantConnected) EventType() string { return "participant-connected" }

// ParticipantJoined announces a new participant to the whole room, carrying
// the full updated roster.
type ParticipantJoined struct {
	Username string         `json:"username"`
	Color    string         `json:"color"`
	User     *Participant   `json:"user"`
	Users    []*Participant `json:"users"`
}

func (ParticipantJoined) EventType() string { return "participant-joined" }

type ParticipantLeft struct {
	ConnID   string `json:"conn_id"`
	Username string `json:"username"`
}

func (ParticipantLeft) EventType() string { return "participant-left" }

type WaitingApproval struct {
	Message string `json:"message"`
}

func (WaitingApproval) EventType() string { return "waiting-approval" }

// JoinApprovalRequest is sent to the admin room when a non-admin asks to
// join.
type JoinApprovalRequest struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (JoinApprovalRequest) EventType() string { return "join-approval-request" }

type JoinApproved struct {
	User *Participant `json:"user"`
}

func (JoinApproved) EventType() string { return "join-approved" }

type JoinRejected struct {
	Message string `json:"message"`
}

func (JoinRejected) EventType() string { return "join-rejected" }

// SessionState is the full roster snapshot sent to a connection on reconnect
// and on approved join.
type SessionState struct {
	Users []*Participant `json:"users"`
}

func (SessionState) EventType() string { return "session-state" }

// CursorUpdate fans out a cursor move, enriched with the sender's color and
// username so clients need no roster lookup.
type CursorUpdate struct {
	ConnID   string          `json:"conn_id"`
	Position json.RawMessage `json:"position"`
	File     string          `json:"file"`
	Color    string          `json:"color"`
	Username string          `json:"username"`
}

func (CursorUpdate) EventType() string { return "cursor-update" }

// ContentUpdate carries an opaque diff; the origin connection is excluded
// because it already holds the authoritative local state.
type ContentUpdate struct {
	ConnID  string          `json:"conn_id"`
	Changes json.RawMessage `json:"changes"`
	File    string          `json:"file"`
	Version int             `json:"version"`
}

func (ContentUpdate) EventType() string { return "content-update" }

type UserFileChange struct {
	ConnID string `json:"conn_id"`
	File   string `json:"file"`
}

func (UserFileChange) EventType() string { return "user-file-change" }

type ChatMessage struct {
	Username  string `json:"username"`
	Color     string `json:"color"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (ChatMessage) EventType() string { return "chat-message" }

// WriteApprovalRequest is sent to the admin room when a non-admin asks to
// save a file.
type WriteApprovalRequest struct {
	ID   string         `json:"id"`
	Kind string         `json:"kind"`
	Path string         `json:"path"`
	User UserDescriptor `json:"user"`
}

func (WriteApprovalRequest) EventType() string { return "approval-request" }

// ApprovalResult reports the outcome of a write approval to the whole room.
type ApprovalResult struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

func (ApprovalResult) EventType() string { return "approval-result" }

// FileSaved carries the committed content and modification time so every
// open editor re-synchronizes instead of trusting its own buffer.
type FileSaved struct {
	Path    string         `json:"path"`
	User    UserDescriptor `json:"user"`
	Content string         `json:"content"`
	MTime   float64        `json:"mtime"`
}

func (FileSaved) EventType() string { return "file-saved" }

type FileCreated struct {
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

func (FileCreated) EventType() string { return "file-created" }

type FileDeleted struct {
	Path string `json:"path"`
}

func (FileDeleted) EventType() string { return "file-deleted" }

type FileRenamed struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

func (FileRenamed) EventType() string { return "file-renamed" }

// TreeChanged notifies the room that the workspace changed on disk outside
// the usual file operations (picked up by the fsnotify watcher).
type TreeChanged struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

func (TreeChanged) EventType() string { return "tree-changed" }

type ForcedRemoval struct {
	Message string `json:"message"`
}

func (ForcedRemoval) EventType() string { return "forced-removal" }

type SessionClosed struct {
	Message string `json:"message"`
}

func (SessionClosed) EventType() string { return "session-closed" }

type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventType() string { return "error" }

// Inbound message variants, decoded by the transport adapter from the same
// {"type", "payload"} envelope. One struct per inbound event name.

type JoinRequest struct {
	SessionKey  string `json:"session_key"`
	StableID    string `json:"stable_id"`
	Username    string `json:"username"`
	IsAnonymous bool   `json:"is_anonymous"`
}

type ResolveJoinRequest struct {
	SessionKey string `json:"session_key"`
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
}

type LeaveRequest struct {
	SessionKey string `json:"session_key"`
}

type CursorMoveRequest struct {
	SessionKey string          `json:"session_key"`
	Position   json.RawMessage `json:"position"`
	File       string          `json:"file"`
}

type ContentChangeRequest struct {
	SessionKey string          `json:"session_key"`
	Changes    json.RawMessage `json:"changes"`
	File       string          `json:"file"`
	Version    int             `json:"version"`
}

type OpenFileRequest struct {
	SessionKey string `json:"session_key"`
	File       string `json:"file"`
}

type ChatRequest struct {
	SessionKey string `json:"session_key"`
	Username   string `json:"username"`
	Message    string `json:"message"`
}

type WriteRequest struct {
	SessionKey string         `json:"session_key"`
	Path       string         `json:"path"`
	Content    string         `json:"content"`
	By         UserDescriptor `json:"user"`
}

type ResolveWriteRequest struct {
	SessionKey string `json:"session_key"`
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
}

type EvictRequest struct {
	SessionKey string `json:"session_key"`
	ConnID     string `json:"conn_id"`
}

type CloseRequest struct {
	SessionKey string `json:"session_key"`
}
