package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	ConnID string
	Event  Event
}

type fakeSender struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeSender) Send(connID string, e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{ConnID: connID, Event: e})
}

func (f *fakeSender) forConn(connID string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, r := range f.events {
		if r.ConnID == connID {
			out = append(out, r.Event)
		}
	}
	return out
}

func (f *fakeSender) count(connID, eventType string) int {
	n := 0
	for _, e := range f.forConn(connID) {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func (f *fakeSender) last(connID, eventType string) Event {
	var found Event
	for _, e := range f.forConn(connID) {
		if e.EventType() == eventType {
			found = e
		}
	}
	return found
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

type fakeProjects struct {
	mu      sync.Mutex
	records map[string]*ProjectRecord
}

func (f *fakeProjects) FindBySessionKey(key string) (*ProjectRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeProjects) SetInactive(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok {
		return ErrSessionNotFound
	}
	rec.Active = false
	return nil
}

type fakeStorage struct {
	mu      sync.Mutex
	writes  map[string]string
	failure error
}

func (f *fakeStorage) CheckPath(root, path string) error {
	if strings.Contains(path, "..") {
		return ErrInvalidPath
	}
	return nil
}

func (f *fakeStorage) WriteFile(ctx context.Context, root, path, content string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return time.Time{}, f.failure
	}
	if f.writes == nil {
		f.writes = make(map[string]string)
	}
	f.writes[path] = content
	return time.Unix(1700000000, 0), nil
}

func (f *fakeStorage) written(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.writes[path]
	return c, ok
}

const testKey = "sess-abc123"

func newTestService(capacity int) (*Service, *fakeSender, *fakeProjects, *fakeStorage) {
	sender := &fakeSender{}
	projects := &fakeProjects{records: map[string]*ProjectRecord{
		testKey: {
			SessionKey:    testKey,
			Name:          "demo",
			Capacity:      capacity,
			AdminID:       1,
			WorkspaceRoot: "/tmp/ws/" + testKey,
			Active:        true,
		},
	}}
	storage := &fakeStorage{}
	svc := NewService(NewRegistry(), NewRooms(sender), projects, storage, nil)
	return svc, sender, projects, storage
}

func rosterOf(svc *Service, key string) []*Participant {
	sess := svc.registry.Get(key)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.roster()
}

func pendingCount(svc *Service, key string) int {
	sess := svc.registry.Get(key)
	if sess == nil {
		return 0
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.pending)
}

// joinAdmin admits the session owner directly.
func joinAdmin(t *testing.T, svc *Service, connID string) {
	t.Helper()
	require.NoError(t, svc.Join(testKey, connID, "stable-admin", "alice", false, 1))
}

// requestJoin files a join request for a non-admin and returns the approval
// id delivered to the admin room.
func requestJoin(t *testing.T, svc *Service, sender *fakeSender, adminConn, connID, stableID, username string) string {
	t.Helper()
	require.NoError(t, svc.Join(testKey, connID, stableID, username, true, 0))
	e := sender.last(adminConn, "join-approval-request")
	require.NotNil(t, e, "admin should receive a join-approval-request")
	return e.(JoinApprovalRequest).ID
}

func TestAdminJoinsDirectly(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")

	roster := rosterOf(svc, testKey)
	require.Len(t, roster, 1)
	assert.True(t, roster[0].IsAdmin)
	assert.Equal(t, "alice", roster[0].Username)
	assert.Contains(t, userColors, roster[0].Color)

	assert.Equal(t, 1, sender.count("conn-a", "participant-connected"))
	assert.Equal(t, 1, sender.count("conn-a", "participant-joined"))
	assert.Zero(t, pendingCount(svc, testKey))
}

func TestJoinApprovalFlow(t *testing.T) {
	svc, sender, _, _ := newTestService(2)

	joinAdmin(t, svc, "conn-a")
	approvalID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")

	// Requester waits, roster unchanged, approval pending.
	assert.Equal(t, 1, sender.count("conn-b", "waiting-approval"))
	require.Len(t, rosterOf(svc, testKey), 1)
	assert.Equal(t, 1, pendingCount(svc, testKey))

	require.NoError(t, svc.ResolveJoin(testKey, approvalID, true))

	roster := rosterOf(svc, testKey)
	require.Len(t, roster, 2)
	assert.Equal(t, "bob", roster[1].Username)
	assert.False(t, roster[1].IsAdmin)
	assert.Zero(t, pendingCount(svc, testKey))

	approved := sender.last("conn-b", "join-approved")
	require.NotNil(t, approved)
	assert.Equal(t, "bob", approved.(JoinApproved).User.Username)

	state := sender.last("conn-b", "session-state")
	require.NotNil(t, state)
	assert.Len(t, state.(SessionState).Users, 2)

	// Both room members see the join announcement.
	assert.GreaterOrEqual(t, sender.count("conn-a", "participant-joined"), 2)
	assert.Equal(t, 1, sender.count("conn-b", "participant-joined"))

	// Capacity exhausted: a third request fails immediately, no approval
	// created.
	err := svc.Join(testKey, "conn-c", "stable-c", "carol", true, 0)
	assert.ErrorIs(t, err, ErrSessionFull)
	assert.Equal(t, 1, sender.count("conn-c", "error"))
	assert.Zero(t, sender.count("conn-c", "waiting-approval"))
	assert.Zero(t, pendingCount(svc, testKey))
	assert.Len(t, rosterOf(svc, testKey), 2)
}

func TestJoinRejection(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	approvalID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")

	require.NoError(t, svc.ResolveJoin(testKey, approvalID, false))

	assert.Equal(t, 1, sender.count("conn-b", "join-rejected"))
	assert.Len(t, rosterOf(svc, testKey), 1)
	assert.Zero(t, pendingCount(svc, testKey))
}

func TestResolveJoinTwiceIsNoop(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	approvalID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")

	require.NoError(t, svc.ResolveJoin(testKey, approvalID, true))
	sender.reset()

	require.NoError(t, svc.ResolveJoin(testKey, approvalID, true))
	require.NoError(t, svc.ResolveJoin(testKey, approvalID, false))

	assert.Empty(t, sender.forConn("conn-b"), "double resolution must not re-notify")
	assert.Len(t, rosterOf(svc, testKey), 2)
}

func TestCapacityRecheckedAtResolve(t *testing.T) {
	svc, sender, _, _ := newTestService(2)

	joinAdmin(t, svc, "conn-a")
	bobID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	carolID := requestJoin(t, svc, sender, "conn-a", "conn-c", "stable-c", "carol")

	// Carol is approved first and takes the last seat.
	require.NoError(t, svc.ResolveJoin(testKey, carolID, true))
	require.Len(t, rosterOf(svc, testKey), 2)

	err := svc.ResolveJoin(testKey, bobID, true)
	assert.ErrorIs(t, err, ErrSessionFull)
	assert.Equal(t, 1, sender.count("conn-b", "error"))
	assert.Zero(t, sender.count("conn-b", "join-approved"))
	// The pending entry is still consumed.
	assert.Zero(t, pendingCount(svc, testKey))
	assert.Len(t, rosterOf(svc, testKey), 2)
}

func TestReconnectPreservesIdentity(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	approvalID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.NoError(t, svc.ResolveJoin(testKey, approvalID, true))

	before := rosterOf(svc, testKey)
	color := before[1].Color
	sender.reset()

	// Same stable identity, new transport connection.
	require.NoError(t, svc.Join(testKey, "conn-b2", "stable-b", "bob", true, 0))

	roster := rosterOf(svc, testKey)
	require.Len(t, roster, 2, "reconnect must not grow the roster")
	assert.Equal(t, "conn-b2", roster[1].ConnID)
	assert.Equal(t, color, roster[1].Color)
	assert.Equal(t, "bob", roster[1].Username)
	assert.False(t, roster[1].IsAdmin)

	assert.Equal(t, 1, sender.count("conn-b2", "participant-connected"))
	assert.Equal(t, 1, sender.count("conn-b2", "session-state"))
	assert.Zero(t, sender.count("conn-a", "participant-joined"), "others are not re-notified on reconnect")

	// Fan-out now reaches the new connection, not the old one.
	require.NoError(t, svc.Chat(testKey, "conn-a", "alice", "hi"))
	assert.Equal(t, 1, sender.count("conn-b2", "chat-message"))
	assert.Zero(t, sender.count("conn-b", "chat-message"))
}

func TestReconnectWhilePendingUpdatesApproval(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	approvalID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")

	// Requester reloads while still pending.
	require.NoError(t, svc.Join(testKey, "conn-b2", "stable-b", "bob", true, 0))

	assert.Equal(t, 1, sender.count("conn-b2", "waiting-approval"))
	assert.Equal(t, 1, sender.count("conn-a", "join-approval-request"), "admin is not re-notified")
	assert.Equal(t, 1, pendingCount(svc, testKey))

	// Approval lands on the updated connection.
	require.NoError(t, svc.ResolveJoin(testKey, approvalID, true))
	assert.Equal(t, 1, sender.count("conn-b2", "join-approved"))
	assert.Zero(t, sender.count("conn-b", "join-approved"))
}

func TestAdminWriteBypassesApproval(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	require.NoError(t, svc.FileSaved(testKey, "main.py", "x=1", time.Unix(1700000000, 0), UserDescriptor{Username: "alice"}))

	assert.Equal(t, 1, sender.count("conn-a", "file-saved"))
	assert.Zero(t, pendingCount(svc, testKey), "admin writes never create a pending approval")
}

func TestWriteApprovalApproved(t *testing.T) {
	svc, sender, _, storage := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	bobID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.NoError(t, svc.ResolveJoin(testKey, bobID, true))
	sender.reset()

	approvalID, err := svc.RequestWrite(testKey, "conn-b", "main.py", "x=1", UserDescriptor{Username: "bob"})
	require.NoError(t, err)

	assert.Equal(t, 1, sender.count("conn-a", "approval-request"))
	assert.Zero(t, sender.count("conn-b", "approval-request"), "write requests go to the admin room only")
	_, ok := storage.written("main.py")
	assert.False(t, ok, "file must not be mutated before approval")

	require.NoError(t, svc.ResolveWrite(context.Background(), testKey, approvalID, true))

	content, ok := storage.written("main.py")
	require.True(t, ok)
	assert.Equal(t, "x=1", content)

	for _, conn := range []string{"conn-a", "conn-b"} {
		assert.Equal(t, 1, sender.count(conn, "file-saved"))
		result := sender.last(conn, "approval-result")
		require.NotNil(t, result)
		assert.True(t, result.(ApprovalResult).Approved)
	}
	assert.Zero(t, pendingCount(svc, testKey))
}

func TestWriteApprovalRejected(t *testing.T) {
	svc, sender, _, storage := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	bobID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.NoError(t, svc.ResolveJoin(testKey, bobID, true))
	sender.reset()

	approvalID, err := svc.RequestWrite(testKey, "conn-b", "main.py", "x=1", UserDescriptor{Username: "bob"})
	require.NoError(t, err)
	require.NoError(t, svc.ResolveWrite(context.Background(), testKey, approvalID, false))

	_, ok := storage.written("main.py")
	assert.False(t, ok, "rejected writes never touch the file")
	assert.Zero(t, sender.count("conn-a", "file-saved"))
	assert.Zero(t, sender.count("conn-b", "file-saved"))

	result := sender.last("conn-a", "approval-result")
	require.NotNil(t, result)
	assert.False(t, result.(ApprovalResult).Approved)
	assert.Zero(t, pendingCount(svc, testKey))
}

func TestWriteFailureReportedRoomWide(t *testing.T) {
	svc, sender, _, storage := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	bobID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.NoError(t, svc.ResolveJoin(testKey, bobID, true))
	sender.reset()

	approvalID, err := svc.RequestWrite(testKey, "conn-b", "main.py", "x=1", UserDescriptor{Username: "bob"})
	require.NoError(t, err)

	storage.failure = errors.New("disk full")
	require.NoError(t, svc.ResolveWrite(context.Background(), testKey, approvalID, true))

	// Storage failures on this path are reported to the whole room, not
	// privately to the requester.
	for _, conn := range []string{"conn-a", "conn-b"} {
		assert.Equal(t, 1, sender.count(conn, "error"))
		assert.Equal(t, 1, sender.count(conn, "approval-result"))
	}
}

func TestWriteRequestInvalidPath(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")

	_, err := svc.RequestWrite(testKey, "conn-b", "../etc/passwd", "x", UserDescriptor{Username: "bob"})
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.Equal(t, 1, sender.count("conn-b", "error"))
	assert.Zero(t, pendingCount(svc, testKey))
}

func TestCursorMoveExcludesSender(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	bobID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.NoError(t, svc.ResolveJoin(testKey, bobID, true))
	sender.reset()

	require.NoError(t, svc.CursorMove(testKey, "conn-b", []byte(`{"line":3,"col":7}`), "main.py"))

	assert.Zero(t, sender.count("conn-b", "cursor-update"), "cursor events never echo to their origin")
	update := sender.last("conn-a", "cursor-update")
	require.NotNil(t, update)
	cu := update.(CursorUpdate)
	assert.Equal(t, "conn-b", cu.ConnID)
	assert.Equal(t, "bob", cu.Username)
	assert.NotEmpty(t, cu.Color, "cursor events are enriched with the sender's color")
}

func TestContentChangeExcludesSender(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	bobID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.NoError(t, svc.ResolveJoin(testKey, bobID, true))
	sender.reset()

	require.NoError(t, svc.ContentChange(testKey, "conn-b", []byte(`[{"op":"ins"}]`), "main.py", 4))

	assert.Zero(t, sender.count("conn-b", "content-update"))
	assert.Equal(t, 1, sender.count("conn-a", "content-update"))
}

func TestOpenFileIncludesSender(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	bobID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.NoError(t, svc.ResolveJoin(testKey, bobID, true))
	sender.reset()

	require.NoError(t, svc.OpenFile(testKey, "conn-b", "main.py"))

	assert.Equal(t, 1, sender.count("conn-b", "user-file-change"), "file-open notices echo to their origin")
	assert.Equal(t, 1, sender.count("conn-a", "user-file-change"))
	assert.Equal(t, "main.py", rosterOf(svc, testKey)[1].CurrentFile)
}

func TestChatEnrichment(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	sender.reset()

	require.NoError(t, svc.Chat(testKey, "conn-a", "alice", "hello"))

	msg := sender.last("conn-a", "chat-message")
	require.NotNil(t, msg)
	cm := msg.(ChatMessage)
	assert.Equal(t, rosterOf(svc, testKey)[0].Color, cm.Color)
	assert.NotEmpty(t, cm.Timestamp)

	// Unknown usernames fall back to the neutral color.
	require.NoError(t, svc.Chat(testKey, "conn-a", "ghost", "boo"))
	cm = sender.last("conn-a", "chat-message").(ChatMessage)
	assert.Equal(t, "#999", cm.Color)
}

func TestDisconnectSweep(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	bobID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.NoError(t, svc.ResolveJoin(testKey, bobID, true))

	// A pending write filed from the same connection must be purged too.
	_, err := svc.RequestWrite(testKey, "conn-b", "main.py", "x=1", UserDescriptor{Username: "bob"})
	require.NoError(t, err)
	sender.reset()

	svc.HandleDisconnect("conn-b")

	assert.Len(t, rosterOf(svc, testKey), 1)
	assert.Zero(t, pendingCount(svc, testKey), "pending approvals from the dead connection are purged")
	assert.Equal(t, 1, sender.count("conn-a", "participant-left"))
	assert.Zero(t, sender.count("conn-b", "participant-left"), "the departed connection is excluded")
}

func TestDisconnectWithoutParticipantStillPurges(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.Equal(t, 1, pendingCount(svc, testKey))

	svc.HandleDisconnect("conn-b")

	assert.Zero(t, pendingCount(svc, testKey))
	assert.Len(t, rosterOf(svc, testKey), 1)
}

func TestEvict(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	bobID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.NoError(t, svc.ResolveJoin(testKey, bobID, true))
	sender.reset()

	require.NoError(t, svc.Evict(testKey, "conn-b"))

	assert.Len(t, rosterOf(svc, testKey), 1)
	assert.Equal(t, 1, sender.count("conn-a", "participant-left"))
	assert.Equal(t, 1, sender.count("conn-b", "forced-removal"))
}

func TestLeave(t *testing.T) {
	svc, sender, _, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	bobID := requestJoin(t, svc, sender, "conn-a", "conn-b", "stable-b", "bob")
	require.NoError(t, svc.ResolveJoin(testKey, bobID, true))
	sender.reset()

	require.NoError(t, svc.Leave(testKey, "conn-b"))

	assert.Len(t, rosterOf(svc, testKey), 1)
	assert.Equal(t, 1, sender.count("conn-a", "participant-left"))
	assert.Zero(t, sender.count("conn-b", "forced-removal"), "voluntary departure carries no private notice")
}

func TestCloseRefusesFurtherMutations(t *testing.T) {
	svc, sender, projects, _ := newTestService(5)

	joinAdmin(t, svc, "conn-a")
	sender.reset()

	require.NoError(t, svc.Close(testKey))

	assert.Equal(t, 1, sender.count("conn-a", "session-closed"))
	rec := projects.records[testKey]
	assert.False(t, rec.Active)

	assert.ErrorIs(t, svc.Chat(testKey, "conn-a", "alice", "hi"), ErrSessionInactive)
	assert.ErrorIs(t, svc.Join(testKey, "conn-z", "stable-z", "zoe", true, 0), ErrSessionInactive)
	_, err := svc.RequestWrite(testKey, "conn-a", "main.py", "x", UserDescriptor{})
	assert.ErrorIs(t, err, ErrSessionInactive)
}

func TestCapacityInvariantHolds(t *testing.T) {
	svc, sender, _, _ := newTestService(3)

	joinAdmin(t, svc, "conn-a")
	for _, c := range []struct {
		conn, stable, name string
		wantFull           bool
	}{
		{"conn-b", "stable-b", "bob", false},
		{"conn-c", "stable-c", "carol", false},
		{"conn-d", "stable-d", "dave", true},
		{"conn-e", "stable-e", "eve", true},
	} {
		err := svc.Join(testKey, c.conn, c.stable, c.name, true, 0)
		if c.wantFull {
			assert.ErrorIs(t, err, ErrSessionFull)
		} else {
			require.NoError(t, err)
			e := sender.last("conn-a", "join-approval-request")
			require.NotNil(t, e)
			require.NoError(t, svc.ResolveJoin(testKey, e.(JoinApprovalRequest).ID, true))
		}
		assert.LessOrEqual(t, len(rosterOf(svc, testKey)), 3, "capacity invariant violated")
	}
}
