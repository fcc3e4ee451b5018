package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elmoiv/Maan/internal/session"
)

// Inbound event names. One per client-initiated operation; unknown types get a
// private error frame.
const (
	msgJoin          = "join"
	msgResolveJoin   = "resolve-join"
	msgLeave         = "leave"
	msgCursorMove    = "cursor-move"
	msgContentChange = "content-change"
	msgOpenFile      = "open-file"
	msgChat          = "chat"
	msgRequestWrite  = "request-write"
	msgResolveWrite  = "resolve-write"
	msgEvict         = "evict"
	msgClose         = "close"
)

const writeTimeout = 10 * time.Second

// Client is one websocket connection. Its id is the core's connection id;
// it changes on every reconnect while the participant's stable identity
// does not.
type Client struct {
	id        string
	accountID uint
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub

	mu     sync.Mutex
	closed bool
}

// enqueue hands a frame to the write pump without blocking; frames to a
// full buffer are dropped. The mutex orders enqueues against shutdown so a
// frame is never sent on a closed channel.
func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// shutdown closes the send channel exactly once. The connection itself is
// closed by the write pump after it drains, so the close frame can still go
// out first.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer c.hub.unregister(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("malformed message")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) sendError(message string) {
	c.hub.Send(c.id, session.ErrorEvent{Message: message})
}

// dispatch decodes one inbound frame and invokes the matching core
// operation. Core errors have already been reported to the originating
// connection as error events; they are only logged here.
func (c *Client) dispatch(env Envelope) {
	var err error

	switch env.Type {
	case msgJoin:
		var req session.JoinRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			err = c.hub.svc.Join(req.SessionKey, c.id, req.StableID, req.Username, req.IsAnonymous, c.accountID)
		}

	case msgResolveJoin:
		var req session.ResolveJoinRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			err = c.hub.svc.ResolveJoin(req.SessionKey, req.ApprovalID, req.Approved)
		}

	case msgLeave:
		var req session.LeaveRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			err = c.hub.svc.Leave(req.SessionKey, c.id)
		}

	case msgCursorMove:
		var req session.CursorMoveRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			err = c.hub.svc.CursorMove(req.SessionKey, c.id, req.Position, req.File)
		}

	case msgContentChange:
		var req session.ContentChangeRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			err = c.hub.svc.ContentChange(req.SessionKey, c.id, req.Changes, req.File, req.Version)
		}

	case msgOpenFile:
		var req session.OpenFileRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			err = c.hub.svc.OpenFile(req.SessionKey, c.id, req.File)
		}

	case msgChat:
		var req session.ChatRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			err = c.hub.svc.Chat(req.SessionKey, c.id, req.Username, req.Message)
		}

	case msgRequestWrite:
		var req session.WriteRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			_, err = c.hub.svc.RequestWrite(req.SessionKey, c.id, req.Path, req.Content, req.By)
		}

	case msgResolveWrite:
		var req session.ResolveWriteRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err = c.hub.svc.ResolveWrite(ctx, req.SessionKey, req.ApprovalID, req.Approved)
			cancel()
		}

	case msgEvict:
		var req session.EvictRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			if !c.hub.svc.IsAdmin(req.SessionKey, c.accountID) {
				c.sendError("Not authorized")
				return
			}
			err = c.hub.svc.Evict(req.SessionKey, req.ConnID)
		}

	case msgClose:
		var req session.CloseRequest
		if err = json.Unmarshal(env.Payload, &req); err == nil {
			if !c.hub.svc.IsAdmin(req.SessionKey, c.accountID) {
				c.sendError("Not authorized")
				return
			}
			err = c.hub.svc.Close(req.SessionKey)
		}

	default:
		c.sendError("unknown event type: " + env.Type)
		return
	}

	if err != nil {
		log.Printf("ws %s: %s failed: %v", c.id, env.Type, err)
	}
}
