// Package ws adapts the websocket transport onto the coordination core. It
// owns connection ids and the read/write pumps; all session semantics live
// in internal/session.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/elmoiv/Maan/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now (dev mode)
	},
}

// TokenVerifier resolves a bearer token to an account id.
type TokenVerifier interface {
	VerifyToken(token string) (uint, error)
}

// Envelope is the wire frame for both directions:
// {"type": "...", "payload": {...}}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub tracks live connections by connection id and implements
// session.Sender for fan-out.
type Hub struct {
	svc      *session.Service
	verifier TokenVerifier

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub builds a hub without a core attached; the hub is the core's
// Sender, so the two are wired in two steps (NewHub, then Attach after the
// service is constructed).
func NewHub(verifier TokenVerifier) *Hub {
	return &Hub{
		verifier: verifier,
		clients:  make(map[string]*Client),
	}
}

// Attach binds the coordination core the hub dispatches into.
func (h *Hub) Attach(svc *session.Service) {
	h.svc = svc
}

// Send implements session.Sender. Writes are buffered and non-blocking so a
// slow consumer can never stall a session handler; frames to a full buffer
// are dropped (events not delivered to a wedged connection are lost, like
// any disconnected one).
func (h *Hub) Send(connID string, e session.Event) {
	h.mu.RLock()
	client := h.clients[connID]
	h.mu.RUnlock()
	if client == nil {
		return
	}

	data, err := json.Marshal(Envelope{Type: e.EventType(), Payload: mustMarshal(e)})
	if err != nil {
		log.Printf("❌ Failed to marshal %s event: %v", e.EventType(), err)
		return
	}
	client.enqueue(data)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// HandleConnection upgrades an HTTP request, assigns a fresh connection id,
// and runs the read loop until the peer goes away. Disconnects feed the
// sweeper.
func (h *Hub) HandleConnection(c *gin.Context) {
	var accountID uint
	if token := c.Query("token"); token != "" && h.verifier != nil {
		if id, err := h.verifier.VerifyToken(token); err == nil {
			accountID = id
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		id:        uuid.NewString(),
		accountID: accountID,
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       h,
	}

	h.register(client)
	go client.writePump()
	client.readPump()
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	log.Printf("🔌 Client %s connected", client.id)
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()
	client.shutdown()
	log.Printf("🔌 Client %s disconnected", client.id)

	h.svc.HandleDisconnect(client.id)
}
