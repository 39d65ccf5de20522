// Package websocket fans out live notifications to each account's open sessions.
package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vdavid/yesmail/internal/models"
)

const writeTimeout = 10 * time.Second

// Client is one live session. Writes are serialized so events arrive in send order.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub tracks the live sessions of every account. An account may have several
// (one per tab), up to maxPerAccount.
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]map[*Client]struct{}
	maxPerAccount int
}

// NewHub creates a Hub with a per-account connection limit.
func NewHub(maxPerAccount int) *Hub {
	if maxPerAccount <= 0 {
		maxPerAccount = 10
	}
	return &Hub{
		clients:       make(map[string]map[*Client]struct{}),
		maxPerAccount: maxPerAccount,
	}
}

// Register adds a session for the account. Over the limit, the connection is
// closed with a policy violation and nil is returned.
func (h *Hub) Register(accountID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions := h.clients[accountID]
	if sessions == nil {
		sessions = make(map[*Client]struct{})
		h.clients[accountID] = sessions
	}

	if len(sessions) >= h.maxPerAccount {
		log.Printf("websocket: account %s exceeded max connections (%d), closing new connection", accountID, h.maxPerAccount)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this account"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	sessions[client] = struct{}{}
	return client
}

// Unregister removes the session and closes its connection.
func (h *Hub) Unregister(accountID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if sessions, ok := h.clients[accountID]; ok {
		delete(sessions, client)
		if len(sessions) == 0 {
			delete(h.clients, accountID)
		}
	}
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Send writes msg to every session of the account. Failed sessions are dropped;
// nothing is queued for accounts without sessions.
func (h *Hub) Send(accountID string, msg []byte) {
	h.mu.RLock()
	sessions := make([]*Client, 0, len(h.clients[accountID]))
	for c := range h.clients[accountID] {
		sessions = append(sessions, c)
	}
	h.mu.RUnlock()

	for _, client := range sessions {
		if err := client.write(msg); err != nil {
			log.Printf("websocket: failed to write message for account %s: %v", accountID, err)
			go h.Unregister(accountID, client)
		}
	}
}

// NotifyNewMail pushes a new_mail event to the account's sessions.
func (h *Hub) NotifyNewMail(accountID, subject, from string) {
	payload, err := json.Marshal(models.NewMailEvent{Type: "new_mail", Subject: subject, From: from})
	if err != nil {
		log.Printf("websocket: failed to marshal new_mail event: %v", err)
		return
	}
	h.Send(accountID, payload)
}

// ActiveConnections returns the number of live sessions for the account.
func (h *Hub) ActiveConnections(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[accountID])
}
