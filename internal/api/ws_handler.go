package api

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/vdavid/yesmail/internal/auth"
	"github.com/vdavid/yesmail/internal/imap"
	ws "github.com/vdavid/yesmail/internal/websocket"
)

// WebSocketHandler handles the /api/v1/ws endpoint for new-mail notifications.
type WebSocketHandler struct {
	tokens auth.TokenValidator
	sync   imap.SyncService
	hub    *ws.Hub

	mu           sync.Mutex
	watchCancels map[string]*watcher
}

type watcher struct {
	cancel context.CancelFunc
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(tokens auth.TokenValidator, syncService imap.SyncService, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		tokens:       tokens,
		sync:         syncService,
		hub:          hub,
		watchCancels: make(map[string]*watcher),
	}
}

var wsUpgrader = websocket.Upgrader{
	// Deployed behind a reverse proxy that enforces origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades the connection, and registers it with the Hub.
// Browsers cannot set headers on WebSocket requests, so the access token comes
// from ?token=, with the Authorization header as a fallback.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		fields := strings.Fields(r.Header.Get("Authorization"))
		if len(fields) == 2 && strings.EqualFold(fields[0], "Bearer") {
			token = fields[1]
		}
	}
	if token == "" {
		log.Println("websocket: No token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID, err := h.tokens.ValidateAccess(token)
	if err != nil {
		log.Printf("websocket: Token validation failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: Failed to upgrade connection for account %s: %v", accountID, err)
		return
	}

	isFirstConnection := h.hub.ActiveConnections(accountID) == 0

	client := h.hub.Register(accountID, conn)
	if client == nil {
		return
	}

	h.ensureWatcher(accountID)

	// Mail that arrived while nobody was connected is picked up once.
	if isFirstConnection {
		go func() {
			if _, err := h.sync.SyncInbox(context.Background(), accountID); err != nil {
				log.Printf("websocket: Catch-up sync failed for account %s: %v", accountID, err)
			}
		}()
	}

	go h.readLoop(accountID, client)
}

// ensureWatcher starts an INBOX watcher for the account unless one is running.
func (h *WebSocketHandler) ensureWatcher(accountID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.watchCancels[accountID]; exists {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	current := &watcher{cancel: cancel}
	h.watchCancels[accountID] = current

	go func() {
		h.sync.WatchInbox(ctx, accountID, h.hub)

		h.mu.Lock()
		if h.watchCancels[accountID] == current {
			delete(h.watchCancels, accountID)
		}
		h.mu.Unlock()
		cancel()
	}()
}

// readLoop blocks until the client goes away, then unregisters it. The watcher
// is stopped once the account has no sessions left.
func (h *WebSocketHandler) readLoop(accountID string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(accountID, client)

	if h.hub.ActiveConnections(accountID) == 0 {
		h.mu.Lock()
		if w, exists := h.watchCancels[accountID]; exists {
			w.cancel()
			delete(h.watchCancels, accountID)
		}
		h.mu.Unlock()
	}
}

// watching reports whether a watcher is registered for the account.
func (h *WebSocketHandler) watching(accountID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.watchCancels[accountID]
	return ok
}
