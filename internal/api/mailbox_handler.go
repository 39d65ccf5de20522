package api

import (
	"context"
	"net/http"

	"github.com/vdavid/yesmail/internal/imap"
	"github.com/vdavid/yesmail/internal/models"
	"github.com/vdavid/yesmail/internal/vault"
)

// MailboxBinder is the part of the credential vault the bind endpoints need.
type MailboxBinder interface {
	Bind(ctx context.Context, accountID string, cfg models.MailServerConfig, secret string) (*models.BoundMailbox, error)
	Unbind(ctx context.Context, accountID string) error
}

// MailboxHandler serves the bound external mailbox.
type MailboxHandler struct {
	binder MailboxBinder
	sync   imap.SyncService
}

// NewMailboxHandler creates a MailboxHandler.
func NewMailboxHandler(binder MailboxBinder, sync imap.SyncService) *MailboxHandler {
	return &MailboxHandler{binder: binder, sync: sync}
}

// Bind handles POST /mailbox/bind.
func (h *MailboxHandler) Bind(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req models.BindMailboxRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	mailbox, err := h.binder.Bind(r.Context(), id, vault.FromRequest(req), req.Password)
	if err != nil {
		writeError(w, "MailboxHandler", err)
		return
	}

	WriteJSONResponse(w, mailbox)
}

// Unbind handles DELETE /mailbox/bind.
func (h *MailboxHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	if err := h.binder.Unbind(r.Context(), id); err != nil {
		writeError(w, "MailboxHandler", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Fetch handles GET /mailbox/fetch?limit=&offset=. It syncs the bound INBOX and
// returns one page of external-origin mail.
func (h *MailboxHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	limit, offset := ParsePaginationParams(r)
	messages, err := h.sync.SyncAndList(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, "MailboxHandler", err)
		return
	}

	withDownloadURLs(messages...)
	WriteJSONResponse(w, nonNil(messages))
}
