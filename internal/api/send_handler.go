package api

import (
	"context"
	"net/http"

	"github.com/vdavid/yesmail/internal/models"
)

// Dispatcher is what the send endpoints need.
type Dispatcher interface {
	Send(ctx context.Context, senderID string, req models.SendRequest) (*models.DeliveryReport, error)
	SendViaBoundMailbox(ctx context.Context, senderID string, req models.SendRequest) (*models.MailMessage, []string, error)
}

// SendHandler accepts outbound mail.
type SendHandler struct {
	dispatcher Dispatcher
}

// NewSendHandler creates a SendHandler.
func NewSendHandler(dispatcher Dispatcher) *SendHandler {
	return &SendHandler{dispatcher: dispatcher}
}

// Send handles POST /send. A partial failure still carries the delivery report.
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req models.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	report, err := h.dispatcher.Send(r.Context(), id, req)
	if err != nil {
		writeErrorWithReport(w, "SendHandler", err, report)
		return
	}

	WriteJSONResponse(w, report)
}

type boundSendResponse struct {
	Message  *models.MailMessage `json:"message"`
	Warnings []string            `json:"warnings,omitempty"`
}

// SendBound handles POST /send/bound.
func (h *SendHandler) SendBound(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req models.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, warnings, err := h.dispatcher.SendViaBoundMailbox(r.Context(), id, req)
	if err != nil {
		writeError(w, "SendHandler", err)
		return
	}

	withDownloadURLs(msg)
	WriteJSONResponse(w, boundSendResponse{Message: msg, Warnings: warnings})
}
