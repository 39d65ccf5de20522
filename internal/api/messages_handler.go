package api

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/mimecodec"
	"github.com/vdavid/yesmail/internal/models"
)

// MailService is what the message and attachment endpoints need.
type MailService interface {
	ListInbox(ctx context.Context, accountID string, filter models.MessageFilter) ([]*models.MailMessage, error)
	ListSent(ctx context.Context, accountID string, filter models.MessageFilter) ([]*models.MailMessage, error)
	GetMessage(ctx context.Context, accountID, id string) (*models.MailMessage, error)
	MarkRead(ctx context.Context, accountID, id string) error
	DeleteMessage(ctx context.Context, accountID, id string) error
	Upload(ctx context.Context, accountID, messageID, filename, contentType string, content []byte) (*models.Attachment, error)
	Download(ctx context.Context, accountID, attachmentID string) (*models.Attachment, []byte, error)
}

// MessagesHandler serves the local mail store.
type MessagesHandler struct {
	service        MailService
	maxUploadBytes int64
}

// NewMessagesHandler creates a MessagesHandler.
func NewMessagesHandler(service MailService, maxUploadBytes int64) *MessagesHandler {
	return &MessagesHandler{service: service, maxUploadBytes: maxUploadBytes}
}

// Inbox handles GET /messages/inbox?sender=&subject=.
func (h *MessagesHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	filter := models.MessageFilter{
		Sender:  r.URL.Query().Get("sender"),
		Subject: r.URL.Query().Get("subject"),
	}
	messages, err := h.service.ListInbox(r.Context(), id, filter)
	if err != nil {
		writeError(w, "MessagesHandler", err)
		return
	}

	withDownloadURLs(messages...)
	WriteJSONResponse(w, nonNil(messages))
}

// Sent handles GET /messages/sent?recipient=&subject=.
func (h *MessagesHandler) Sent(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	filter := models.MessageFilter{
		Recipient: r.URL.Query().Get("recipient"),
		Subject:   r.URL.Query().Get("subject"),
	}
	messages, err := h.service.ListSent(r.Context(), id, filter)
	if err != nil {
		writeError(w, "MessagesHandler", err)
		return
	}

	withDownloadURLs(messages...)
	WriteJSONResponse(w, nonNil(messages))
}

// Get handles GET /messages/{id}.
func (h *MessagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	msg, err := h.service.GetMessage(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "MessagesHandler", err)
		return
	}

	withDownloadURLs(msg)
	WriteJSONResponse(w, msg)
}

// MarkRead handles POST /messages/{id}/read.
func (h *MessagesHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkRead(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		writeError(w, "MessagesHandler", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /messages/{id}.
func (h *MessagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteMessage(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		writeError(w, "MessagesHandler", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Upload handles POST /messages/{id}/attachments with a multipart "file" field.
func (h *MessagesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	if h.maxUploadBytes > 0 {
		// Leave room for the multipart framing; the service enforces the exact limit.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "MessagesHandler", apperr.Wrap(apperr.ErrValidation, "no file provided"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, "MessagesHandler", apperr.Wrap(apperr.ErrValidation, "could not read upload"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimecodec.GuessContentType(header.Filename)
	}

	attachment, err := h.service.Upload(r.Context(), id, chi.URLParam(r, "id"), header.Filename, contentType, content)
	if err != nil {
		writeError(w, "MessagesHandler", err)
		return
	}

	attachment.DownloadURL = downloadURL(attachment.ID)
	writeJSON(w, http.StatusCreated, attachment)
}

// Download handles GET /attachments/{id}/download.
func (h *MessagesHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	attachment, content, err := h.service.Download(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "MessagesHandler", err)
		return
	}

	w.Header().Set("Content-Type", attachment.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment.Filename}))
	_, _ = w.Write(content)
}

func nonNil(messages []*models.MailMessage) []*models.MailMessage {
	if messages == nil {
		return []*models.MailMessage{}
	}
	return messages
}
