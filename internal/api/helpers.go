package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/auth"
	"github.com/vdavid/yesmail/internal/models"
)

// maxJSONBodyBytes bounds JSON request bodies.
const maxJSONBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error  string                 `json:"error"`
	Report *models.DeliveryReport `json:"report,omitempty"`
}

// WriteJSONResponse encodes v into a buffer first so an encoding failure cannot
// leave a half-written body behind. Returns false if nothing useful was written.
func WriteJSONResponse(w http.ResponseWriter, v any) bool {
	return writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("API: Failed to write response: %v", err)
		return false
	}
	return true
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrAuthentication):
		// The remote mailbox refused the login; the caller's own session is fine.
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConfiguration):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrMalformedMessage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it as JSON. Internal errors are not echoed.
func writeError(w http.ResponseWriter, handler string, err error) {
	writeErrorWithReport(w, handler, err, nil)
}

func writeErrorWithReport(w http.ResponseWriter, handler string, err error, report *models.DeliveryReport) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("%s: %v", handler, err)
		message = "Internal server error"
	}
	writeJSON(w, status, errorResponse{Error: message, Report: report})
}

// decodeJSON reads a JSON body into v. On failure it writes a 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// accountID returns the caller's account id, writing a 401 when it is missing.
func accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.GetAccountIDFromContext(r.Context())
	if !ok {
		log.Println("API: No account id in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

// ParsePaginationParams parses limit and offset from query parameters.
// Missing or invalid values come back as 0 and are defaulted by the service.
func ParsePaginationParams(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// withDownloadURLs fills in each attachment's download link.
func withDownloadURLs(messages ...*models.MailMessage) {
	for _, m := range messages {
		if m == nil {
			continue
		}
		if m.Recipients == nil {
			m.Recipients = []string{}
		}
		if m.Attachments == nil {
			m.Attachments = []models.Attachment{}
		}
		for i := range m.Attachments {
			m.Attachments[i].DownloadURL = downloadURL(m.Attachments[i].ID)
		}
	}
}

func downloadURL(attachmentID string) string {
	return "/api/v1/attachments/" + attachmentID + "/download"
}
