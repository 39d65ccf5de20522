package api

import (
	"context"
	"net/http"

	"github.com/vdavid/yesmail/internal/models"
)

// AuthService is what the auth endpoints need.
type AuthService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.Account, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
}

type AuthHandler struct {
	service AuthService
}

func NewAuthHandler(service AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.service.Register(r.Context(), req)
	if err != nil {
		writeError(w, "AuthHandler", err)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := h.service.Login(r.Context(), req)
	if err != nil {
		writeError(w, "AuthHandler", err)
		return
	}

	WriteJSONResponse(w, pair)
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.Refresh)
	if err != nil {
		writeError(w, "AuthHandler", err)
		return
	}

	WriteJSONResponse(w, pair)
}
