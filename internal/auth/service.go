// Package auth handles account registration, login and bearer token checks.
package auth

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/db"
	"github.com/vdavid/yesmail/internal/models"
)

// ErrInvalidCredentials is returned by Login for an unknown username or wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

const minPasswordLength = 8

// Service registers accounts and issues tokens.
type Service struct {
	pool   *pgxpool.Pool
	tokens *TokenIssuer
}

// NewService creates an auth service.
func NewService(pool *pgxpool.Pool, tokens *TokenIssuer) *Service {
	return &Service{pool: pool, tokens: tokens}
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.Account, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, apperr.Wrap(apperr.ErrValidation, "username is required")
	}
	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != strings.TrimSpace(req.Email) {
		return nil, apperr.Wrap(apperr.ErrValidation, "invalid email address %q", req.Email)
	}
	if len(req.Password) < minPasswordLength {
		return nil, apperr.Wrap(apperr.ErrValidation, "password must be at least %d characters", minPasswordLength)
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	account, err := db.CreateAccount(ctx, s.pool, username, addr.Address, hash)
	if errors.Is(err, db.ErrAccountExists) {
		return nil, apperr.Wrap(apperr.ErrValidation, "username or email already exists")
	}
	if err != nil {
		return nil, err
	}

	log.Printf("Auth: registered account %s (%s)", account.ID, account.Username)
	return account, nil
}

// Login checks the password and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error) {
	account, err := db.GetAccountByUsername(ctx, s.pool, strings.TrimSpace(req.Username))
	if errors.Is(err, db.ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := CheckPassword(account.PasswordHash, req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.tokens.Issue(account.ID)
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	accountID, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	// Tokens outlive deleted accounts otherwise.
	if _, err := db.GetAccountByID(ctx, s.pool, accountID); err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	pair, err := s.tokens.Issue(accountID)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{Access: pair.Access}, nil
}
