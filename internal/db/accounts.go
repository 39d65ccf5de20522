package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/yesmail/internal/models"
)

var (
	// ErrAccountNotFound is returned when a requested account cannot be found.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when the username or email is already taken.
	ErrAccountExists = errors.New("account already exists")
)

const uniqueViolation = "23505"

// CreateAccount inserts a new account. The email is stored lower-cased.
func CreateAccount(ctx context.Context, pool *pgxpool.Pool, username, email, passwordHash string) (*models.Account, error) {
	account := models.Account{
		Username:     username,
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
	}

	err := pool.QueryRow(ctx, `
		INSERT INTO accounts (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, account.Username, account.Email, account.PasswordHash).Scan(&account.ID, &account.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return &account, nil
}

// GetAccountByID returns the account with the given id.
func GetAccountByID(ctx context.Context, pool *pgxpool.Pool, id string) (*models.Account, error) {
	if !isUUID(id) {
		return nil, ErrAccountNotFound
	}
	return getAccount(ctx, pool, "id = $1", id)
}

// GetAccountByUsername returns the account with the given username.
func GetAccountByUsername(ctx context.Context, pool *pgxpool.Pool, username string) (*models.Account, error) {
	return getAccount(ctx, pool, "username = $1", username)
}

// GetAccountByEmail returns the account owning the given address, compared case-insensitively.
func GetAccountByEmail(ctx context.Context, pool *pgxpool.Pool, email string) (*models.Account, error) {
	return getAccount(ctx, pool, "email = $1", NormalizeEmail(email))
}

func getAccount(ctx context.Context, pool *pgxpool.Pool, where string, arg any) (*models.Account, error) {
	var account models.Account
	err := pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM accounts
		WHERE `+where, arg).Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// GetAccountsByEmails returns the accounts owning any of the given addresses, keyed by normalized email.
func GetAccountsByEmails(ctx context.Context, pool *pgxpool.Pool, emails []string) (map[string]*models.Account, error) {
	result := make(map[string]*models.Account)
	if len(emails) == 0 {
		return result, nil
	}

	normalized := make([]string, len(emails))
	for i, e := range emails {
		normalized[i] = NormalizeEmail(e)
	}

	rows, err := pool.Query(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM accounts
		WHERE email = ANY($1)
	`, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var account models.Account
		if err := rows.Scan(&account.ID, &account.Username, &account.Email, &account.PasswordHash, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		result[account.Email] = &account
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return result, nil
}

// NormalizeEmail trims and lower-cases an address for comparison and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
