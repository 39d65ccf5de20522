package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/yesmail/internal/api"
	"github.com/vdavid/yesmail/internal/auth"
	"github.com/vdavid/yesmail/internal/blob"
	"github.com/vdavid/yesmail/internal/config"
	"github.com/vdavid/yesmail/internal/crypto"
	"github.com/vdavid/yesmail/internal/db"
	"github.com/vdavid/yesmail/internal/dispatch"
	"github.com/vdavid/yesmail/internal/imap"
	"github.com/vdavid/yesmail/internal/mail"
	"github.com/vdavid/yesmail/internal/ratelimit"
	"github.com/vdavid/yesmail/internal/smtp"
	"github.com/vdavid/yesmail/internal/vault"
	ws "github.com/vdavid/yesmail/internal/websocket"
	"github.com/vdavid/yesmail/migrations"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrations.Up(cfg.GetDatabaseURL()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	handler, err := NewServer(ctx, cfg, pool)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown failed: %v", err)
		}
	}()

	log.Printf("yesmail server starting on %s (environment: %s)", server.Addr, cfg.Environment)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed to start: %v", err)
	}
	log.Printf("Server stopped")
}

// NewServer wires every service and returns the HTTP handler. Background work
// started here stops when ctx is canceled.
func NewServer(ctx context.Context, cfg *config.Config, dbPool *pgxpool.Pool) (http.Handler, error) {
	sealer, err := newSealer(cfg)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	hub := ws.NewHub(cfg.MaxWSPerAccount)
	imapDialer := imap.NewDialer(cfg.MailDialTimeout, cfg.MailCommandTimeout)
	smtpDialer := smtp.NewDialer(cfg.MailDialTimeout, cfg.MailCommandTimeout)

	relay, err := smtp.NewRelay(cfg.RelayAddr, smtpDialer)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewPerMinute(cfg.SendRatePerMinute, cfg.SendBurst)
	go limiter.Run(ctx)

	mailboxVault := vault.New(dbPool, sealer, imapDialer, smtpDialer)
	syncService := imap.NewService(dbPool, mailboxVault, blobs, hub, imapDialer)
	router := dispatch.NewRouter(dispatch.Options{
		Pool:        dbPool,
		Blobs:       blobs,
		Relay:       relay,
		Transmitter: smtpDialer,
		Resolver:    mailboxVault,
		Notifier:    hub,
		Limiter:     limiter,
		Domain:      cfg.MailDomain,
	})

	maxUploadBytes := cfg.MaxUploadSizeMB << 20
	mailService := mail.NewService(dbPool, blobs, maxUploadBytes)

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authService := auth.NewService(dbPool, tokens)

	return api.NewRouter(api.RouterDeps{
		Tokens:          tokens,
		AuthHandler:     api.NewAuthHandler(authService),
		MessagesHandler: api.NewMessagesHandler(mailService, maxUploadBytes),
		MailboxHandler:  api.NewMailboxHandler(mailboxVault, syncService),
		SendHandler:     api.NewSendHandler(router),
		WSHandler:       api.NewWebSocketHandler(tokens, syncService, hub),
	}), nil
}

func newSealer(cfg *config.Config) (crypto.SecretSealer, error) {
	switch cfg.SecretSealer {
	case config.SealerKeyring:
		sealer, err := crypto.NewKeyringSealer(cfg.KeyringDir, cfg.KeyringPassword)
		if err != nil {
			return nil, err
		}
		return sealer, nil
	default:
		encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		return encryptor, nil
	}
}
