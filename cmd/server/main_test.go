package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/yesmail/internal/config"
	"github.com/vdavid/yesmail/internal/models"
	"github.com/vdavid/yesmail/internal/testutil"
)

func getTestConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment:         "test",
		Port:                "8080",
		JWTSecret:           "test-jwt-secret",
		AccessTokenTTL:      15 * time.Minute,
		RefreshTokenTTL:     time.Hour,
		SecretSealer:        config.SealerAES,
		EncryptionKeyBase64: base64.StdEncoding.EncodeToString(make([]byte, 32)),
		RelayAddr:           "127.0.0.1:2525",
		MailDomain:          "yesmail.test",
		MailDialTimeout:     time.Second,
		MailCommandTimeout:  5 * time.Second,
		SendRatePerMinute:   60,
		SendBurst:           10,
		MaxWSPerAccount:     2,
		BlobBackend:         config.BlobBackendFilesystem,
		BlobDir:             t.TempDir(),
		MaxUploadSizeMB:     1,
	}
}

func TestNewSealer(t *testing.T) {
	t.Run("aes with a bad key", func(t *testing.T) {
		cfg := getTestConfig(t)
		cfg.EncryptionKeyBase64 = "not-base64!"
		_, err := newSealer(cfg)
		assert.Error(t, err)
	})

	t.Run("keyring", func(t *testing.T) {
		cfg := getTestConfig(t)
		cfg.SecretSealer = config.SealerKeyring
		cfg.KeyringDir = t.TempDir()
		cfg.KeyringPassword = "keyring-pw"

		sealer, err := newSealer(cfg)
		require.NoError(t, err)

		sealed, err := sealer.Seal("account-1", "mailbox-secret")
		require.NoError(t, err)
		secret, err := sealer.Unseal(sealed)
		require.NoError(t, err)
		assert.Equal(t, "mailbox-secret", secret)
	})
}

func TestNewServer(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, err := NewServer(ctx, getTestConfig(t), pool)
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	defer server.Close()

	post := func(path, body, token string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, server.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	get := func(path, token string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	t.Run("health", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/health", "").StatusCode)
	})

	t.Run("inbox needs a token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get("/api/v1/messages/inbox", "").StatusCode)
	})

	var alice, bob models.TokenPair
	t.Run("register and log in", func(t *testing.T) {
		for _, name := range []string{"alice", "bob"} {
			resp := post("/api/v1/auth/register",
				`{"username":"`+name+`","email":"`+name+`@yesmail.test","password":"correct horse"}`, "")
			require.Equal(t, http.StatusCreated, resp.StatusCode)
		}

		resp := post("/api/v1/auth/login", `{"username":"alice","password":"correct horse"}`, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&alice))

		resp = post("/api/v1/auth/login", `{"username":"bob","password":"correct horse"}`, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&bob))
	})

	t.Run("internal send lands in the recipient's inbox", func(t *testing.T) {
		require.NotEmpty(t, alice.Access)

		resp := post("/api/v1/send", `{"recipients":["BOB@yesmail.test"],"subject":"hello","body":"hi bob"}`, alice.Access)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var report models.DeliveryReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		assert.True(t, report.InternalDelivered)
		assert.Empty(t, report.ExternalRecipients)

		resp = get("/api/v1/messages/inbox", bob.Access)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var inbox []models.MailMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&inbox))
		require.Len(t, inbox, 1)
		assert.Equal(t, "hello", inbox[0].Subject)
		assert.False(t, inbox[0].IsRead)
	})

	t.Run("fetch without a bound mailbox", func(t *testing.T) {
		assert.Equal(t, http.StatusConflict, get("/api/v1/mailbox/fetch", alice.Access).StatusCode)
	})
}
