package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/yesmail/internal/apperr"
	"github.com/vdavid/yesmail/internal/models"
	"github.com/vdavid/yesmail/internal/testutil"
)

func TestRegisterLoginRefresh(t *testing.T) {
	pool := testutil.NewTestDB(t)
	tokens := NewTokenIssuer("secret", time.Minute, time.Hour)
	service := NewService(pool, tokens)
	ctx := context.Background()

	account, err := service.Register(ctx, models.RegisterRequest{
		Username: "frank",
		Email:    "Frank@Example.com",
		Password: "longenough",
	})
	require.NoError(t, err)
	assert.Equal(t, "frank@example.com", account.Email)
	assert.NotEqual(t, "longenough", account.PasswordHash)

	t.Run("register validation", func(t *testing.T) {
		cases := map[string]models.RegisterRequest{
			"duplicate username": {Username: "frank", Email: "other@example.com", Password: "longenough"},
			"duplicate email":    {Username: "frank2", Email: "frank@example.com", Password: "longenough"},
			"bad email":          {Username: "x", Email: "nope", Password: "longenough"},
			"short password":     {Username: "x", Email: "x@example.com", Password: "short"},
			"no username":        {Username: " ", Email: "y@example.com", Password: "longenough"},
		}
		for name, req := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := service.Register(ctx, req)
				assert.ErrorIs(t, err, apperr.ErrValidation)
			})
		}
	})

	pair, err := service.Login(ctx, models.LoginRequest{Username: "frank", Password: "longenough"})
	require.NoError(t, err)
	id, err := tokens.ValidateAccess(pair.Access)
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)

	t.Run("wrong password", func(t *testing.T) {
		_, err := service.Login(ctx, models.LoginRequest{Username: "frank", Password: "wrong-password"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := service.Login(ctx, models.LoginRequest{Username: "ghost", Password: "longenough"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("refresh", func(t *testing.T) {
		refreshed, err := service.Refresh(ctx, pair.Refresh)
		require.NoError(t, err)
		assert.NotEmpty(t, refreshed.Access)
		assert.Empty(t, refreshed.Refresh)

		_, err = service.Refresh(ctx, pair.Access)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
