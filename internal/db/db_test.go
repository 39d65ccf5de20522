package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/yesmail/internal/config"
)

func TestNewConnectionInvalidConfig(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "invalid-host-that-does-not-exist",
		DBPort:     "5432",
		DBUsername: "invalid",
		DBPassword: "invalid",
		DBName:     "invalid",
		DBSSLMode:  "disable",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewConnection(ctx, cfg)
	if err == nil {
		t.Fatal("Expected NewConnection() to fail with invalid config, but it succeeded")
	}
}

func TestCloseConnectionNil(t *testing.T) {
	CloseConnection(nil)
}

func TestNewPoolConfig(t *testing.T) {
	base := config.Config{
		DBHost:     "localhost",
		DBPort:     "5432",
		DBUsername: "u",
		DBPassword: "p",
		DBName:     "n",
		DBSSLMode:  "disable",
	}

	t.Run("from config", func(t *testing.T) {
		cfg := base
		cfg.DBMaxConns = 8
		cfg.DBMinConns = 2
		cfg.DBMaxConnLifetime = 10 * time.Minute

		poolConfig, err := newPoolConfig(&cfg)
		require.NoError(t, err)
		assert.Equal(t, int32(8), poolConfig.MaxConns)
		assert.Equal(t, int32(2), poolConfig.MinConns)
		assert.Equal(t, 10*time.Minute, poolConfig.MaxConnLifetime)
	})

	t.Run("unset values fall back", func(t *testing.T) {
		cfg := base
		poolConfig, err := newPoolConfig(&cfg)
		require.NoError(t, err)
		assert.Equal(t, int32(defaultMaxConns), poolConfig.MaxConns)
		assert.Equal(t, int32(0), poolConfig.MinConns)
		assert.Equal(t, defaultMaxConnLifetime, poolConfig.MaxConnLifetime)
	})

	t.Run("min clamped to max", func(t *testing.T) {
		cfg := base
		cfg.DBMaxConns = 3
		cfg.DBMinConns = 9
		poolConfig, err := newPoolConfig(&cfg)
		require.NoError(t, err)
		assert.Equal(t, int32(3), poolConfig.MinConns)
	})
}
