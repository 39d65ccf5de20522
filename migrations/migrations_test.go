package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDriverURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", driverURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://u:p@h/db", driverURL("postgresql://u:p@h/db"))
	assert.Equal(t, "pgx5://u:p@h/db", driverURL("pgx5://u:p@h/db"))
}

func TestEmbeddedFilesPresent(t *testing.T) {
	entries, err := FS.ReadDir(".")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_init.up.sql")
	assert.Contains(t, names, "000001_init.down.sql")
	assert.Contains(t, names, "000002_message_source_address.up.sql")
	assert.Contains(t, names, "000002_message_source_address.down.sql")
}
