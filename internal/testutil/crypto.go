package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/vdavid/yesmail/internal/crypto"
)

// GetTestEncryptor returns an AES sealer with a deterministic key.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	encryptor, err := crypto.NewEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}
