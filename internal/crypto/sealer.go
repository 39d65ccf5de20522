// Package crypto seals mailbox secrets before they reach the database.
package crypto

// SecretSealer turns a plaintext secret into an opaque value that is safe to persist, and back.
// ref identifies the owner of the secret (the bound mailbox's account id) so sealers that keep
// the secret elsewhere can address it.
type SecretSealer interface {
	Seal(ref, secret string) ([]byte, error)
	Unseal(sealed []byte) (string, error)
}
