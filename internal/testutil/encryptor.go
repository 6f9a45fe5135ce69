package testutil

import (
	"testing"

	"souviens/internal/encryption"
	"souviens/internal/snapshot"
)

// TestPassphrase is the passphrase NewUnlockedEncryptor sets up keys with.
const TestPassphrase = "correct horse battery staple"

// NewUnlockedEncryptor returns a configured test encryptor and its
// decryption context.
func NewUnlockedEncryptor(t *testing.T) (snapshot.Encryptor, snapshot.DecryptionContext) {
	t.Helper()

	enc := encryption.NewTestEncryptor()
	if err := enc.Setup(TestPassphrase); err != nil {
		t.Fatalf("failed to set up encryptor: %v", err)
	}
	dec, err := enc.Unlock(TestPassphrase)
	if err != nil {
		t.Fatalf("failed to unlock encryptor: %v", err)
	}
	return enc, dec
}
