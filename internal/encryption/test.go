package encryption

import (
	"bytes"
	"fmt"
	"io"

	"souviens/internal/snapshot"
)

// testMagic marks content written by TestEncryptor.
var testMagic = []byte("SVTEST1\n")

// TestEncryptor is a reversible stand-in for AgeEncryptor. It prefixes
// content with a marker so encrypted output never equals the plaintext, and
// requires no keys.
type TestEncryptor struct {
	passphrase string
}

var _ snapshot.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

// Setup records the passphrase that Unlock will accept. Until Setup is
// called any passphrase unlocks.
func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (snapshot.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, fmt.Errorf("incorrect passphrase")
	}
	return TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext removes the TestEncryptor marker.
type TestDecryptionContext struct{}

var _ snapshot.DecryptionContext = TestDecryptionContext{}

func (TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	marker := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, marker); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(marker, testMagic) {
		return fmt.Errorf("content was not written by the test encryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
