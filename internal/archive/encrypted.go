package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"souviens/internal/snapshot"
)

// ErrLocked is returned when reading from an EncryptedArchive that has no
// unlocked decryption context.
var ErrLocked = errors.New("archive is encrypted: unlock required")

// EncryptedArchive encrypts every object on the way into an inner Archive
// and decrypts it on the way out. Keys and directory structure are
// unchanged; only content is protected.
type EncryptedArchive struct {
	inner     snapshot.Archive
	encryptor snapshot.Encryptor
	dec       snapshot.DecryptionContext
}

// NewEncryptedArchive wraps inner. dec may be nil for write-only use,
// such as unattended backups.
func NewEncryptedArchive(inner snapshot.Archive, encryptor snapshot.Encryptor, dec snapshot.DecryptionContext) *EncryptedArchive {
	return &EncryptedArchive{inner: inner, encryptor: encryptor, dec: dec}
}

// Unlock sets the decryption context used by Get.
func (a *EncryptedArchive) Unlock(dec snapshot.DecryptionContext) {
	a.dec = dec
}

func (a *EncryptedArchive) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	counted := &countingReader{r: r}
	var sealed bytes.Buffer
	if err := a.encryptor.Encrypt(counted, &sealed); err != nil {
		return fmt.Errorf("encrypting %s: %w", key, err)
	}
	if counted.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counted.n)
	}
	return a.inner.Put(ctx, key, &sealed, int64(sealed.Len()))
}

func (a *EncryptedArchive) Get(ctx context.Context, key string, w io.Writer) error {
	if a.dec == nil {
		return ErrLocked
	}
	var sealed bytes.Buffer
	if err := a.inner.Get(ctx, key, &sealed); err != nil {
		return err
	}
	if err := a.dec.Decrypt(&sealed, w); err != nil {
		return fmt.Errorf("decrypting %s: %w", key, err)
	}
	return nil
}

func (a *EncryptedArchive) List(ctx context.Context, dir string) ([]string, error) {
	return a.inner.List(ctx, dir)
}

func (a *EncryptedArchive) MakeDir(ctx context.Context, dir string) error {
	return a.inner.MakeDir(ctx, dir)
}

func (a *EncryptedArchive) Exists(ctx context.Context, key string) (bool, error) {
	return a.inner.Exists(ctx, key)
}

// ValidateSetup checks the inner archive and that the encryption keys exist.
func (a *EncryptedArchive) ValidateSetup(ctx context.Context) error {
	if !a.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys not configured: run 'souviens config keys'")
	}
	return a.inner.ValidateSetup(ctx)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ snapshot.Archive = (*EncryptedArchive)(nil)
