package encryption

import (
	"fmt"

	"souviens/internal/config"
	"souviens/internal/snapshot"
)

// NewEncryptorFromConfig returns the Encryptor named by cfg.Type. An empty
// type selects age, which needs both key paths.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (snapshot.Encryptor, error) {
	switch cfg.Type {
	case "test":
		return NewTestEncryptor(), nil
	case "age", "":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
