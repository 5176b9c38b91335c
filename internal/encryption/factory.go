package encryption

import (
	"fmt"

	"kioku/internal/config"
	"kioku/internal/kioku"
)

// NewEncryptorFromConfig creates the encryptor selected by cfg.Type.
// It returns nil for "none": blobs are stored as plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (kioku.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg.PublicKeyPath, cfg.PrivateKeyPath), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
