package remote

import (
	"context"
	"fmt"

	"kioku/internal/config"
	"kioku/internal/kioku"
)

// NewBlobStoreFromConfig creates the blob store selected by cfg.Type.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.RemoteConfig) (kioku.BlobStore, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("fs_root required for filesystem remote")
		}
		return NewFileSystemStore(cfg.FSRoot)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3_bucket required for s3 remote")
		}
		return NewS3StoreFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
