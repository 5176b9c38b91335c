package kioku

import "context"

// BlobStore is the remote storage collaborator: an opaque key-path object
// store. Paths follow {uid}/{subFolder?}/{noteName}/...
type BlobStore interface {
	// Put stores data at path, replacing any previous object.
	Put(ctx context.Context, path string, data []byte) error

	// Get returns the object at path. Returns an error wrapping ErrNotFound
	// when nothing is stored there.
	Get(ctx context.Context, path string) ([]byte, error)

	// List returns the paths of all objects whose path starts with prefix,
	// sorted lexically.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// ValidateSetup verifies that the store is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
