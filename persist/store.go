package persist

import (
	"errors"
	"fmt"
	"time"
)

// ErrSnapshotNotFound is returned when a snapshot ID is unknown to a store.
var ErrSnapshotNotFound = errors.New("persist: snapshot not found")

// Store archives encrypted snapshot containers. Everything handed to a
// store is a fully assembled, passphrase-encrypted and authenticated
// container; the store never sees keys or plaintext and needs no
// cryptography of its own.
type Store interface {
	// SaveSnapshot stores a container under the given ID. Saving an
	// existing ID replaces it atomically.
	SaveSnapshot(id string, data []byte) error

	// LoadSnapshot retrieves a container by ID.
	LoadSnapshot(id string) ([]byte, error)

	// ListSnapshots enumerates the stored snapshots, newest first.
	ListSnapshots() ([]SnapshotInfo, error)

	// DeleteSnapshot removes a stored container.
	DeleteSnapshot(id string) error

	// Ping tests connectivity for remote backends.
	Ping() error

	// Close releases any resources the store holds.
	Close() error
}

// SnapshotInfo describes one archived snapshot.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// StoreType represents the supported storage backends.
type StoreType string

const (
	StoreTypeFileSystem StoreType = "filesystem"
	StoreTypeS3         StoreType = "s3"
)

// StoreConfig selects and configures a storage backend.
type StoreConfig struct {
	// Type must be one of the StoreType constants.
	Type StoreType `json:"type"`

	// Config holds backend-specific settings, e.g. "base_path" for the
	// filesystem store or "endpoint"/"bucket" for S3.
	Config map[string]interface{} `json:"config"`
}

// NewStore creates a store from configuration.
func NewStore(config StoreConfig) (Store, error) {
	switch config.Type {
	case StoreTypeFileSystem:
		return NewFileSystemStoreFromConfig(config)
	case StoreTypeS3:
		return NewS3StoreFromConfig(config)
	default:
		return nil, fmt.Errorf("unknown store type: %s", config.Type)
	}
}
