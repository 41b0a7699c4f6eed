package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700

	snapshotExt = ".snapshot"
)

// FileSystemStore archives snapshot containers as files under a base
// directory, one file per snapshot ID.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore initializes a filesystem-backed snapshot store.
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if err := os.MkdirAll(basePath, DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileSystemStore{basePath: basePath}, nil
}

// NewFileSystemStoreFromConfig creates a FileSystemStore from StoreConfig.
func NewFileSystemStoreFromConfig(config StoreConfig) (*FileSystemStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem store")
	}
	return NewFileSystemStore(basePath)
}

// SaveSnapshot writes the container through a temp file and atomic rename
// so a crash mid-write never damages an existing snapshot.
func (fs *FileSystemStore) SaveSnapshot(id string, data []byte) error {
	if err := validateSnapshotID(id); err != nil {
		return err
	}
	return writeSecureFile(fs.path(id), data, FilePermissions)
}

// LoadSnapshot reads a container by ID.
func (fs *FileSystemStore) LoadSnapshot(id string) ([]byte, error) {
	if err := validateSnapshotID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fs.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// ListSnapshots enumerates stored snapshots, newest first.
func (fs *FileSystemStore) ListSnapshots() ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var infos []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, SnapshotInfo{
			ID:        strings.TrimSuffix(entry.Name(), snapshotExt),
			Size:      fi.Size(),
			CreatedAt: fi.ModTime().UTC(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

// DeleteSnapshot removes a stored container.
func (fs *FileSystemStore) DeleteSnapshot(id string) error {
	if err := validateSnapshotID(id); err != nil {
		return err
	}
	if err := os.Remove(fs.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrSnapshotNotFound
		}
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Ping verifies the base directory is accessible.
func (fs *FileSystemStore) Ping() error {
	if _, err := os.Stat(fs.basePath); err != nil {
		return fmt.Errorf("store directory inaccessible: %w", err)
	}
	return nil
}

// Close is a no-op for the filesystem store.
func (fs *FileSystemStore) Close() error {
	return nil
}

func (fs *FileSystemStore) path(id string) string {
	return filepath.Join(fs.basePath, id+snapshotExt)
}

// validateSnapshotID rejects IDs that could escape the store directory.
func validateSnapshotID(id string) error {
	if id == "" {
		return fmt.Errorf("snapshot ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("invalid snapshot ID: %s", id)
	}
	return nil
}

// writeSecureFile writes data to a temp file in the target directory,
// syncs, fixes permissions and renames it over path.
func writeSecureFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
