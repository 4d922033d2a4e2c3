package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage captures the minimal S3-compatible operations report publishing needs.
type ObjectStorage interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	DownloadObject(ctx context.Context, key string, destPath string) error
	UploadObject(ctx context.Context, key string, data []byte) error
}

// UploadFiles uploads each local file under prefix, keyed by its path relative to root.
// It returns the uploaded keys in input order.
func UploadFiles(ctx context.Context, store ObjectStorage, root, prefix string, files []string) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			return keys, fmt.Errorf("failed to resolve %s against %s: %w", f, root, err)
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return keys, fmt.Errorf("failed reading %s: %w", f, err)
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		if err := store.UploadObject(ctx, key, data); err != nil {
			return keys, fmt.Errorf("failed uploading %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
