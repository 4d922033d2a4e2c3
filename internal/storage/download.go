package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DownloadPrefix fetches every .csv and .xlsx object under prefix into destDir, keeping each
// key's path relative to prefix. It returns the local paths sorted.
func DownloadPrefix(ctx context.Context, store ObjectStorage, prefix, destDir string) ([]string, error) {
	if destDir == "" {
		return nil, fmt.Errorf("download dir is required")
	}
	listPrefix := strings.TrimSpace(prefix)
	objects, err := store.ListObjects(ctx, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects for prefix %s: %w", listPrefix, err)
	}

	var keys []string
	for _, obj := range objects {
		ext := strings.ToLower(filepath.Ext(obj.Key))
		if ext == ".csv" || ext == ".xlsx" {
			keys = append(keys, obj.Key)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no CSV or XLSX files found for prefix %s", listPrefix)
	}

	localPaths := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := filepath.Clean(filepath.FromSlash(objectRelativePath(listPrefix, key)))
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
			return nil, fmt.Errorf("object key %s escapes the download dir", key)
		}
		localPath := filepath.Join(destDir, rel)
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare directory for %s: %w", localPath, err)
		}
		if err := store.DownloadObject(ctx, key, localPath); err != nil {
			return nil, err
		}
		localPaths = append(localPaths, localPath)
	}

	sort.Strings(localPaths)
	return localPaths, nil
}

func objectRelativePath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	prefixTrimmed := strings.TrimSuffix(prefix, "/")
	rel := strings.TrimPrefix(key, prefixTrimmed+"/")
	if rel == "" || rel == key {
		return path.Base(key)
	}
	return rel
}
