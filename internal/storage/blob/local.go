package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ncecere/open_image_gateway/internal/config"
)

type localStore struct {
	root string
}

type localMetadata struct {
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata"`
}

func newLocalStore(cfg config.ResultsLocalConfig) (*localStore, error) {
	dir := cfg.Directory
	if strings.TrimSpace(dir) == "" {
		dir = "./data/images"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create local storage dir: %w", err)
	}
	return &localStore{root: dir}, nil
}

// Put writes to a temp file and renames it so readers never see partial
// objects. Metadata is written before the rename.
func (s *localStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	path, metaPath, err := s.pathsForKey(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return ObjectInfo{}, err
	}
	tempFile, err := os.CreateTemp(filepath.Dir(path), "upload-*.tmp")
	if err != nil {
		return ObjectInfo{}, err
	}
	defer os.Remove(tempFile.Name())

	written, err := io.Copy(tempFile, body)
	if err == nil {
		err = tempFile.Sync()
	}
	if closeErr := tempFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ObjectInfo{}, err
	}

	meta := localMetadata{ContentType: opts.ContentType, Size: written, Metadata: opts.Metadata}
	if err := writeMetadata(metaPath, meta); err != nil {
		return ObjectInfo{}, err
	}
	if err := os.Rename(tempFile.Name(), path); err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: written, ContentType: opts.ContentType, Metadata: opts.Metadata}, nil
}

func (s *localStore) Get(_ context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	path, metaPath, err := s.pathsForKey(key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ObjectInfo{}, ErrNotFound
		}
		return nil, ObjectInfo{}, err
	}
	meta, err := readMetadata(metaPath)
	if err != nil {
		file.Close()
		return nil, ObjectInfo{}, err
	}
	return file, ObjectInfo{Key: key, Size: meta.Size, ContentType: meta.ContentType, Metadata: meta.Metadata}, nil
}

func (s *localStore) Exists(_ context.Context, key string) (bool, error) {
	path, _, err := s.pathsForKey(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *localStore) Delete(_ context.Context, key string) error {
	path, metaPath, err := s.pathsForKey(key)
	if err != nil {
		return err
	}
	for _, p := range []string{path, metaPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *localStore) pathsForKey(key string) (string, string, error) {
	cleaned := filepath.Clean(key)
	if cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", "", fmt.Errorf("invalid key: %s", key)
	}
	path := filepath.Join(s.root, cleaned)
	return path, path + ".meta", nil
}

func writeMetadata(path string, meta localMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}

func readMetadata(path string) (localMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return localMetadata{}, ErrNotFound
		}
		return localMetadata{}, err
	}
	var meta localMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return localMetadata{}, err
	}
	return meta, nil
}
