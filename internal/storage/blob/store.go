// Package blob stores mirrored result images on local disk or S3, with
// optional AES-GCM encryption at rest.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/ncecere/open_image_gateway/internal/config"
)

// ErrNotFound reports a missing object.
var ErrNotFound = errors.New("blob: object not found")

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
	Encrypted   bool
}

type Store interface {
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type store struct {
	backend   Store
	encryptor *encryptor
}

// New builds the store selected by results.storage.
func New(ctx context.Context, cfg config.ResultsConfig) (Store, error) {
	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	enc, err := newEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return &store{backend: backend, encryptor: enc}, nil
}

func buildBackend(ctx context.Context, cfg config.ResultsConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "s3":
		awsCfg, err := loadS3Config(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return newS3Store(cfg.S3, awsCfg)
	default:
		return newLocalStore(cfg.Local)
	}
}

func (s *store) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error) {
	if s.encryptor == nil {
		return s.backend.Put(ctx, key, body, opts)
	}
	encReader, size, metadata, err := s.encryptor.encrypt(body)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := s.backend.Put(ctx, key, encReader, PutOptions{
		ContentType: opts.ContentType,
		Metadata:    mergeMetadata(opts.Metadata, metadata),
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	info.Size = size
	info.Metadata = mergeMetadata(info.Metadata, metadata)
	info.Encrypted = true
	return info, nil
}

func (s *store) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	reader, info, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	if !isEncrypted(info.Metadata) {
		return reader, info, nil
	}
	defer reader.Close()
	if s.encryptor == nil {
		return nil, ObjectInfo{}, errors.New("blob: object is encrypted but no encryption key is configured")
	}
	decReader, size, err := s.encryptor.decrypt(reader)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	info.Size = size
	info.Encrypted = true
	return decReader, info, nil
}

func (s *store) Exists(ctx context.Context, key string) (bool, error) {
	return s.backend.Exists(ctx, key)
}

func (s *store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

func mergeMetadata(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	merged := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		merged[k] = v
	}
	return merged
}

func isEncrypted(meta map[string]string) bool {
	if meta == nil {
		return false
	}
	_, ok := meta[encryptionMetadataKey]
	return ok
}
