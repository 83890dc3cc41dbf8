// Package mirror copies completed result images into the gateway's blob store
// and rewrites their URLs to the gateway's own file route.
package mirror

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/storage/blob"
)

// FilesRoute is the public path prefix mirrored images are served under.
const FilesRoute = "/v1/files/images/"

const (
	ResultStored   = "stored"
	ResultReused   = "reused"
	ResultFallback = "fallback"
)

var errTooLarge = errors.New("image exceeds results.max_size_mb")

// Observer receives one outcome per mirrored URL.
type Observer interface {
	ObserveMirror(result string)
}

type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   Observer
}

// Mirror downloads result images and stores them content addressed.
type Mirror struct {
	store      blob.Store
	publicBase string
	maxBytes   int64
	timeout    time.Duration
	client     *http.Client
	logger     *slog.Logger
	observer   Observer
}

func New(store blob.Store, cfg config.ResultsConfig, opts Options) *Mirror {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxMB := cfg.MaxSizeMB
	if maxMB <= 0 {
		maxMB = 25
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Mirror{
		store:      store,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxBytes:   int64(maxMB) * 1024 * 1024,
		timeout:    timeout,
		client:     client,
		logger:     logger,
		observer:   opts.Observer,
	}
}

// Rewrite mirrors every URL concurrently and returns the rewritten list in
// the same order. A URL that cannot be mirrored is returned unchanged.
func (m *Mirror) Rewrite(ctx context.Context, urls []string) []string {
	if m == nil || len(urls) == 0 {
		return urls
	}
	out := make([]string, len(urls))
	var g errgroup.Group
	for i, raw := range urls {
		i, raw := i, raw
		g.Go(func() error {
			mirrored, result, err := m.mirrorOne(ctx, raw)
			if err != nil {
				m.logger.Warn("mirror: keeping backend url",
					slog.String("url", raw),
					slog.String("error", err.Error()),
				)
				mirrored, result = raw, ResultFallback
			}
			if m.observer != nil {
				m.observer.ObserveMirror(result)
			}
			out[i] = mirrored
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (m *Mirror) mirrorOne(ctx context.Context, raw string) (string, string, error) {
	data, err := m.download(ctx, raw)
	if err != nil {
		return "", "", err
	}
	key, contentType := ObjectKey(data)

	exists, err := m.store.Exists(ctx, key)
	if err != nil {
		return "", "", fmt.Errorf("check %s: %w", key, err)
	}
	if exists {
		return m.PublicURL(key), ResultReused, nil
	}
	if _, err := m.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"source-url": raw},
	}); err != nil {
		return "", "", fmt.Errorf("store %s: %w", key, err)
	}
	return m.PublicURL(key), ResultStored, nil
}

func (m *Mirror) download(ctx context.Context, raw string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download failed: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > m.maxBytes {
		return nil, errTooLarge
	}
	if len(data) == 0 {
		return nil, errors.New("empty image body")
	}
	return data, nil
}

// PublicURL returns the gateway URL for a stored key.
func (m *Mirror) PublicURL(key string) string {
	return m.publicBase + FilesRoute + key
}

// ObjectKey derives the content-addressed key and detected content type.
func ObjectKey(data []byte) (string, string) {
	sum := sha256.Sum256(data)
	mt := mimetype.Detect(data)
	ext := strings.TrimPrefix(mt.Extension(), ".")
	if ext == "" {
		ext = "bin"
	}
	return hex.EncodeToString(sum[:]) + "." + ext, mt.String()
}
