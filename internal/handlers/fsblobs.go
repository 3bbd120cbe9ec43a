package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrBlobNotFound is returned for missing blob keys.
var ErrBlobNotFound = errors.New("handlers: blob not found")

// FSBlobStore stores blobs under a root directory, one body file plus a
// .meta.json sidecar per key. It backs mwd serve in single-node setups;
// object-storage deployments implement BlobStore against their SDK.
type FSBlobStore struct {
	root string
	now  func() time.Time
}

// NewFSBlobStore creates the root directory if needed.
func NewFSBlobStore(root string) (*FSBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob root %s: %w", root, err)
	}
	return &FSBlobStore{root: root, now: time.Now}, nil
}

// WithClock substitutes the time source (tests).
func (b *FSBlobStore) WithClock(now func() time.Time) *FSBlobStore {
	b.now = now
	return b
}

func (b *FSBlobStore) paths(key string) (body, meta string) {
	p := filepath.Join(b.root, filepath.FromSlash(key))
	return p, p + ".meta.json"
}

func (b *FSBlobStore) Put(ctx context.Context, key string, body []byte, contentType string, customMetadata map[string]string) error {
	bodyPath, metaPath := b.paths(key)
	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return fmt.Errorf("blob put %s: %w", key, err)
	}
	meta := BlobMeta{
		Key:            key,
		Size:           int64(len(body)),
		Uploaded:       b.now().UTC(),
		ContentType:    contentType,
		CustomMetadata: customMetadata,
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("blob put %s: %w", key, err)
	}
	if err := os.WriteFile(bodyPath, body, 0o644); err != nil {
		return fmt.Errorf("blob put %s: %w", key, err)
	}
	if err := os.WriteFile(metaPath, rawMeta, 0o644); err != nil {
		return fmt.Errorf("blob put %s: %w", key, err)
	}
	return nil
}

func (b *FSBlobStore) Get(ctx context.Context, key string) ([]byte, *BlobMeta, error) {
	bodyPath, _ := b.paths(key)
	body, err := os.ReadFile(bodyPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("blob get %s: %w", key, err)
	}
	meta, err := b.Head(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return body, meta, nil
}

func (b *FSBlobStore) Head(ctx context.Context, key string) (*BlobMeta, error) {
	_, metaPath := b.paths(key)
	raw, err := os.ReadFile(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("blob head %s: %w", key, err)
	}
	var meta BlobMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("blob head %s: %w", key, err)
	}
	return &meta, nil
}

func (b *FSBlobStore) Delete(ctx context.Context, key string) error {
	bodyPath, metaPath := b.paths(key)
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob delete %s: %w", key, err)
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob delete %s: %w", key, err)
	}
	return nil
}

// List walks the tree under prefix, delivering metas in pages of 100.
func (b *FSBlobStore) List(ctx context.Context, prefix string, fn func(metas []BlobMeta) error) error {
	var page []BlobMeta
	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		err := fn(page)
		page = page[:0]
		return err
	}
	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta.json") {
			return nil
		}
		rel, err := filepath.Rel(b.root, strings.TrimSuffix(path, ".meta.json"))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		meta, err := b.Head(ctx, key)
		if err != nil {
			return err
		}
		page = append(page, *meta)
		if len(page) >= 100 {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}
