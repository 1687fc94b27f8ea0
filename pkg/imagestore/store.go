// Package imagestore keeps uploaded diagnosis images and hands them back as streams.
package imagestore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/config"
	"github.com/google/uuid"
)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrInvalidKey    = errors.New("invalid image key")
)

const fallbackExt = ".png"

// StoredImage describes an image after it has been written.
type StoredImage struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
	SHA256      string
}

// Object is an open stored image. Callers must Close it.
type Object struct {
	io.ReadCloser
	ContentType string
	Size        int64
}

type Store interface {
	// Save streams r into the store under a freshly generated key.
	Save(ctx context.Context, name, contentType string, r io.Reader) (*StoredImage, error)
	Open(ctx context.Context, key string) (*Object, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreLocal:
		return NewLocalStore(cfg.LocalDir, cfg.PublicPrefix)
	case config.StoreGCS:
		return NewGCSStore(ctx, cfg)
	case config.StoreMemory:
		return NewMemoryStore(cfg.PublicPrefix), nil
	}
	return nil, fmt.Errorf("unsupported image store %q", cfg.Backend)
}

// newKey yields "<unix millis>-<random><ext>"; the original filename only contributes its extension.
func newKey(name string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), random, extension(name))
}

func extension(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if len(ext) < 2 || len(ext) > 6 {
		return fallbackExt
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fallbackExt
		}
	}
	return ext
}

// validKey rejects anything that could escape the store's namespace.
func validKey(key string) bool {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return false
	}
	return true
}

func publicURL(prefix, key string) string {
	return strings.TrimRight(prefix, "/") + "/" + key
}

// digestWriter counts and hashes whatever passes through it.
type digestWriter struct {
	h    hash.Hash
	size int64
}

func newDigestWriter() *digestWriter {
	return &digestWriter{h: sha256.New()}
}

func (d *digestWriter) Write(p []byte) (int, error) {
	d.size += int64(len(p))
	return d.h.Write(p)
}

func (d *digestWriter) sum() string {
	return fmt.Sprintf("%x", d.h.Sum(nil))
}
