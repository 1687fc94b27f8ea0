package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"time"
)

// LocalStore writes images to a directory on disk.
type LocalStore struct {
	dir    string
	prefix string
}

func NewLocalStore(dir, publicPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating image dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, prefix: publicPrefix}, nil
}

func (s *LocalStore) Save(ctx context.Context, name, contentType string, r io.Reader) (*StoredImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := newKey(name, time.Now())
	target := filepath.Join(s.dir, key)

	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", key, err)
	}

	digest := newDigestWriter()
	if _, err := io.Copy(io.MultiWriter(f, digest), r); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return nil, fmt.Errorf("writing %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(target)
		return nil, fmt.Errorf("closing %s: %w", key, err)
	}

	return &StoredImage{
		Key:         key,
		URL:         publicURL(s.prefix, key),
		ContentType: contentType,
		Size:        digest.size,
		SHA256:      digest.sum(),
	}, nil
}

func (s *LocalStore) Open(_ context.Context, key string) (*Object, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}

	f, err := os.Open(filepath.Join(s.dir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Object{ReadCloser: f, ContentType: contentType, Size: info.Size()}, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}
