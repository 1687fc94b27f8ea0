package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/config"
	"google.golang.org/api/option"
)

// GCSStore keeps images in a private Cloud Storage bucket. Images are served back through
// the API under the public prefix, never by direct bucket URL.
type GCSStore struct {
	client       *storage.Client
	bucket       string
	objectPrefix string
	publicPrefix string
}

func NewGCSStore(ctx context.Context, cfg config.StorageConfig) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &GCSStore{
		client:       client,
		bucket:       cfg.GCSBucket,
		objectPrefix: cfg.GCSPrefix,
		publicPrefix: cfg.PublicPrefix,
	}, nil
}

func (s *GCSStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path.Join(s.objectPrefix, key))
}

func (s *GCSStore) Save(ctx context.Context, name, contentType string, r io.Reader) (*StoredImage, error) {
	key := newKey(name, time.Now())

	w := s.object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	digest := newDigestWriter()
	if _, err := io.Copy(io.MultiWriter(w, digest), r); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("uploading %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing %s: %w", key, err)
	}

	return &StoredImage{
		Key:         key,
		URL:         publicURL(s.publicPrefix, key),
		ContentType: contentType,
		Size:        digest.size,
		SHA256:      digest.sum(),
	}, nil
}

func (s *GCSStore) Open(ctx context.Context, key string) (*Object, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}

	rc, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrImageNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	return &Object{ReadCloser: rc, ContentType: rc.Attrs.ContentType, Size: rc.Attrs.Size}, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	if err := s.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
