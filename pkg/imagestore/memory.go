package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type memoryImage struct {
	contentType string
	data        []byte
}

// MemoryStore is a thread-safe in-process Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	prefix string
	images map[string]memoryImage
}

func NewMemoryStore(publicPrefix string) *MemoryStore {
	return &MemoryStore{prefix: publicPrefix, images: make(map[string]memoryImage)}
}

func (s *MemoryStore) Save(ctx context.Context, name, contentType string, r io.Reader) (*StoredImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	digest := newDigestWriter()
	if _, err := io.Copy(io.MultiWriter(&buf, digest), r); err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	key := newKey(name, time.Now())
	s.mu.Lock()
	s.images[key] = memoryImage{contentType: contentType, data: buf.Bytes()}
	s.mu.Unlock()

	return &StoredImage{
		Key:         key,
		URL:         publicURL(s.prefix, key),
		ContentType: contentType,
		Size:        digest.size,
		SHA256:      digest.sum(),
	}, nil
}

func (s *MemoryStore) Open(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	img, ok := s.images[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrImageNotFound
	}

	return &Object{
		ReadCloser:  io.NopCloser(bytes.NewReader(img.data)),
		ContentType: img.contentType,
		Size:        int64(len(img.data)),
	}, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.images, key)
	s.mu.Unlock()
	return nil
}

// Len reports how many images are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}
