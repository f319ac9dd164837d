// Package objectstoretest provides an in-memory objectstore.Store.
package objectstoretest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/princekumarofficial/channel-media-service/internal/services/objectstore"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

type Store struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErr, when set, fails every upload.
	PutErr  error
	Removed []string
}

var _ objectstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Put(ctx context.Context, kind types.MediaKind, fileName string, r io.Reader, size int64, _ string) (string, error) {
	if s.PutErr != nil {
		return "", s.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch: read %d, declared %d", len(data), size)
	}

	key := objectstore.JoinKey(string(kind), objectstore.ObjectName(fileName))
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return key, nil
}

func (s *Store) PresignedGet(_ context.Context, key string, expiry time.Duration) (*url.URL, error) {
	bucket, object, err := objectstore.SplitKey(key)
	if err != nil {
		return nil, err
	}
	return &url.URL{
		Scheme:   "http",
		Host:     "objects.test",
		Path:     "/" + bucket + "/" + object,
		RawQuery: fmt.Sprintf("X-Amz-Expires=%d", int(expiry.Seconds())),
	}, nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.Removed = append(s.Removed, key)
	return nil
}

// Object returns the stored bytes for key.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
