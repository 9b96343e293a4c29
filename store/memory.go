package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps objects in process memory. It backs local development and
// tests: upload targets point back at the server's own PUT /upload/:fileId
// route and public URLs at GET /blob/<key>, so the full upload and process
// flow works without S3 credentials.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
}

type memoryObject struct {
	data        []byte
	contentType string
	tags        map[string]string
}

// NewMemoryStore creates an empty in-process store. baseURL is the address the
// server itself is reachable on, e.g. http://localhost:8080.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (s *MemoryStore) NewUploadTarget(ctx context.Context) (string, string, error) {
	fileID := NewFileID()
	return fileID, s.baseURL + "/upload/" + fileID, nil
}

func (s *MemoryStore) FetchSource(ctx context.Context, fileID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	object, ok := s.objects[SourceKey(fileID)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), object.data...), nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.objects[key]
	stored := memoryObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
	}
	if ok {
		stored.tags = existing.tags
	}
	s.objects[key] = stored
	return nil
}

func (s *MemoryStore) PublicURL(key string) string {
	return s.baseURL + "/blob/" + key
}

func (s *MemoryStore) Tag(ctx context.Context, key string, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	object, ok := s.objects[key]
	if !ok {
		return ErrNotFound
	}
	if object.tags == nil {
		object.tags = make(map[string]string)
	}
	for name, value := range attrs {
		object.tags[name] = value
	}
	s.objects[key] = object
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Object returns a stored object's bytes and content type for serving over the
// blob route.
func (s *MemoryStore) Object(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	object, ok := s.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), object.data...), object.contentType, true
}

// Tags returns the attributes attached to a stored object.
func (s *MemoryStore) Tags(key string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make(map[string]string, len(s.objects[key].tags))
	for name, value := range s.objects[key].tags {
		copied[name] = value
	}
	return copied
}

// Len reports the number of stored objects, used by tests to observe
// deduplication.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
