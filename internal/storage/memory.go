package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/suffus/reedi-media-service/internal/apperr"
)

// Memory is an in-process BlobStore used in tests and local development
// when no S3 endpoint is configured.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads map[string]*memUpload // uploadID -> state
}

type memUpload struct {
	key   string
	parts map[int32][]byte
}

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
		uploads: make(map[string]*memUpload),
	}
}

func (m *Memory) Put(ctx context.Context, key, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) InitiateMultipart(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.uploads[id] = &memUpload{key: key, parts: make(map[int32][]byte)}
	return id, nil
}

func (m *Memory) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return "", apperr.ErrUploadSession
	}
	up.parts[partNumber] = append([]byte(nil), data...)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

func (m *Memory) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return apperr.ErrUploadSession
	}
	var assembled []byte
	for _, p := range parts {
		b, ok := up.parts[p.PartNumber]
		if !ok {
			return fmt.Errorf("%w: part %d never uploaded", apperr.ErrIncompleteParts, p.PartNumber)
		}
		assembled = append(assembled, b...)
	}
	m.objects[key] = assembled
	delete(m.uploads, uploadID)
	return nil
}

func (m *Memory) AbortMultipart(ctx context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, uploadID)
	return nil
}

func (m *Memory) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "memory://" + key, nil
}

// OpenUploads reports how many multipart uploads are in flight.
func (m *Memory) OpenUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// Has reports whether a key currently holds an object.
func (m *Memory) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}
