// Package uploads implements the intake surface: the resumable multipart
// coordinator and the single-shot path, both converging on a PENDING media
// record plus a fire-and-forget processing dispatch.
package uploads

import (
	"context"
	"sync"
	"time"

	"github.com/suffus/reedi-media-service/internal/apperr"
)

// Session is the ephemeral state of one resumable upload. It lives in the
// session store only while the upload is open; completion or abort retires
// it.
type Session struct {
	UploadID     string           `json:"upload_id"`
	Key          string           `json:"key"`
	OwnerID      string           `json:"owner_id"`
	Filename     string           `json:"filename"`
	ContentType  string           `json:"content_type"`
	DeclaredSize int64            `json:"declared_size"`
	Parts        map[int32]string `json:"parts"` // partNumber -> eTag
	CreatedAt    time.Time        `json:"created_at"`
}

type SessionStore interface {
	Put(ctx context.Context, s *Session) error
	// Get returns apperr.ErrUploadSession for unknown or expired sessions.
	Get(ctx context.Context, uploadID string) (*Session, error)
	SavePart(ctx context.Context, uploadID string, partNumber int32, eTag string) error
	Delete(ctx context.Context, uploadID string) error
}

// MemorySessionStore keeps sessions in process memory with a TTL sweep.
// Suitable for a single instance; multi-instance deployments use the redis
// store so any instance can serve any part.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
	go s.sweep()
	return s
}

func (s *MemorySessionStore) sweep() {
	for {
		time.Sleep(time.Minute)
		cutoff := time.Now().Add(-s.ttl)
		s.mu.Lock()
		for id, sess := range s.sessions {
			if sess.CreatedAt.Before(cutoff) {
				delete(s.sessions, id)
			}
		}
		s.mu.Unlock()
	}
}

func (s *MemorySessionStore) Put(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UploadID] = sess
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, uploadID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return nil, apperr.ErrUploadSession
	}
	cp := *sess
	cp.Parts = make(map[int32]string, len(sess.Parts))
	for k, v := range sess.Parts {
		cp.Parts[k] = v
	}
	return &cp, nil
}

func (s *MemorySessionStore) SavePart(ctx context.Context, uploadID string, partNumber int32, eTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return apperr.ErrUploadSession
	}
	if sess.Parts == nil {
		sess.Parts = make(map[int32]string)
	}
	sess.Parts[partNumber] = eTag
	return nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, uploadID)
	return nil
}
