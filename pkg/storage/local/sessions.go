package local

import (
	"net/http"
	"sync"
	"time"

	"github.com/campushq/asset-server/pkg/e"
	"github.com/campushq/asset-server/pkg/s"
)

// SessionRegistry holds single use, time limited upload tokens for the
// two phase local upload flow. Expired sessions are dropped on lookup.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]s.UploadSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]s.UploadSession)}
}

func (r *SessionRegistry) Put(session s.UploadSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.Token] = session
}

// Consume removes and returns the session for token. A token can only
// ever be consumed once, a second call fails with a 410-equivalent.
func (r *SessionRegistry) Consume(token string) (s.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[token]
	if !ok {
		return s.UploadSession{}, &e.StorageError{Op: "direct-upload", Status: http.StatusGone, Err: e.ErrUploadSessionNotFound}
	}
	delete(r.sessions, token)

	if time.Now().After(session.ExpiresAt) {
		return s.UploadSession{}, &e.StorageError{Op: "direct-upload", Status: http.StatusGone, Err: e.ErrUploadSessionExpired}
	}

	return session, nil
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
