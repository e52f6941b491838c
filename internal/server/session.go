package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	sessionCookie = "tagger_session"
	// sessionTTL slides forward on every request that carries the cookie.
	sessionTTL = 7 * 24 * time.Hour
)

// Session is the per-client state of the upload, define and tag flow.
type Session struct {
	DatasetPath  string   `json:"dataset_path,omitempty"`
	ConfigPath   string   `json:"config_path,omitempty"`
	InputColumns []string `json:"input_columns,omitempty"`
	JobID        string   `json:"job_id,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type sessionRef struct {
	id   string
	data Session
}

type sessionCtxKey struct{}

func sessionKey(id string) string {
	return "session:" + id
}

// sessionFrom returns the request's session. Outside the sessions
// middleware it returns an empty, unsaved session.
func sessionFrom(ctx context.Context) *sessionRef {
	if ref, ok := ctx.Value(sessionCtxKey{}).(*sessionRef); ok {
		return ref
	}
	return &sessionRef{}
}

// sessions loads the session named by the cookie, minting a new id when
// the request has none, and refreshes its expiry.
func (s *Server) sessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ref := &sessionRef{}

		if c, err := r.Cookie(sessionCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				ref.id = c.Value
			}
		}

		if ref.id == "" {
			ref.id = uuid.NewString()
		} else {
			found, err := s.store.Get(ctx, sessionKey(ref.id), &ref.data)
			switch {
			case err != nil:
				s.logger.Warn("session load failed", "session", ref.id, "error", err)
			case found:
				if err := s.store.Set(ctx, sessionKey(ref.id), ref.data, sessionTTL); err != nil {
					s.logger.Warn("session refresh failed", "session", ref.id, "error", err)
				}
			}
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    ref.id,
			Path:     "/",
			MaxAge:   int(sessionTTL.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionCtxKey{}, ref)))
	})
}

func (s *Server) saveSession(ctx context.Context, ref *sessionRef) error {
	return s.store.Set(ctx, sessionKey(ref.id), ref.data, sessionTTL)
}
