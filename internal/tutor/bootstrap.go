package tutor

import (
	"context"
	"fmt"
	"log/slog"

	"TutorChat/internal/backend"
	"TutorChat/internal/session"
)

// API is the subset of the tutor service the client depends on.
// *backend.Client satisfies it.
type API interface {
	CreateSession(ctx context.Context) (backend.CreateSessionResponse, error)
	SetProblem(ctx context.Context, req backend.SetProblemRequest) error
	GetTutorQuestion(ctx context.Context, req backend.AnswerRequest) (backend.TutorQuestionResponse, error)
	ProcessAnswer(ctx context.Context, req backend.AnswerRequest) (backend.ProcessAnswerResponse, error)
}

// Bootstrapper obtains a fresh session identity and records it locally.
type Bootstrapper struct {
	api    API
	store  session.Store
	logger *slog.Logger
}

// NewBootstrapper creates a Bootstrapper
func NewBootstrapper(api API, store session.Store, logger *slog.Logger) *Bootstrapper {
	return &Bootstrapper{api: api, store: store, logger: logger}
}

// CreateSession requests a new session from the service and stores it before
// returning, so a crash right after still leaves a resumable session. Every
// failure is a *SessionInitError; there is no retry.
func (b *Bootstrapper) CreateSession(ctx context.Context) (session.Session, error) {
	resp, err := b.api.CreateSession(ctx)
	if err != nil {
		b.logger.Error("failed to create session", "error", err)
		return session.Session{}, &SessionInitError{
			Msg: backend.DetailOr(err, "Failed to create session"),
			Err: err,
		}
	}

	sess := session.Session{
		UserID:    resp.UserID,
		SessionID: resp.SessionID,
	}
	if !sess.Valid() {
		b.logger.Error("tutor service returned incomplete session", "user_id", resp.UserID, "session_id", resp.SessionID)
		return session.Session{}, &SessionInitError{Msg: "Tutor service returned an incomplete session"}
	}

	if err := b.store.Set(ctx, sess); err != nil {
		b.logger.Error("failed to store session", "error", err)
		return session.Session{}, &SessionInitError{
			Msg: "Failed to save session",
			Err: fmt.Errorf("failed to store session: %w", err),
		}
	}

	b.logger.Info("created new session", "user_id", sess.UserID, "session_id", sess.SessionID)
	return sess, nil
}
