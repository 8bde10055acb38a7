package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"TutorChat/internal/backend"
	"TutorChat/internal/session"
)

// ProblemSubmitter associates the learner's problem with a session.
type ProblemSubmitter struct {
	api    API
	store  session.Store
	logger *slog.Logger
}

// NewProblemSubmitter creates a ProblemSubmitter
func NewProblemSubmitter(api API, store session.Store, logger *slog.Logger) *ProblemSubmitter {
	return &ProblemSubmitter{api: api, store: store, logger: logger}
}

// SubmitProblem sends the problem statement for sess. Blank text fails with a
// *ValidationError and a missing stored session with ErrNoSession, both
// without touching the network. Remote failures are *SubmissionError and may
// be retried by calling SubmitProblem again.
func (p *ProblemSubmitter) SubmitProblem(ctx context.Context, sess session.Session, in session.Problem) error {
	problem := strings.TrimSpace(in.Text)
	if problem == "" {
		return &ValidationError{Field: "problem", Msg: "Please enter a problem"}
	}

	if !sess.Valid() {
		return ErrNoSession
	}
	if _, ok, err := p.store.Get(ctx); err != nil {
		return fmt.Errorf("failed to read stored session: %w", err)
	} else if !ok {
		return ErrNoSession
	}

	err := p.api.SetProblem(ctx, backend.SetProblemRequest{
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Problem:   problem,
	})
	if err != nil {
		p.logger.Error("failed to set problem", "session_id", sess.SessionID, "error", err)
		return &SubmissionError{
			Op:  backend.OpSetProblem,
			Msg: backend.DetailOr(err, "Failed to set problem"),
			Err: err,
		}
	}

	if err := p.store.Set(ctx, sess); err != nil {
		// The service already has the problem; the conversation can still proceed.
		p.logger.Warn("failed to refresh stored session", "error", err)
	}

	p.logger.Info("problem set", "session_id", sess.SessionID, "problem_length", len(problem))
	return nil
}
