package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"TutorChat/internal/backend"
	"TutorChat/internal/session"
)

// StartAnswer is sent in place of a learner answer to request the first question.
const StartAnswer = "start the tutoring session"

// ExitPrompt is the question passed to the exit confirmation.
const ExitPrompt = "Are you sure you want to exit the session?"

const noSessionMsg = "Session not found. Please start a new session."

// ConfirmFunc asks the learner a yes/no question.
type ConfirmFunc func(prompt string) bool

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the message timestamp source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides the message ID source
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// WithTracer sets the tracer used for turn spans
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithMeter sets the meter used for turn counters
func WithMeter(meter metric.Meter) Option {
	return func(o *Orchestrator) { o.meter = meter }
}

// Orchestrator runs the turn loop of one conversation and is the only writer
// of its message log. All methods are safe for concurrent use; at most one
// turn is in flight at any time.
type Orchestrator struct {
	api    API
	store  session.Store
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
	turns  metric.Int64Counter
	now    func() time.Time
	newID  func() string

	mu          sync.Mutex
	phase       Phase
	sess        session.Session
	messages    []session.Message
	errMsg      string
	startFailed bool
	epoch       uint64 // bumped on Exit; results from an older epoch are dropped
	cancelTurn  context.CancelFunc
	subscribers []func(ConversationState)

	// notifyMu keeps subscriber callbacks in mutation order.
	notifyMu sync.Mutex
}

// NewOrchestrator creates an Orchestrator in the Idle phase
func NewOrchestrator(api API, store session.Store, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:    api,
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
		phase:  PhaseIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("tutorchat")
	}
	if o.meter == nil {
		o.meter = otel.Meter("tutorchat")
	}

	turns, err := o.meter.Int64Counter(
		"tutor.turns",
		metric.WithDescription("Completed tutoring turns by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create turn counter", "error", err)
	}
	o.turns = turns
	return o
}

// Subscribe registers fn to receive a snapshot after every state change.
// Callbacks run on the goroutine that made the change and must not call
// back into the Orchestrator synchronously.
func (o *Orchestrator) Subscribe(fn func(ConversationState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, fn)
}

// State returns a snapshot of the conversation
func (o *Orchestrator) State() ConversationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Session returns the session the conversation runs under
func (o *Orchestrator) Session() session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess
}

// Start reads the stored session and fetches the first tutor question. It is
// valid from Idle and, as an explicit retry, after a failed Start.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	switch {
	case o.phase == PhaseIdle:
	case o.phase == PhaseError && o.startFailed:
	case o.phase == PhaseExited:
		o.mu.Unlock()
		return ErrExited
	default:
		o.mu.Unlock()
		return ErrAlreadyStarted
	}

	sess, err := o.storedSessionLocked(ctx)
	if err != nil {
		return err
	}

	o.sess = sess
	o.phase = PhaseAwaitingInitialQuestion
	o.errMsg = ""
	epoch := o.epoch
	turnCtx, cancel := context.WithCancel(ctx)
	o.cancelTurn = cancel
	o.unlockAndNotify()
	defer cancel()

	o.logger.Info("starting conversation", "user_id", sess.UserID, "session_id", sess.SessionID)

	resp, err := o.api.GetTutorQuestion(turnCtx, backend.AnswerRequest{
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Answer:    StartAnswer,
	})

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return ErrExited
	}
	o.cancelTurn = nil
	if err != nil {
		msg := backend.DetailOr(err, "Failed to get tutor question")
		o.phase = PhaseError
		o.errMsg = msg
		o.startFailed = true
		o.unlockAndNotify()
		o.logger.Error("failed to get initial question", "session_id", sess.SessionID, "error", err)
		return &SubmissionError{Op: backend.OpGetTutorQuestion, Msg: msg, Err: err}
	}

	o.appendTutorLocked(resp.TutorQuestion)
	o.phase = PhaseReady
	o.startFailed = false
	o.unlockAndNotify()
	return nil
}

// storedSessionLocked reads the stored session. It must be called with o.mu
// held; on failure it records the error, releases the lock and returns
// ErrNoSession.
func (o *Orchestrator) storedSessionLocked(ctx context.Context) (session.Session, error) {
	sess, ok, err := o.store.Get(ctx)
	if err == nil && ok && sess.Valid() {
		return sess, nil
	}
	o.errMsg = noSessionMsg
	o.unlockAndNotify()
	if err != nil {
		o.logger.Error("failed to read stored session", "error", err)
		return session.Session{}, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return session.Session{}, ErrNoSession
}

// Submit runs one turn for answer: the answer is shown immediately, then
// "process answer" and "get next question" are called strictly in sequence
// with the same text. A blank answer returns a *ValidationError, a call made
// while a turn is running returns ErrTurnInFlight; neither changes anything.
// If the stored session is gone the turn is not sent and ErrNoSession is
// returned.
func (o *Orchestrator) Submit(ctx context.Context, answer string) error {
	if strings.TrimSpace(answer) == "" {
		return &ValidationError{Field: "answer", Msg: "Please enter an answer"}
	}

	o.mu.Lock()
	switch o.phase {
	case PhaseReady:
	case PhaseError:
		if o.startFailed {
			o.mu.Unlock()
			return ErrNotReady
		}
	case PhaseSubmitting:
		o.mu.Unlock()
		o.logger.Debug("ignoring submit while a turn is in flight")
		return ErrTurnInFlight
	case PhaseExited:
		o.mu.Unlock()
		return ErrExited
	default:
		o.mu.Unlock()
		return ErrNotReady
	}

	// the session may have been cleared elsewhere since Start
	sess, err := o.storedSessionLocked(ctx)
	if err != nil {
		return err
	}
	o.sess = sess

	userMsg := o.appendLocked(session.SenderUser, answer, session.StatusPending)
	o.errMsg = ""
	o.phase = PhaseSubmitting
	epoch := o.epoch
	turnCtx, cancel := context.WithCancel(ctx)
	o.cancelTurn = cancel
	o.unlockAndNotify()
	defer cancel()

	turnCtx, span := o.tracer.Start(turnCtx, "tutor.turn")
	defer span.End()

	req := backend.AnswerRequest{
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		Answer:    answer,
	}

	feedback, err := o.api.ProcessAnswer(turnCtx, req)

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return ErrExited
	}
	if err != nil {
		o.setStatusLocked(userMsg.ID, session.StatusFailed)
		return o.failTurnLocked(turnCtx, span, backend.OpProcessAnswer, "Failed to process answer", err)
	}
	o.setStatusLocked(userMsg.ID, session.StatusConfirmed)
	o.appendTutorLocked(feedback.Feedback)
	o.unlockAndNotify()

	next, err := o.api.GetTutorQuestion(turnCtx, req)

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return ErrExited
	}
	if err != nil {
		return o.failTurnLocked(turnCtx, span, backend.OpGetTutorQuestion, "Failed to get next question", err)
	}
	o.appendTutorLocked(next.TutorQuestion)
	o.phase = PhaseReady
	o.cancelTurn = nil
	o.unlockAndNotify()

	o.recordTurn(turnCtx, "ok")
	return nil
}

// Exit ends the conversation after confirm approves ExitPrompt: the stored
// session is cleared, the log discarded and any in-flight turn abandoned.
// Exiting an exited conversation only clears the store again.
func (o *Orchestrator) Exit(ctx context.Context, confirm ConfirmFunc) error {
	o.mu.Lock()
	phase := o.phase
	o.mu.Unlock()

	switch phase {
	case PhaseIdle:
		return ErrNotStarted
	case PhaseExited:
		if err := o.store.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
		return nil
	}

	if confirm == nil || !confirm(ExitPrompt) {
		return ErrExitCancelled
	}

	o.mu.Lock()
	o.epoch++
	if o.cancelTurn != nil {
		o.cancelTurn()
		o.cancelTurn = nil
	}
	sessionID := o.sess.SessionID
	o.phase = PhaseExited
	o.messages = nil
	o.errMsg = ""
	o.startFailed = false
	o.sess = session.Session{}
	err := o.store.Clear(ctx)
	o.unlockAndNotify()

	if err != nil {
		o.logger.Error("failed to clear stored session", "error", err)
		return fmt.Errorf("failed to clear session: %w", err)
	}
	o.logger.Info("exited conversation", "session_id", sessionID)
	return nil
}

// failTurnLocked records a failed turn and releases o.mu.
func (o *Orchestrator) failTurnLocked(ctx context.Context, span trace.Span, op, fallback string, err error) error {
	msg := backend.DetailOr(err, fallback)
	o.phase = PhaseError
	o.errMsg = msg
	o.cancelTurn = nil
	o.unlockAndNotify()

	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	o.recordTurn(ctx, "error")
	o.logger.Error("turn failed", "op", op, "error", err)
	return &SubmissionError{Op: op, Msg: msg, Err: err}
}

func (o *Orchestrator) recordTurn(ctx context.Context, outcome string) {
	if o.turns == nil {
		return
	}
	o.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// appendTutorLocked appends a tutor message unless the service sent no text.
func (o *Orchestrator) appendTutorLocked(text string) {
	if text == "" {
		o.logger.Warn("tutor service returned an empty message")
		return
	}
	o.appendLocked(session.SenderTutor, text, session.StatusConfirmed)
}

func (o *Orchestrator) appendLocked(sender session.Sender, text string, status session.Status) session.Message {
	msg := session.Message{
		ID:        o.newID(),
		Sender:    sender,
		Text:      text,
		CreatedAt: o.now(),
		Status:    status,
	}
	o.messages = append(o.messages, msg)
	return msg
}

func (o *Orchestrator) setStatusLocked(id string, status session.Status) {
	for i := range o.messages {
		if o.messages[i].ID == id {
			o.messages[i].Status = status
			return
		}
	}
}

func (o *Orchestrator) snapshotLocked() ConversationState {
	messages := make([]session.Message, len(o.messages))
	copy(messages, o.messages)
	return ConversationState{
		Phase:       o.phase,
		Messages:    messages,
		Pending:     o.phase == PhaseAwaitingInitialQuestion || o.phase == PhaseSubmitting,
		Error:       o.errMsg,
		StartFailed: o.startFailed,
	}
}

// unlockAndNotify releases o.mu and hands the new state to subscribers.
// notifyMu is taken before o.mu is released so callbacks observe changes in
// the order they were made.
func (o *Orchestrator) unlockAndNotify() {
	snap := o.snapshotLocked()
	subscribers := o.subscribers
	o.notifyMu.Lock()
	o.mu.Unlock()
	defer o.notifyMu.Unlock()

	for _, fn := range subscribers {
		fn(snap)
	}
}
