package tutor_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"TutorChat/internal/backend"
	"TutorChat/internal/session"
	"TutorChat/internal/tutor"
	"TutorChat/internal/tutortest"
)

type harness struct {
	srv   *tutortest.Server
	api   *backend.Client
	store *session.MemoryStore
	orch  *tutor.Orchestrator
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := tutortest.NewServer(t)
	api, err := backend.NewClient(srv.URL, nil, discardLogger(),
		tracenoop.NewTracerProvider().Tracer("test"), metricnoop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	store := session.NewMemoryStore()
	var n int
	orch := tutor.NewOrchestrator(api, store, discardLogger(),
		tutor.WithIDGenerator(func() string { n++; return fmt.Sprintf("m%d", n) }),
		tutor.WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }),
		tutor.WithTracer(tracenoop.NewTracerProvider().Tracer("test")),
		tutor.WithMeter(metricnoop.NewMeterProvider().Meter("test")),
	)
	return &harness{srv: srv, api: api, store: store, orch: orch}
}

// started bootstraps a session and runs Start (Scenario A).
func (h *harness) started(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := tutor.NewBootstrapper(h.api, h.store, discardLogger()).CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx))
}

type entry struct {
	Sender session.Sender
	Text   string
}

func logOf(state tutor.ConversationState) []entry {
	out := make([]entry, len(state.Messages))
	for i, m := range state.Messages {
		out[i] = entry{m.Sender, m.Text}
	}
	return out
}

func tutorSaid(text string) entry { return entry{session.SenderTutor, text} }
func userSaid(text string) entry  { return entry{session.SenderUser, text} }

func TestScenarioA_InitialQuestion(t *testing.T) {
	h := newHarness(t)
	h.started(t)

	state := h.orch.State()
	assert.Equal(t, tutor.PhaseReady, state.Phase)
	assert.False(t, state.Pending)
	assert.Empty(t, state.Error)
	assert.Equal(t, []entry{tutorSaid("What is Big-O?")}, logOf(state))

	calls := h.srv.Calls("get_tutor_question")
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]string{"user_id": "u1", "session_id": "s1", "answer": tutor.StartAnswer}, calls[0].Body)
}

func TestScenarioB_SuccessfulTurn(t *testing.T) {
	h := newHarness(t)
	h.srv.On("get_tutor_question",
		tutortest.Reply{Body: map[string]string{"tutor_question": "What is Big-O?"}},
		tutortest.Reply{Body: map[string]string{"tutor_question": "Next: explain O(log n)"}},
	)
	h.started(t)

	require.NoError(t, h.orch.Submit(context.Background(), "O(n)"))

	state := h.orch.State()
	assert.Equal(t, tutor.PhaseReady, state.Phase)
	assert.Empty(t, state.Error)
	assert.Equal(t, []entry{
		tutorSaid("What is Big-O?"),
		userSaid("O(n)"),
		tutorSaid("Correct!"),
		tutorSaid("Next: explain O(log n)"),
	}, logOf(state))
	assert.Equal(t, session.StatusConfirmed, state.Messages[1].Status)

	assert.Equal(t, []string{"create_session", "get_tutor_question", "process_answer", "get_tutor_question"}, h.srv.Ops())
	turnCalls := h.srv.Calls("process_answer", "get_tutor_question")[1:]
	for _, c := range turnCalls {
		assert.Equal(t, "O(n)", c.Body["answer"], "both calls of a turn carry the same answer")
	}
}

func TestScenarioC_ProcessAnswerFails(t *testing.T) {
	h := newHarness(t)
	h.started(t)
	h.srv.On("process_answer",
		tutortest.Reply{Status: http.StatusInternalServerError},
		tutortest.Reply{Body: map[string]string{"feedback": "Better."}},
	)

	err := h.orch.Submit(context.Background(), "wrong")
	var subErr *tutor.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, backend.OpProcessAnswer, subErr.Op)

	state := h.orch.State()
	assert.Equal(t, tutor.PhaseError, state.Phase)
	assert.Equal(t, "Failed to process answer", state.Error)
	assert.Equal(t, []entry{tutorSaid("What is Big-O?"), userSaid("wrong")}, logOf(state))
	assert.Equal(t, session.StatusFailed, state.Messages[1].Status)
	assert.Len(t, h.srv.Calls("get_tutor_question"), 1, "next question must not be requested")
	assert.True(t, state.CanSubmit())

	// The learner retries by resubmitting.
	require.NoError(t, h.orch.Submit(context.Background(), "right"))
	state = h.orch.State()
	assert.Equal(t, tutor.PhaseReady, state.Phase)
	assert.Empty(t, state.Error)
	assert.Len(t, state.Messages, 5)
}

func TestNextQuestionFailureKeepsFeedback(t *testing.T) {
	h := newHarness(t)
	h.started(t)
	h.srv.On("get_tutor_question", tutortest.Reply{Status: http.StatusServiceUnavailable, Body: map[string]string{"detail": "tutor is busy"}})

	err := h.orch.Submit(context.Background(), "O(n)")
	var subErr *tutor.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, backend.OpGetTutorQuestion, subErr.Op)

	state := h.orch.State()
	assert.Equal(t, tutor.PhaseError, state.Phase)
	assert.Equal(t, "tutor is busy", state.Error)
	assert.Equal(t, []entry{tutorSaid("What is Big-O?"), userSaid("O(n)"), tutorSaid("Correct!")}, logOf(state))
	assert.Equal(t, session.StatusConfirmed, state.Messages[1].Status)
}

func TestSubmitWhileSubmittingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.started(t)

	gate := make(chan struct{})
	h.srv.On("process_answer", tutortest.Reply{Body: map[string]string{"feedback": "Correct!"}, Wait: gate})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = h.orch.Submit(context.Background(), "first")
	}()

	require.Eventually(t, func() bool {
		return len(h.srv.Calls("process_answer")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	before := h.orch.State()
	assert.Equal(t, tutor.PhaseSubmitting, before.Phase)
	assert.True(t, before.Pending)

	err := h.orch.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, tutor.ErrTurnInFlight)
	assert.Len(t, h.orch.State().Messages, len(before.Messages))
	assert.Len(t, h.srv.Calls("process_answer"), 1)

	close(gate)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, tutor.PhaseReady, h.orch.State().Phase)
	assert.Len(t, h.srv.Calls("process_answer"), 1)
}

func TestBlankAnswerIsRejectedLocally(t *testing.T) {
	h := newHarness(t)
	h.started(t)
	callsBefore := len(h.srv.Calls())

	for _, answer := range []string{"", "   ", "\t\n"} {
		err := h.orch.Submit(context.Background(), answer)
		var valErr *tutor.ValidationError
		assert.True(t, errors.As(err, &valErr), "answer %q", answer)
	}

	assert.Len(t, h.srv.Calls(), callsBefore)
	assert.Len(t, h.orch.State().Messages, 1)
	assert.Equal(t, tutor.PhaseReady, h.orch.State().Phase)
}

func TestStartWithoutSession(t *testing.T) {
	h := newHarness(t)

	err := h.orch.Start(context.Background())
	assert.ErrorIs(t, err, tutor.ErrNoSession)

	state := h.orch.State()
	assert.Equal(t, tutor.PhaseIdle, state.Phase)
	assert.Equal(t, "Session not found. Please start a new session.", state.Error)
	assert.ErrorIs(t, h.orch.Submit(context.Background(), "O(n)"), tutor.ErrNotReady)
	assert.Empty(t, h.srv.Calls())
}

func TestSubmitAfterSessionCleared(t *testing.T) {
	h := newHarness(t)
	h.started(t)
	require.NoError(t, h.store.Clear(context.Background()))

	err := h.orch.Submit(context.Background(), "O(n)")
	assert.ErrorIs(t, err, tutor.ErrNoSession)

	state := h.orch.State()
	assert.Empty(t, h.srv.Calls("process_answer"))
	assert.Len(t, state.Messages, 1, "the answer is not shown when it cannot be sent")
	assert.Equal(t, tutor.PhaseReady, state.Phase)
	assert.Equal(t, "Session not found. Please start a new session.", state.Error)
}

func TestStartFailureAndExplicitRetry(t *testing.T) {
	h := newHarness(t)
	h.srv.On("get_tutor_question",
		tutortest.Reply{Status: http.StatusBadGateway},
		tutortest.Reply{Body: map[string]string{"tutor_question": "What is Big-O?"}},
	)
	_, err := tutor.NewBootstrapper(h.api, h.store, discardLogger()).CreateSession(context.Background())
	require.NoError(t, err)

	err = h.orch.Start(context.Background())
	var subErr *tutor.SubmissionError
	require.True(t, errors.As(err, &subErr))

	state := h.orch.State()
	assert.Equal(t, tutor.PhaseError, state.Phase)
	assert.True(t, state.StartFailed)
	assert.Equal(t, "Failed to get tutor question", state.Error)
	assert.False(t, state.CanSubmit())
	assert.ErrorIs(t, h.orch.Submit(context.Background(), "O(n)"), tutor.ErrNotReady)

	require.NoError(t, h.orch.Start(context.Background()))
	state = h.orch.State()
	assert.Equal(t, tutor.PhaseReady, state.Phase)
	assert.Empty(t, state.Error)
	assert.False(t, state.StartFailed)
	assert.Equal(t, []entry{tutorSaid("What is Big-O?")}, logOf(state))

	assert.ErrorIs(t, h.orch.Start(context.Background()), tutor.ErrAlreadyStarted)
}

func TestExit(t *testing.T) {
	yes := func(string) bool { return true }

	t.Run("before start", func(t *testing.T) {
		h := newHarness(t)
		assert.ErrorIs(t, h.orch.Exit(context.Background(), yes), tutor.ErrNotStarted)
	})

	t.Run("declined", func(t *testing.T) {
		h := newHarness(t)
		h.started(t)
		var asked string
		err := h.orch.Exit(context.Background(), func(p string) bool { asked = p; return false })
		assert.ErrorIs(t, err, tutor.ErrExitCancelled)
		assert.Equal(t, tutor.ExitPrompt, asked)
		assert.Equal(t, tutor.PhaseReady, h.orch.State().Phase)
		_, ok, _ := h.store.Get(context.Background())
		assert.True(t, ok)

		assert.ErrorIs(t, h.orch.Exit(context.Background(), nil), tutor.ErrExitCancelled)
	})

	t.Run("twice", func(t *testing.T) {
		h := newHarness(t)
		h.started(t)
		require.NoError(t, h.orch.Exit(context.Background(), yes))
		require.NoError(t, h.orch.Exit(context.Background(), yes))

		state := h.orch.State()
		assert.Equal(t, tutor.PhaseExited, state.Phase)
		assert.Empty(t, state.Messages)
		_, ok, err := h.store.Get(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, h.orch.Submit(context.Background(), "O(n)"), tutor.ErrExited)
		assert.ErrorIs(t, h.orch.Start(context.Background()), tutor.ErrExited)
	})

	t.Run("from error", func(t *testing.T) {
		h := newHarness(t)
		h.started(t)
		h.srv.On("process_answer", tutortest.Reply{Status: http.StatusInternalServerError})
		require.Error(t, h.orch.Submit(context.Background(), "wrong"))
		require.Equal(t, tutor.PhaseError, h.orch.State().Phase)

		require.NoError(t, h.orch.Exit(context.Background(), yes))
		assert.Equal(t, tutor.PhaseExited, h.orch.State().Phase)
		_, ok, _ := h.store.Get(context.Background())
		assert.False(t, ok)
	})
}

func TestExitAbandonsInFlightTurn(t *testing.T) {
	h := newHarness(t)
	h.started(t)

	gate := make(chan struct{})
	defer close(gate)
	h.srv.On("process_answer", tutortest.Reply{Body: map[string]string{"feedback": "late"}, Wait: gate})

	done := make(chan error, 1)
	go func() { done <- h.orch.Submit(context.Background(), "O(n)") }()

	require.Eventually(t, func() bool {
		return len(h.srv.Calls("process_answer")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.orch.Exit(context.Background(), func(string) bool { return true }))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, tutor.ErrExited)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight turn did not return after exit")
	}

	state := h.orch.State()
	assert.Equal(t, tutor.PhaseExited, state.Phase)
	assert.Empty(t, state.Messages)
	assert.Len(t, h.srv.Calls("get_tutor_question"), 1, "no next question after exit")
}

func TestSubscribersSeeEveryStepInOrder(t *testing.T) {
	h := newHarness(t)
	h.srv.On("get_tutor_question",
		tutortest.Reply{Body: map[string]string{"tutor_question": "What is Big-O?"}},
		tutortest.Reply{Body: map[string]string{"tutor_question": "Next"}},
	)

	var mu sync.Mutex
	var seen []string
	h.orch.Subscribe(func(s tutor.ConversationState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, fmt.Sprintf("%s/%d", s.Phase, len(s.Messages)))
	})

	h.started(t)
	require.NoError(t, h.orch.Submit(context.Background(), "O(n)"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"awaiting_initial_question/0",
		"ready/1",
		"submitting/2",
		"submitting/3",
		"ready/4",
	}, seen)
}

func TestEmptyFeedbackIsNotAppended(t *testing.T) {
	h := newHarness(t)
	h.started(t)
	h.srv.On("process_answer", tutortest.Reply{Body: map[string]string{}})

	require.NoError(t, h.orch.Submit(context.Background(), "O(n)"))
	assert.Equal(t, []entry{
		tutorSaid("What is Big-O?"),
		userSaid("O(n)"),
		tutorSaid("What is Big-O?"),
	}, logOf(h.orch.State()))
}

func TestMessagesCarryIDsAndTimestamps(t *testing.T) {
	h := newHarness(t)
	h.started(t)
	require.NoError(t, h.orch.Submit(context.Background(), "O(n)"))

	ids := map[string]bool{}
	for _, m := range h.orch.State().Messages {
		assert.NotEmpty(t, m.ID)
		assert.False(t, ids[m.ID], "duplicate id %s", m.ID)
		ids[m.ID] = true
		assert.False(t, m.CreatedAt.IsZero())
	}
}

func TestStateIsACopy(t *testing.T) {
	h := newHarness(t)
	h.started(t)

	state := h.orch.State()
	state.Messages[0].Text = "mutated"
	assert.Equal(t, "What is Big-O?", h.orch.State().Messages[0].Text)
}
