package backend_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"TutorChat/internal/backend"
	"TutorChat/internal/tutortest"
)

func newTestClient(t *testing.T, srv *tutortest.Server) *backend.Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := backend.NewClient(srv.URL+"/", nil, logger, tracenoop.NewTracerProvider().Tracer("test"), metricnoop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return c
}

func TestClientHappyPath(t *testing.T) {
	srv := tutortest.NewServer(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	sess, err := c.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, backend.CreateSessionResponse{UserID: "u1", SessionID: "s1"}, sess)

	require.NoError(t, c.SetProblem(ctx, backend.SetProblemRequest{UserID: "u1", SessionID: "s1", Problem: "binary search"}))

	q, err := c.GetTutorQuestion(ctx, backend.AnswerRequest{UserID: "u1", SessionID: "s1", Answer: "start"})
	require.NoError(t, err)
	assert.Equal(t, "What is Big-O?", q.TutorQuestion)

	fb, err := c.ProcessAnswer(ctx, backend.AnswerRequest{UserID: "u1", SessionID: "s1", Answer: "O(n)"})
	require.NoError(t, err)
	assert.Equal(t, "Correct!", fb.Feedback)

	assert.Equal(t, []string{"create_session", "set_problem", "get_tutor_question", "process_answer"}, srv.Ops())

	setProblem := srv.Calls("set_problem")[0]
	assert.Equal(t, map[string]string{"user_id": "u1", "session_id": "s1", "problem": "binary search"}, setProblem.Body)
	processAnswer := srv.Calls("process_answer")[0]
	assert.Equal(t, "O(n)", processAnswer.Body["answer"])
}

func TestClientErrorDetail(t *testing.T) {
	srv := tutortest.NewServer(t)
	srv.On("process_answer", tutortest.Reply{Status: http.StatusBadRequest, Body: map[string]string{"detail": "session expired"}})
	c := newTestClient(t, srv)

	_, err := c.ProcessAnswer(context.Background(), backend.AnswerRequest{Answer: "x"})
	require.Error(t, err)

	var apiErr *backend.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "session expired", apiErr.Detail)
	assert.Equal(t, "session expired", backend.DetailOr(err, "fallback"))
}

func TestClientErrorWithoutDetail(t *testing.T) {
	srv := tutortest.NewServer(t)
	srv.On("get_tutor_question", tutortest.Reply{Status: http.StatusInternalServerError, Raw: "<html>boom</html>"})
	c := newTestClient(t, srv)

	_, err := c.GetTutorQuestion(context.Background(), backend.AnswerRequest{Answer: "x"})
	require.Error(t, err)
	assert.Equal(t, "Failed to get tutor question", backend.DetailOr(err, "Failed to get tutor question"))
}

func TestClientMalformedSuccessBody(t *testing.T) {
	srv := tutortest.NewServer(t)
	srv.On("create_session", tutortest.Reply{Raw: "not json"})
	c := newTestClient(t, srv)

	_, err := c.CreateSession(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal create_session response")

	var apiErr *backend.APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestClientTransportError(t *testing.T) {
	srv := tutortest.NewServer(t)
	c := newTestClient(t, srv)
	srv.Close()

	_, err := c.CreateSession(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send create_session request")
}

func TestNewClientValidation(t *testing.T) {
	meter := metricnoop.NewMeterProvider().Meter("test")
	tracer := tracenoop.NewTracerProvider().Tracer("test")

	_, err := backend.NewClient("http://x", nil, nil, tracer, meter)
	assert.Error(t, err)

	_, err = backend.NewClient("", nil, slog.Default(), tracer, meter)
	assert.Error(t, err)
}
