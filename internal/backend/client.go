package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIPrefix is the path segment every tutor operation lives under
const APIPrefix = "/api"

// Operation names, also used as the endpoint path below APIPrefix.
const (
	OpCreateSession    = "create_session"
	OpSetProblem       = "set_problem"
	OpGetTutorQuestion = "get_tutor_question"
	OpProcessAnswer    = "process_answer"
)

// Client talks to the tutor service REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// NewClient creates a tutor API client. httpClient may be nil, in which case
// a client without an explicit timeout is used.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	duration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Tutor API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		tracer:     tracer,
		duration:   duration,
	}, nil
}

// CreateSession asks the service for a fresh user/session identifier pair
func (c *Client) CreateSession(ctx context.Context) (CreateSessionResponse, error) {
	var resp CreateSessionResponse
	if err := c.post(ctx, OpCreateSession, struct{}{}, &resp); err != nil {
		return CreateSessionResponse{}, err
	}
	return resp, nil
}

// SetProblem associates the problem statement with the session
func (c *Client) SetProblem(ctx context.Context, req SetProblemRequest) error {
	return c.post(ctx, OpSetProblem, req, nil)
}

// GetTutorQuestion fetches the tutor's next question
func (c *Client) GetTutorQuestion(ctx context.Context, req AnswerRequest) (TutorQuestionResponse, error) {
	var resp TutorQuestionResponse
	if err := c.post(ctx, OpGetTutorQuestion, req, &resp); err != nil {
		return TutorQuestionResponse{}, err
	}
	return resp, nil
}

// ProcessAnswer submits a learner answer and returns the tutor's feedback
func (c *Client) ProcessAnswer(ctx context.Context, req AnswerRequest) (ProcessAnswerResponse, error) {
	var resp ProcessAnswerResponse
	if err := c.post(ctx, OpProcessAnswer, req, &resp); err != nil {
		return ProcessAnswerResponse{}, err
	}
	return resp, nil
}

// post sends a JSON request to APIPrefix/op and decodes a 2xx reply into out.
// out may be nil when the reply body is only an acknowledgement.
func (c *Client) post(ctx context.Context, op string, body interface{}, out interface{}) (err error) {
	ctx, span := c.tracer.Start(ctx, "tutor."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	statusCode := 0
	defer func() {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(
				attribute.String("tutor.operation", op),
				attribute.Int("http.response.status_code", statusCode),
			))
	}()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	url := c.baseURL + APIPrefix + "/" + op
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", op, err)
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode
	span.SetAttributes(attribute.Int("http.response.status_code", statusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Status: resp.Status}
		var errBody ErrorResponse
		if json.Unmarshal(respBody, &errBody) == nil {
			apiErr.Detail = errBody.Detail
		}
		c.logger.Warn("tutor API error", "op", op, "status", resp.StatusCode, "detail", apiErr.Detail)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal %s response: %w", op, err)
		}
	}

	c.logger.Debug("tutor API call", "op", op, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
