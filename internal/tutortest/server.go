// Package tutortest provides a scripted in-process tutor service for tests.
package tutortest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Reply is one scripted response.
type Reply struct {
	Status int         // 0 means 200
	Body   interface{} // encoded as JSON; nil writes no body
	Raw    string      // written verbatim when set, for malformed bodies
	Wait   <-chan struct{}
}

// Call is a request the server received.
type Call struct {
	Op   string
	Body map[string]string
}

// Server implements the tutor REST contract with scripted replies.
// Each operation serves its queued replies in order and keeps repeating the
// last one.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	calls   []Call
	replies map[string][]Reply
}

// NewServer starts a server with happy-path defaults for every operation.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		replies: map[string][]Reply{
			"create_session":     {{Body: map[string]string{"user_id": "u1", "session_id": "s1"}}},
			"set_problem":        {{Body: map[string]string{"status": "ok"}}},
			"get_tutor_question": {{Body: map[string]string{"tutor_question": "What is Big-O?"}}},
			"process_answer":     {{Body: map[string]string{"feedback": "Correct!"}}},
		},
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/{op}", s.handle)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// On replaces the scripted replies for op.
func (s *Server) On(op string, replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[op] = replies
}

// Calls returns the received requests, optionally filtered by operation.
func (s *Server) Calls(ops ...string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ops) == 0 {
		return append([]Call(nil), s.calls...)
	}
	var out []Call
	for _, c := range s.calls {
		for _, op := range ops {
			if c.Op == op {
				out = append(out, c)
			}
		}
	}
	return out
}

// Ops returns the operation names in the order they were received.
func (s *Server) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, len(s.calls))
	for i, c := range s.calls {
		ops[i] = c.Op
	}
	return ops
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")

	body := map[string]string{}
	if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: op, Body: body})
	queue, ok := s.replies[op]
	var reply Reply
	if ok && len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			s.replies[op] = queue[1:]
		}
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	if reply.Wait != nil {
		select {
		case <-reply.Wait:
		case <-r.Context().Done():
			return
		}
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch {
	case reply.Raw != "":
		_, _ = io.WriteString(w, reply.Raw)
	case reply.Body != nil:
		_ = json.NewEncoder(w).Encode(reply.Body)
	}
}
