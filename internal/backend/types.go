package backend

// CreateSessionResponse represents the response from /create_session
type CreateSessionResponse struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// SetProblemRequest represents the request body for /set_problem
type SetProblemRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Problem   string `json:"problem"`
}

// AnswerRequest is the request body shared by /get_tutor_question and
// /process_answer
type AnswerRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// TutorQuestionResponse represents the response from /get_tutor_question
type TutorQuestionResponse struct {
	TutorQuestion string `json:"tutor_question"`
}

// ProcessAnswerResponse represents the response from /process_answer
type ProcessAnswerResponse struct {
	Feedback string `json:"feedback"`
}

// ErrorResponse is the optional body of a non-2xx reply
type ErrorResponse struct {
	Detail string `json:"detail"`
}
