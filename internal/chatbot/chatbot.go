package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"TutorChat/internal/session"
	"TutorChat/internal/tutor"
	"TutorChat/internal/typing"
)

// Options configures the line-mode front end.
type Options struct {
	In  io.Reader
	Out io.Writer

	// Tick is the typing delay per word; zero prints tutor messages at once.
	Tick time.Duration
	// NewSession forces a fresh session even when one is stored.
	NewSession bool
	// Problem is submitted without prompting when set.
	Problem string
}

// ChatBot is the line-mode tutoring front end. It renders orchestrator
// state as lines and forwards what the learner types.
type ChatBot struct {
	store    session.Store
	boot     *tutor.Bootstrapper
	problems *tutor.ProblemSubmitter
	orch     *tutor.Orchestrator
	logger   *slog.Logger

	scanner *bufio.Scanner
	out     io.Writer
	printer *typing.Printer
	opts    Options

	mu      sync.Mutex
	printed map[string]bool
	lastErr string
}

var errInputClosed = errors.New("input closed")

// NewChatBot creates a ChatBot
func NewChatBot(store session.Store, boot *tutor.Bootstrapper, problems *tutor.ProblemSubmitter,
	orch *tutor.Orchestrator, logger *slog.Logger, opts Options) *ChatBot {
	return &ChatBot{
		store:    store,
		boot:     boot,
		problems: problems,
		orch:     orch,
		logger:   logger,
		scanner:  bufio.NewScanner(opts.In),
		out:      opts.Out,
		printer:  typing.NewPrinter(opts.Out, opts.Tick),
		opts:     opts,
		printed:  make(map[string]bool),
	}
}

// Run drives a whole session: bootstrap or resume, problem, then turns until
// the learner exits or input ends. Closing input keeps the stored session.
func (cb *ChatBot) Run(ctx context.Context) error {
	defer cb.printer.Close()

	fmt.Fprintln(cb.out, "=== Tutor Chat ===")

	if err := cb.prepare(ctx); err != nil {
		if errors.Is(err, errInputClosed) {
			fmt.Fprintln(cb.out, "Goodbye!")
			return nil
		}
		return err
	}

	fmt.Fprintln(cb.out, "Type your answers. /help for commands, /exit to end the session")
	fmt.Fprintln(cb.out)

	cb.orch.Subscribe(cb.render)
	if err := cb.orch.Start(ctx); err != nil {
		cb.logger.Error("failed to start conversation", "error", err)
	}
	cb.printer.Wait()

	for {
		fmt.Fprint(cb.out, "You: ")
		line, err := cb.readLine()
		if err != nil {
			fmt.Fprintln(cb.out)
			break
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(cb.out, "Error: %v\n", err)
				cb.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				return nil
			}
			continue
		}

		cb.submit(ctx, line)
	}

	fmt.Fprintln(cb.out, "Goodbye! Your session is kept for next time.")
	return nil
}

// prepare makes sure a session with a problem is stored. A stored session
// is resumed unless a new one was requested.
func (cb *ChatBot) prepare(ctx context.Context) error {
	sess, ok, err := cb.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stored session: %w", err)
	}
	if ok && !cb.opts.NewSession {
		fmt.Fprintf(cb.out, "Resuming session %s\n", sess.SessionID)
		return nil
	}

	sess, err = cb.boot.CreateSession(ctx)
	if err != nil {
		var initErr *tutor.SessionInitError
		if errors.As(err, &initErr) {
			fmt.Fprintf(cb.out, "Error: %s\n", initErr.Msg)
		}
		return err
	}
	fmt.Fprintf(cb.out, "Session: %s\n", sess.SessionID)

	if err := cb.submitProblem(ctx, sess); err != nil {
		// a session without a problem cannot be resumed
		if clearErr := cb.store.Clear(ctx); clearErr != nil {
			cb.logger.Warn("failed to clear abandoned session", "error", clearErr)
		}
		return err
	}
	return nil
}

// submitProblem asks for a problem until the tutor service accepts one.
func (cb *ChatBot) submitProblem(ctx context.Context, sess session.Session) error {
	text := cb.opts.Problem
	for {
		if strings.TrimSpace(text) == "" {
			fmt.Fprint(cb.out, "What problem would you like to work on? ")
			line, err := cb.readLine()
			if err != nil {
				fmt.Fprintln(cb.out)
				return err
			}
			text = line
		}

		err := cb.problems.SubmitProblem(ctx, sess, session.Problem{Text: text})
		if err == nil {
			return nil
		}

		var validationErr *tutor.ValidationError
		var submitErr *tutor.SubmissionError
		switch {
		case errors.As(err, &validationErr):
			fmt.Fprintln(cb.out, validationErr.Msg)
		case errors.As(err, &submitErr):
			fmt.Fprintf(cb.out, "Error: %s\n", submitErr.Msg)
		default:
			return err
		}
		text = ""
	}
}

func (cb *ChatBot) submit(ctx context.Context, answer string) {
	err := cb.orch.Submit(ctx, answer)
	cb.printer.Wait()

	var submitErr *tutor.SubmissionError
	switch {
	case err == nil:
	case errors.As(err, &submitErr):
		// already rendered from the state
		cb.logger.Warn("turn failed", "op", submitErr.Op, "error", err)
	case errors.Is(err, tutor.ErrNotReady):
		fmt.Fprintln(cb.out, "The tutor has not asked a question yet. Use /retry to ask again.")
	case errors.Is(err, tutor.ErrExited):
		fmt.Fprintln(cb.out, "The session has ended.")
	case errors.Is(err, tutor.ErrNoSession):
		// already rendered from the state
	default:
		fmt.Fprintf(cb.out, "Error: %v\n", err)
		cb.logger.Error("failed to submit answer", "error", err)
	}
}

// render prints tutor messages and errors that have not been shown yet.
// The learner's own answers are already on screen.
func (cb *ChatBot) render(state tutor.ConversationState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for _, msg := range state.Messages {
		if cb.printed[msg.ID] {
			continue
		}
		cb.printed[msg.ID] = true
		if msg.Sender == session.SenderTutor {
			cb.printer.Print("Tutor: ", msg.Text)
		}
	}

	if state.Error != "" && state.Error != cb.lastErr {
		cb.printer.Print("Error: ", state.Error)
	}
	cb.lastErr = state.Error
}

// handleCommand handles slash commands and reports whether to quit
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/exit", "/quit":
		err := cb.orch.Exit(ctx, cb.confirm)
		switch {
		case errors.Is(err, tutor.ErrExitCancelled):
			fmt.Fprintln(cb.out, "Continuing the session.")
			return false, nil
		case err != nil:
			return false, err
		}
		fmt.Fprintln(cb.out, "Session ended. Goodbye!")
		return true, nil

	case "/retry":
		state := cb.orch.State()
		if !state.StartFailed && state.Phase != tutor.PhaseIdle {
			fmt.Fprintln(cb.out, "Nothing to retry. Type your answer to continue.")
			return false, nil
		}
		err := cb.orch.Start(ctx)
		cb.printer.Wait()
		var submitErr *tutor.SubmissionError
		if err != nil && !errors.As(err, &submitErr) && !errors.Is(err, tutor.ErrNoSession) {
			return false, err
		}
		return false, nil

	case "/status":
		state := cb.orch.State()
		sess := cb.orch.Session()
		fmt.Fprintf(cb.out, "Phase:    %s\n", state.Phase)
		fmt.Fprintf(cb.out, "Session:  %s\n", sess.SessionID)
		fmt.Fprintf(cb.out, "Messages: %d\n", len(state.Messages))
		if state.Error != "" {
			fmt.Fprintf(cb.out, "Error:    %s\n", state.Error)
		}
		return false, nil

	case "/help":
		fmt.Fprintln(cb.out, "Available commands:")
		fmt.Fprintln(cb.out, "  /exit, /quit - End the session and forget it")
		fmt.Fprintln(cb.out, "  /retry       - Ask for the first question again")
		fmt.Fprintln(cb.out, "  /status      - Show the conversation state")
		fmt.Fprintln(cb.out, "  /help        - Show this help message")
		fmt.Fprintln(cb.out, "Close input (Ctrl+D) to leave and keep the session.")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

func (cb *ChatBot) confirm(prompt string) bool {
	fmt.Fprintf(cb.out, "%s [y/N]: ", prompt)
	line, err := cb.readLine()
	if err != nil {
		fmt.Fprintln(cb.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func (cb *ChatBot) readLine() (string, error) {
	if !cb.scanner.Scan() {
		if err := cb.scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return "", errInputClosed
	}
	return cb.scanner.Text(), nil
}
