// Package tui provides the Bubble Tea tutoring interface.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"TutorChat/internal/session"
	"TutorChat/internal/tutor"
	"TutorChat/internal/typing"
)

// Deps are the tutoring components the interface drives.
type Deps struct {
	Store    session.Store
	Boot     *tutor.Bootstrapper
	Problems *tutor.ProblemSubmitter
	Orch     *tutor.Orchestrator
	Logger   *slog.Logger
}

// Options configures the interface.
type Options struct {
	NewSession bool   // ignore a stored session
	Problem    string // submitted without prompting when set
	Typing     bool   // reveal tutor messages word by word
	Tick       time.Duration
}

type stage int

const (
	stageLoading stage = iota
	stageBootstrapping
	stageProblem
	stageConversation
	stageConfirmExit
	stageFatal
	stageExited
)

type (
	loadedMsg struct {
		sess session.Session
		ok   bool
		err  error
	}
	bootstrapDoneMsg struct {
		sess session.Session
		err  error
	}
	problemDoneMsg struct{ err error }
	stateMsg       tutor.ConversationState
	startDoneMsg   struct{ err error }
	submitDoneMsg  struct {
		answer string
		err    error
	}
	confirmMsg struct {
		prompt string
		reply  chan<- bool
	}
	exitDoneMsg   struct{ err error }
	revealTickMsg time.Time
)

// sharedState survives model copies. send is set once the program exists.
type sharedState struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

func (s *sharedState) setSend(send func(tea.Msg)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send = send
}

func (s *sharedState) emit(msg tea.Msg) bool {
	s.mu.Lock()
	send := s.send
	s.mu.Unlock()
	if send == nil {
		return false
	}
	send(msg)
	return true
}

// confirmer asks the learner through the UI and blocks until they answer.
func (s *sharedState) confirmer(ctx context.Context) tutor.ConfirmFunc {
	return func(prompt string) bool {
		reply := make(chan bool, 1)
		if !s.emit(confirmMsg{prompt: prompt, reply: reply}) {
			return false
		}
		select {
		case ok := <-reply:
			return ok
		case <-ctx.Done():
			return false
		}
	}
}

// Model is the tutoring TUI. It renders orchestrator snapshots and never
// calls the orchestrator from Update; every call runs as a command.
type Model struct {
	ctx    context.Context
	deps   Deps
	opts   Options
	shared *sharedState

	stage     stage
	prevStage stage
	sess      session.Session
	state     tutor.ConversationState

	busy    bool // a bootstrap, problem or turn started here is running
	exiting bool

	fatal         string
	problemErr    string
	notice        string
	confirmPrompt string
	confirmReply  chan<- bool

	reveals map[string]*typing.Reveal
	seen    map[string]bool
	ticking bool

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model // conversation log
	width    int
	quitting bool
}

const (
	defaultLogHeight = 40
	// title, input and help lines around the log
	chromeHeight = 6
	minLogHeight = 3
)

// NewModel creates the model and subscribes it to the orchestrator.
func NewModel(ctx context.Context, deps Deps, opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	ti := textinput.New()
	ti.Placeholder = "Describe the problem you want to work on"
	ti.CharLimit = 4000
	ti.Width = 76
	ti.Focus()

	shared := &sharedState{}
	deps.Orch.Subscribe(func(state tutor.ConversationState) {
		shared.emit(stateMsg(state))
	})

	return Model{
		ctx:      ctx,
		deps:     deps,
		opts:     opts,
		shared:   shared,
		stage:    stageLoading,
		reveals:  make(map[string]*typing.Reveal),
		seen:     make(map[string]bool),
		input:    ti,
		spinner:  s,
		viewport: viewport.New(80, defaultLogHeight),
	}
}

// Init initializes the TUI
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadSession())
}

// Update handles messages and keeps the conversation log in sync with the
// resulting state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := m.update(msg)
	nm, ok := next.(Model)
	if !ok {
		return next, cmd
	}
	nm.refreshLog()
	return nm, cmd
}

func (m Model) update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Width > 8 {
			m.input.Width = msg.Width - 6
		}
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, minLogHeight)
		m.viewport.GotoBottom()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case loadedMsg:
		if msg.err != nil {
			m.deps.Logger.Error("failed to read stored session", "error", msg.err)
			m.stage = stageFatal
			m.fatal = "Failed to read the stored session"
			return m, nil
		}
		if msg.ok && !m.opts.NewSession {
			m.deps.Logger.Info("resuming stored session", "session_id", msg.sess.SessionID)
			m.sess = msg.sess
			m.enterConversation()
			return m, m.start()
		}
		return m.beginBootstrap()

	case bootstrapDoneMsg:
		return m.handleBootstrapDone(msg)

	case problemDoneMsg:
		return m.handleProblemDone(msg)

	case stateMsg:
		m.applyState(tutor.ConversationState(msg))
		cmd := m.scheduleReveal()
		return m, cmd

	case startDoneMsg:
		var submitErr *tutor.SubmissionError
		if msg.err != nil && !errors.As(msg.err, &submitErr) && !errors.Is(msg.err, tutor.ErrNoSession) {
			m.deps.Logger.Warn("start not applied", "error", msg.err)
		}
		return m, nil

	case submitDoneMsg:
		return m.handleSubmitDone(msg)

	case confirmMsg:
		if m.stage != stageConfirmExit {
			m.prevStage = m.stage
		}
		m.stage = stageConfirmExit
		m.confirmPrompt = msg.prompt
		m.confirmReply = msg.reply
		return m, nil

	case exitDoneMsg:
		m.exiting = false
		switch {
		case msg.err == nil:
			m.stage = stageExited
			m.quitting = true
			return m, tea.Quit
		case errors.Is(msg.err, tutor.ErrExitCancelled):
		case errors.Is(msg.err, tutor.ErrNotStarted):
			m.notice = "Nothing to end yet. Press ctrl+c to quit."
		default:
			m.deps.Logger.Error("failed to exit session", "error", msg.err)
			m.notice = "Failed to end the session"
		}
		return m, nil

	case revealTickMsg:
		m.ticking = false
		m.advanceReveal()
		cmd := m.scheduleReveal()
		return m, cmd
	}

	if m.acceptsInput() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.stage == stageConfirmExit {
		switch msg.String() {
		case "y", "Y":
			m.answerConfirm(true)
		case "n", "N", "esc":
			m.answerConfirm(false)
		case "ctrl+c":
			m.answerConfirm(false)
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "pgup", "pgdown", "up", "down":
		if m.stage == stageConversation {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		return m, nil

	case "ctrl+x":
		if m.stage == stageConversation {
			cmd := m.exit()
			return m, cmd
		}
		return m, nil

	case "ctrl+r":
		return m.retry()

	case "enter":
		return m.handleEnter()
	}

	if m.acceptsInput() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.stage {
	case stageProblem:
		if m.busy {
			return m, nil
		}
		m.problemErr = ""
		m.busy = true
		return m, m.submitProblem(m.input.Value())

	case stageConversation:
		m.finishReveals()
		text := m.input.Value()
		if strings.TrimSpace(text) == "/exit" {
			m.input.Reset()
			cmd := m.exit()
			return m, cmd
		}
		if strings.TrimSpace(text) == "" || m.busy || !m.state.CanSubmit() {
			return m, nil
		}
		m.input.Reset()
		m.notice = ""
		m.busy = true
		return m, m.submit(text)
	}
	return m, nil
}

// retry re-runs whatever last failed: bootstrap after a fatal error, a new
// session when none is stored, or the first question.
func (m Model) retry() (tea.Model, tea.Cmd) {
	switch {
	case m.stage == stageFatal:
		return m.beginBootstrap()
	case m.stage != stageConversation || m.state.Pending:
		return m, nil
	case m.state.Phase == tutor.PhaseIdle && m.state.Error != "":
		return m.beginBootstrap()
	case m.state.StartFailed:
		return m, m.start()
	}
	return m, nil
}

func (m Model) beginBootstrap() (tea.Model, tea.Cmd) {
	m.stage = stageBootstrapping
	m.fatal = ""
	m.busy = true
	return m, m.bootstrap()
}

func (m Model) handleBootstrapDone(msg bootstrapDoneMsg) (tea.Model, tea.Cmd) {
	m.busy = false
	if msg.err != nil {
		m.stage = stageFatal
		var initErr *tutor.SessionInitError
		if errors.As(msg.err, &initErr) {
			m.fatal = initErr.Msg
		} else {
			m.fatal = msg.err.Error()
		}
		return m, nil
	}

	m.sess = msg.sess
	m.stage = stageProblem
	m.problemErr = ""
	m.input.Reset()
	m.input.Placeholder = "Describe the problem you want to work on"

	if strings.TrimSpace(m.opts.Problem) != "" {
		text := m.opts.Problem
		m.opts.Problem = ""
		m.busy = true
		return m, m.submitProblem(text)
	}
	return m, nil
}

func (m Model) handleProblemDone(msg problemDoneMsg) (tea.Model, tea.Cmd) {
	m.busy = false

	var validationErr *tutor.ValidationError
	var submitErr *tutor.SubmissionError
	switch {
	case msg.err == nil:
		m.enterConversation()
		return m, m.start()
	case errors.As(msg.err, &validationErr):
		m.problemErr = validationErr.Msg
	case errors.As(msg.err, &submitErr):
		m.problemErr = submitErr.Msg
	case errors.Is(msg.err, tutor.ErrNoSession):
		m.stage = stageFatal
		m.fatal = "Session not found. Please start a new session."
	default:
		m.deps.Logger.Error("failed to submit problem", "error", msg.err)
		m.stage = stageFatal
		m.fatal = msg.err.Error()
	}
	return m, nil
}

func (m Model) handleSubmitDone(msg submitDoneMsg) (tea.Model, tea.Cmd) {
	m.busy = false

	var submitErr *tutor.SubmissionError
	switch {
	case msg.err == nil:
	case errors.As(msg.err, &submitErr):
		// shown from the state error
	case errors.Is(msg.err, tutor.ErrTurnInFlight), errors.Is(msg.err, tutor.ErrNotReady):
		if m.input.Value() == "" {
			m.input.SetValue(msg.answer)
		}
		m.notice = "The tutor is not ready for an answer yet"
	case errors.Is(msg.err, tutor.ErrExited), errors.Is(msg.err, tutor.ErrNoSession):
		// shown from the state error, if at all
	default:
		m.deps.Logger.Error("failed to submit answer", "error", msg.err)
		m.notice = "Failed to send your answer"
	}
	return m, nil
}

// refreshLog re-renders the conversation into the viewport, following the
// newest line unless the learner has scrolled up.
func (m *Model) refreshLog() {
	if m.stage != stageConversation && m.stage != stageConfirmExit {
		return
	}
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderLog())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) enterConversation() {
	m.stage = stageConversation
	m.problemErr = ""
	m.input.Reset()
	m.input.Placeholder = "Type your answer"
}

func (m *Model) answerConfirm(ok bool) {
	if m.confirmReply != nil {
		m.confirmReply <- ok
		m.confirmReply = nil
	}
	m.confirmPrompt = ""
	m.stage = m.prevStage
}

func (m Model) acceptsInput() bool {
	return m.stage == stageProblem || m.stage == stageConversation
}

// applyState takes a new snapshot and starts reveals for new tutor messages.
func (m *Model) applyState(state tutor.ConversationState) {
	m.state = state
	for _, msg := range state.Messages {
		if m.seen[msg.ID] {
			continue
		}
		m.seen[msg.ID] = true
		if msg.Sender == session.SenderTutor && m.opts.Typing && m.opts.Tick > 0 {
			m.reveals[msg.ID] = typing.NewReveal(msg.Text)
		}
	}
}

func (m *Model) scheduleReveal() tea.Cmd {
	if m.ticking || len(m.reveals) == 0 {
		return nil
	}
	m.ticking = true
	return tea.Tick(m.opts.Tick, func(t time.Time) tea.Msg {
		return revealTickMsg(t)
	})
}

// advanceReveal moves the earliest unfinished reveal on by one word.
func (m *Model) advanceReveal() {
	for _, msg := range m.state.Messages {
		r, ok := m.reveals[msg.ID]
		if !ok {
			continue
		}
		if !r.Advance() {
			delete(m.reveals, msg.ID)
		}
		return
	}
	for id := range m.reveals {
		delete(m.reveals, id)
	}
}

func (m *Model) finishReveals() {
	for id, r := range m.reveals {
		r.Finish()
		delete(m.reveals, id)
	}
}

// Commands. Each one runs off the event loop.

func (m Model) loadSession() tea.Cmd {
	ctx, store := m.ctx, m.deps.Store
	return func() tea.Msg {
		sess, ok, err := store.Get(ctx)
		return loadedMsg{sess: sess, ok: ok, err: err}
	}
}

func (m Model) bootstrap() tea.Cmd {
	ctx, boot := m.ctx, m.deps.Boot
	return func() tea.Msg {
		sess, err := boot.CreateSession(ctx)
		return bootstrapDoneMsg{sess: sess, err: err}
	}
}

func (m Model) submitProblem(text string) tea.Cmd {
	ctx, problems, sess := m.ctx, m.deps.Problems, m.sess
	return func() tea.Msg {
		return problemDoneMsg{err: problems.SubmitProblem(ctx, sess, session.Problem{Text: text})}
	}
}

func (m Model) start() tea.Cmd {
	ctx, orch := m.ctx, m.deps.Orch
	return func() tea.Msg {
		return startDoneMsg{err: orch.Start(ctx)}
	}
}

func (m Model) submit(answer string) tea.Cmd {
	ctx, orch := m.ctx, m.deps.Orch
	return func() tea.Msg {
		return submitDoneMsg{answer: answer, err: orch.Submit(ctx, answer)}
	}
}

func (m *Model) exit() tea.Cmd {
	if m.exiting {
		return nil
	}
	m.exiting = true
	ctx, orch, confirm := m.ctx, m.deps.Orch, m.shared.confirmer(m.ctx)
	return func() tea.Msg {
		return exitDoneMsg{err: orch.Exit(ctx, confirm)}
	}
}

// Run starts the TUI and blocks until the learner quits.
func Run(ctx context.Context, deps Deps, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewModel(ctx, deps, opts)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	model.shared.setSend(p.Send)

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run TUI: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return nil
	}
	switch m.stage {
	case stageExited:
		fmt.Println("Session ended. Goodbye!")
	case stageFatal:
		return errors.New(m.fatal)
	case stageConversation, stageConfirmExit:
		fmt.Println("Your session is kept for next time.")
	}
	return nil
}
