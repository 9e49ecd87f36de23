package agent

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/qmind/internal/assessment"
	"github.com/ashureev/qmind/internal/domain"
	"github.com/ashureev/qmind/internal/identity"
	"github.com/ashureev/qmind/internal/memory"
	"github.com/ashureev/qmind/internal/qcli"
	"github.com/ashureev/qmind/internal/sanitize"
	"github.com/ashureev/qmind/internal/store"
)

// ErrEmptyMessage is returned for a blank chat message.
var ErrEmptyMessage = errors.New("message is required")

// emptyReplyText is shown when the CLI answered with nothing printable.
const emptyReplyText = "收到您的消息，Q CLI正在处理中..."

// maxPromptMemories caps how many notes are inlined into a chat prompt.
const maxPromptMemories = 20

//go:embed prompts/chat.md
var chatPromptText string

var chatPrompt = template.Must(template.New("chat").Parse(chatPromptText))

// Prober reports whether the CLI can be invoked.
type Prober interface {
	CheckAvailable(ctx context.Context) bool
}

// ServiceOptions wires a Service. Catalog, Sessions and Invoker are required.
type ServiceOptions struct {
	Catalog        *assessment.Catalog
	Sessions       assessment.SessionStore
	Invoker        qcli.Invoker
	Prober         Prober
	Notes          *memory.Store
	Repo           store.Repository
	TranscriptPath string
	// Kill terminates in-flight processes tagged with a session id.
	Kill func(sessionID string) int
	Now  func() time.Time
}

// Service routes chat messages to the assessment orchestrator or to plain
// chat, and persists finished assessments.
type Service struct {
	orch           *assessment.Orchestrator
	invoker        qcli.Invoker
	prober         Prober
	notes          *memory.Store
	repo           store.Repository
	transcriptPath string
	now            func() time.Time
}

// NewService creates the chat service and its orchestrator.
func NewService(opts ServiceOptions) *Service {
	s := &Service{
		invoker:        opts.Invoker,
		prober:         opts.Prober,
		notes:          opts.Notes,
		repo:           opts.Repo,
		transcriptPath: opts.TranscriptPath,
		now:            opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.orch = assessment.NewOrchestrator(assessment.Options{
		Catalog:    opts.Catalog,
		Store:      opts.Sessions,
		Invoker:    opts.Invoker,
		OnComplete: s.recordCompletion,
		OnWrite:    s.invalidateNotes,
		Kill:       opts.Kill,
		Now:        opts.Now,
	})
	return s
}

// Chat handles one message. Assessment turns take priority; anything the
// orchestrator leaves idle goes to the CLI with the supplied memories.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	sessionID := identity.SanitizeSessionID(req.SessionID)

	reply, err := s.orch.Handle(ctx, sessionID, msg)
	if err != nil {
		return nil, err
	}

	var resp *ChatResponse
	if reply.Handled() {
		resp = s.assessmentResponse(sessionID, reply)
	} else {
		resp, err = s.chat(ctx, sessionID, msg, req.Memories)
		if err != nil {
			return nil, err
		}
		resp.Debug.Hint = reply.Response
		resp.Debug.Cleared = reply.Cleared
		resp.Debug.Intent = reply.Intent.String()
	}
	resp.Debug.RequestID = req.RequestID

	s.recordTurn(ctx, msg, resp)
	return resp, nil
}

func (s *Service) assessmentResponse(sessionID string, reply *assessment.Reply) *ChatResponse {
	resp := &ChatResponse{
		Success:              true,
		Response:             reply.Response,
		SessionID:            sessionID,
		ActuallyUsedMemories: []string{},
		Debug: ChatDebug{
			Mode:       domain.ModeAssessment,
			Action:     string(reply.Action),
			Intent:     reply.Intent.String(),
			Template:   reply.Template,
			Drift:      reply.Drift,
			Cleared:    reply.Cleared,
			DurationMS: reply.Duration.Milliseconds(),
			RawLength:  len(reply.Raw),
		},
	}
	if reply.Session != nil {
		resp.Debug.Progress = reply.Session.Progress()
		resp.Debug.Completed = reply.Session.IsCompleted
	}
	if reply.Realm != nil {
		resp.Debug.Realm = reply.Realm.Title
	}
	return resp
}

func (s *Service) chat(ctx context.Context, sessionID, msg string, memories []memory.Memory) (*ChatResponse, error) {
	prompt, err := renderChatPrompt(msg, memories)
	if err != nil {
		return nil, err
	}

	// Only the invocation timeout may stop the CLI.
	res, err := s.invoker.Invoke(context.WithoutCancel(ctx), prompt, qcli.InvokeOptions{Tag: sessionID})
	if err != nil {
		return nil, fmt.Errorf("invoke q cli: %w", err)
	}

	clean := sanitize.Sanitize(res.Stdout)
	if sanitize.HasWriteSignal(res.Combined()) || sanitize.HasWriteSignal(clean) {
		s.invalidateNotes()
	}
	if clean == "" {
		clean = emptyReplyText
	}

	return &ChatResponse{
		Success:              true,
		Response:             clean,
		SessionID:            sessionID,
		ActuallyUsedMemories: memory.ActuallyUsed(memories, clean),
		Debug: ChatDebug{
			Mode:       domain.ModeChat,
			DurationMS: res.Duration.Milliseconds(),
			RawLength:  len(res.Stdout),
		},
	}, nil
}

func renderChatPrompt(msg string, memories []memory.Memory) (string, error) {
	if len(memories) > maxPromptMemories {
		memories = memories[:maxPromptMemories]
	}
	var buf bytes.Buffer
	err := chatPrompt.Execute(&buf, struct {
		Message  string
		Memories []memory.Memory
	}{msg, memories})
	if err != nil {
		return "", fmt.Errorf("render chat prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (s *Service) recordTurn(ctx context.Context, msg string, resp *ChatResponse) {
	if s.repo == nil {
		return
	}
	turn := &domain.ChatTurn{
		SessionID:  resp.SessionID,
		Mode:       resp.Debug.Mode,
		Action:     resp.Debug.Action,
		Message:    msg,
		Response:   resp.Response,
		DurationMS: resp.Debug.DurationMS,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.RecordChatTurn(context.WithoutCancel(ctx), turn); err != nil {
		slog.Warn("Failed to record chat turn", "session_id", resp.SessionID, "error", err)
	}
}

// recordCompletion appends the transcript to the notes directory and stores
// the evaluation. Failures are logged only.
func (s *Service) recordCompletion(ctx context.Context, c assessment.Completion) {
	entry := c.Markdown()

	if s.notes != nil && s.transcriptPath != "" {
		if err := s.notes.AppendTranscript(s.transcriptPath, entry); err != nil {
			slog.Warn("Failed to append assessment transcript",
				"session_id", c.Session.ID,
				"path", s.transcriptPath,
				"error", err)
		}
	}

	if s.repo == nil {
		return
	}
	scores := make(map[string]int, len(c.Realm.Scores))
	for tier, n := range c.Realm.Scores {
		scores[string(tier)] = n
	}
	eval := &domain.Evaluation{
		ID:         uuid.NewString(),
		SessionID:  c.Session.ID,
		Tier:       string(c.Realm.Tier),
		Title:      c.Realm.Title,
		Scores:     scores,
		Answers:    c.Session.Answers,
		Transcript: entry,
		CreatedAt:  c.CompletedAt.UTC(),
	}
	if err := s.repo.SaveEvaluation(ctx, eval); err != nil {
		slog.Warn("Failed to save evaluation", "session_id", c.Session.ID, "error", err)
		return
	}
	slog.Info("Evaluation saved", "id", eval.ID, "session_id", c.Session.ID, "tier", eval.Tier)
}

func (s *Service) invalidateNotes() {
	if s.notes != nil {
		s.notes.Invalidate()
	}
}

// Status reports CLI availability and the live session count.
func (s *Service) Status(ctx context.Context) StatusResponse {
	available := false
	if s.prober != nil {
		available = s.prober.CheckAvailable(ctx)
	}
	return StatusResponse{Available: available, Sessions: s.orch.Count()}
}

// Session returns the view of an assessment session, or nil.
func (s *Service) Session(sessionID string) *SessionView {
	sess, ok := s.orch.Session(sessionID)
	if !ok {
		return nil
	}
	return newSessionView(sess, s.orch.Catalog())
}

// Reset clears a session once any in-flight turn for it has finished.
func (s *Service) Reset(sessionID string) ResetResponse {
	deleted := s.orch.Reset(sessionID)
	slog.Info("Assessment session reset", "session_id", sessionID, "deleted", deleted)
	return ResetResponse{Success: true, SessionID: sessionID, Deleted: deleted}
}

// ForceReset clears a session immediately and kills its processes.
func (s *Service) ForceReset(sessionID string) ResetResponse {
	deleted, killed := s.orch.ForceReset(sessionID)
	return ResetResponse{Success: true, SessionID: sessionID, Deleted: deleted, Killed: killed}
}

// Sweep removes idle sessions.
func (s *Service) Sweep(ttl time.Duration) []string {
	return s.orch.Sweep(ttl)
}

// Close waits for pending completion writes.
func (s *Service) Close() {
	s.orch.Wait()
}
