// Package assessment runs the eight-question AI修仙老祖 interview on top of
// the Q CLI: intent classification, session state, drift handling and the
// fallback template bank.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/qmind/internal/qcli"
	"github.com/ashureev/qmind/internal/sanitize"
)

const completionHookTimeout = 30 * time.Second

var (
	// ErrEmptySessionID is returned when Handle is called without a session id.
	ErrEmptySessionID = errors.New("session id is required")
	// ErrSessionReset is returned when the session was force reset while its
	// turn was running. Nothing from the turn is committed.
	ErrSessionReset = errors.New("session was reset during the turn")
)

// Action describes which transition a message triggered.
type Action string

const (
	ActionExited      Action = "exited"
	ActionIdle        Action = "idle"
	ActionStarted     Action = "started"
	ActionAdvanced    Action = "advanced"
	ActionReactivated Action = "reactivated"
	ActionCompleted   Action = "completed"
)

// Template names reported in Reply.Template.
const (
	TemplateReactivation    = "reactivation"
	TemplateFinalAssessment = "finalAssessment"
)

// Reply is the outcome of one inbound message.
type Reply struct {
	Action   Action
	Intent   Intent
	Response string
	Session  *Session // snapshot after the turn; nil when no session remains
	Template string   // fallback template used instead of tool output, if any
	Drift    bool
	Cleared  bool // a stale, completed or identity-cleared session was removed
	Raw      string
	Duration time.Duration
	Realm    *Realm
}

// Handled reports whether the orchestrator owns this turn. Idle replies
// leave the message to normal chat.
func (r *Reply) Handled() bool {
	return r.Action != ActionIdle
}

// Completion is passed to the completion hook once an interview finishes.
type Completion struct {
	Session     *Session
	Realm       Realm
	Transcript  []QA
	Response    string
	CompletedAt time.Time
}

// Markdown renders the entry appended to the evaluation record file.
func (c Completion) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## AI修仙老祖评测 · %s\n\n", c.CompletedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- 会话：%s\n", c.Session.ID)
	fmt.Fprintf(&b, "- 境界：%s（%s）\n", c.Realm.Title, c.Realm.Tier)
	parts := make([]string, 0, len(scoredTiers))
	for _, t := range scoredTiers {
		parts = append(parts, fmt.Sprintf("%s %d", TierTitle(t), c.Realm.Scores[t]))
	}
	fmt.Fprintf(&b, "- 得分：%s\n", strings.Join(parts, " · "))
	for _, qa := range c.Transcript {
		fmt.Fprintf(&b, "\n### 第%d问：%s\n\n%s\n", qa.Index, qa.Question, strings.TrimSpace(qa.Answer))
	}
	b.WriteString("\n---\n\n")
	return b.String()
}

// CompletionHandler persists a finished interview. Errors are its own to log.
type CompletionHandler func(ctx context.Context, c Completion)

// Options configures an Orchestrator. Catalog, Store and Invoker are required.
type Options struct {
	Catalog    *Catalog
	Store      SessionStore
	Invoker    qcli.Invoker
	Classifier *Classifier
	Drift      DriftDetector
	Evaluator  *Evaluator
	OnComplete CompletionHandler
	// OnWrite is called when tool output shows it wrote files.
	OnWrite func()
	// Kill terminates in-flight processes for a session id.
	Kill func(sessionID string) int
	Now  func() time.Time
}

// Orchestrator is the assessment state machine.
type Orchestrator struct {
	catalog    *Catalog
	store      SessionStore
	invoker    qcli.Invoker
	classifier *Classifier
	isDrift    DriftDetector
	evaluator  *Evaluator
	onComplete CompletionHandler
	onWrite    func()
	kill       func(string) int
	now        func() time.Time

	locks *keyedMutex
	wg    sync.WaitGroup

	// Force resets bypass the session lock; turns compare the epoch they
	// started in against resets before committing.
	resetMu  sync.Mutex
	epoch    uint64
	resets   map[string]uint64
	inflight int
}

// NewOrchestrator creates an orchestrator, filling optional collaborators
// from the catalog.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		catalog:    opts.Catalog,
		store:      opts.Store,
		invoker:    opts.Invoker,
		classifier: opts.Classifier,
		isDrift:    opts.Drift,
		evaluator:  opts.Evaluator,
		onComplete: opts.OnComplete,
		onWrite:    opts.OnWrite,
		kill:       opts.Kill,
		now:        opts.Now,
		locks:      newKeyedMutex(),
		resets:     make(map[string]uint64),
	}
	if o.classifier == nil {
		o.classifier = NewClassifier(o.catalog.Triggers)
	}
	if o.isDrift == nil {
		o.isDrift = PhraseDetector(o.catalog.DriftPhrases)
	}
	if o.evaluator == nil {
		o.evaluator = NewEvaluator(o.catalog.Keywords)
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Catalog returns the loaded catalog.
func (o *Orchestrator) Catalog() *Catalog {
	return o.catalog
}

// Handle applies one inbound message to the session state machine. Turns
// for the same session id are serialized. A failed invocation leaves the
// stored session untouched.
func (o *Orchestrator) Handle(ctx context.Context, sessionID, message string) (*Reply, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	unlock := o.locks.Lock(sessionID)
	defer unlock()
	epoch := o.beginTurn()
	defer o.endTurn()

	intent := o.classifier.Classify(message)

	if intent == IntentExit {
		existed := o.store.Delete(sessionID)
		slog.Info("Assessment exited", "session_id", sessionID, "had_session", existed)
		return &Reply{
			Action:   ActionExited,
			Intent:   intent,
			Response: o.catalog.Templates.Exited,
			Cleared:  existed,
		}, nil
	}

	current, ok := o.store.Get(sessionID)
	cleared := false
	if ok && intent == IntentIdentity {
		slog.Info("Identity query cleared assessment session", "session_id", sessionID)
		o.store.Delete(sessionID)
		current, ok, cleared = nil, false, true
	}
	if ok && current.IsCompleted {
		o.store.Delete(sessionID)
		current, ok, cleared = nil, false, true
	}

	if intent == IntentStart {
		reply, err := o.start(ctx, sessionID, epoch)
		if reply != nil {
			reply.Cleared = cleared
		}
		return reply, err
	}

	if !ok {
		return &Reply{
			Action:   ActionIdle,
			Intent:   intent,
			Response: o.catalog.Templates.HowToStart,
			Cleared:  cleared,
		}, nil
	}

	if current.CurrentQuestion > 1 && (o.isDrift(current.LastOutput) || o.isDrift(message)) {
		return o.reactivate(ctx, current, epoch)
	}
	if current.CurrentQuestion < QuestionCount {
		return o.advance(ctx, current, message, epoch)
	}
	return o.complete(ctx, current, message, epoch)
}

func (o *Orchestrator) beginTurn() uint64 {
	o.resetMu.Lock()
	defer o.resetMu.Unlock()
	o.inflight++
	return o.epoch
}

func (o *Orchestrator) endTurn() {
	o.resetMu.Lock()
	defer o.resetMu.Unlock()
	o.inflight--
	if o.inflight == 0 {
		clear(o.resets)
	}
}

// commit stores s unless a force reset hit the session after epoch.
func (o *Orchestrator) commit(s *Session, epoch uint64) error {
	o.resetMu.Lock()
	defer o.resetMu.Unlock()
	if o.resets[s.ID] > epoch {
		slog.Info("Discarded turn for force reset session", "session_id", s.ID)
		return ErrSessionReset
	}
	o.store.Put(s)
	return nil
}

func (o *Orchestrator) start(ctx context.Context, sessionID string, epoch uint64) (*Reply, error) {
	q, _ := o.catalog.Question(1)
	prompt, err := renderPrompt("start", promptData{Persona: o.catalog.Persona, Question: q})
	if err != nil {
		return nil, err
	}

	inv, err := o.invoke(ctx, sessionID, prompt)
	if err != nil {
		return nil, err
	}

	// Question 1 never gets the reactivation template.
	response := ensureQuestion(inv.clean, q)
	next := NewSession(sessionID, o.now())
	next.LastOutput = response
	if err := o.commit(next, epoch); err != nil {
		return nil, err
	}
	slog.Info("Assessment started", "session_id", sessionID)

	return &Reply{
		Action:   ActionStarted,
		Intent:   IntentStart,
		Response: response,
		Session:  next.Clone(),
		Raw:      inv.raw,
		Duration: inv.duration,
	}, nil
}

func (o *Orchestrator) advance(ctx context.Context, current *Session, answer string, epoch uint64) (*Reply, error) {
	prev, _ := o.catalog.Question(current.CurrentQuestion)
	next := current.Clone()
	next.Answers[current.CurrentQuestion] = answer
	next.CurrentQuestion++
	q, _ := o.catalog.Question(next.CurrentQuestion)

	prompt, err := renderPrompt("advance", promptData{
		Persona:  o.catalog.Persona,
		Question: q,
		Previous: prev,
		Answer:   answer,
		Answered: len(next.Answers),
	})
	if err != nil {
		return nil, err
	}

	inv, err := o.invoke(ctx, current.ID, prompt)
	if err != nil {
		return nil, err
	}

	reply := &Reply{Action: ActionAdvanced, Intent: IntentMessage, Raw: inv.raw, Duration: inv.duration}
	if reply.Response, reply.Template, err = o.inProgressResponse(next, q, inv.clean); err != nil {
		return nil, err
	}
	if reply.Template != "" {
		reply.Drift = true
		next.DriftCount++
	}

	next.LastOutput = reply.Response
	next.LastUpdate = o.now()
	if err := o.commit(next, epoch); err != nil {
		return nil, err
	}
	reply.Session = next.Clone()

	slog.Info("Assessment advanced",
		"session_id", next.ID,
		"question", next.CurrentQuestion,
		"template", reply.Template)
	return reply, nil
}

func (o *Orchestrator) reactivate(ctx context.Context, current *Session, epoch uint64) (*Reply, error) {
	q, _ := o.catalog.Question(current.CurrentQuestion)
	prompt, err := renderPrompt("reactivate", promptData{
		Persona:  o.catalog.Persona,
		Question: q,
		Answered: len(current.Answers),
	})
	if err != nil {
		return nil, err
	}

	inv, err := o.invoke(ctx, current.ID, prompt)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	next.DriftCount++
	reply := &Reply{Action: ActionReactivated, Intent: IntentMessage, Drift: true, Raw: inv.raw, Duration: inv.duration}
	if reply.Response, reply.Template, err = o.inProgressResponse(next, q, inv.clean); err != nil {
		return nil, err
	}

	next.LastOutput = reply.Response
	next.LastUpdate = o.now()
	if err := o.commit(next, epoch); err != nil {
		return nil, err
	}
	reply.Session = next.Clone()

	slog.Warn("Assessment drift, question re-issued",
		"session_id", next.ID,
		"question", next.CurrentQuestion,
		"drift_count", next.DriftCount)
	return reply, nil
}

func (o *Orchestrator) complete(ctx context.Context, current *Session, answer string, epoch uint64) (*Reply, error) {
	next := current.Clone()
	next.Answers[current.CurrentQuestion] = answer
	next.CurrentQuestion = QuestionCount + 1
	realm := o.evaluator.Evaluate(next.Answers)
	transcript := o.catalog.Transcript(next)

	prompt, err := renderPrompt("final", promptData{
		Persona:    o.catalog.Persona,
		Answered:   len(next.Answers),
		Transcript: transcript,
		Realm:      realm,
	})
	if err != nil {
		return nil, err
	}

	inv, err := o.invoke(ctx, current.ID, prompt)
	if err != nil {
		return nil, err
	}

	// Past the last question the closing template always replaces tool output.
	response, err := o.catalog.RenderFinalAssessment(realm)
	if err != nil {
		return nil, err
	}

	now := o.now()
	next.IsCompleted = true
	next.LastOutput = response
	next.LastUpdate = now
	if err := o.commit(next, epoch); err != nil {
		return nil, err
	}

	slog.Info("Assessment completed",
		"session_id", next.ID,
		"tier", realm.Tier,
		"scores", realm.Scores)

	o.dispatch(Completion{
		Session:     next.Clone(),
		Realm:       realm,
		Transcript:  transcript,
		Response:    response,
		CompletedAt: now,
	})

	return &Reply{
		Action:   ActionCompleted,
		Intent:   IntentMessage,
		Response: response,
		Session:  next.Clone(),
		Template: TemplateFinalAssessment,
		Raw:      inv.raw,
		Duration: inv.duration,
		Realm:    &realm,
	}, nil
}

// inProgressResponse picks tool output or the reactivation template for a
// session that is still mid-interview.
func (o *Orchestrator) inProgressResponse(s *Session, q Question, clean string) (string, string, error) {
	if s.CurrentQuestion > 1 && o.isDrift(clean) {
		text, err := o.catalog.RenderReactivation(q, len(s.Answers))
		if err != nil {
			return "", "", err
		}
		return text, TemplateReactivation, nil
	}
	return ensureQuestion(clean, q), "", nil
}

type invocation struct {
	raw      string
	clean    string
	duration time.Duration
}

// invoke runs the CLI detached from ctx cancellation. The invocation timeout
// is its only deadline, so a dropped client does not kill the turn.
func (o *Orchestrator) invoke(ctx context.Context, sessionID, prompt string) (*invocation, error) {
	res, err := o.invoker.Invoke(context.WithoutCancel(ctx), prompt, qcli.InvokeOptions{Tag: sessionID})
	if err != nil {
		return nil, fmt.Errorf("invoke q cli: %w", err)
	}
	clean := sanitize.Sanitize(res.Stdout)
	if o.onWrite != nil && (sanitize.HasWriteSignal(res.Combined()) || sanitize.HasWriteSignal(clean)) {
		o.onWrite()
	}
	return &invocation{raw: res.Stdout, clean: clean, duration: res.Duration}, nil
}

func (o *Orchestrator) dispatch(c Completion) {
	if o.onComplete == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), completionHookTimeout)
		defer cancel()
		o.onComplete(ctx, c)
	}()
}

// Wait blocks until scheduled completion hooks have returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Session returns a snapshot of the session, if any.
func (o *Orchestrator) Session(sessionID string) (*Session, bool) {
	return o.store.Get(sessionID)
}

// Reset deletes the session after any in-flight turn for it finishes.
func (o *Orchestrator) Reset(sessionID string) bool {
	unlock := o.locks.Lock(sessionID)
	defer unlock()
	return o.store.Delete(sessionID)
}

// ForceReset deletes the session immediately and kills any process still
// running for it. The interrupted turn fails and commits nothing.
func (o *Orchestrator) ForceReset(sessionID string) (deleted bool, killed int) {
	o.resetMu.Lock()
	o.epoch++
	o.resets[sessionID] = o.epoch
	deleted = o.store.Delete(sessionID)
	o.resetMu.Unlock()

	if o.kill != nil {
		killed = o.kill(sessionID)
	}
	slog.Info("Assessment force reset", "session_id", sessionID, "deleted", deleted, "killed", killed)
	return deleted, killed
}

// Sweep removes sessions idle longer than ttl and kills their processes.
func (o *Orchestrator) Sweep(ttl time.Duration) []string {
	removed := o.store.Sweep(o.now(), ttl)
	if o.kill != nil {
		for _, id := range removed {
			o.kill(id)
		}
	}
	return removed
}

// Count returns the number of live sessions.
func (o *Orchestrator) Count() int {
	return o.store.Len()
}
