// Package conversation sequences the fields of a form through a spoken
// conversation.
//
// A Machine is owned by exactly one goroutine. It mutates the session record
// it was given and returns the side effects the caller must carry out
// (instructions for the AI, frames for the user) as Actions.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vango-go/vai-forms/pkg/extract"
	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/record"
)

type State int

const (
	StateGreeting State = iota
	StatePrompting
	StateEvaluating
	StateRetrying
	StateCompleted
	StateExpired
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StatePrompting:
		return "prompting_field"
	case StateEvaluating:
		return "evaluating_answer"
	case StateRetrying:
		return "retrying_field"
	case StateCompleted:
		return "completed"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpired || s == StateFailed
}

const DefaultMaxRetries = 3

type Config struct {
	// MaxRetries caps rejected answers per field. Defaults to DefaultMaxRetries.
	MaxRetries int
	Now        func() time.Time
	Engine     extract.Engine
}

type Action interface{ isAction() }

// Instruct is a system instruction for the AI capability. Say is the
// user-facing wording, shown when the session runs without a capability.
type Instruct struct {
	Field string
	Text  string
	Say   string
	Retry bool
}

type Progress struct {
	CurrentField int
	TotalFields  int
	Percentage   int
}

type Accepted struct {
	Field string
	Value any
}

type Rejected struct {
	Field   string
	Reason  string
	Attempt int
}

type Skipped struct {
	Field string
}

type Completed struct {
	Manual   bool
	Proposal record.Proposal
}

type Failed struct {
	Field  string
	Reason string
}

type Expired struct{}

func (Instruct) isAction()  {}
func (Progress) isAction()  {}
func (Accepted) isAction()  {}
func (Rejected) isAction()  {}
func (Skipped) isAction()   {}
func (Completed) isAction() {}
func (Failed) isAction()    {}
func (Expired) isAction()   {}

type Machine struct {
	form  *forms.Form
	rec   *record.Session
	cfg   Config
	state State

	started bool
	// prompted counts PromptingField visits.
	prompted int
}

func New(form *forms.Form, rec *record.Session, cfg Config) *Machine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Engine.Now == nil {
		cfg.Engine.Now = cfg.Now
	}
	if rec.CollectedValues == nil {
		rec.CollectedValues = map[string]any{}
	}
	if rec.RetryCounts == nil {
		rec.RetryCounts = map[string]int{}
	}
	m := &Machine{form: form, rec: rec, cfg: cfg}
	switch rec.Status {
	case record.StatusCompleted:
		m.state = StateCompleted
	case record.StatusExpired:
		m.state = StateExpired
	case record.StatusFailed:
		m.state = StateFailed
	}
	return m
}

func (m *Machine) State() State            { return m.state }
func (m *Machine) Record() *record.Session { return m.rec }
func (m *Machine) Done() bool              { return m.state.Terminal() }
func (m *Machine) PromptCount() int        { return m.prompted }

// CurrentField returns the field being collected.
func (m *Machine) CurrentField() (forms.FieldSpec, bool) {
	i := m.rec.CurrentFieldIndex
	if i < 0 || i >= len(m.form.Fields) {
		return forms.FieldSpec{}, false
	}
	return m.form.Fields[i], true
}

func (m *Machine) Progress() Progress {
	total := len(m.form.Fields)
	done := m.rec.CurrentFieldIndex
	cur := min(done+1, total)
	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}
	return Progress{CurrentField: cur, TotalFields: total, Percentage: pct}
}

// Start greets the user once and prompts the current field. A session resumed
// after a dropped connection continues where it stopped.
func (m *Machine) Start() []Action {
	if m.state.Terminal() || m.started {
		return nil
	}
	if acts, expired := m.checkExpiry(); expired {
		return acts
	}
	now := m.cfg.Now()
	if err := m.rec.SetStatus(record.StatusActive, now); err != nil {
		return nil
	}
	m.state = StateGreeting
	m.started = true

	resumed := m.rec.CurrentFieldIndex > 0
	intro := greeting(m.form, resumed)
	m.rec.AppendTurn(record.SpeakerSystem, intro, "", now)
	acts := []Action{Instruct{Text: intro, Say: introText(m.form, resumed)}}
	return append(acts, m.advance()...)
}

// Answer evaluates a user answer for the current field. It is ignored unless
// the machine is waiting for one.
func (m *Machine) Answer(text string) []Action {
	if m.state != StatePrompting && m.state != StateRetrying {
		return nil
	}
	if acts, expired := m.checkExpiry(); expired {
		return acts
	}
	spec, ok := m.CurrentField()
	if !ok {
		return nil
	}
	now := m.cfg.Now()
	m.state = StateEvaluating
	m.rec.AppendTurn(record.SpeakerUser, text, spec.Name, now)

	value, err := m.cfg.Engine.Extract(spec, text)
	if err == nil {
		m.rec.CollectedValues[spec.Name] = value
		m.rec.CurrentFieldIndex++
		_ = m.rec.SetStatus(record.StatusActive, now)
		acts := []Action{Accepted{Field: spec.Name, Value: value}}
		return append(acts, m.advance()...)
	}

	reason := err.Error()
	var rej *extract.Rejection
	if errors.As(err, &rej) {
		reason = rej.Reason
	}
	m.rec.RetryCounts[spec.Name]++
	attempt := m.rec.RetryCounts[spec.Name]
	m.rec.AppendTurn(record.SpeakerSystem, fmt.Sprintf("rejected (%d/%d): %s", attempt, m.cfg.MaxRetries, reason), spec.Name, now)
	acts := []Action{Rejected{Field: spec.Name, Reason: reason, Attempt: attempt}}

	switch {
	case attempt < m.cfg.MaxRetries:
		m.state = StateRetrying
		_ = m.rec.SetStatus(record.StatusAwaitingField, now)
		prompt := retryInstruction(spec, text, reason)
		m.rec.AppendTurn(record.SpeakerSystem, prompt, spec.Name, now)
		return append(acts, Instruct{Field: spec.Name, Text: prompt, Say: retryText(spec, reason), Retry: true})
	case !spec.Required:
		m.rec.CurrentFieldIndex++
		_ = m.rec.SetStatus(record.StatusActive, now)
		m.rec.AppendTurn(record.SpeakerSystem, "skipped optional field", spec.Name, now)
		acts = append(acts, Skipped{Field: spec.Name})
		return append(acts, m.advance()...)
	default:
		return append(acts, m.fail(spec.Name, record.ReasonUnresolvableField))
	}
}

// ManualComplete ends the session early with whatever has been collected.
func (m *Machine) ManualComplete() []Action {
	if m.state.Terminal() {
		return nil
	}
	if acts, expired := m.checkExpiry(); expired {
		return acts
	}
	return []Action{m.complete(true)}
}

// Expire moves any non-terminal session to expired.
func (m *Machine) Expire() []Action {
	if m.state.Terminal() {
		return nil
	}
	now := m.cfg.Now()
	if err := m.rec.SetStatus(record.StatusExpired, now); err != nil {
		return nil
	}
	m.state = StateExpired
	m.rec.AppendTurn(record.SpeakerSystem, "session expired", "", now)
	return []Action{Expired{}}
}

func (m *Machine) checkExpiry() ([]Action, bool) {
	if !m.rec.Expired(m.cfg.Now()) {
		return nil, false
	}
	return m.Expire(), true
}

func (m *Machine) advance() []Action {
	spec, ok := m.CurrentField()
	if !ok {
		return []Action{m.complete(false)}
	}
	m.state = StatePrompting
	m.prompted++
	return m.prompt(spec)
}

func (m *Machine) prompt(spec forms.FieldSpec) []Action {
	text := promptInstruction(m.form, m.rec.CurrentFieldIndex, spec)
	m.rec.AppendTurn(record.SpeakerSystem, text, spec.Name, m.cfg.Now())
	return []Action{m.Progress(), Instruct{Field: spec.Name, Text: text, Say: spec.Prompt}}
}

// Reprompt asks for the current field again without counting a retry. Used
// when a new capability session replaces a lost one.
func (m *Machine) Reprompt() []Action {
	if m.state != StatePrompting && m.state != StateRetrying {
		return nil
	}
	if acts, expired := m.checkExpiry(); expired {
		return acts
	}
	spec, ok := m.CurrentField()
	if !ok {
		return nil
	}
	return m.prompt(spec)
}

// Say logs assistant speech against the current field.
func (m *Machine) Say(text string) {
	text = strings.TrimSpace(text)
	if text == "" || m.state.Terminal() {
		return
	}
	field := ""
	if spec, ok := m.CurrentField(); ok {
		field = spec.Name
	}
	m.rec.AppendTurn(record.SpeakerAssistant, text, field, m.cfg.Now())
}

func (m *Machine) complete(manual bool) Action {
	now := m.cfg.Now()
	_ = m.rec.SetStatus(record.StatusCompleted, now)
	m.state = StateCompleted
	note := "all fields collected"
	if manual {
		note = "manual completion requested"
	}
	m.rec.AppendTurn(record.SpeakerSystem, note, "", now)
	proposal := m.cfg.Engine.Reconcile(m.rec.ConversationLog, m.form.Fields)
	m.rec.Proposal = &proposal
	return Completed{Manual: manual, Proposal: proposal}
}

func (m *Machine) fail(field, reason string) Action {
	now := m.cfg.Now()
	_ = m.rec.SetStatus(record.StatusFailed, now)
	m.state = StateFailed
	m.rec.FailureReason = reason
	m.rec.AppendTurn(record.SpeakerSystem, "failed: "+reason, field, now)
	return Failed{Field: field, Reason: reason}
}
