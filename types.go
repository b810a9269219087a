package concierge

import (
	"time"
)

// TerminalState describes how a dispatch session ended.
type TerminalState string

const (
	// TerminalPending indicates the session has not finished yet.
	TerminalPending TerminalState = "pending"
	// TerminalCompleted indicates the session ran to completion.
	TerminalCompleted TerminalState = "completed"
	// TerminalStepLimit indicates the session stopped because the step budget was exhausted.
	TerminalStepLimit TerminalState = "step-limit-reached"
	// TerminalTimeLimit indicates the session stopped because the wall-clock budget was exhausted.
	TerminalTimeLimit TerminalState = "time-limit-reached"
	// TerminalFailed indicates the primary call failed validation or raised, with no fallback.
	TerminalFailed TerminalState = "failed"
)

// Tone is a coarse emotional-register classification of an utterance.
type Tone string

const (
	ToneUrgent  Tone = "urgent"
	ToneExcited Tone = "excited"
	ToneCasual  Tone = "casual"
	ToneFormal  Tone = "formal"
	ToneNeutral Tone = "neutral"
)

// ParameterSpec describes a single parameter accepted by an action.
type ParameterSpec struct {
	Type        string `json:"type" yaml:"type"` // "string", "number", "bool"
	Required    bool   `json:"required" yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ParameterSchema maps parameter names to their specs.
type ParameterSchema map[string]ParameterSpec

// ActionSchema is the static description of one registered action, used by
// resolvers and proposers to decide what can be called and with what.
type ActionSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Parameters  ParameterSchema `json:"parameters,omitempty"`
	Returns     string          `json:"returns,omitempty"`
	Examples    []string        `json:"examples,omitempty"`
}

// RequiredParameters returns the schema's required parameter names in a
// stable (sorted) order, so clarification prompts are deterministic.
func (s ActionSchema) RequiredParameters() []string {
	var required []string
	for name, spec := range s.Parameters {
		if spec.Required {
			required = append(required, name)
		}
	}
	sortStrings(required)
	return required
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// ParsedIntent is the resolver's verdict for one utterance. It is created
// fresh per utterance, never mutated afterwards, and consumed once by the
// dispatcher.
type ParsedIntent struct {
	IntentLabel     string                 `json:"intent_label"`
	ActionName      string                 `json:"action_name,omitempty"` // empty unless confidence cleared the resolver threshold
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	Confidence      float64                `json:"confidence"`
	MissingRequired []string               `json:"missing_required,omitempty"`
}

// TraceEntry records one action invocation inside a dispatch session.
type TraceEntry struct {
	Step       int                    `json:"step"` // 1-based within the session
	ActionName string                 `json:"action_name"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	ErrorCode  string                 `json:"error_code,omitempty"`
	Succeeded  bool                   `json:"succeeded"`
	StartedAt  time.Time              `json:"started_at"`
	Duration   time.Duration          `json:"duration"`
}

// Session bounds one end-to-end dispatch. It is created at request entry and
// discarded once the response is returned; only the opaque conversation ID
// outlives it (and only as a memory key).
type Session struct {
	ID          string
	Utterance   string
	StartedAt   time.Time
	MaxSteps    int
	MaxDuration time.Duration
	Allowed     []string // nil means every registered action is allowed
	Trace       []TraceEntry
	Terminal    TerminalState
}

// NewSession creates a session with the given budgets. A nil allowlist
// permits all registered actions.
func NewSession(id, utterance string, maxSteps int, maxDuration time.Duration, allowed []string) *Session {
	return &Session{
		ID:          id,
		Utterance:   utterance,
		StartedAt:   time.Now(),
		MaxSteps:    maxSteps,
		MaxDuration: maxDuration,
		Allowed:     allowed,
		Terminal:    TerminalPending,
	}
}

// Allows reports whether the named action is inside the session allowlist.
func (s *Session) Allows(actionName string) bool {
	if s.Allowed == nil {
		return true
	}
	for _, name := range s.Allowed {
		if name == actionName {
			return true
		}
	}
	return false
}

// Elapsed returns the wall-clock time since the session started.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.StartedAt)
}

// AddTrace appends an entry to the session trace, assigning its step number.
// The trace is append-only and ordered by step.
func (s *Session) AddTrace(entry TraceEntry) TraceEntry {
	entry.Step = len(s.Trace) + 1
	s.Trace = append(s.Trace, entry)
	return entry
}

// StepOutput returns the output map of the given 1-based step, if that step
// exists and succeeded.
func (s *Session) StepOutput(step int) (map[string]interface{}, bool) {
	if step < 1 || step > len(s.Trace) {
		return nil, false
	}
	entry := s.Trace[step-1]
	if !entry.Succeeded {
		return nil, false
	}
	return entry.Output, true
}

// PrimaryOutput returns the output of the first successful call in the
// session, which feeds the normalizer in both dispatch modes.
func (s *Session) PrimaryOutput() (map[string]interface{}, bool) {
	for _, entry := range s.Trace {
		if entry.Succeeded {
			return entry.Output, true
		}
	}
	return nil, false
}

// ProposedCall is one externally-proposed action invocation, produced by a
// Proposer in tool-calling mode.
type ProposedCall struct {
	ActionName string                 `json:"action_name"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
}

// ProposerInput is what a Proposer sees before each call: the original
// utterance, the available action schemas, and the trace so far.
type ProposerInput struct {
	Utterance string                  `json:"utterance"`
	Schemas   map[string]ActionSchema `json:"schemas"`
	Trace     []TraceEntry            `json:"trace,omitempty"`
}

// ResultKind tags the shape of a raw action result at the normalizer
// boundary.
type ResultKind string

const (
	ResultNone       ResultKind = "none"
	ResultText       ResultKind = "text"
	ResultStructured ResultKind = "structured"
	ResultError      ResultKind = "error"
)

// RawResult is the tagged union handed to the normalizer. Handlers return
// loose maps; the union is built once here so the normalizer never probes
// arbitrary field names.
type RawResult struct {
	Kind   ResultKind
	Text   string
	Fields map[string]interface{}
	Err    string
}

// textBearingKeys are the conventional keys handlers use for free text, in
// lookup order.
var textBearingKeys = []string{"analysis", "report", "content", "text", "response", "output"}

// TextResult wraps plain text.
func TextResult(text string) RawResult {
	return RawResult{Kind: ResultText, Text: text}
}

// StructuredResult wraps a field map with no recognizable text.
func StructuredResult(fields map[string]interface{}) RawResult {
	return RawResult{Kind: ResultStructured, Fields: fields}
}

// ErrorResult wraps a handler failure.
func ErrorResult(err error) RawResult {
	if err == nil {
		return RawResult{Kind: ResultError}
	}
	return RawResult{Kind: ResultError, Err: err.Error()}
}

// NoResult marks the absence of any action output.
func NoResult() RawResult {
	return RawResult{Kind: ResultNone}
}

// ResultFromOutput converts a handler's loose output map into the tagged
// union, preferring the conventional text-bearing keys in a fixed order.
func ResultFromOutput(output map[string]interface{}) RawResult {
	if output == nil {
		return NoResult()
	}
	for _, key := range textBearingKeys {
		if value, ok := output[key]; ok {
			if text, ok := value.(string); ok && text != "" {
				return TextResult(text)
			}
		}
	}
	if len(output) == 0 {
		return NoResult()
	}
	return StructuredResult(output)
}

// FormattedResponse is the normalizer's output contract.
type FormattedResponse struct {
	ToneLabel          Tone     `json:"tone_label"`
	BodyText           string   `json:"body_text"`
	SuggestedNextSteps []string `json:"suggested_next_steps,omitempty"`
	RenderedText       string   `json:"rendered_text"`
}

// NormalizeInput bundles everything the normalizer needs for one reply.
type NormalizeInput struct {
	Result     RawResult
	Tone       Tone
	ActionName string
	// Clarification, when non-empty, short-circuits normalization: the
	// rendered text is solely this question.
	Clarification string
}

// Turn is one conversation entry kept in the cross-turn memory.
type Turn struct {
	Role string    `json:"role"` // "user" or "assistant"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Limits optionally overrides the session budgets for one request.
type Limits struct {
	MaxSteps  int `json:"max_steps,omitempty"`
	MaxTimeMs int `json:"max_time_ms,omitempty"`
}

// Request is the boundary shape consumed by Handle.
type Request struct {
	Utterance      string            `json:"utterance"`
	Context        map[string]string `json:"context,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	ToolsAllow     []string          `json:"tools_allow,omitempty"`
	Limits         *Limits           `json:"limits,omitempty"`
}

// Response is the boundary shape produced by Handle.
type Response struct {
	RenderedText       string        `json:"rendered_text"`
	IntentLabel        string        `json:"intent_label"`
	ActionName         string        `json:"action_name,omitempty"`
	Confidence         float64       `json:"confidence"`
	Trace              []TraceEntry  `json:"trace"`
	TerminalState      TerminalState `json:"terminal_state"`
	ConversationID     string        `json:"conversation_id"`
	NeedsClarification bool          `json:"needs_clarification,omitempty"`
}
