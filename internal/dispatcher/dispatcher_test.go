package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marigold-ai/concierge"
)

// countingAction is a stub action that counts handler invocations.
type countingAction struct {
	name      string
	schema    concierge.ActionSchema
	calls     int
	execute   func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
	validator func(input map[string]interface{}) error
}

func (a *countingAction) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	a.calls++
	if a.execute != nil {
		return a.execute(ctx, input)
	}
	return map[string]interface{}{"text": "done"}, nil
}

func (a *countingAction) Schema() concierge.ActionSchema {
	if a.schema.Name == "" {
		return concierge.ActionSchema{Name: a.name}
	}
	return a.schema
}

func (a *countingAction) Validate(input map[string]interface{}) error {
	if a.validator != nil {
		return a.validator(input)
	}
	return nil
}

func (a *countingAction) Name() string { return a.name }

// scriptedProposer replays a fixed sequence of proposed calls.
type scriptedProposer struct {
	calls []concierge.ProposedCall
	index int
}

func (p *scriptedProposer) NextCall(ctx context.Context, input concierge.ProposerInput) (*concierge.ProposedCall, error) {
	if p.index >= len(p.calls) {
		return nil, nil
	}
	call := p.calls[p.index]
	p.index++
	return &call, nil
}

func newSession(maxSteps int, maxDuration time.Duration, allowed []string) *concierge.Session {
	return concierge.NewSession(uuid.New().String(), "test utterance", maxSteps, maxDuration, allowed)
}

func TestDispatchInvokesHandlerOnce(t *testing.T) {
	action := &countingAction{name: "capabilities"}
	d := NewGuardedDispatcher(map[string]concierge.Action{"capabilities": action})

	session := newSession(4, 20*time.Second, nil)
	output, err := d.Dispatch(context.Background(), session, concierge.ParsedIntent{
		IntentLabel: "capabilities",
		ActionName:  "capabilities",
		Confidence:  0.7,
	})

	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if action.calls != 1 {
		t.Errorf("Expected 1 handler call, got %d", action.calls)
	}
	if len(session.Trace) != 1 {
		t.Errorf("Expected trace length 1, got %d", len(session.Trace))
	}
	if session.Terminal != concierge.TerminalCompleted {
		t.Errorf("Expected terminal 'completed', got '%s'", session.Terminal)
	}
	if output["text"] != "done" {
		t.Errorf("Unexpected output: %v", output)
	}
}

func TestDispatchClarificationPrecedence(t *testing.T) {
	action := &countingAction{name: "seo_analysis"}
	d := NewGuardedDispatcher(map[string]concierge.Action{"seo_analysis": action})

	session := newSession(4, 20*time.Second, nil)
	output, err := d.Dispatch(context.Background(), session, concierge.ParsedIntent{
		IntentLabel:     "seo_analysis",
		ActionName:      "seo_analysis",
		Confidence:      0.9,
		MissingRequired: []string{"businessName"},
	})

	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if output != nil {
		t.Errorf("Expected nil output, got %v", output)
	}
	if action.calls != 0 {
		t.Errorf("Handler must never run when required parameters are missing, got %d calls", action.calls)
	}
	if len(session.Trace) != 0 {
		t.Errorf("Expected empty trace, got %d entries", len(session.Trace))
	}
}

func TestDispatchConfidenceGate(t *testing.T) {
	action := &countingAction{name: "chat"}
	d := NewGuardedDispatcher(map[string]concierge.Action{"chat": action})

	session := newSession(4, 20*time.Second, nil)
	output, err := d.Dispatch(context.Background(), session, concierge.ParsedIntent{
		IntentLabel: "chat",
		ActionName:  "chat",
		Confidence:  0.3,
	})

	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if output != nil || action.calls != 0 {
		t.Errorf("Expected no call below the confidence gate, got output %v, calls %d", output, action.calls)
	}
	if session.Terminal != concierge.TerminalCompleted {
		t.Errorf("Expected terminal 'completed', got '%s'", session.Terminal)
	}
}

func TestDispatchHandlerFailure(t *testing.T) {
	action := &countingAction{
		name: "website_audit",
		execute: func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("fetch timed out")
		},
	}
	d := NewGuardedDispatcher(map[string]concierge.Action{"website_audit": action})

	session := newSession(4, 20*time.Second, nil)
	output, err := d.Dispatch(context.Background(), session, concierge.ParsedIntent{
		IntentLabel: "website_audit",
		ActionName:  "website_audit",
		Confidence:  0.8,
	})

	if err == nil {
		t.Fatal("Expected error from failing handler, got nil")
	}
	if output != nil {
		t.Errorf("Expected nil output, got %v", output)
	}
	if session.Terminal != concierge.TerminalFailed {
		t.Errorf("Expected terminal 'failed', got '%s'", session.Terminal)
	}
	if len(session.Trace) != 1 || session.Trace[0].Succeeded {
		t.Errorf("Expected one failed trace entry, got %+v", session.Trace)
	}
	if session.Trace[0].ErrorCode != concierge.ErrCodeHandlerFailure {
		t.Errorf("Expected error code %s, got %s", concierge.ErrCodeHandlerFailure, session.Trace[0].ErrorCode)
	}
}

func TestDispatchPanicIsolation(t *testing.T) {
	action := &countingAction{
		name: "chat",
		execute: func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			panic("boom")
		},
	}
	d := NewGuardedDispatcher(map[string]concierge.Action{"chat": action})

	session := newSession(4, 20*time.Second, nil)
	_, err := d.Dispatch(context.Background(), session, concierge.ParsedIntent{
		IntentLabel: "chat",
		ActionName:  "chat",
		Confidence:  0.9,
	})

	if err == nil {
		t.Fatal("Expected error from panicking handler, got nil")
	}
	if concierge.CodeOf(err) != concierge.ErrCodeHandlerFailure {
		t.Errorf("Expected handler failure code, got %s", concierge.CodeOf(err))
	}
	if session.Terminal != concierge.TerminalFailed {
		t.Errorf("Expected terminal 'failed', got '%s'", session.Terminal)
	}
}

func TestDispatchSchemaValidation(t *testing.T) {
	action := &countingAction{
		name: "lead_search",
		schema: concierge.ActionSchema{
			Name: "lead_search",
			Parameters: concierge.ParameterSchema{
				"industry": {Type: "string", Required: true},
				"radius":   {Type: "number", Required: false},
			},
		},
	}
	d := NewGuardedDispatcher(map[string]concierge.Action{"lead_search": action})

	session := newSession(4, 20*time.Second, nil)
	_, err := d.Dispatch(context.Background(), session, concierge.ParsedIntent{
		IntentLabel: "lead_search",
		ActionName:  "lead_search",
		Confidence:  0.8,
		Parameters:  map[string]interface{}{"industry": "roofing", "radius": "ten"},
	})

	if err == nil {
		t.Fatal("Expected validation error for mistyped parameter, got nil")
	}
	if concierge.CodeOf(err) != concierge.ErrCodeValidation {
		t.Errorf("Expected validation code, got %s", concierge.CodeOf(err))
	}
	if action.calls != 0 {
		t.Errorf("Handler must not run on validation failure, got %d calls", action.calls)
	}
}

func TestRunStepLimit(t *testing.T) {
	action := &countingAction{name: "search_knowledge"}
	d := NewGuardedDispatcher(map[string]concierge.Action{"search_knowledge": action})

	proposer := &scriptedProposer{calls: []concierge.ProposedCall{
		{ActionName: "search_knowledge"},
		{ActionName: "search_knowledge"},
		{ActionName: "search_knowledge"},
	}}

	session := newSession(2, 20*time.Second, nil)
	_, err := d.Run(context.Background(), session, proposer)

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(session.Trace) != 2 {
		t.Errorf("Expected trace length 2, got %d", len(session.Trace))
	}
	if session.Terminal != concierge.TerminalStepLimit {
		t.Errorf("Expected terminal 'step-limit-reached', got '%s'", session.Terminal)
	}
	if action.calls != 2 {
		t.Errorf("Expected 2 handler calls, got %d", action.calls)
	}
}

func TestRunAllowlist(t *testing.T) {
	allowed := &countingAction{name: "search_knowledge"}
	forbidden := &countingAction{name: "delete_everything"}
	d := NewGuardedDispatcher(map[string]concierge.Action{
		"search_knowledge":  allowed,
		"delete_everything": forbidden,
	})

	proposer := &scriptedProposer{calls: []concierge.ProposedCall{
		{ActionName: "delete_everything"},
		{ActionName: "search_knowledge"},
	}}

	session := newSession(4, 20*time.Second, []string{"search_knowledge"})
	output, err := d.Run(context.Background(), session, proposer)

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if forbidden.calls != 0 {
		t.Errorf("Forbidden handler must never run, got %d calls", forbidden.calls)
	}
	if allowed.calls != 1 {
		t.Errorf("Expected 1 allowed handler call, got %d", allowed.calls)
	}
	if len(session.Trace) != 2 {
		t.Fatalf("Expected 2 trace entries, got %d", len(session.Trace))
	}
	if session.Trace[0].Succeeded || session.Trace[0].ErrorCode != concierge.ErrCodeNotPermitted {
		t.Errorf("Expected a not-permitted rejection entry, got %+v", session.Trace[0])
	}
	if output == nil {
		t.Error("Expected the allowed call's output as primary result")
	}
}

func TestRunTimeLimit(t *testing.T) {
	action := &countingAction{name: "chat"}
	d := NewGuardedDispatcher(map[string]concierge.Action{"chat": action})

	proposer := &scriptedProposer{calls: []concierge.ProposedCall{{ActionName: "chat"}}}

	session := newSession(4, time.Nanosecond, nil)
	time.Sleep(time.Millisecond)

	_, err := d.Run(context.Background(), session, proposer)

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if session.Terminal != concierge.TerminalTimeLimit {
		t.Errorf("Expected terminal 'time-limit-reached', got '%s'", session.Terminal)
	}
	if action.calls != 0 {
		t.Errorf("No call may start past the time budget, got %d calls", action.calls)
	}
	if len(session.Trace) != 0 {
		t.Errorf("Expected empty trace, got %d entries", len(session.Trace))
	}
}

func TestRunContinuesAfterFailure(t *testing.T) {
	failing := &countingAction{
		name: "website_audit",
		execute: func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("unreachable host")
		},
	}
	working := &countingAction{
		name: "search_knowledge",
		execute: func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"response": "found it"}, nil
		},
	}
	d := NewGuardedDispatcher(map[string]concierge.Action{
		"website_audit":    failing,
		"search_knowledge": working,
	})

	proposer := &scriptedProposer{calls: []concierge.ProposedCall{
		{ActionName: "website_audit"},
		{ActionName: "search_knowledge"},
	}}

	session := newSession(4, 20*time.Second, nil)
	output, err := d.Run(context.Background(), session, proposer)

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if session.Terminal != concierge.TerminalCompleted {
		t.Errorf("Expected terminal 'completed', got '%s'", session.Terminal)
	}
	if len(session.Trace) != 2 {
		t.Fatalf("Expected 2 trace entries, got %d", len(session.Trace))
	}
	if output == nil || output["response"] != "found it" {
		t.Errorf("Expected the first successful output as primary, got %v", output)
	}
}

func TestRunDeterminism(t *testing.T) {
	for i := 0; i < 5; i++ {
		action := &countingAction{name: "search_knowledge"}
		d := NewGuardedDispatcher(map[string]concierge.Action{"search_knowledge": action})
		proposer := &scriptedProposer{calls: []concierge.ProposedCall{
			{ActionName: "search_knowledge"},
			{ActionName: "search_knowledge"},
			{ActionName: "search_knowledge"},
		}}

		session := newSession(2, 20*time.Second, nil)
		if _, err := d.Run(context.Background(), session, proposer); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(session.Trace) != 2 || session.Terminal != concierge.TerminalStepLimit {
			t.Fatalf("Run %d not deterministic: trace %d, terminal %s", i, len(session.Trace), session.Terminal)
		}
	}
}

func TestRunUnknownAction(t *testing.T) {
	action := &countingAction{name: "chat"}
	d := NewGuardedDispatcher(map[string]concierge.Action{"chat": action})

	proposer := &scriptedProposer{calls: []concierge.ProposedCall{
		{ActionName: "no_such_action"},
	}}

	session := newSession(4, 20*time.Second, nil)
	if _, err := d.Run(context.Background(), session, proposer); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(session.Trace) != 1 || session.Trace[0].ErrorCode != concierge.ErrCodeActionNotFound {
		t.Errorf("Expected an action-not-found entry, got %+v", session.Trace)
	}
	if session.Terminal != concierge.TerminalCompleted {
		t.Errorf("Expected terminal 'completed', got '%s'", session.Terminal)
	}
}

func TestDispatchMetrics(t *testing.T) {
	action := &countingAction{name: "chat"}
	d := NewGuardedDispatcher(map[string]concierge.Action{"chat": action})

	session := newSession(4, 20*time.Second, nil)
	if _, err := d.Dispatch(context.Background(), session, concierge.ParsedIntent{
		IntentLabel: "chat",
		ActionName:  "chat",
		Confidence:  0.9,
	}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	metrics := d.Metrics()
	if metrics.CallsExecuted != 1 || metrics.CallsSucceeded != 1 {
		t.Errorf("Unexpected metrics: %+v", &metrics)
	}
}
