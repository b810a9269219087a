// Package dispatcher executes resolved intents and externally proposed call
// sequences under step, time, and allowlist guardrails. Calls run strictly
// in order: later calls may reference earlier outputs, so reordering or
// parallelizing them would break the data dependencies the proposer assumes.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/marigold-ai/concierge"
	"github.com/marigold-ai/concierge/internal/eventbus"
)

const (
	// DefaultMinConfidence is the resolver confidence below which no handler
	// is invoked.
	DefaultMinConfidence = 0.5
	// DefaultPerCallTimeout bounds a single handler invocation. The session
	// time budget is only checked at call boundaries; this deadline is the
	// best-effort backstop inside a call.
	DefaultPerCallTimeout = 10 * time.Second
)

// GuardedDispatcher validates and executes action calls against a registry.
type GuardedDispatcher struct {
	actions        map[string]concierge.Action
	minConfidence  float64
	perCallTimeout time.Duration
	eventBus       eventbus.EventBus
	metrics        DispatchMetrics
}

// DispatcherOption is a function that configures a GuardedDispatcher.
type DispatcherOption func(*GuardedDispatcher)

// WithMinConfidence sets the confidence gate for single-intent dispatch.
func WithMinConfidence(min float64) DispatcherOption {
	return func(d *GuardedDispatcher) {
		d.minConfidence = min
	}
}

// WithPerCallTimeout sets the per-call handler deadline.
func WithPerCallTimeout(timeout time.Duration) DispatcherOption {
	return func(d *GuardedDispatcher) {
		d.perCallTimeout = timeout
	}
}

// WithEventBus attaches an event bus for call lifecycle events.
func WithEventBus(bus eventbus.EventBus) DispatcherOption {
	return func(d *GuardedDispatcher) {
		d.eventBus = bus
	}
}

// NewGuardedDispatcher creates a dispatcher over the given action registry.
// The registry is fixed at construction; it is never mutated mid-request.
func NewGuardedDispatcher(actions map[string]concierge.Action, options ...DispatcherOption) *GuardedDispatcher {
	d := &GuardedDispatcher{
		actions:        actions,
		minConfidence:  DefaultMinConfidence,
		perCallTimeout: DefaultPerCallTimeout,
	}

	for _, option := range options {
		option(d)
	}

	return d
}

// Metrics returns a snapshot of the dispatch counters.
func (d *GuardedDispatcher) Metrics() DispatchMetrics {
	return d.metrics.Copy()
}

// Dispatch executes a single resolved intent. Clarification takes precedence
// over execution: an intent with missing required parameters never reaches a
// handler. A sub-threshold confidence completes the session without a call.
func (d *GuardedDispatcher) Dispatch(ctx context.Context, session *concierge.Session, intent concierge.ParsedIntent) (map[string]interface{}, error) {
	if len(intent.MissingRequired) > 0 {
		session.Terminal = concierge.TerminalCompleted
		return nil, nil
	}

	if intent.ActionName == "" || intent.Confidence < d.minConfidence {
		session.Terminal = concierge.TerminalCompleted
		return nil, nil
	}

	if exceeded := d.checkBudget(ctx, session); exceeded {
		return nil, nil
	}

	output, err := d.executeCall(ctx, session, intent.ActionName, intent.Parameters)
	if err != nil {
		// Single-intent mode has no fallback call: the session fails.
		session.Terminal = concierge.TerminalFailed
		return nil, err
	}

	session.Terminal = concierge.TerminalCompleted
	return output, nil
}

// Run drives a multi-call session from an external proposer. Failed calls
// are recorded and the loop continues; the orchestrating caller decides what
// a partial trace means. The primary result is the first successful call's
// output.
func (d *GuardedDispatcher) Run(ctx context.Context, session *concierge.Session, proposer concierge.Proposer) (map[string]interface{}, error) {
	schemas := d.schemas()

	for {
		if exceeded := d.checkBudget(ctx, session); exceeded {
			break
		}

		call, err := proposer.NextCall(ctx, concierge.ProposerInput{
			Utterance: session.Utterance,
			Schemas:   schemas,
			Trace:     session.Trace,
		})
		if err != nil {
			session.Terminal = concierge.TerminalFailed
			primary, _ := session.PrimaryOutput()
			return primary, concierge.NewProposerError(err)
		}
		if call == nil {
			session.Terminal = concierge.TerminalCompleted
			break
		}

		arguments, err := ResolveArguments(call.Arguments, session)
		if err != nil {
			// A bad reference fails this call only, never the session.
			d.recordFailure(ctx, session, call.ActionName, call.Arguments, time.Now(), err)
			continue
		}

		d.executeCall(ctx, session, call.ActionName, arguments)
	}

	primary, _ := session.PrimaryOutput()
	return primary, nil
}

// checkBudget enforces the step and time limits at a call boundary. It
// returns true when the session must stop issuing calls, with the terminal
// state already set.
func (d *GuardedDispatcher) checkBudget(ctx context.Context, session *concierge.Session) bool {
	if len(session.Trace) >= session.MaxSteps {
		session.Terminal = concierge.TerminalStepLimit
		d.publishBudgetExceeded(ctx, session, "step")
		return true
	}

	if session.Elapsed() >= session.MaxDuration {
		session.Terminal = concierge.TerminalTimeLimit
		d.publishBudgetExceeded(ctx, session, "time")
		return true
	}

	return false
}

// executeCall validates and runs one action call, recording exactly one
// trace entry. The handler is never invoked for rejected calls.
func (d *GuardedDispatcher) executeCall(ctx context.Context, session *concierge.Session, actionName string, arguments map[string]interface{}) (map[string]interface{}, error) {
	startedAt := time.Now()

	if !session.Allows(actionName) {
		err := concierge.NewNotPermittedError("dispatch", actionName)
		d.recordRejection(ctx, session, actionName, arguments, startedAt, err)
		return nil, err
	}

	action, exists := d.actions[actionName]
	if !exists {
		err := concierge.NewActionNotFoundError("dispatch", actionName)
		d.recordRejection(ctx, session, actionName, arguments, startedAt, err)
		return nil, err
	}

	if err := validateArguments(action.Schema(), arguments); err != nil {
		d.recordFailure(ctx, session, actionName, arguments, startedAt, err)
		return nil, err
	}

	if err := action.Validate(arguments); err != nil {
		err = concierge.NewValidationError("dispatch", fmt.Sprintf("arguments rejected for action '%s'", actionName), err)
		d.recordFailure(ctx, session, actionName, arguments, startedAt, err)
		return nil, err
	}

	d.publishEvent(ctx, eventbus.EventCallStarted, actionName, map[string]interface{}{
		"session_id": session.ID,
		"step":       len(session.Trace) + 1,
	})

	output, err := d.invoke(ctx, action, arguments)
	duration := time.Since(startedAt)

	entry := concierge.TraceEntry{
		ActionName: actionName,
		Input:      arguments,
		StartedAt:  startedAt,
		Duration:   duration,
	}

	if err != nil {
		entry.Succeeded = false
		entry.Error = err.Error()
		entry.ErrorCode = concierge.CodeOf(err)
		session.AddTrace(entry)
		d.metrics.recordCall(duration, false)
		d.publishEvent(ctx, eventbus.EventCallFailed, actionName, map[string]interface{}{
			"session_id": session.ID,
			"error":      err.Error(),
		})
		return nil, err
	}

	entry.Succeeded = true
	entry.Output = output
	session.AddTrace(entry)
	d.metrics.recordCall(duration, true)
	d.publishEvent(ctx, eventbus.EventCallSucceeded, actionName, map[string]interface{}{
		"session_id":  session.ID,
		"duration_ms": duration.Milliseconds(),
	})

	return output, nil
}

// invoke runs the handler with a best-effort deadline and panic isolation.
func (d *GuardedDispatcher) invoke(ctx context.Context, action concierge.Action, arguments map[string]interface{}) (output map[string]interface{}, err error) {
	callCtx := ctx
	if d.perCallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.perCallTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = concierge.NewHandlerFailureError("execution", action.Name(), fmt.Errorf("handler panic: %v", r))
		}
	}()

	output, err = action.Execute(callCtx, arguments)
	if err != nil {
		if !concierge.IsConciergeError(err) {
			err = concierge.NewHandlerFailureError("execution", action.Name(), err)
		}
		return nil, err
	}

	return output, nil
}

// recordFailure appends a failed trace entry for a call that was attempted
// (or whose arguments could not be prepared).
func (d *GuardedDispatcher) recordFailure(ctx context.Context, session *concierge.Session, actionName string, arguments map[string]interface{}, startedAt time.Time, err error) {
	session.AddTrace(concierge.TraceEntry{
		ActionName: actionName,
		Input:      arguments,
		Error:      err.Error(),
		ErrorCode:  concierge.CodeOf(err),
		Succeeded:  false,
		StartedAt:  startedAt,
		Duration:   time.Since(startedAt),
	})
	d.metrics.recordCall(time.Since(startedAt), false)
	d.publishEvent(ctx, eventbus.EventCallFailed, actionName, map[string]interface{}{
		"session_id": session.ID,
		"error":      err.Error(),
	})
}

// recordRejection appends a failed trace entry for a call that never reached
// its handler.
func (d *GuardedDispatcher) recordRejection(ctx context.Context, session *concierge.Session, actionName string, arguments map[string]interface{}, startedAt time.Time, err error) {
	session.AddTrace(concierge.TraceEntry{
		ActionName: actionName,
		Input:      arguments,
		Error:      err.Error(),
		ErrorCode:  concierge.CodeOf(err),
		Succeeded:  false,
		StartedAt:  startedAt,
		Duration:   time.Since(startedAt),
	})
	d.metrics.recordRejection()
	d.publishEvent(ctx, eventbus.EventCallRejected, actionName, map[string]interface{}{
		"session_id": session.ID,
		"reason":     concierge.CodeOf(err),
	})
}

func (d *GuardedDispatcher) publishBudgetExceeded(ctx context.Context, session *concierge.Session, kind string) {
	d.publishEvent(ctx, eventbus.EventBudgetExceeded, kind, map[string]interface{}{
		"session_id":   session.ID,
		"trace_length": len(session.Trace),
		"elapsed_ms":   session.Elapsed().Milliseconds(),
	})
}

func (d *GuardedDispatcher) publishEvent(ctx context.Context, eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	if d.eventBus == nil {
		return
	}
	d.eventBus.Publish(ctx, eventbus.NewEvent(eventType, payload, "GuardedDispatcher", metadata))
}

func (d *GuardedDispatcher) schemas() map[string]concierge.ActionSchema {
	schemas := make(map[string]concierge.ActionSchema, len(d.actions))
	for name, action := range d.actions {
		schemas[name] = action.Schema()
	}
	return schemas
}

// validateArguments checks presence and type of every declared parameter.
func validateArguments(schema concierge.ActionSchema, arguments map[string]interface{}) error {
	for _, name := range schema.RequiredParameters() {
		if _, present := arguments[name]; !present {
			return concierge.NewMissingParameterError("validation", schema.Name, name)
		}
	}

	for name, value := range arguments {
		spec, declared := schema.Parameters[name]
		if !declared {
			continue
		}
		if !matchesType(value, spec.Type) {
			msg := fmt.Sprintf("action '%s' parameter '%s' expects type %s, got %T", schema.Name, name, spec.Type, value)
			return concierge.NewValidationError("validation", msg, nil)
		}
	}

	return nil
}

func matchesType(value interface{}, declared string) bool {
	if value == nil {
		return false
	}
	switch declared {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "bool", "boolean":
		_, ok := value.(bool)
		return ok
	case "object", "map":
		_, ok := value.(map[string]interface{})
		return ok
	case "array", "list":
		_, ok := value.([]interface{})
		return ok
	}
	return true
}
