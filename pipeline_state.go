package concierge

import (
	"context"
	"fmt"
	"time"

	"github.com/marigold-ai/concierge/internal/eventbus"
)

// The request pipeline is a pushdown automaton: the state stack tracks how a
// request moved through resolution, clarification, dispatch, and
// normalization, and keeps the machine easy to extend with retries or
// alternative paths later.

// PipelineState represents the current state of request processing.
type PipelineState string

const (
	// StateInit is the initial state of a request
	StateInit PipelineState = "init"
	// StateResolving represents the intent resolution phase
	StateResolving PipelineState = "resolving"
	// StateClarifying is entered when a required parameter is missing
	StateClarifying PipelineState = "clarifying"
	// StateDispatching represents the guarded action execution phase
	StateDispatching PipelineState = "dispatching"
	// StateNormalizing represents the response shaping phase
	StateNormalizing PipelineState = "normalizing"
	// StateError represents an error state
	StateError PipelineState = "error"
	// StateComplete represents the completed state
	StateComplete PipelineState = "complete"
	// StateCancelled represents the cancelled state
	StateCancelled PipelineState = "cancelled"
	// StateUnknown is used when the status of an async request cannot be determined.
	StateUnknown PipelineState = "unknown"
)

// RequestContext carries one request through the pipeline. It acts as the
// "tape" of the automaton: every phase reads what earlier phases wrote.
type RequestContext struct {
	// Input
	Request        Request
	ConversationID string

	// Intermediate results
	History       []Turn
	Intent        ParsedIntent
	Tone          Tone
	Session       *Session
	Raw           RawResult
	Clarification string
	Formatted     FormattedResponse
	Response      *Response

	// Error handling
	LastError  error
	ErrorStage string

	// State management
	CurrentState PipelineState
	StateStack   []PipelineState
	StateData    map[string]interface{}

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[PipelineState]time.Time
}

// NewRequestContext creates a new request context for the given request.
func NewRequestContext(req Request) *RequestContext {
	return &RequestContext{
		Request:         req,
		CurrentState:    StateInit,
		StateStack:      []PipelineState{},
		StateData:       make(map[string]interface{}),
		StartTime:       time.Now(),
		StateStartTimes: make(map[PipelineState]time.Time),
	}
}

// PushState pushes the current state onto the stack and sets a new current state.
func (rc *RequestContext) PushState(state PipelineState) {
	rc.StateStack = append(rc.StateStack, rc.CurrentState)
	rc.CurrentState = state
	rc.StateStartTimes[state] = time.Now()
}

// PopState pops the top state from the stack and sets it as the current state.
// Returns false if the stack is empty.
func (rc *RequestContext) PopState() bool {
	if len(rc.StateStack) == 0 {
		return false
	}
	lastIdx := len(rc.StateStack) - 1
	rc.CurrentState = rc.StateStack[lastIdx]
	rc.StateStack = rc.StateStack[:lastIdx]
	rc.StateStartTimes[rc.CurrentState] = time.Now()
	return true
}

// IsTerminal checks if the current state is a terminal state (Complete, Error, Cancelled).
func (rc *RequestContext) IsTerminal() bool {
	return rc.CurrentState == StateComplete || rc.CurrentState == StateError || rc.CurrentState == StateCancelled
}

// SetError sets the last error and error stage, transitioning to StateError.
func (rc *RequestContext) SetError(err error, stage string) {
	rc.LastError = err
	rc.ErrorStage = stage
	rc.CurrentState = StateError
	rc.StateStartTimes[StateError] = time.Now()
}

// SetCancelled sets the state to Cancelled and records the cancellation error.
func (rc *RequestContext) SetCancelled(err error, stage string) {
	rc.LastError = err
	rc.ErrorStage = stage
	rc.CurrentState = StateCancelled
	rc.StateStartTimes[StateCancelled] = time.Now()
}

// Complete marks the request as complete and sets the end time.
func (rc *RequestContext) Complete() {
	rc.CurrentState = StateComplete
	rc.EndTime = time.Now()
	rc.StateStartTimes[StateComplete] = rc.EndTime
}

// GetStateDuration returns the time spent so far in the given state, for the
// current state only; past states report zero.
func (rc *RequestContext) GetStateDuration(state PipelineState) time.Duration {
	startTime, ok := rc.StateStartTimes[state]
	if !ok {
		return 0
	}
	if state == rc.CurrentState {
		return time.Since(startTime)
	}
	return 0
}

// GetTotalDuration returns the total duration of the request so far.
func (rc *RequestContext) GetTotalDuration() time.Duration {
	if rc.CurrentState == StateComplete {
		return rc.EndTime.Sub(rc.StartTime)
	}
	return time.Since(rc.StartTime)
}

// StateTransition defines a transition function for the state machine.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, rCtx *RequestContext) (PipelineState, error)

// StateMachine represents a finite state machine for request processing.
type StateMachine struct {
	transitions map[PipelineState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a new state machine with no transitions registered.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[PipelineState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state PipelineState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until completion or error, returning the
// response built during normalization.
func (sm *StateMachine) Execute(ctx context.Context, rCtx *RequestContext) (*Response, error) {
	for !rCtx.IsTerminal() {
		// Check for context cancellation before executing the next state
		select {
		case <-ctx.Done():
			err := ctx.Err()
			rCtx.SetCancelled(err, string(rCtx.CurrentState))
			return nil, err
		default:
		}

		transition, exists := sm.transitions[rCtx.CurrentState]
		if !exists {
			err := fmt.Errorf("no transition defined for state: %s", rCtx.CurrentState)
			rCtx.SetError(err, string(rCtx.CurrentState))
			return nil, err
		}

		nextState, err := transition(ctx, sm.eventBus, rCtx)

		if err != nil {
			currentStage := string(rCtx.CurrentState)
			if err == context.Canceled || err == context.DeadlineExceeded {
				rCtx.SetCancelled(err, currentStage)
			} else if !rCtx.IsTerminal() {
				// Transitions usually record their own errors; this catches
				// ones that returned without setting a terminal state.
				rCtx.SetError(err, currentStage)
			}
			continue
		}

		if !rCtx.IsTerminal() {
			rCtx.CurrentState = nextState
			rCtx.StateStartTimes[nextState] = time.Now()
		}
	}

	return rCtx.Response, rCtx.LastError
}
