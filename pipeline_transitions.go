package concierge

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/marigold-ai/concierge/internal/eventbus"
)

// pipelineComponents holds references to the components the transitions need.
type pipelineComponents struct {
	Resolver   Resolver
	Dispatcher Dispatcher
	Normalizer Normalizer
	Memory     Memory
	Proposer   Proposer
	Config     Config

	// Function to retrieve action schemas
	GetSchemas func() map[string]ActionSchema
}

// createPipelineStateMachine builds a complete state machine for the request
// pipeline.
func createPipelineStateMachine(components pipelineComponents, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StateResolving, createResolvingTransition(components))
	sm.RegisterTransition(StateClarifying, createClarifyingTransition(components))
	sm.RegisterTransition(StateDispatching, createDispatchingTransition(components))
	sm.RegisterTransition(StateNormalizing, createNormalizingTransition(components))
	sm.RegisterTransition(StateError, createErrorTransition(components))
	sm.RegisterTransition(StateComplete, createCompleteTransition(components))
	sm.RegisterTransition(StateCancelled, createCancelledTransition(components))

	return sm
}

// createInitTransition prepares the request: conversation identity, prior
// turns, and tone.
func createInitTransition(components pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RequestContext) (PipelineState, error) {
		rCtx.ConversationID = rCtx.Request.ConversationID
		if rCtx.ConversationID == "" {
			rCtx.ConversationID = uuid.New().String()
		}

		if eb != nil {
			startEvent := eventbus.NewEvent(
				eventbus.EventRequestStarted,
				rCtx.Request.Utterance,
				"StateMachine.Init",
				map[string]interface{}{
					"conversation_id": rCtx.ConversationID,
					"timestamp":       time.Now().Format(time.RFC3339),
				},
			)
			eb.Publish(ctx, startEvent)
		}

		// Prior turns are a context hint only; a memory miss never fails the
		// request.
		if components.Memory != nil && rCtx.Request.ConversationID != "" {
			history, err := components.Memory.Recent(ctx, rCtx.ConversationID, components.Config.HistoryDepth)
			if err != nil {
				log.Printf("Conversation history unavailable (conversation_id: %s): %v", rCtx.ConversationID, err)
			} else {
				rCtx.History = history
			}
		}

		rCtx.Tone = components.Normalizer.DetectTone(rCtx.Request.Utterance)

		return StateResolving, nil
	}
}

// createResolvingTransition maps the utterance to an intent and routes to
// clarification when a required parameter is missing.
func createResolvingTransition(components pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RequestContext) (PipelineState, error) {
		rCtx.Intent = components.Resolver.Resolve(rCtx.Request.Utterance, rCtx.Request.Context, rCtx.History)

		if eb != nil {
			resolvedEvent := eventbus.NewEvent(
				eventbus.EventIntentResolved,
				rCtx.Intent,
				"StateMachine.Resolving",
				map[string]interface{}{
					"intent":     rCtx.Intent.IntentLabel,
					"action":     rCtx.Intent.ActionName,
					"confidence": rCtx.Intent.Confidence,
				},
			)
			eb.Publish(ctx, resolvedEvent)
		}

		if rCtx.Intent.ActionName != "" && len(rCtx.Intent.MissingRequired) > 0 {
			return StateClarifying, nil
		}

		return StateDispatching, nil
	}
}

// createClarifyingTransition asks for exactly the first missing required
// field. The dispatcher is never consulted on this path.
func createClarifyingTransition(components pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RequestContext) (PipelineState, error) {
		rCtx.Clarification = components.Resolver.Clarify(rCtx.Intent)

		if eb != nil {
			clarifyEvent := eventbus.NewEvent(
				eventbus.EventClarificationNeeded,
				rCtx.Clarification,
				"StateMachine.Clarifying",
				map[string]interface{}{
					"action":        rCtx.Intent.ActionName,
					"missing_field": rCtx.Intent.MissingRequired[0],
				},
			)
			eb.Publish(ctx, clarifyEvent)
		}

		return StateNormalizing, nil
	}
}

// createDispatchingTransition runs the guarded dispatch. Handler failures do
// not take the error path: the normalizer turns them into a fallback reply
// and the session's terminal state carries the verdict.
func createDispatchingTransition(components pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RequestContext) (PipelineState, error) {
		cfg := components.Config
		maxSteps := cfg.MaxSteps
		maxDuration := cfg.MaxDuration
		if limits := rCtx.Request.Limits; limits != nil {
			if limits.MaxSteps > 0 {
				maxSteps = limits.MaxSteps
			}
			if limits.MaxTimeMs > 0 {
				maxDuration = time.Duration(limits.MaxTimeMs) * time.Millisecond
			}
		}

		rCtx.Session = NewSession(uuid.New().String(), rCtx.Request.Utterance, maxSteps, maxDuration, rCtx.Request.ToolsAllow)

		var (
			output map[string]interface{}
			err    error
		)
		if components.Proposer != nil {
			output, err = components.Dispatcher.Run(ctx, rCtx.Session, components.Proposer)
		} else {
			output, err = components.Dispatcher.Dispatch(ctx, rCtx.Session, rCtx.Intent)
		}

		switch {
		case err != nil:
			rCtx.Raw = ErrorResult(err)
		case output == nil:
			rCtx.Raw = NoResult()
		default:
			rCtx.Raw = ResultFromOutput(output)
		}

		if eb != nil && rCtx.Session.Terminal != TerminalCompleted {
			failEvent := eventbus.NewEvent(
				eventbus.EventRequestFailed,
				rCtx.Request.Utterance,
				"StateMachine.Dispatching",
				map[string]interface{}{
					"terminal_state": string(rCtx.Session.Terminal),
					"trace_length":   len(rCtx.Session.Trace),
				},
			)
			eb.Publish(ctx, failEvent)
		}

		return StateNormalizing, nil
	}
}

// createNormalizingTransition shapes the final reply and records the turn.
func createNormalizingTransition(components pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RequestContext) (PipelineState, error) {
		rCtx.Formatted = components.Normalizer.Normalize(NormalizeInput{
			Result:        rCtx.Raw,
			Tone:          rCtx.Tone,
			ActionName:    rCtx.Intent.ActionName,
			Clarification: rCtx.Clarification,
		})

		needsClarification := rCtx.Clarification != ""

		response := &Response{
			RenderedText:       rCtx.Formatted.RenderedText,
			IntentLabel:        rCtx.Intent.IntentLabel,
			Confidence:         rCtx.Intent.Confidence,
			TerminalState:      TerminalCompleted,
			ConversationID:     rCtx.ConversationID,
			NeedsClarification: needsClarification,
		}
		if !needsClarification {
			response.ActionName = rCtx.Intent.ActionName
		}
		if rCtx.Session != nil {
			response.Trace = rCtx.Session.Trace
			response.TerminalState = rCtx.Session.Terminal
		}
		rCtx.Response = response

		if components.Memory != nil {
			now := time.Now()
			if err := components.Memory.Append(ctx, rCtx.ConversationID, Turn{Role: "user", Text: rCtx.Request.Utterance, At: now}); err != nil {
				log.Printf("Failed to record user turn (conversation_id: %s): %v", rCtx.ConversationID, err)
			}
			if err := components.Memory.Append(ctx, rCtx.ConversationID, Turn{Role: "assistant", Text: response.RenderedText, At: now}); err != nil {
				log.Printf("Failed to record assistant turn (conversation_id: %s): %v", rCtx.ConversationID, err)
			}
		}

		if eb != nil {
			renderedEvent := eventbus.NewEvent(
				eventbus.EventResponseRendered,
				response.RenderedText,
				"StateMachine.Normalizing",
				map[string]interface{}{
					"tone":                string(rCtx.Formatted.ToneLabel),
					"needs_clarification": needsClarification,
				},
			)
			eb.Publish(ctx, renderedEvent)

			completedEvent := eventbus.NewEvent(
				eventbus.EventRequestCompleted,
				rCtx.Request.Utterance,
				"StateMachine.Normalizing",
				map[string]interface{}{
					"terminal_state": string(response.TerminalState),
					"duration_ms":    rCtx.GetTotalDuration().Milliseconds(),
				},
			)
			eb.Publish(ctx, completedEvent)
		}

		return StateComplete, nil
	}
}

// createErrorTransition handles error states.
func createErrorTransition(_ pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RequestContext) (PipelineState, error) {
		// The error is already recorded in the request context. Handler
		// failures never land here (they are normalized into a fallback
		// reply); this path is for pipeline-internal failures only.
		return StateComplete, rCtx.LastError
	}
}

// createCompleteTransition handles the complete state.
func createCompleteTransition(_ pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RequestContext) (PipelineState, error) {
		return StateComplete, nil
	}
}

// createCancelledTransition handles the cancelled state.
func createCancelledTransition(_ pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rCtx *RequestContext) (PipelineState, error) {
		return StateCancelled, rCtx.LastError
	}
}
