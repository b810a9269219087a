package concierge

import "context"

// Action represents a named, schema-described callable capability.
type Action interface {
	// Execute performs the action with a validated parameter bag.
	// Handlers may call out to network services; the runtime treats them as
	// opaque, potentially-failing operations and never retries them.
	Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

	// Schema returns the action's static description, used by resolvers and
	// proposers and to compute missing required parameters.
	Schema() ActionSchema

	// Validate runs the action's custom input checks, beyond the typed
	// schema validation the dispatcher already performs.
	// Returns nil if valid, error otherwise.
	Validate(input map[string]interface{}) error

	// Name returns the action's unique registry key.
	Name() string
}

// Resolver maps a free-text utterance (plus prior context) to a candidate
// action, extracted parameters, and a confidence score. It never fails:
// unmatched input resolves to a low-confidence chat intent.
type Resolver interface {
	Resolve(utterance string, context map[string]string, history []Turn) ParsedIntent

	// Clarify produces a single natural-language question asking for exactly
	// the first missing required parameter of the intent.
	Clarify(intent ParsedIntent) string
}

// Dispatcher executes action calls inside a session's budgets, recording one
// trace entry per call.
type Dispatcher interface {
	// Dispatch runs single-intent mode: at most one call, gated on the
	// resolver confidence. It returns the primary handler output, or nil if
	// nothing ran or the call failed.
	Dispatch(ctx context.Context, session *Session, intent ParsedIntent) (map[string]interface{}, error)

	// Run drives tool-calling mode: the proposer supplies calls one at a
	// time until it stops or a budget trips. Failed calls are recorded and
	// the loop continues. Returns the first successful call's output.
	Run(ctx context.Context, session *Session, proposer Proposer) (map[string]interface{}, error)
}

// Proposer is the external reasoning step driving tool-calling mode.
// NextCall returns the next call to attempt, or nil when it is done.
type Proposer interface {
	NextCall(ctx context.Context, input ProposerInput) (*ProposedCall, error)
}

// Normalizer converts heterogeneous action outputs into one consistent
// reply shape.
type Normalizer interface {
	// DetectTone classifies the original utterance. Pure and deterministic.
	DetectTone(utterance string) Tone

	Normalize(input NormalizeInput) FormattedResponse
}

// Memory is the bounded cross-turn conversation log. Appends for the same
// conversation are last-write-wins under concurrency; ordering between
// concurrent requests is not guaranteed.
type Memory interface {
	Append(ctx context.Context, conversationID string, turn Turn) error
	Recent(ctx context.Context, conversationID string, n int) ([]Turn, error)
}
