package adapters

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/core"

	"github.com/marigold-ai/concierge"
)

// GenkitProposerAdapter uses a Genkit Flow to implement the Proposer
// interface driving tool-calling mode. Proposals are never cached: each one
// depends on the trace so far, so a cache hit would replay stale decisions.
type GenkitProposerAdapter struct {
	proposerFlow *core.Flow[*concierge.ProposerInput, *concierge.ProposedCall, struct{}]
}

// NewGenkitProposerAdapter creates a new adapter for the proposer flow.
func NewGenkitProposerAdapter(proposerFlow *core.Flow[*concierge.ProposerInput, *concierge.ProposedCall, struct{}]) *GenkitProposerAdapter {
	return &GenkitProposerAdapter{
		proposerFlow: proposerFlow,
	}
}

// NextCall implements the concierge.Proposer interface. A nil or empty
// proposal from the flow means the model is done issuing calls.
func (a *GenkitProposerAdapter) NextCall(ctx context.Context, input concierge.ProposerInput) (*concierge.ProposedCall, error) {
	call, err := a.proposerFlow.Run(ctx, &input) // Pass pointer
	if err != nil {
		return nil, fmt.Errorf("proposer flow execution failed: %w", err)
	}

	if call == nil || call.ActionName == "" {
		return nil, nil
	}

	return call, nil
}
