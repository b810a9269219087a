// Package concierge provides the core runtime for a natural-language
// assistant: intent resolution, guarded action dispatch, and response
// normalization behind a single Handle call.
package concierge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/marigold-ai/concierge/internal/eventbus"
)

// Concierge is the main entry point into the runtime. It encapsulates all
// components required to answer one utterance.
type Concierge struct {
	// Core components
	resolver   Resolver
	dispatcher Dispatcher
	normalizer Normalizer
	memory     Memory
	proposer   Proposer
	eventBus   eventbus.EventBus

	// Registered actions
	actions map[string]Action

	// Configuration
	config Config

	// Async processing
	asyncRequests      map[string]*RequestContext
	asyncRequestsMutex sync.RWMutex
}

// Config holds the configuration options for the Concierge runtime.
type Config struct {
	// Session budgets
	MaxSteps    int
	MaxDuration time.Duration

	// Per-call deadline propagated into handlers (best effort; the budget is
	// only enforced at call boundaries)
	PerCallTimeout time.Duration

	// Minimum resolver confidence before a handler is invoked
	MinConfidence float64

	// Number of prior turns handed to the resolver
	HistoryDepth int

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:            4,
		MaxDuration:         20 * time.Second,
		PerCallTimeout:      10 * time.Second,
		MinConfidence:       0.5,
		HistoryDepth:        6,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
	}
}

// Option is a function that configures a Concierge instance.
type Option func(*Concierge)

// WithConfig sets the runtime configuration.
func WithConfig(config Config) Option {
	return func(c *Concierge) {
		c.config = config
	}
}

// WithResolver sets the intent resolver component.
func WithResolver(resolver Resolver) Option {
	return func(c *Concierge) {
		c.resolver = resolver
	}
}

// WithDispatcher sets the guarded dispatcher component.
func WithDispatcher(dispatcher Dispatcher) Option {
	return func(c *Concierge) {
		c.dispatcher = dispatcher
	}
}

// WithNormalizer sets the response normalizer component.
func WithNormalizer(normalizer Normalizer) Option {
	return func(c *Concierge) {
		c.normalizer = normalizer
	}
}

// WithMemory sets the conversation memory component.
func WithMemory(memory Memory) Option {
	return func(c *Concierge) {
		c.memory = memory
	}
}

// WithProposer sets the external reasoning step. When present, requests run
// in tool-calling mode: the proposer drives the session instead of the
// single resolved intent.
func WithProposer(proposer Proposer) Option {
	return func(c *Concierge) {
		c.proposer = proposer
	}
}

// WithActions registers actions with the runtime.
func WithActions(actions map[string]Action) Option {
	return func(c *Concierge) {
		if c.actions == nil {
			c.actions = make(map[string]Action)
		}

		for name, action := range actions {
			c.actions[name] = action
		}
	}
}

// New creates a new Concierge instance with the provided options.
func New(options ...Option) (*Concierge, error) {
	c := &Concierge{
		config:        DefaultConfig(),
		actions:       make(map[string]Action),
		asyncRequests: make(map[string]*RequestContext),
	}

	for _, option := range options {
		option(c)
	}

	// Validate required components
	if c.resolver == nil {
		return nil, NewConfigurationError("resolver is required", nil)
	}

	if c.dispatcher == nil {
		return nil, NewConfigurationError("dispatcher is required", nil)
	}

	if c.normalizer == nil {
		return nil, NewConfigurationError("normalizer is required", nil)
	}

	if c.memory == nil {
		return nil, NewConfigurationError("conversation memory is required", nil)
	}

	if len(c.actions) == 0 {
		return nil, NewConfigurationError("at least one action is required", nil)
	}

	// Initialize event bus if enabled but not provided
	if c.config.EnableEventBus && c.eventBus == nil {
		c.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(c.config.EventBusBufferSize),
			eventbus.WithWorkerCount(c.config.EventBusWorkerCount),
		)
		log.Printf("Initialized default channel-based event bus")
	}

	return c, nil
}

// RegisterAction adds a new action to the runtime. The registry is meant to
// be populated at startup and left alone afterwards; it is not safe to call
// concurrently with Handle.
func (c *Concierge) RegisterAction(name string, action Action) error {
	if _, exists := c.actions[name]; exists {
		return NewConfigurationError("action with name '"+name+"' already exists", nil)
	}

	c.actions[name] = action
	return nil
}

// ActionSchemas returns a map of action names to their schemas, suitable for
// resolver registration and proposer prompts.
func (c *Concierge) ActionSchemas() map[string]ActionSchema {
	schemas := make(map[string]ActionSchema)

	for name, action := range c.actions {
		schemas[name] = action.Schema()
	}

	return schemas
}

// GetActionByName returns an action by its name, or an error if not found.
func (c *Concierge) GetActionByName(name string) (Action, error) {
	if action, exists := c.actions[name]; exists {
		return action, nil
	}
	return nil, NewActionNotFoundError("lookup", name)
}

// ListActions returns the names of all registered actions.
func (c *Concierge) ListActions() []string {
	names := make([]string, 0, len(c.actions))
	for name := range c.actions {
		names = append(names, name)
	}
	sortStrings(names)
	return names
}

// Handle answers one request end to end through the pipeline state machine.
func (c *Concierge) Handle(ctx context.Context, req Request) (*Response, error) {
	stateMachine := c.createStateMachine()
	requestContext := NewRequestContext(req)
	return stateMachine.Execute(ctx, requestContext)
}

// createStateMachine builds a state machine with all necessary transitions
// for the request pipeline.
func (c *Concierge) createStateMachine() *StateMachine {
	var eventBus eventbus.EventBus
	if c.config.EnableEventBus {
		eventBus = c.eventBus
	}

	components := pipelineComponents{
		Resolver:   c.resolver,
		Dispatcher: c.dispatcher,
		Normalizer: c.normalizer,
		Memory:     c.memory,
		Proposer:   c.proposer,
		Config:     c.config,
		GetSchemas: c.ActionSchemas,
	}

	return createPipelineStateMachine(components, eventBus)
}

// Close releases runtime resources (currently the event bus).
func (c *Concierge) Close() error {
	if c.eventBus != nil {
		return c.eventBus.Close()
	}
	return nil
}
