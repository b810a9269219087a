// Package adapters bridges external implementations into the runtime's
// interfaces: plain Go functions become Actions, and a Genkit flow becomes
// the Proposer for tool-calling mode.
package adapters

import (
	"context"
	"fmt"

	"github.com/marigold-ai/concierge"
)

// GoActionAdapter adapts a standard Go function to the concierge.Action
// interface.
type GoActionAdapter struct {
	actionFunc  func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
	name        string
	description string
	category    string
	parameters  concierge.ParameterSchema
	returns     string
	examples    []string
	validator   func(map[string]interface{}) error
}

// ActionOption represents an option for configuring a GoActionAdapter.
type ActionOption func(*GoActionAdapter)

// WithValidator sets a custom validator function for the action.
func WithValidator(validator func(map[string]interface{}) error) ActionOption {
	return func(adapter *GoActionAdapter) {
		adapter.validator = validator
	}
}

// WithCategory sets the action's category.
func WithCategory(category string) ActionOption {
	return func(adapter *GoActionAdapter) {
		adapter.category = category
	}
}

// WithDescription sets a detailed description for the action.
func WithDescription(description string) ActionOption {
	return func(adapter *GoActionAdapter) {
		adapter.description = description
	}
}

// WithParameters sets the action's typed parameter schema.
func WithParameters(parameters concierge.ParameterSchema) ActionOption {
	return func(adapter *GoActionAdapter) {
		adapter.parameters = parameters
	}
}

// WithReturns sets the return value description.
func WithReturns(returns string) ActionOption {
	return func(adapter *GoActionAdapter) {
		adapter.returns = returns
	}
}

// WithExamples adds usage examples to the schema.
func WithExamples(examples []string) ActionOption {
	return func(adapter *GoActionAdapter) {
		adapter.examples = examples
	}
}

// NewGoActionAdapter creates a new adapter for a Go function.
func NewGoActionAdapter(
	name string,
	actionFunc func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error),
	options ...ActionOption) *GoActionAdapter {

	adapter := &GoActionAdapter{
		actionFunc: actionFunc,
		name:       name,
		parameters: concierge.ParameterSchema{},
		validator: func(input map[string]interface{}) error {
			// Default validator just ensures input is not nil
			if input == nil {
				return fmt.Errorf("input cannot be nil")
			}
			return nil
		},
	}

	// Apply all options
	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// Execute implements the concierge.Action interface.
func (a *GoActionAdapter) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if a.actionFunc == nil {
		return nil, fmt.Errorf("action function is nil")
	}

	// Validate input before execution
	if err := a.Validate(input); err != nil {
		return nil, fmt.Errorf("input validation failed for %s: %w", a.name, err)
	}

	return a.actionFunc(ctx, input)
}

// Schema implements the concierge.Action interface.
func (a *GoActionAdapter) Schema() concierge.ActionSchema {
	return concierge.ActionSchema{
		Name:        a.name,
		Description: a.description,
		Category:    a.category,
		Parameters:  a.parameters,
		Returns:     a.returns,
		Examples:    a.examples,
	}
}

// Validate implements the concierge.Action interface.
func (a *GoActionAdapter) Validate(input map[string]interface{}) error {
	if a.validator != nil {
		return a.validator(input)
	}
	return nil
}

// Name implements the concierge.Action interface.
func (a *GoActionAdapter) Name() string {
	return a.name
}
