package resolver

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/marigold-ai/concierge"
)

// IntentFile is the on-disk form of an intent set. The file order becomes
// the registration order, so it also fixes the tie-break.
type IntentFile struct {
	Name    string             `yaml:"name"`
	Intents []IntentDefinition `yaml:"intents"`
}

// LoadIntentFile parses a YAML intent file.
func LoadIntentFile(path string) (*IntentFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open intent file: %w", err)
	}
	defer f.Close()
	var file IntentFile
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse intent YAML: %w", err)
	}
	return &file, nil
}

// Validate checks the intent file for duplicate names, cue-less intents,
// invalid patterns, and references to unregistered actions.
func (file *IntentFile) Validate(schemas map[string]concierge.ActionSchema) error {
	nameSet := make(map[string]struct{}, len(file.Intents))
	for _, intent := range file.Intents {
		if intent.Name == "" {
			return fmt.Errorf("intent with empty name")
		}
		if _, exists := nameSet[intent.Name]; exists {
			return fmt.Errorf("duplicate intent name found: %s", intent.Name)
		}
		nameSet[intent.Name] = struct{}{}

		if len(intent.Cues) == 0 && len(intent.Patterns) == 0 {
			return fmt.Errorf("intent '%s' has no cues or patterns", intent.Name)
		}

		for _, p := range intent.Patterns {
			if _, err := regexp.Compile("(?i)" + p); err != nil {
				return fmt.Errorf("intent '%s' has invalid pattern %q: %w", intent.Name, p, err)
			}
		}

		if intent.Action != "" {
			if _, exists := schemas[intent.Action]; !exists {
				return fmt.Errorf("intent '%s' references unregistered action '%s'", intent.Name, intent.Action)
			}
		}
	}
	return nil
}

// LoadAndValidateIntents loads an intent file, validates it against the
// registered action schemas, and returns a ready resolver.
func LoadAndValidateIntents(path string, schemas map[string]concierge.ActionSchema, options ...ResolverOption) (*KeywordResolver, error) {
	file, err := LoadIntentFile(path)
	if err != nil {
		return nil, err
	}
	if err := file.Validate(schemas); err != nil {
		return nil, err
	}
	return NewKeywordResolver(file.Intents, schemas, options...)
}
