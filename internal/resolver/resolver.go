// Package resolver maps free-text utterances to registered intents using
// keyword and pattern matching. The matching is a deliberate heuristic kept
// behind the Resolver interface so a model-backed classifier can replace it
// without touching the dispatcher or normalizer.
package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/marigold-ai/concierge"
)

// DefaultThreshold is the minimum confidence at which a resolved action name
// is attached to the intent.
const DefaultThreshold = 0.5

// IntentDefinition describes one resolvable intent: the coarse label, the
// action it maps to, and the cues that signal it. Definition order is load
// bearing: when two intents score equally, the first registered wins.
type IntentDefinition struct {
	Name     string   `yaml:"name"`
	Action   string   `yaml:"action"`
	Cues     []string `yaml:"cues"`
	Patterns []string `yaml:"patterns,omitempty"`
}

type compiledIntent struct {
	def      IntentDefinition
	patterns []*regexp.Regexp
}

// KeywordResolver resolves intents by scoring cue and pattern matches
// against the utterance.
type KeywordResolver struct {
	intents   []compiledIntent
	schemas   map[string]concierge.ActionSchema
	threshold float64
}

// ResolverOption is a function that configures a KeywordResolver.
type ResolverOption func(*KeywordResolver)

// WithThreshold sets the minimum confidence for attaching an action name.
func WithThreshold(threshold float64) ResolverOption {
	return func(r *KeywordResolver) {
		r.threshold = threshold
	}
}

// NewKeywordResolver creates a resolver over the given intent definitions.
// Schemas are used for missing-required detection and must cover every
// action the definitions reference.
func NewKeywordResolver(definitions []IntentDefinition, schemas map[string]concierge.ActionSchema, options ...ResolverOption) (*KeywordResolver, error) {
	r := &KeywordResolver{
		schemas:   schemas,
		threshold: DefaultThreshold,
	}

	for _, option := range options {
		option(r)
	}

	seen := make(map[string]bool)
	for _, def := range definitions {
		if def.Name == "" {
			return nil, fmt.Errorf("intent definition with empty name")
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("duplicate intent definition: %s", def.Name)
		}
		seen[def.Name] = true

		if len(def.Cues) == 0 && len(def.Patterns) == 0 {
			return nil, fmt.Errorf("intent '%s' has no cues or patterns", def.Name)
		}

		ci := compiledIntent{def: def}
		for _, p := range def.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("intent '%s' has invalid pattern %q: %w", def.Name, p, err)
			}
			ci.patterns = append(ci.patterns, re)
		}
		r.intents = append(r.intents, ci)
	}

	return r, nil
}

// Resolve maps an utterance to a ParsedIntent. It never fails: unmatched
// input resolves to a low-confidence "chat" intent with no action attached.
func (r *KeywordResolver) Resolve(utterance string, context map[string]string, history []concierge.Turn) concierge.ParsedIntent {
	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" {
		return concierge.ParsedIntent{IntentLabel: "chat", Confidence: 0}
	}

	lower := strings.ToLower(trimmed)

	bestIdx := -1
	bestMatches := 0
	for i, ci := range r.intents {
		matches := 0
		for _, cue := range ci.def.Cues {
			if strings.Contains(lower, strings.ToLower(cue)) {
				matches++
			}
		}
		for _, re := range ci.patterns {
			if re.MatchString(trimmed) {
				matches++
			}
		}
		// Strictly greater keeps the first registered intent on ties.
		if matches > bestMatches {
			bestMatches = matches
			bestIdx = i
		}
	}

	intent := concierge.ParsedIntent{
		IntentLabel: "chat",
		Confidence:  0.2,
		Parameters:  make(map[string]interface{}),
	}
	if bestIdx >= 0 {
		intent.IntentLabel = r.intents[bestIdx].def.Name
		intent.Confidence = scoreConfidence(bestMatches)
		if intent.Confidence >= r.threshold {
			intent.ActionName = r.intents[bestIdx].def.Action
		}
	}

	// Entity extraction runs independently of which intent won.
	extractEntities(trimmed, intent.Parameters)

	// Context values fill only what the utterance did not supply.
	for key, value := range context {
		if _, set := intent.Parameters[key]; !set && value != "" {
			intent.Parameters[key] = value
		}
	}

	// Prior turns are the weakest source: newest first, gaps only.
	fillFromHistory(history, intent.Parameters)

	if intent.ActionName != "" {
		schema, known := r.schemas[intent.ActionName]
		if known {
			fillUtteranceParams(schema, trimmed, intent.Parameters)
			for _, name := range schema.RequiredParameters() {
				if _, set := intent.Parameters[name]; !set {
					intent.MissingRequired = append(intent.MissingRequired, name)
				}
			}
		}
	}

	return intent
}

// Clarify returns a single question asking for exactly the first missing
// required field.
func (r *KeywordResolver) Clarify(intent concierge.ParsedIntent) string {
	if len(intent.MissingRequired) == 0 {
		return ""
	}

	field := intent.MissingRequired[0]
	if question, ok := clarificationQuestions[field]; ok {
		return question
	}
	return fmt.Sprintf("Could you share the %s?", humanize(field))
}

// scoreConfidence maps a raw match count onto [0,1]. A single matched cue is
// already a strong signal against a small curated phrase set, so the curve
// starts at 0.7 and saturates at 1.
func scoreConfidence(matches int) float64 {
	if matches <= 0 {
		return 0
	}
	confidence := 0.5 + 0.2*float64(matches)
	if confidence > 1 {
		return 1
	}
	return confidence
}

var clarificationQuestions = map[string]string{
	"businessName": "What's the name of your business?",
	"industry":     "What industry is your business in?",
	"location":     "Which city or area should I focus on?",
	"websiteUrl":   "What's your website address?",
	"query":        "What would you like me to look up?",
}

var (
	locationPattern  = regexp.MustCompile(`\b(?:in|near|around)\s+((?:[A-Z][a-zA-Z]+)(?:\s+[A-Z][a-zA-Z]+)*)`)
	timeframePattern = regexp.MustCompile(`(?i)\b(\d+)\s*(day|week|month|year)s?\b`)
	urlPattern       = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+|\b[a-z0-9-]+\.(?:com|net|org|io)\b`)
)

var platformVocabulary = []string{
	"facebook", "instagram", "google", "yelp", "tiktok", "linkedin", "nextdoor",
}

var industryVocabulary = []string{
	"plumbing", "roofing", "hvac", "electrical", "landscaping", "dental",
	"restaurant", "salon", "cleaning", "painting", "pest control",
}

// extractEntities scans the utterance for typed patterns and merges what it
// finds into params without overwriting existing values.
func extractEntities(utterance string, params map[string]interface{}) {
	lower := strings.ToLower(utterance)

	if _, set := params["location"]; !set {
		if m := locationPattern.FindStringSubmatch(utterance); m != nil {
			params["location"] = m[1]
		}
	}

	if _, set := params["timeframe"]; !set {
		if m := timeframePattern.FindStringSubmatch(utterance); m != nil {
			unit := strings.ToLower(m[2])
			if m[1] != "1" {
				unit += "s"
			}
			params["timeframe"] = m[1] + " " + unit
		}
	}

	if _, set := params["websiteUrl"]; !set {
		if m := urlPattern.FindString(utterance); m != "" {
			params["websiteUrl"] = strings.TrimRight(m, ".,!?")
		}
	}

	if _, set := params["platform"]; !set {
		for _, platform := range platformVocabulary {
			if strings.Contains(lower, platform) {
				params["platform"] = platform
				break
			}
		}
	}

	if _, set := params["industry"]; !set {
		for _, industry := range industryVocabulary {
			if strings.Contains(lower, industry) {
				params["industry"] = industry
				break
			}
		}
	}
}

// fillFromHistory fills parameter gaps from prior user turns, newest first.
func fillFromHistory(history []concierge.Turn, params map[string]interface{}) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != "user" {
			continue
		}
		extractEntities(history[i].Text, params)
	}
}

// fillUtteranceParams handles parameters whose value is the utterance
// itself, such as a knowledge query or a chat message.
func fillUtteranceParams(schema concierge.ActionSchema, utterance string, params map[string]interface{}) {
	for _, name := range []string{"query", "message"} {
		if _, declared := schema.Parameters[name]; !declared {
			continue
		}
		if _, set := params[name]; !set {
			params[name] = utterance
		}
	}
}

// humanize turns a camelCase parameter name into readable words.
func humanize(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
