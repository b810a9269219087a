// Package normalizer shapes heterogeneous action outputs into one consistent
// reply: a tone-matched lead, simplified body text, optional next steps, and
// a sign-off. The caller's utterance decides the tone; the action's output
// decides the body.
package normalizer

import (
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strings"

	"github.com/marigold-ai/concierge"
)

// DefaultMaxSentenceWords is the word count past which a sentence is split
// at a conjunction boundary, best effort.
const DefaultMaxSentenceWords = 22

// MaxNextSteps caps the suggestion list.
const MaxNextSteps = 3

// fallbackBody is returned when the raw result carries no recognizable text.
const fallbackBody = "I'm working on that for you. Give me a moment and ask again if you need more detail."

// failureBody is the generic reply when the sole resolved action failed.
const failureBody = "I ran into a problem finishing that request. Nothing was changed, and you can try again in a bit."

// PhrasePicker selects an index into a fixed phrase list. The default is
// random; tests inject a deterministic one.
type PhrasePicker func(n int) int

// TemplateNormalizer renders replies from fixed templates and dictionaries.
type TemplateNormalizer struct {
	picker           PhrasePicker
	maxSentenceWords int
	nextSteps        map[string][]string
}

// NormalizerOption is a function that configures a TemplateNormalizer.
type NormalizerOption func(*TemplateNormalizer)

// WithPhrasePicker sets the lead-phrase picker.
func WithPhrasePicker(picker PhrasePicker) NormalizerOption {
	return func(n *TemplateNormalizer) {
		n.picker = picker
	}
}

// WithMaxSentenceWords sets the sentence-length bound for the readability
// pass.
func WithMaxSentenceWords(max int) NormalizerOption {
	return func(n *TemplateNormalizer) {
		n.maxSentenceWords = max
	}
}

// WithNextSteps replaces the per-action suggestion map.
func WithNextSteps(steps map[string][]string) NormalizerOption {
	return func(n *TemplateNormalizer) {
		n.nextSteps = steps
	}
}

// NewTemplateNormalizer creates a normalizer with the built-in dictionaries.
func NewTemplateNormalizer(options ...NormalizerOption) *TemplateNormalizer {
	n := &TemplateNormalizer{
		picker:           rand.Intn,
		maxSentenceWords: DefaultMaxSentenceWords,
		nextSteps:        defaultNextSteps,
	}

	for _, option := range options {
		option(n)
	}

	return n
}

var (
	urgencyCues    = compileCues("asap", "urgent", "right now", "immediately", "emergency")
	excitementCues = compileCues("awesome", "amazing", "love", "excited", "can't wait")
	casualCues     = compileCues("hey", "yo", "lol", "btw", "gonna", "wanna", "sup")
	formalCues     = compileCues("dear", "regards", "sincerely", "to whom it may concern", "good morning", "good afternoon")
)

// compileCues builds whole-word matchers so "hey" never fires inside "they".
func compileCues(cues ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(cues))
	for _, cue := range cues {
		compiled = append(compiled, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(cue)+`\b`))
	}
	return compiled
}

// DetectTone classifies the utterance in a fixed priority order so the
// result is deterministic: urgent > excited > casual > formal > neutral.
func (n *TemplateNormalizer) DetectTone(utterance string) concierge.Tone {
	exclamations := strings.Count(utterance, "!")

	if matchesAny(utterance, urgencyCues) || exclamations >= 3 {
		return concierge.ToneUrgent
	}
	if matchesAny(utterance, excitementCues) || exclamations >= 1 {
		return concierge.ToneExcited
	}
	if matchesAny(utterance, casualCues) {
		return concierge.ToneCasual
	}
	if matchesAny(utterance, formalCues) {
		return concierge.ToneFormal
	}
	return concierge.ToneNeutral
}

// Normalize renders one reply. A clarification question short-circuits
// everything else: the rendered text is solely the question.
func (n *TemplateNormalizer) Normalize(input concierge.NormalizeInput) concierge.FormattedResponse {
	if input.Clarification != "" {
		return concierge.FormattedResponse{
			ToneLabel:    input.Tone,
			BodyText:     input.Clarification,
			RenderedText: input.Clarification,
		}
	}

	body := n.bodyFor(input.Result)
	body = n.simplify(body)
	body = n.boundSentences(body)

	var steps []string
	if input.Result.Kind != concierge.ResultError {
		steps = n.nextStepsFor(input.ActionName)
	}

	sections := []string{
		n.leadPhrase(input.Tone),
		body,
		renderSteps(steps),
		signoffs[input.Tone],
	}

	var present []string
	for _, section := range sections {
		if section != "" {
			present = append(present, section)
		}
	}

	return concierge.FormattedResponse{
		ToneLabel:          input.Tone,
		BodyText:           body,
		SuggestedNextSteps: steps,
		RenderedText:       strings.Join(present, "\n\n"),
	}
}

// bodyFor extracts prose from the tagged result union.
func (n *TemplateNormalizer) bodyFor(result concierge.RawResult) string {
	switch result.Kind {
	case concierge.ResultText:
		if strings.TrimSpace(result.Text) != "" {
			return result.Text
		}
		return fallbackBody
	case concierge.ResultStructured:
		return renderFields(result.Fields)
	case concierge.ResultError:
		return failureBody
	default:
		return fallbackBody
	}
}

// renderFields flattens a structured result into sorted "key: value" lines.
func renderFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return fallbackBody
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var lines []string
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", key, fields[key]))
	}
	return strings.Join(lines, "\n")
}

// replacement is one dictionary entry of the readability pass.
type replacement struct {
	pattern *regexp.Regexp
	plain   string
}

func newReplacement(verbose, plain string) replacement {
	return replacement{
		pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(verbose) + `\b`),
		plain:   plain,
	}
}

// The dictionary is ordered: longer phrases first so "approximately" wins
// over "approximate".
var replacements = []replacement{
	newReplacement("approximately", "about"),
	newReplacement("approximate", "about"),
	newReplacement("subsequently", "then"),
	newReplacement("additionally", "also"),
	newReplacement("demonstrate", "show"),
	newReplacement("facilitate", "help"),
	newReplacement("assistance", "help"),
	newReplacement("in order to", "to"),
	newReplacement("prior to", "before"),
	newReplacement("regarding", "about"),
	newReplacement("commence", "start"),
	newReplacement("endeavor", "try"),
	newReplacement("leverage", "use"),
	newReplacement("purchase", "buy"),
	newReplacement("utilize", "use"),
	newReplacement("optimal", "best"),
}

// simplify applies the whole-word dictionary, preserving a leading capital.
func (n *TemplateNormalizer) simplify(text string) string {
	for _, r := range replacements {
		text = r.pattern.ReplaceAllStringFunc(text, func(match string) string {
			if match != "" && match[0] >= 'A' && match[0] <= 'Z' {
				return strings.ToUpper(r.plain[:1]) + r.plain[1:]
			}
			return r.plain
		})
	}
	return text
}

var conjunctions = map[string]bool{
	"and": true, "but": true, "so": true, "because": true, "which": true,
}

// boundSentences splits overlong sentences at a conjunction near the
// midpoint. Best effort: a sentence with no conjunction stays as is.
func (n *TemplateNormalizer) boundSentences(text string) string {
	// Line-oriented output (structured results) is left alone.
	if strings.Contains(text, "\n") {
		return text
	}

	sentences := strings.SplitAfter(text, ". ")
	for i, sentence := range sentences {
		sentences[i] = n.splitLongSentence(sentence)
	}
	return strings.Join(sentences, "")
}

func (n *TemplateNormalizer) splitLongSentence(sentence string) string {
	words := strings.Fields(sentence)
	if len(words) <= n.maxSentenceWords {
		return sentence
	}

	mid := len(words) / 2
	splitAt := -1
	bestDistance := len(words)
	for i, word := range words {
		if i == 0 || i == len(words)-1 {
			continue
		}
		if !conjunctions[strings.ToLower(strings.Trim(word, ",.;:"))] {
			continue
		}
		distance := i - mid
		if distance < 0 {
			distance = -distance
		}
		if distance < bestDistance {
			bestDistance = distance
			splitAt = i
		}
	}

	if splitAt <= 0 {
		return sentence
	}

	first := strings.TrimRight(strings.Join(words[:splitAt], " "), ",") + "."
	rest := strings.Join(words[splitAt+1:], " ")
	if rest != "" {
		rest = strings.ToUpper(rest[:1]) + rest[1:]
	}
	return first + " " + rest
}

var defaultNextSteps = map[string][]string{
	"seo_analysis": {
		"Review the keywords your customers actually search for",
		"Update your Google Business profile",
		"Ask a few happy customers for reviews",
	},
	"website_audit": {
		"Fix the highest-impact issues first",
		"Re-run the audit after your changes",
		"Check how your site loads on a phone",
	},
	"lead_search": {
		"Reach out to the top leads this week",
		"Save the list so we can track replies",
		"Narrow the search area if the list is too broad",
	},
	"search_knowledge": {
		"Ask a follow-up question for more detail",
		"Try a website audit next",
	},
	"capabilities": {
		"Ask for an SEO analysis of your business",
		"Request a website audit",
		"Look for new leads in your area",
	},
}

var genericNextSteps = []string{
	"Tell me a bit more about your business",
	"Ask for a website audit",
	"Look for new leads in your area",
}

func (n *TemplateNormalizer) nextStepsFor(actionName string) []string {
	steps, ok := n.nextSteps[actionName]
	if !ok {
		steps = genericNextSteps
	}
	if len(steps) > MaxNextSteps {
		steps = steps[:MaxNextSteps]
	}
	return steps
}

func renderSteps(steps []string) string {
	if len(steps) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Next steps:")
	for i, step := range steps {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, step))
	}
	return b.String()
}

var leadPhrases = map[concierge.Tone][]string{
	concierge.ToneUrgent:  {"On it right away.", "Let's get this handled now."},
	concierge.ToneExcited: {"Love the energy, let's dig in!", "Great question!"},
	concierge.ToneCasual:  {"Sure thing!", "Happy to help!"},
	concierge.ToneFormal:  {"Certainly.", "Of course."},
	concierge.ToneNeutral: {"Here's what I found.", "Here you go."},
}

var signoffs = map[concierge.Tone]string{
	concierge.ToneUrgent:  "I'll keep moving fast on this.",
	concierge.ToneExcited: "Excited to see where this goes!",
	concierge.ToneCasual:  "Give me a shout anytime.",
	concierge.ToneFormal:  "Please let me know if I can assist further.",
	concierge.ToneNeutral: "Let me know if you'd like to go deeper.",
}

func (n *TemplateNormalizer) leadPhrase(tone concierge.Tone) string {
	phrases, ok := leadPhrases[tone]
	if !ok || len(phrases) == 0 {
		return ""
	}
	return phrases[n.picker(len(phrases))]
}

func matchesAny(text string, cues []*regexp.Regexp) bool {
	for _, cue := range cues {
		if cue.MatchString(text) {
			return true
		}
	}
	return false
}
