package normalizer

import (
	"strings"
	"testing"

	"github.com/marigold-ai/concierge"
)

// firstPhrase always picks the first lead phrase, making renders
// deterministic.
func firstPhrase(n int) int { return 0 }

func newTestNormalizer(options ...NormalizerOption) *TemplateNormalizer {
	options = append([]NormalizerOption{WithPhrasePicker(firstPhrase)}, options...)
	return NewTemplateNormalizer(options...)
}

func TestDetectTonePriority(t *testing.T) {
	n := newTestNormalizer()

	cases := []struct {
		utterance string
		expected  concierge.Tone
	}{
		{"I need this ASAP", concierge.ToneUrgent},
		{"fix it now!!!", concierge.ToneUrgent},
		{"hey, I need this urgent", concierge.ToneUrgent}, // urgent beats casual
		{"this is awesome", concierge.ToneExcited},
		{"can you help!", concierge.ToneExcited},
		{"hey, quick question", concierge.ToneCasual},
		{"they want a report", concierge.ToneNeutral}, // "hey" must not fire inside "they"
		{"Dear team, please review our rankings", concierge.ToneFormal},
		{"Good morning, could you check the site", concierge.ToneFormal},
		{"show me the report", concierge.ToneNeutral},
	}

	for _, tc := range cases {
		if got := n.DetectTone(tc.utterance); got != tc.expected {
			t.Errorf("DetectTone(%q) = %s, expected %s", tc.utterance, got, tc.expected)
		}
	}
}

func TestDetectToneDeterminism(t *testing.T) {
	n := newTestNormalizer()
	first := n.DetectTone("hey there, love the new site!")
	for i := 0; i < 10; i++ {
		if got := n.DetectTone("hey there, love the new site!"); got != first {
			t.Fatalf("DetectTone not deterministic: %s vs %s", first, got)
		}
	}
}

func TestSimplifyReplacements(t *testing.T) {
	n := newTestNormalizer()

	result := n.Normalize(concierge.NormalizeInput{
		Result: concierge.TextResult("utilize the subsequently approximate data"),
		Tone:   concierge.ToneNeutral,
	})

	if result.BodyText != "use the then about data" {
		t.Errorf("Unexpected simplified body: %q", result.BodyText)
	}
}

func TestSimplifyPreservesLeadingCapital(t *testing.T) {
	n := newTestNormalizer()

	result := n.Normalize(concierge.NormalizeInput{
		Result: concierge.TextResult("Utilize this. Additionally, purchases stay untouched."),
		Tone:   concierge.ToneNeutral,
	})

	if !strings.HasPrefix(result.BodyText, "Use this.") {
		t.Errorf("Expected leading capital preserved, got %q", result.BodyText)
	}
	if !strings.Contains(result.BodyText, "Also,") {
		t.Errorf("Expected 'Additionally' replaced with 'Also', got %q", result.BodyText)
	}
	// Whole-word only: "purchases" is not "purchase".
	if !strings.Contains(result.BodyText, "purchases") {
		t.Errorf("Substring must not be corrupted, got %q", result.BodyText)
	}
}

func TestSentenceSplitAtConjunction(t *testing.T) {
	n := newTestNormalizer()

	long := "This report covers your site speed your page titles and your local listings so you can see where the biggest wins are for your business"
	result := n.Normalize(concierge.NormalizeInput{
		Result: concierge.TextResult(long),
		Tone:   concierge.ToneNeutral,
	})

	expected := "This report covers your site speed your page titles and your local listings. You can see where the biggest wins are for your business"
	if result.BodyText != expected {
		t.Errorf("Unexpected split:\n got: %q\nwant: %q", result.BodyText, expected)
	}
}

func TestSentenceWithoutConjunctionLeftAlone(t *testing.T) {
	n := newTestNormalizer(WithMaxSentenceWords(5))

	long := "one two three four five six seven eight nine ten"
	result := n.Normalize(concierge.NormalizeInput{
		Result: concierge.TextResult(long),
		Tone:   concierge.ToneNeutral,
	})

	if result.BodyText != long {
		t.Errorf("Sentence without a conjunction must stay unsplit, got %q", result.BodyText)
	}
}

func TestIdempotentRendering(t *testing.T) {
	n := newTestNormalizer()

	input := concierge.NormalizeInput{
		Result:     concierge.TextResult("Your site looks healthy overall."),
		Tone:       concierge.ToneCasual,
		ActionName: "website_audit",
	}

	first := n.Normalize(input)
	for i := 0; i < 5; i++ {
		next := n.Normalize(input)
		if next.RenderedText != first.RenderedText {
			t.Fatalf("Rendering not idempotent:\n%q\nvs\n%q", first.RenderedText, next.RenderedText)
		}
	}
}

func TestClarificationShortCircuit(t *testing.T) {
	n := newTestNormalizer()

	question := "What's the name of your business?"
	result := n.Normalize(concierge.NormalizeInput{
		Result:        concierge.NoResult(),
		Tone:          concierge.ToneCasual,
		ActionName:    "seo_analysis",
		Clarification: question,
	})

	if result.RenderedText != question {
		t.Errorf("Rendered text must be solely the question, got %q", result.RenderedText)
	}
	if len(result.SuggestedNextSteps) != 0 {
		t.Errorf("No next steps on the clarification path, got %v", result.SuggestedNextSteps)
	}
}

func TestFallbackBodyNonEmpty(t *testing.T) {
	n := newTestNormalizer()

	result := n.Normalize(concierge.NormalizeInput{
		Result: concierge.NoResult(),
		Tone:   concierge.ToneNeutral,
	})

	if result.RenderedText == "" || result.BodyText == "" {
		t.Error("Rendered text must be non-empty even with no result")
	}
}

func TestErrorResultUsesFailureMessage(t *testing.T) {
	n := newTestNormalizer()

	result := n.Normalize(concierge.NormalizeInput{
		Result:     concierge.ErrorResult(concierge.NewHandlerFailureError("execution", "seo_analysis", nil)),
		Tone:       concierge.ToneUrgent,
		ActionName: "seo_analysis",
	})

	if result.RenderedText == "" {
		t.Fatal("Rendered text must be non-empty on failure")
	}
	if !strings.Contains(result.RenderedText, "I ran into a problem") {
		t.Errorf("Expected the generic failure message, got %q", result.RenderedText)
	}
	if len(result.SuggestedNextSteps) != 0 {
		t.Errorf("No next steps after a failure, got %v", result.SuggestedNextSteps)
	}
	if result.ToneLabel != concierge.ToneUrgent {
		t.Errorf("Expected urgent tone label, got %s", result.ToneLabel)
	}
}

func TestStructuredResultRendering(t *testing.T) {
	n := newTestNormalizer()

	result := n.Normalize(concierge.NormalizeInput{
		Result: concierge.StructuredResult(map[string]interface{}{
			"score":  72,
			"grade":  "B",
			"issues": 4,
		}),
		Tone: concierge.ToneNeutral,
	})

	expected := "- grade: B\n- issues: 4\n- score: 72"
	if result.BodyText != expected {
		t.Errorf("Unexpected structured body:\n got: %q\nwant: %q", result.BodyText, expected)
	}
}

func TestNextStepsCapAndFallback(t *testing.T) {
	n := newTestNormalizer(WithNextSteps(map[string][]string{
		"seo_analysis": {"a", "b", "c", "d", "e"},
	}))

	result := n.Normalize(concierge.NormalizeInput{
		Result:     concierge.TextResult("done"),
		Tone:       concierge.ToneNeutral,
		ActionName: "seo_analysis",
	})
	if len(result.SuggestedNextSteps) != 3 {
		t.Errorf("Expected next steps capped at 3, got %d", len(result.SuggestedNextSteps))
	}

	generic := n.Normalize(concierge.NormalizeInput{
		Result:     concierge.TextResult("done"),
		Tone:       concierge.ToneNeutral,
		ActionName: "unknown_action",
	})
	if len(generic.SuggestedNextSteps) == 0 {
		t.Error("Expected generic next steps for unknown action")
	}
}

func TestRenderAssemblyOrder(t *testing.T) {
	n := newTestNormalizer()

	result := n.Normalize(concierge.NormalizeInput{
		Result:     concierge.TextResult("Everything looks good."),
		Tone:       concierge.ToneFormal,
		ActionName: "capabilities",
	})

	sections := strings.Split(result.RenderedText, "\n\n")
	if len(sections) != 4 {
		t.Fatalf("Expected 4 sections, got %d: %q", len(sections), result.RenderedText)
	}
	if sections[0] != "Certainly." {
		t.Errorf("Expected lead phrase first, got %q", sections[0])
	}
	if sections[1] != "Everything looks good." {
		t.Errorf("Expected body second, got %q", sections[1])
	}
	if !strings.HasPrefix(sections[2], "Next steps:\n1. ") {
		t.Errorf("Expected numbered next steps third, got %q", sections[2])
	}
	if sections[3] != signoffs[concierge.ToneFormal] {
		t.Errorf("Expected sign-off last, got %q", sections[3])
	}
}
