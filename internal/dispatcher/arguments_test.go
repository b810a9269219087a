package dispatcher

import (
	"testing"
	"time"

	"github.com/marigold-ai/concierge"
)

func sessionWithTrace(t *testing.T) *concierge.Session {
	t.Helper()
	session := concierge.NewSession("s-1", "test", 4, 20*time.Second, nil)
	session.AddTrace(concierge.TraceEntry{
		ActionName: "lead_search",
		Output:     map[string]interface{}{"count": 3.0, "topLead": "Apex Plumbing"},
		Succeeded:  true,
		StartedAt:  time.Now(),
	})
	session.AddTrace(concierge.TraceEntry{
		ActionName: "website_audit",
		Error:      "unreachable host",
		Succeeded:  false,
		StartedAt:  time.Now(),
	})
	return session
}

func TestResolveArgumentsLiteralPassthrough(t *testing.T) {
	session := sessionWithTrace(t)

	resolved, err := ResolveArguments(map[string]interface{}{
		"name":  "Apex",
		"limit": 5,
	}, session)
	if err != nil {
		t.Fatalf("ResolveArguments failed: %v", err)
	}
	if resolved["name"] != "Apex" || resolved["limit"] != 5 {
		t.Errorf("Literals must pass through untouched: %v", resolved)
	}
}

func TestResolveArgumentsStepField(t *testing.T) {
	session := sessionWithTrace(t)

	resolved, err := ResolveArguments(map[string]interface{}{
		"business": "$step1.topLead",
	}, session)
	if err != nil {
		t.Fatalf("ResolveArguments failed: %v", err)
	}
	if resolved["business"] != "Apex Plumbing" {
		t.Errorf("Expected 'Apex Plumbing', got %v", resolved["business"])
	}
}

func TestResolveArgumentsWholeStep(t *testing.T) {
	session := sessionWithTrace(t)

	resolved, err := ResolveArguments(map[string]interface{}{
		"previous": "$step1",
	}, session)
	if err != nil {
		t.Fatalf("ResolveArguments failed: %v", err)
	}
	output, ok := resolved["previous"].(map[string]interface{})
	if !ok || output["count"] != 3.0 {
		t.Errorf("Expected step 1 output map, got %v", resolved["previous"])
	}
}

func TestResolveArgumentsFailedStep(t *testing.T) {
	session := sessionWithTrace(t)

	// Step 2 failed, so its output is not referenceable.
	if _, err := ResolveArguments(map[string]interface{}{"x": "$step2"}, session); err == nil {
		t.Error("Expected error referencing a failed step, got nil")
	}

	if _, err := ResolveArguments(map[string]interface{}{"x": "$step9"}, session); err == nil {
		t.Error("Expected error referencing a missing step, got nil")
	}

	if _, err := ResolveArguments(map[string]interface{}{"x": "$step1.nope"}, session); err == nil {
		t.Error("Expected error referencing a missing field, got nil")
	}
}

func TestResolveArgumentsExpression(t *testing.T) {
	session := sessionWithTrace(t)

	resolved, err := ResolveArguments(map[string]interface{}{
		"doubled": "expr:step1_count * 2",
	}, session)
	if err != nil {
		t.Fatalf("ResolveArguments failed: %v", err)
	}
	if resolved["doubled"] != 6.0 {
		t.Errorf("Expected 6.0, got %v", resolved["doubled"])
	}
}

func TestResolveArgumentsBadExpression(t *testing.T) {
	session := sessionWithTrace(t)

	if _, err := ResolveArguments(map[string]interface{}{"x": "expr:"}, session); err == nil {
		t.Error("Expected error for empty expression, got nil")
	}

	if _, err := ResolveArguments(map[string]interface{}{"x": "expr:(("}, session); err == nil {
		t.Error("Expected error for unparsable expression, got nil")
	}
}

func TestValidateExpression(t *testing.T) {
	if err := ValidateExpression("step1_count + 1"); err != nil {
		t.Errorf("Expected valid expression, got %v", err)
	}
	if err := ValidateExpression("(("); err == nil {
		t.Error("Expected error for invalid expression, got nil")
	}
}
