package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marigold-ai/concierge"
)

func TestConversationLogAppendAndRecent(t *testing.T) {
	log := NewConversationLog(12, time.Minute)
	ctx := context.Background()

	turns := []concierge.Turn{
		{Role: "user", Text: "hello", At: time.Now()},
		{Role: "assistant", Text: "hi there", At: time.Now()},
		{Role: "user", Text: "analyze my seo", At: time.Now()},
	}
	for _, turn := range turns {
		if err := log.Append(ctx, "conv-1", turn); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recent, err := log.Recent(ctx, "conv-1", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 turns, got %d", len(recent))
	}
	if recent[0].Text != "hello" || recent[2].Text != "analyze my seo" {
		t.Errorf("Turns returned out of order: %+v", recent)
	}
}

func TestConversationLogRecentLimit(t *testing.T) {
	log := NewConversationLog(12, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		turn := concierge.Turn{Role: "user", Text: fmt.Sprintf("turn %d", i), At: time.Now()}
		if err := log.Append(ctx, "conv-1", turn); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recent, err := log.Recent(ctx, "conv-1", 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(recent))
	}
	// The most recent turns win, still oldest first.
	if recent[0].Text != "turn 3" || recent[1].Text != "turn 4" {
		t.Errorf("Unexpected turns: %+v", recent)
	}
}

func TestConversationLogEviction(t *testing.T) {
	log := NewConversationLog(12, time.Minute)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		turn := concierge.Turn{Role: "user", Text: fmt.Sprintf("turn %d", i), At: time.Now()}
		if err := log.Append(ctx, "conv-1", turn); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recent, err := log.Recent(ctx, "conv-1", 100)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 12 {
		t.Fatalf("Expected bound of 12 turns, got %d", len(recent))
	}
	// Oldest retained turn is turn 8 after eviction.
	if recent[0].Text != "turn 8" {
		t.Errorf("Expected oldest retained turn to be 'turn 8', got %q", recent[0].Text)
	}
	if recent[11].Text != "turn 19" {
		t.Errorf("Expected newest turn to be 'turn 19', got %q", recent[11].Text)
	}
}

func TestConversationLogUnknownConversation(t *testing.T) {
	log := NewConversationLog(12, time.Minute)

	_, err := log.Recent(context.Background(), "missing", 5)
	if err == nil {
		t.Fatal("Expected error for unknown conversation, got nil")
	}
}

func TestConversationLogInvalidArguments(t *testing.T) {
	log := NewConversationLog(12, time.Minute)
	ctx := context.Background()

	if err := log.Append(ctx, "", concierge.Turn{Role: "user", Text: "x"}); err == nil {
		t.Error("Expected error for empty conversation ID, got nil")
	}

	if _, err := log.Recent(ctx, "conv-1", 0); err == nil {
		t.Error("Expected error for non-positive turn count, got nil")
	}
}

func TestConversationLogExpiration(t *testing.T) {
	log := NewConversationLog(12, 10*time.Millisecond)
	ctx := context.Background()

	if err := log.Append(ctx, "conv-1", concierge.Turn{Role: "user", Text: "hello"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := log.Recent(ctx, "conv-1", 5); err == nil {
		t.Error("Expected error for expired conversation, got nil")
	}
}

func TestConversationLogContextCancelled(t *testing.T) {
	log := NewConversationLog(12, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := log.Append(ctx, "conv-1", concierge.Turn{Role: "user", Text: "hello"}); err == nil {
		t.Error("Expected error for cancelled context on Append, got nil")
	}
	if _, err := log.Recent(ctx, "conv-1", 5); err == nil {
		t.Error("Expected error for cancelled context on Recent, got nil")
	}
}

func TestConversationLogIsolation(t *testing.T) {
	log := NewConversationLog(12, time.Minute)
	ctx := context.Background()

	if err := log.Append(ctx, "conv-a", concierge.Turn{Role: "user", Text: "a"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Append(ctx, "conv-b", concierge.Turn{Role: "user", Text: "b"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	recent, err := log.Recent(ctx, "conv-a", 5)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].Text != "a" {
		t.Errorf("Conversation isolation broken: %+v", recent)
	}

	if log.Len() != 2 {
		t.Errorf("Expected 2 conversations, got %d", log.Len())
	}
}
