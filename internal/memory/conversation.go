package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"github.com/marigold-ai/concierge"
)

// DefaultMaxTurns bounds how many turns a conversation retains. Older turns
// are evicted first; callers that need the full transcript should persist it
// themselves.
const DefaultMaxTurns = 12

// ConversationLog is a thread-safe in-memory conversation store with a
// per-conversation TTL. Writes are last-write-wins and turns are kept in
// append order.
type ConversationLog struct {
	store    map[string]*conversationEntry
	mutex    sync.RWMutex
	maxTurns int
	ttl      time.Duration
	logger   Logger
}

type conversationEntry struct {
	turns      []concierge.Turn
	expiration int64
}

// NewConversationLog creates a conversation log. A maxTurns of zero or less
// falls back to DefaultMaxTurns.
func NewConversationLog(maxTurns int, ttl time.Duration) *ConversationLog {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	l := &ConversationLog{
		store:    make(map[string]*conversationEntry),
		maxTurns: maxTurns,
		ttl:      ttl,
		logger:   &StdLogger{},
	}
	// Start a background cleanup goroutine
	go l.cleanupLoop(10 * time.Minute)
	return l
}

// Append records a turn at the end of the conversation, evicting the oldest
// turn once the bound is reached.
func (l *ConversationLog) Append(ctx context.Context, conversationID string, turn concierge.Turn) error {
	// Check context cancellation first
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	if conversationID == "" {
		return errbuilder.GenericErr("conversation ID is required", nil)
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	entry, found := l.store[conversationID]
	if !found {
		entry = &conversationEntry{}
		l.store[conversationID] = entry
	}

	entry.turns = append(entry.turns, turn)
	if len(entry.turns) > l.maxTurns {
		entry.turns = entry.turns[len(entry.turns)-l.maxTurns:]
	}
	entry.expiration = time.Now().Add(l.ttl).UnixNano()

	return nil
}

// Recent returns up to n of the most recent turns, oldest first.
func (l *ConversationLog) Recent(ctx context.Context, conversationID string, n int) ([]concierge.Turn, error) {
	// Check context cancellation first
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	if n <= 0 {
		return nil, errbuilder.GenericErr("turn count must be positive", nil)
	}

	l.mutex.RLock()
	defer l.mutex.RUnlock()

	entry, found := l.store[conversationID]
	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("conversation not found", nil))
	}

	if time.Now().UnixNano() > entry.expiration {
		// Entry expired (lazy cleanup)
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("conversation expired", nil))
	}

	turns := entry.turns
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	// Copy so callers cannot mutate the stored slice.
	out := make([]concierge.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Len reports the number of live conversations.
func (l *ConversationLog) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return len(l.store)
}

// cleanupLoop periodically removes expired conversations.
func (l *ConversationLog) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		l.mutex.Lock()
		now := time.Now().UnixNano()
		removed := 0
		for id, entry := range l.store {
			if now > entry.expiration {
				delete(l.store, id)
				removed++
			}
		}
		remaining := len(l.store)
		l.mutex.Unlock()

		if removed > 0 {
			l.logger.Info("expired conversations removed", map[string]interface{}{
				"removed":   removed,
				"remaining": remaining,
			})
		}
	}
}
