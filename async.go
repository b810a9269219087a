package concierge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marigold-ai/concierge/internal/eventbus"
)

// AsyncRequestStatus represents the status information for an async request.
type AsyncRequestStatus struct {
	RequestID    string        `json:"request_id"`
	Utterance    string        `json:"utterance"`
	CurrentState PipelineState `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// HandleAsync starts answering a request in the background. It returns a
// unique request ID that can be used to poll the status or fetch the result.
func (c *Concierge) HandleAsync(ctx context.Context, req Request) (string, error) {
	requestID := uuid.New().String()

	stateMachine := c.createStateMachine()
	requestContext := NewRequestContext(req)

	c.asyncRequestsMutex.Lock()
	c.asyncRequests[requestID] = requestContext
	c.asyncRequestsMutex.Unlock()

	// The async request gets its own cancellable context; the caller's may
	// end as soon as this method returns.
	asyncCtx, cancel := context.WithCancel(context.Background())
	requestContext.StateData["cancel"] = cancel

	if c.config.EnableEventBus && c.eventBus != nil {
		startEvent := eventbus.NewEvent(
			eventbus.EventAsyncStarted,
			req.Utterance,
			"Concierge.HandleAsync",
			map[string]interface{}{
				"request_id": requestID,
				"timestamp":  time.Now().Format(time.RFC3339),
			},
		)
		c.eventBus.Publish(ctx, startEvent)
	}

	go func() {
		defer cancel()

		response, err := stateMachine.Execute(asyncCtx, requestContext)

		c.asyncRequestsMutex.Lock()
		if rCtx, exists := c.asyncRequests[requestID]; exists {
			rCtx.Response = response
			if err != nil && !rCtx.IsTerminal() {
				rCtx.SetError(err, string(rCtx.CurrentState))
			}
		}
		c.asyncRequestsMutex.Unlock()

		if c.config.EnableEventBus && c.eventBus != nil {
			eventType := eventbus.EventAsyncCompleted
			metadata := map[string]interface{}{
				"request_id":  requestID,
				"duration_ms": requestContext.GetTotalDuration().Milliseconds(),
			}

			if err != nil {
				eventType = eventbus.EventAsyncFailed
				metadata["error"] = err.Error()
				metadata["error_stage"] = requestContext.ErrorStage
			}

			completionEvent := eventbus.NewEvent(
				eventType,
				req.Utterance,
				"Concierge.HandleAsync",
				metadata,
			)
			// Use background context since the original context might be done
			c.eventBus.Publish(context.Background(), completionEvent)
		}
	}()

	return requestID, nil
}

// AsyncStatus retrieves the current status of an async request.
func (c *Concierge) AsyncStatus(requestID string) (*AsyncRequestStatus, error) {
	c.asyncRequestsMutex.RLock()
	defer c.asyncRequestsMutex.RUnlock()

	rCtx, exists := c.asyncRequests[requestID]
	if !exists {
		return nil, fmt.Errorf("async request with ID '%s' not found", requestID)
	}

	status := &AsyncRequestStatus{
		RequestID:    requestID,
		Utterance:    rCtx.Request.Utterance,
		CurrentState: rCtx.CurrentState,
		StartTime:    rCtx.StartTime,
		Duration:     rCtx.GetTotalDuration(),
		IsComplete:   rCtx.CurrentState == StateComplete,
		HasError:     rCtx.CurrentState == StateError,
	}

	if rCtx.LastError != nil {
		status.ErrorMessage = rCtx.LastError.Error()
		status.ErrorStage = rCtx.ErrorStage
	}

	return status, nil
}

// AsyncResult retrieves the response of a completed async request.
// Returns an error if the request is still running or failed.
func (c *Concierge) AsyncResult(requestID string) (*Response, error) {
	c.asyncRequestsMutex.RLock()
	defer c.asyncRequestsMutex.RUnlock()

	rCtx, exists := c.asyncRequests[requestID]
	if !exists {
		return nil, fmt.Errorf("async request with ID '%s' not found", requestID)
	}

	if rCtx.CurrentState != StateComplete {
		if rCtx.CurrentState == StateError {
			return nil, fmt.Errorf("request failed during stage '%s': %w", rCtx.ErrorStage, rCtx.LastError)
		}
		return nil, fmt.Errorf("request is still in progress (current state: %s)", rCtx.CurrentState)
	}

	if rCtx.Response == nil {
		return nil, fmt.Errorf("request completed without a response")
	}

	return rCtx.Response, nil
}

// CancelAsync cancels an ongoing async request.
// Returns true if the request was cancelled, false if it had already finished.
func (c *Concierge) CancelAsync(requestID string) (bool, error) {
	c.asyncRequestsMutex.Lock()
	defer c.asyncRequestsMutex.Unlock()

	rCtx, exists := c.asyncRequests[requestID]
	if !exists {
		return false, fmt.Errorf("async request with ID '%s' not found", requestID)
	}

	if rCtx.IsTerminal() {
		return false, nil
	}

	cancelFn, ok := rCtx.StateData["cancel"].(context.CancelFunc)
	if !ok {
		return false, fmt.Errorf("cannot cancel request: cancel function not found")
	}

	cancelFn()
	rCtx.SetCancelled(NewCancelledError(string(rCtx.CurrentState), nil), string(rCtx.CurrentState))

	if c.config.EnableEventBus && c.eventBus != nil {
		cancelEvent := eventbus.NewEvent(
			eventbus.EventAsyncCancelled,
			rCtx.Request.Utterance,
			"Concierge.CancelAsync",
			map[string]interface{}{
				"request_id":  requestID,
				"duration_ms": rCtx.GetTotalDuration().Milliseconds(),
			},
		)
		c.eventBus.Publish(context.Background(), cancelEvent)
	}

	return true, nil
}

// ListAsyncRequests returns the IDs and current states of all async requests.
func (c *Concierge) ListAsyncRequests() map[string]string {
	c.asyncRequestsMutex.RLock()
	defer c.asyncRequestsMutex.RUnlock()

	result := make(map[string]string)
	for id, rCtx := range c.asyncRequests {
		result[id] = string(rCtx.CurrentState)
	}

	return result
}

// CleanupCompletedRequests removes finished async requests older than the
// given duration, bounding the bookkeeping map.
func (c *Concierge) CleanupCompletedRequests(olderThan time.Duration) int {
	c.asyncRequestsMutex.Lock()
	defer c.asyncRequestsMutex.Unlock()

	now := time.Now()
	count := 0

	for id, rCtx := range c.asyncRequests {
		if rCtx.IsTerminal() && now.Sub(rCtx.StateStartTimes[rCtx.CurrentState]) > olderThan {
			delete(c.asyncRequests, id)
			count++
		}
	}

	return count
}
