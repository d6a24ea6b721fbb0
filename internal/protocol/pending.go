package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ErrExecuteTimeout is delivered when no matching result arrives within
// the execute window.
var ErrExecuteTimeout = fmt.Errorf("capability execution timed out")

// Result is the outcome of one capability invocation.
type Result struct {
	Success bool
	Data    json.RawMessage
	Err     error
}

type pendingCall struct {
	ch    chan Result
	timer *time.Timer
}

// PendingTable correlates backend:execute request ids with their
// app:execute-result responses. Completion and timeout race; the first
// writer wins and the loser is a no-op.
type PendingTable struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

// NewPendingTable creates an empty correlation table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		calls: make(map[string]*pendingCall),
	}
}

// Register creates a pending entry for the request id and arms its
// timeout. The returned channel receives exactly one Result.
func (t *PendingTable) Register(requestID string, timeout time.Duration) <-chan Result {
	call := &pendingCall{
		ch: make(chan Result, 1),
	}
	call.timer = time.AfterFunc(timeout, func() {
		t.complete(requestID, Result{Err: fmt.Errorf("%w after %s", ErrExecuteTimeout, timeout)})
	})

	t.mu.Lock()
	t.calls[requestID] = call
	t.mu.Unlock()

	return call.ch
}

// Resolve completes the pending call with an app-provided result.
// Returns false if no call with that id is pending (already completed,
// timed out, or never registered).
func (t *PendingTable) Resolve(requestID string, success bool, data json.RawMessage, errMsg string) bool {
	res := Result{Success: success, Data: data}
	if !success {
		if errMsg == "" {
			errMsg = "capability execution failed"
		}
		res.Err = fmt.Errorf("%s", errMsg)
	}
	return t.complete(requestID, res)
}

// Fail completes the pending call with an error.
func (t *PendingTable) Fail(requestID string, err error) bool {
	return t.complete(requestID, Result{Err: err})
}

// Cancel removes a pending call without delivering a result.
func (t *PendingTable) Cancel(requestID string) {
	t.mu.Lock()
	call, ok := t.calls[requestID]
	if ok {
		delete(t.calls, requestID)
	}
	t.mu.Unlock()
	if ok {
		call.timer.Stop()
	}
}

// Len reports the number of in-flight calls.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// complete removes the entry under lock, so exactly one of the result
// path and the timeout path delivers.
func (t *PendingTable) complete(requestID string, res Result) bool {
	t.mu.Lock()
	call, ok := t.calls[requestID]
	if ok {
		delete(t.calls, requestID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	call.timer.Stop()
	call.ch <- res
	return true
}
