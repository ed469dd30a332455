package invoke

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Table tracks outstanding invocation requests awaiting one or more replies.
// It is the only owner of pending state: entries are created by the
// dispatcher, mutated by the correlator and the expiry timers, and removed
// the moment they resolve so client churn can never grow the map unbounded.
type Table struct {
	mu       sync.Mutex
	pending  map[uuid.UUID]*pendingRequest
	capacity int // admission cap; 0 means unlimited

	logger *slog.Logger
}

type pendingRequest struct {
	id        uuid.UUID
	targets   map[uuid.UUID]struct{}
	replies   map[uuid.UUID]Reply
	createdAt time.Time
	timer     *time.Timer
	done      chan AggregatedResult // buffered 1; written exactly once
}

func NewTable(capacity int, logger *slog.Logger) *Table {
	return &Table{
		pending:  make(map[uuid.UUID]*pendingRequest),
		capacity: capacity,
		logger:   logger.With(slog.String("component", "pending_table")),
	}
}

// Create registers a new pending request and returns the caller's future.
// The request resolves when every target has replied, when the timeout
// fires, or when the caller cancels, whichever comes first.
func (t *Table) Create(requestID uuid.UUID, targets []uuid.UUID, timeout time.Duration) (*Call, error) {
	targetSet := make(map[uuid.UUID]struct{}, len(targets))
	for _, id := range targets {
		targetSet[id] = struct{}{}
	}
	if len(targetSet) == 0 {
		return nil, ErrNoTargets
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.capacity > 0 && len(t.pending) >= t.capacity {
		return nil, ErrOverloaded
	}
	if _, exists := t.pending[requestID]; exists {
		return nil, ErrDuplicateRequestID
	}

	req := &pendingRequest{
		id:        requestID,
		targets:   targetSet,
		replies:   make(map[uuid.UUID]Reply, len(targetSet)),
		createdAt: time.Now(),
		done:      make(chan AggregatedResult, 1),
	}
	req.timer = time.AfterFunc(timeout, func() {
		t.expire(requestID)
	})
	t.pending[requestID] = req

	t.logger.Debug("Pending request created",
		slog.String("requestID", requestID.String()),
		slog.Int("targets", len(targetSet)),
	)
	return &Call{requestID: requestID, targetCount: len(targetSet), table: t, done: req.done}, nil
}

// CompleteSingle applies one target's reply. It returns false when the
// request is unknown (already resolved, expired, or never created), when the
// connection is not one of the request's targets, or when that target already
// replied. An unmatched reply is an expected race, so callers log and move
// on rather than treat it as a fault.
func (t *Table) CompleteSingle(requestID uuid.UUID, connID uuid.UUID, reply Reply) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.pending[requestID]
	if !ok {
		return false
	}
	if connID == uuid.Nil {
		// Unqualified reply; only unambiguous for a single-target request.
		if len(req.targets) != 1 {
			return false
		}
		for id := range req.targets {
			connID = id
		}
	}
	if _, expected := req.targets[connID]; !expected {
		return false
	}
	if _, dup := req.replies[connID]; dup {
		return false
	}

	req.replies[connID] = reply
	if len(req.replies) == len(req.targets) {
		t.resolveLocked(req, StatusComplete)
	}
	return true
}

// Cancel forces resolution with a Cancelled outcome. Returns false if the
// request already resolved.
func (t *Table) Cancel(requestID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.pending[requestID]
	if !ok {
		return false
	}
	t.resolveLocked(req, StatusCancelled)
	return true
}

// expire is the timer callback: resolve with whatever partial data arrived.
func (t *Table) expire(requestID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.pending[requestID]
	if !ok {
		// Lost the race against a completing reply.
		return
	}
	t.logger.Debug("Pending request expired",
		slog.String("requestID", requestID.String()),
		slog.Int("replies", len(req.replies)),
		slog.Int("targets", len(req.targets)),
	)
	t.resolveLocked(req, StatusTimeout)
}

// resolveLocked removes the entry and completes its future exactly once.
// Caller holds t.mu; the entry is deleted before the send, so no later
// CompleteSingle, Cancel, or timer can reach it.
func (t *Table) resolveLocked(req *pendingRequest, status Status) {
	delete(t.pending, req.id)
	req.timer.Stop()

	result := AggregatedResult{
		Status:              status,
		Replies:             req.replies,
		AllTargetsResponded: len(req.replies) == len(req.targets),
	}
	for _, reply := range req.replies {
		if reply.OK() {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}
	result.FailureCount += len(req.targets) - len(req.replies)

	req.done <- result
}

// Len reports how many requests are currently pending.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Call is the caller's handle on one outstanding invocation.
type Call struct {
	requestID   uuid.UUID
	targetCount int
	table       *Table
	done        <-chan AggregatedResult
}

// resolvedCall builds an already-completed handle, used for broadcasts that
// found zero live connections.
func resolvedCall(requestID uuid.UUID, result AggregatedResult) *Call {
	ch := make(chan AggregatedResult, 1)
	ch <- result
	return &Call{requestID: requestID, done: ch}
}

func (c *Call) RequestID() uuid.UUID {
	return c.requestID
}

// Targets is the number of connections this invocation was sent to.
func (c *Call) Targets() int {
	return c.targetCount
}

// Done exposes the resolution channel for select-based callers. It yields
// exactly one value.
func (c *Call) Done() <-chan AggregatedResult {
	return c.done
}

// Await blocks until the request resolves or ctx ends. A ctx error abandons
// the wait only; the pending entry still resolves by reply or timeout.
func (c *Call) Await(ctx context.Context) (AggregatedResult, error) {
	select {
	case result := <-c.done:
		return result, nil
	case <-ctx.Done():
		return AggregatedResult{}, ctx.Err()
	}
}

// AwaitReply is the single-target convenience: it unwraps the sole reply,
// mapping an empty timeout to ErrTimeout and cancellation to ErrCancelled.
func (c *Call) AwaitReply(ctx context.Context) (Reply, error) {
	result, err := c.Await(ctx)
	if err != nil {
		return Reply{}, err
	}
	if result.Status == StatusCancelled {
		return Reply{}, ErrCancelled
	}
	for _, reply := range result.Replies {
		return reply, nil
	}
	return Reply{}, ErrTimeout
}

// Cancel resolves the request with a Cancelled outcome, releasing any
// waiters. Returns false if it already resolved.
func (c *Call) Cancel() bool {
	if c.table == nil {
		return false
	}
	return c.table.Cancel(c.requestID)
}
