package invoke

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ConnectionSource resolves invocation targets. *registry.Registry satisfies
// it; tests substitute fixed sets.
type ConnectionSource interface {
	Has(connID uuid.UUID) bool
	ConnectionsForUser(userID string) []uuid.UUID
	AllConnections() []uuid.UUID
}

// Sender delivers one encoded invocation frame to one connection.
type Sender interface {
	SendToConnection(connID uuid.UUID, payload []byte) error
}

// Dispatcher issues invocation requests and hands the caller a future bound
// to the pending table entry. It never mutates an entry after creation; the
// correlator and the expiry timers own that phase.
type Dispatcher struct {
	source  ConnectionSource
	sender  Sender
	table   *Table
	timeout time.Duration

	logger *slog.Logger
}

func NewDispatcher(source ConnectionSource, sender Sender, table *Table, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		source:  source,
		sender:  sender,
		table:   table,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

// InvokeOnConnection invokes a method on one specific connection.
func (d *Dispatcher) InvokeOnConnection(connID uuid.UUID, method string, parameter any) (*Call, error) {
	if !d.source.Has(connID) {
		return nil, ErrConnectionNotFound
	}
	return d.invoke([]uuid.UUID{connID}, method, parameter)
}

// InvokeOnUser invokes a method on every live connection of a user.
func (d *Dispatcher) InvokeOnUser(userID string, method string, parameter any) (*Call, error) {
	targets := d.source.ConnectionsForUser(userID)
	if len(targets) == 0 {
		return nil, ErrUserNotConnected
	}
	return d.invoke(targets, method, parameter)
}

// InvokeOnAll invokes a method on every live connection. A broadcast over an
// empty hub is valid and resolves immediately with an empty aggregate.
func (d *Dispatcher) InvokeOnAll(method string, parameter any) (*Call, error) {
	targets := d.source.AllConnections()
	if len(targets) == 0 {
		return resolvedCall(uuid.New(), AggregatedResult{
			Status:              StatusComplete,
			Replies:             map[uuid.UUID]Reply{},
			AllTargetsResponded: true,
		}), nil
	}
	return d.invoke(targets, method, parameter)
}

func (d *Dispatcher) invoke(targets []uuid.UUID, method string, parameter any) (*Call, error) {
	var param json.RawMessage
	if parameter != nil {
		encoded, err := json.Marshal(parameter)
		if err != nil {
			return nil, fmt.Errorf("encode parameter for method %q: %w", method, err)
		}
		param = encoded
	}

	requestID := uuid.New()
	call, err := d.table.Create(requestID, targets, d.timeout)
	if err != nil {
		return nil, err
	}

	fanout := len(targets) > 1
	for _, connID := range targets {
		id := CorrelationID{Request: requestID}
		if fanout {
			// Each copy of a fan-out request carries its target's ID so the
			// correlator can route the reply without ambiguity.
			id.Conn = connID
		}
		frame, err := json.Marshal(InvocationEnvelope{
			Type:      FrameInvoke,
			RequestID: id.WireString(),
			Method:    method,
			Parameter: param,
		})
		if err != nil {
			d.logger.Error("Failed to encode invocation frame", slog.String("method", method), slog.Any("error", err))
			continue
		}
		if err := d.sender.SendToConnection(connID, frame); err != nil {
			// Target vanished mid-fanout; the request timeout resolves
			// whatever is left, no rollback.
			d.logger.Warn("Failed to send invocation",
				slog.String("requestID", requestID.String()),
				slog.String("connID", connID.String()),
				slog.Any("error", err),
			)
		}
	}

	d.logger.Debug("Invocation dispatched",
		slog.String("requestID", requestID.String()),
		slog.String("method", method),
		slog.Int("targets", len(targets)),
	)
	return call, nil
}
