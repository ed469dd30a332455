package router

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nesco-labs/hubcall/pkg/invoke"
	"github.com/tidwall/gjson"
)

// MessageRouter classifies inbound client frames and hands them to the
// component that owns them. Today the only inbound traffic is invocation
// replies; anything else is logged and dropped.
type MessageRouter struct {
	correlator *invoke.Correlator
	logger     *slog.Logger
}

func NewMessageRouter(correlator *invoke.Correlator, logger *slog.Logger) *MessageRouter {
	return &MessageRouter{
		correlator: correlator,
		logger:     logger.With(slog.String("component", "message_router")),
	}
}

// HandleMessage is the transport's message callback.
func (r *MessageRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	if !gjson.ValidBytes(msg) {
		r.logger.Warn("Discarding frame that is not valid JSON", slog.String("connID", connID.String()))
		return
	}

	frameType := gjson.GetBytes(msg, "type").String()
	switch frameType {
	case invoke.FrameReply:
		requestID := gjson.GetBytes(msg, "requestId").String()
		if requestID == "" {
			r.logger.Warn("Discarding reply frame without requestId", slog.String("connID", connID.String()))
			return
		}
		r.correlator.OnReplyReceived(connID, requestID, msg)
	default:
		r.logger.Warn("Received unknown frame type",
			slog.String("type", frameType),
			slog.String("connID", connID.String()),
		)
	}
}
