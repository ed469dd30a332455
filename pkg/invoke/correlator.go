package invoke

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Correlator receives inbound reply frames from any connection and resolves
// them against the pending table. Everything here degrades gracefully: a
// malformed payload becomes an Error reply for its own request, and a reply
// that matches nothing is logged and dropped, since its caller has already
// moved on.
type Correlator struct {
	table  *Table
	logger *slog.Logger
}

func NewCorrelator(table *Table, logger *slog.Logger) *Correlator {
	return &Correlator{
		table:  table,
		logger: logger.With(slog.String("component", "correlator")),
	}
}

// OnReplyReceived handles one reply frame. fromConn is the transport
// connection the frame arrived on; it keys the reply when the wire request ID
// carries no connection qualifier.
func (c *Correlator) OnReplyReceived(fromConn uuid.UUID, rawRequestID string, rawPayload []byte) {
	id, err := ParseCorrelationID(rawRequestID)
	if err != nil {
		c.logger.Warn("Discarding reply with malformed request id",
			slog.String("rawRequestID", rawRequestID),
			slog.String("connID", fromConn.String()),
		)
		return
	}

	connID := fromConn
	if id.Qualified() {
		if id.Conn != fromConn {
			// A client echoing a qualifier for a different connection is
			// suspect; trust the qualifier for routing but say so.
			c.logger.Warn("Reply qualifier does not match origin connection",
				slog.String("requestID", id.Request.String()),
				slog.String("qualifier", id.Conn.String()),
				slog.String("connID", fromConn.String()),
			)
		}
		connID = id.Conn
	}

	reply := DecodeReply(rawPayload)
	if !c.table.CompleteSingle(id.Request, connID, reply) {
		// Expected race: the request already resolved, expired, or this is a
		// duplicate frame.
		c.logger.Debug("Reply matched no pending request",
			slog.String("requestID", id.Request.String()),
			slog.String("connID", connID.String()),
		)
	}
}

// DecodeReply converts a raw reply body into the closed reply type. It never
// fails: anything it cannot make sense of becomes an Error reply, so one
// misbehaving client cannot corrupt another caller's pending request.
func DecodeReply(raw []byte) Reply {
	if !gjson.ValidBytes(raw) {
		return ErrorReply("malformed reply payload")
	}
	responseType := gjson.GetBytes(raw, "responseType")
	switch responseType.String() {
	case ResponseTypeJSON:
		data := gjson.GetBytes(raw, "jsonData")
		if !data.Exists() {
			return ErrorReply("reply declared JsonObject but carried no jsonData")
		}
		return InlineReply(json.RawMessage(data.Raw))
	case ResponseTypeFilePath:
		path := gjson.GetBytes(raw, "filePath").String()
		if path == "" {
			return ErrorReply("reply declared FilePath but carried no filePath")
		}
		return OffloadedReply(path)
	case ResponseTypeNull:
		return EmptyReply()
	case ResponseTypeError:
		return ErrorReply(gjson.GetBytes(raw, "errorMessage").String())
	default:
		return ErrorReply(fmt.Sprintf("unknown response type %q", responseType.String()))
	}
}
