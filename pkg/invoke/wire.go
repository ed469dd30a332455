package invoke

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Frame types carried in the "type" field of every message on the wire.
const (
	FrameInvoke = "invoke"
	FrameReply  = "reply"
)

// Reply envelope response types.
const (
	ResponseTypeJSON     = "JsonObject"
	ResponseTypeFilePath = "FilePath"
	ResponseTypeNull     = "Null"
	ResponseTypeError    = "Error"
)

// wireIDSeparator joins the base request ID and the target connection ID in
// fan-out wire request IDs. Both halves are UUIDs, which never contain the
// separator, so the encoding is unambiguous.
const wireIDSeparator = ":"

// InvocationEnvelope is the server→client method-invocation message.
type InvocationEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Method    string          `json:"method"`
	Parameter json.RawMessage `json:"parameter,omitempty"`
}

// ReplyEnvelope is the client→server reply message. ResponseType selects
// which of the optional fields is meaningful.
type ReplyEnvelope struct {
	Type         string          `json:"type"`
	RequestID    string          `json:"requestId"`
	ResponseType string          `json:"responseType"`
	JSONData     json.RawMessage `json:"jsonData,omitempty"`
	FilePath     string          `json:"filePath,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// CorrelationID is the structured correlation key: the caller-generated
// request ID plus, for fan-out requests, the target connection the wire copy
// was addressed to. The concatenated string form exists only at the wire
// boundary; internal code routes on the pair.
type CorrelationID struct {
	Request uuid.UUID
	Conn    uuid.UUID // uuid.Nil when unqualified (single-target)
}

// Qualified reports whether the ID carries a connection qualifier.
func (c CorrelationID) Qualified() bool {
	return c.Conn != uuid.Nil
}

// WireString renders the ID as it travels in the envelope's requestId field.
func (c CorrelationID) WireString() string {
	if !c.Qualified() {
		return c.Request.String()
	}
	return c.Request.String() + wireIDSeparator + c.Conn.String()
}

// ParseCorrelationID decodes a wire request ID into its structured form.
func ParseCorrelationID(raw string) (CorrelationID, error) {
	base, rest, qualified := strings.Cut(raw, wireIDSeparator)
	reqID, err := uuid.Parse(base)
	if err != nil {
		return CorrelationID{}, fmt.Errorf("malformed request id %q: %w", raw, err)
	}
	if !qualified {
		return CorrelationID{Request: reqID}, nil
	}
	connID, err := uuid.Parse(rest)
	if err != nil {
		return CorrelationID{}, fmt.Errorf("malformed connection qualifier in %q: %w", raw, err)
	}
	return CorrelationID{Request: reqID, Conn: connID}, nil
}

// Envelope renders a reply for the wire under the given correlation ID.
func (r Reply) Envelope(id CorrelationID) ReplyEnvelope {
	return r.EnvelopeFor(id.WireString())
}

// EnvelopeFor renders a reply echoing an already-encoded wire request ID, as
// the client side does when answering an invocation.
func (r Reply) EnvelopeFor(wireRequestID string) ReplyEnvelope {
	env := ReplyEnvelope{Type: FrameReply, RequestID: wireRequestID}
	switch r.Kind {
	case ReplyInline:
		env.ResponseType = ResponseTypeJSON
		env.JSONData = r.Payload
	case ReplyOffloaded:
		env.ResponseType = ResponseTypeFilePath
		env.FilePath = r.Reference
	case ReplyEmpty:
		env.ResponseType = ResponseTypeNull
	case ReplyError:
		env.ResponseType = ResponseTypeError
		env.ErrorMessage = r.Message
	}
	return env
}
