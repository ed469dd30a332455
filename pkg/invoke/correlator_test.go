package invoke

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func replyFrame(wireID, responseType, body string) []byte {
	frame := `{"type":"reply","requestId":"` + wireID + `","responseType":"` + responseType + `"`
	if body != "" {
		frame += "," + body
	}
	return []byte(frame + "}")
}

func TestCorrelatorSingleTargetRoundTrip(t *testing.T) {
	table := newTestTable(0)
	correlator := NewCorrelator(table, newTestLogger())
	requestID := uuid.New()
	target := uuid.New()

	call, err := table.Create(requestID, []uuid.UUID{target}, time.Second)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Single-target wire IDs carry no qualifier; the origin connection keys
	// the reply.
	correlator.OnReplyReceived(target, requestID.String(), replyFrame(requestID.String(), ResponseTypeJSON, `"jsonData":{"msg":"pong"}`))

	result := awaitResult(t, call, time.Second)
	reply := result.Replies[target]
	if reply.Kind != ReplyInline {
		t.Fatalf("Expected inline reply, got %s", reply.Kind)
	}
	if string(reply.Payload) != `{"msg":"pong"}` {
		t.Errorf("Unexpected payload: %s", reply.Payload)
	}
}

func TestCorrelatorQualifiedIDRouting(t *testing.T) {
	table := newTestTable(0)
	correlator := NewCorrelator(table, newTestLogger())
	requestID := uuid.New()
	targets := []uuid.UUID{uuid.New(), uuid.New()}

	call, _ := table.Create(requestID, targets, time.Second)

	for _, target := range targets {
		wireID := CorrelationID{Request: requestID, Conn: target}.WireString()
		correlator.OnReplyReceived(target, wireID, replyFrame(wireID, ResponseTypeNull, ""))
	}

	result := awaitResult(t, call, time.Second)
	if !result.AllTargetsResponded {
		t.Error("Qualified replies did not resolve all targets")
	}
	for _, target := range targets {
		if result.Replies[target].Kind != ReplyEmpty {
			t.Errorf("Missing reply for target %s", target)
		}
	}
}

func TestCorrelatorDropsMalformedRequestID(t *testing.T) {
	table := newTestTable(0)
	correlator := NewCorrelator(table, newTestLogger())

	// Must not panic and must not disturb the table.
	correlator.OnReplyReceived(uuid.New(), "not-a-uuid", []byte(`{}`))
	correlator.OnReplyReceived(uuid.New(), uuid.New().String()+":junk", []byte(`{}`))
	if table.Len() != 0 {
		t.Errorf("Table disturbed by malformed IDs, len=%d", table.Len())
	}
}

func TestCorrelatorUnknownRequestIsDropped(t *testing.T) {
	table := newTestTable(0)
	correlator := NewCorrelator(table, newTestLogger())

	// A reply to an already-timed-out request is the expected race.
	correlator.OnReplyReceived(uuid.New(), uuid.New().String(), replyFrame(uuid.New().String(), ResponseTypeNull, ""))
}

func TestCorrelatorMalformedPayloadBecomesErrorReply(t *testing.T) {
	table := newTestTable(0)
	correlator := NewCorrelator(table, newTestLogger())
	requestID := uuid.New()
	target := uuid.New()
	call, _ := table.Create(requestID, []uuid.UUID{target}, time.Second)

	correlator.OnReplyReceived(target, requestID.String(), []byte(`{{{not json`))

	result := awaitResult(t, call, time.Second)
	reply := result.Replies[target]
	if reply.Kind != ReplyError {
		t.Fatalf("Expected malformed payload to become an error reply, got %s", reply.Kind)
	}
	if result.FailureCount != 1 {
		t.Errorf("Expected failure tally 1, got %d", result.FailureCount)
	}
}

func TestDecodeReplyVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want ReplyKind
	}{
		{"inline", `{"responseType":"JsonObject","jsonData":{"a":1}}`, ReplyInline},
		{"offloaded", `{"responseType":"FilePath","filePath":"/var/spool/x.json"}`, ReplyOffloaded},
		{"empty", `{"responseType":"Null"}`, ReplyEmpty},
		{"error", `{"responseType":"Error","errorMessage":"remote failed"}`, ReplyError},
		{"unknown type", `{"responseType":"Banana"}`, ReplyError},
		{"inline without data", `{"responseType":"JsonObject"}`, ReplyError},
		{"filepath without path", `{"responseType":"FilePath"}`, ReplyError},
		{"missing type", `{}`, ReplyError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reply := DecodeReply([]byte(tc.raw))
			if reply.Kind != tc.want {
				t.Errorf("DecodeReply(%s) = %s, want %s", tc.raw, reply.Kind, tc.want)
			}
		})
	}
}

func TestParseCorrelationID(t *testing.T) {
	reqID, connID := uuid.New(), uuid.New()

	id, err := ParseCorrelationID(reqID.String())
	if err != nil {
		t.Fatalf("ParseCorrelationID failed: %v", err)
	}
	if id.Qualified() || id.Request != reqID {
		t.Errorf("Unexpected unqualified parse: %+v", id)
	}

	id, err = ParseCorrelationID(reqID.String() + ":" + connID.String())
	if err != nil {
		t.Fatalf("ParseCorrelationID failed on qualified form: %v", err)
	}
	if !id.Qualified() || id.Conn != connID {
		t.Errorf("Unexpected qualified parse: %+v", id)
	}
	if id.WireString() != reqID.String()+":"+connID.String() {
		t.Errorf("WireString round-trip mismatch: %s", id.WireString())
	}

	if _, err := ParseCorrelationID("garbage"); err == nil {
		t.Error("Expected error for garbage request id")
	}
	if _, err := ParseCorrelationID(reqID.String() + ":garbage"); err == nil {
		t.Error("Expected error for garbage qualifier")
	}
}
