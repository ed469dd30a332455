package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/nesco-labs/hubcall/pkg/invoke"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestClient(t *testing.T, handlers *HandlerRegistry, maxInline int) *Client {
	t.Helper()
	return New(Options{
		URL:     "ws://unused",
		Offload: invoke.OffloadPolicy{MaxInlineBytes: maxInline},
		Store:   invoke.FileStore{Dir: t.TempDir()},
		Logger:  newTestLogger(),
	}, handlers)
}

func invokeFrame(requestID, method, parameter string) []byte {
	frame := `{"type":"invoke","requestId":"` + requestID + `","method":"` + method + `"`
	if parameter != "" {
		frame += `,"parameter":` + parameter
	}
	return []byte(frame + "}")
}

func TestExecuteInlineReply(t *testing.T) {
	handlers := NewHandlerRegistry()
	handlers.Register("Echo", func(ctx context.Context, parameter json.RawMessage) (json.RawMessage, error) {
		return parameter, nil
	})
	c := newTestClient(t, handlers, 1024)

	reply := c.execute(context.Background(), "req-1", "Echo", invokeFrame("req-1", "Echo", `{"a":1}`))
	if reply.Kind != invoke.ReplyInline {
		t.Fatalf("Expected inline reply, got %s", reply.Kind)
	}
	if string(reply.Payload) != `{"a":1}` {
		t.Errorf("Unexpected payload: %s", reply.Payload)
	}
}

func TestExecuteEmptyReply(t *testing.T) {
	handlers := NewHandlerRegistry()
	handlers.Register("Fire", func(ctx context.Context, parameter json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	c := newTestClient(t, handlers, 1024)

	reply := c.execute(context.Background(), "req-1", "Fire", invokeFrame("req-1", "Fire", ""))
	if reply.Kind != invoke.ReplyEmpty {
		t.Fatalf("Expected empty reply, got %s", reply.Kind)
	}
}

func TestExecuteHandlerErrorBecomesErrorReply(t *testing.T) {
	handlers := NewHandlerRegistry()
	handlers.Register("Boom", func(ctx context.Context, parameter json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("disk on fire")
	})
	c := newTestClient(t, handlers, 1024)

	reply := c.execute(context.Background(), "req-1", "Boom", invokeFrame("req-1", "Boom", ""))
	if reply.Kind != invoke.ReplyError {
		t.Fatalf("Expected error reply, got %s", reply.Kind)
	}
	if reply.Message != "disk on fire" {
		t.Errorf("Unexpected error message: %s", reply.Message)
	}
}

func TestExecuteUnknownMethod(t *testing.T) {
	c := newTestClient(t, NewHandlerRegistry(), 1024)

	reply := c.execute(context.Background(), "req-1", "Ghost", invokeFrame("req-1", "Ghost", ""))
	if reply.Kind != invoke.ReplyError {
		t.Fatalf("Expected error reply for unknown method, got %s", reply.Kind)
	}
}

func TestExecuteOffloadsLargePayload(t *testing.T) {
	big := `{"dump":"` + strings.Repeat("z", 256) + `"}`
	handlers := NewHandlerRegistry()
	handlers.Register("Dump", func(ctx context.Context, parameter json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(big), nil
	})
	c := newTestClient(t, handlers, 32)

	reply := c.execute(context.Background(), "req-1", "Dump", invokeFrame("req-1", "Dump", ""))
	if reply.Kind != invoke.ReplyOffloaded {
		t.Fatalf("Expected offloaded reply, got %s", reply.Kind)
	}
	persisted, err := os.ReadFile(reply.Reference)
	if err != nil {
		t.Fatalf("Failed to read spooled payload: %v", err)
	}
	if string(persisted) != big {
		t.Error("Spooled payload does not match handler result")
	}
}
