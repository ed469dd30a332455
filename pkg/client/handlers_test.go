package client

import (
	"context"
	"encoding/json"
	"testing"
)

func TestHandlerRegistryRegisterAndGet(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register("Ping", func(ctx context.Context, parameter json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"msg":"pong"}`), nil
	})

	handler, ok := reg.Get("Ping")
	if !ok {
		t.Fatal("Registered handler not found")
	}
	payload, err := handler(context.Background(), nil)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	if string(payload) != `{"msg":"pong"}` {
		t.Errorf("Unexpected payload: %s", payload)
	}

	if _, ok := reg.Get("Missing"); ok {
		t.Error("Found handler that was never registered")
	}
}

func TestHandlerRegistryDuplicatePanics(t *testing.T) {
	reg := NewHandlerRegistry()
	noop := func(ctx context.Context, parameter json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	}
	reg.Register("Ping", noop)

	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic on duplicate registration")
		}
	}()
	reg.Register("Ping", noop)
}

func TestHandlerRegistryMethods(t *testing.T) {
	reg := NewHandlerRegistry()
	noop := func(ctx context.Context, parameter json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	}
	reg.Register("Ping", noop)
	reg.Register("Dump", noop)

	methods := reg.Methods()
	if len(methods) != 2 {
		t.Fatalf("Expected 2 methods, got %d", len(methods))
	}
}
