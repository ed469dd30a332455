package invoke

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestOffloadThreshold(t *testing.T) {
	policy := OffloadPolicy{MaxInlineBytes: 16}

	atLimit := bytes.Repeat([]byte("x"), 16)
	if policy.ShouldOffload(atLimit) {
		t.Error("Payload of exactly maxInlineBytes must ride inline")
	}
	overLimit := bytes.Repeat([]byte("x"), 17)
	if !policy.ShouldOffload(overLimit) {
		t.Error("Payload of maxInlineBytes+1 must be offloaded")
	}
}

func TestOffloadDisabledByNonPositiveThreshold(t *testing.T) {
	policy := OffloadPolicy{MaxInlineBytes: 0}
	if policy.ShouldOffload(bytes.Repeat([]byte("x"), 1<<20)) {
		t.Error("Non-positive threshold must never offload")
	}
}

func TestApplyBuildsReplyVariants(t *testing.T) {
	policy := OffloadPolicy{MaxInlineBytes: 8}
	store := FileStore{Dir: t.TempDir()}

	reply, err := policy.Apply("req-1", nil, store)
	if err != nil {
		t.Fatalf("Apply(nil) failed: %v", err)
	}
	if reply.Kind != ReplyEmpty {
		t.Errorf("Expected empty reply for nil payload, got %s", reply.Kind)
	}

	reply, err = policy.Apply("req-1", []byte(`{"a":1}`), store)
	if err != nil {
		t.Fatalf("Apply(small) failed: %v", err)
	}
	if reply.Kind != ReplyInline {
		t.Errorf("Expected inline reply, got %s", reply.Kind)
	}

	big := []byte(`{"blob":"` + strings.Repeat("z", 64) + `"}`)
	reply, err = policy.Apply("req-1", big, store)
	if err != nil {
		t.Fatalf("Apply(big) failed: %v", err)
	}
	if reply.Kind != ReplyOffloaded {
		t.Fatalf("Expected offloaded reply, got %s", reply.Kind)
	}

	// The reference dereferences to the original payload.
	persisted, err := os.ReadFile(reply.Reference)
	if err != nil {
		t.Fatalf("Failed to read offloaded payload: %v", err)
	}
	if !bytes.Equal(persisted, big) {
		t.Error("Offloaded payload does not match original")
	}
}

func TestApplyWithoutStoreFails(t *testing.T) {
	policy := OffloadPolicy{MaxInlineBytes: 1}
	if _, err := policy.Apply("req-1", []byte(`"too big"`), nil); err == nil {
		t.Fatal("Expected error when offload is needed but no store is configured")
	}
}

func TestFileStoreFlattensFanOutIDs(t *testing.T) {
	store := FileStore{Dir: t.TempDir()}
	ref, err := store.Put("aaaa:bbbb", []byte(`{}`))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if strings.Contains(ref[strings.LastIndex(ref, "/")+1:], ":") {
		t.Errorf("Spool file name still contains the correlation separator: %s", ref)
	}
}
