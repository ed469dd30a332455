package invoke

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// PayloadStore persists an offloaded reply payload and returns the opaque
// reference the receiving side dereferences out of band.
type PayloadStore interface {
	Put(requestID string, payload []byte) (reference string, err error)
}

// OffloadPolicy decides, per reply, whether the payload rides the transport
// inline or is persisted externally and answered by reference. The transport
// has a practical per-message size ceiling; offloading keeps bulk results
// from fragmenting or head-of-line blocking the link.
type OffloadPolicy struct {
	// MaxInlineBytes is the largest payload carried inline. A payload of
	// exactly this size still rides inline. Non-positive disables offload.
	MaxInlineBytes int
}

// ShouldOffload reports whether payload must be written out of band.
func (p OffloadPolicy) ShouldOffload(payload []byte) bool {
	return p.MaxInlineBytes > 0 && len(payload) > p.MaxInlineBytes
}

// Apply builds the reply for a successful handler result, persisting through
// store when the payload exceeds the inline budget. Error replies never pass
// through here: an error message is always inline, whatever its size.
func (p OffloadPolicy) Apply(requestID string, payload json.RawMessage, store PayloadStore) (Reply, error) {
	if payload == nil {
		return EmptyReply(), nil
	}
	if !p.ShouldOffload(payload) {
		return InlineReply(payload), nil
	}
	if store == nil {
		return Reply{}, errors.New("payload exceeds inline budget and no payload store is configured")
	}
	reference, err := store.Put(requestID, payload)
	if err != nil {
		return Reply{}, err
	}
	return OffloadedReply(reference), nil
}

// FileStore spools offloaded payloads into a directory; the reference is the
// written file's path.
type FileStore struct {
	Dir string
}

func (s FileStore) Put(requestID string, payload []byte) (string, error) {
	// Fan-out wire IDs contain the correlation separator; keep names flat.
	name := strings.ReplaceAll(requestID, ":", "-")
	f, err := os.CreateTemp(s.Dir, "reply-"+name+"-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
