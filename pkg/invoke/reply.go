package invoke

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrUserNotConnected and ErrConnectionNotFound mean target resolution
	// failed before any message was sent; no request record was created.
	ErrUserNotConnected   = errors.New("user has no live connections")
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrDuplicateRequestID and ErrNoTargets are usage errors in request
	// creation, surfaced immediately.
	ErrDuplicateRequestID = errors.New("request id is already pending")
	ErrNoTargets          = errors.New("invocation has no targets")

	// ErrOverloaded means the admission cap on pending requests was reached;
	// callers should retry with backoff.
	ErrOverloaded = errors.New("pending request limit reached")

	ErrTimeout   = errors.New("invocation timed out")
	ErrCancelled = errors.New("invocation cancelled")
)

// ReplyKind discriminates the closed set of reply variants.
type ReplyKind int

const (
	ReplyInline ReplyKind = iota
	ReplyOffloaded
	ReplyEmpty
	ReplyError
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyInline:
		return "inline"
	case ReplyOffloaded:
		return "offloaded"
	case ReplyEmpty:
		return "empty"
	case ReplyError:
		return "error"
	default:
		return "unknown"
	}
}

// Reply is one target's answer to one invocation. Exactly one variant is
// populated, selected by Kind.
type Reply struct {
	Kind      ReplyKind
	Payload   json.RawMessage // ReplyInline
	Reference string          // ReplyOffloaded: opaque out-of-band retrieval handle
	Message   string          // ReplyError
}

func InlineReply(payload json.RawMessage) Reply {
	return Reply{Kind: ReplyInline, Payload: payload}
}

func OffloadedReply(reference string) Reply {
	return Reply{Kind: ReplyOffloaded, Reference: reference}
}

func EmptyReply() Reply {
	return Reply{Kind: ReplyEmpty}
}

func ErrorReply(message string) Reply {
	return Reply{Kind: ReplyError, Message: message}
}

// OK reports whether the target executed the method without reporting failure.
func (r Reply) OK() bool {
	return r.Kind != ReplyError
}

// Status is the terminal state of a pending request.
type Status int

const (
	// StatusComplete: every target replied inside the window.
	StatusComplete Status = iota
	// StatusTimeout: the window elapsed with zero or partial replies.
	StatusTimeout
	// StatusCancelled: the caller gave up before resolution.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// AggregatedResult is the outcome of one invocation across all of its
// targets. For a single-target request the Replies map holds at most one
// entry; AwaitReply unwraps it.
type AggregatedResult struct {
	Status  Status
	Replies map[uuid.UUID]Reply

	// SuccessCount counts non-error replies received. FailureCount counts
	// error replies plus targets that never answered.
	SuccessCount int
	FailureCount int

	// AllTargetsResponded is false whenever at least one target stayed
	// silent, so a partial aggregate can never be mistaken for a full one.
	AllTargetsResponded bool
}
