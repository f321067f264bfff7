// Package fault defines the closed error taxonomy shared by the network
// and tool layers. Every failure that crosses a component boundary carries
// exactly one Kind plus a human-readable message; the kind drives retry
// decisions on the network side and per-tool failure accounting on the
// tool side.
package fault

import "fmt"

// Kind identifies a failure class. The set is closed: new kinds are added
// here or not at all, so histograms keyed by Kind stay comparable across
// runs.
type Kind string

// Tool-layer kinds.
const (
	SyntaxError          Kind = "SYNTAX_ERROR"
	RuntimeError         Kind = "RUNTIME_ERROR"
	Timeout              Kind = "TIMEOUT"
	FileNotFound         Kind = "FILE_NOT_FOUND"
	SearchTermNotFound   Kind = "SEARCH_TERM_NOT_FOUND"
	ThirdPartyDependency Kind = "THIRD_PARTY_DEPENDENCY"
	MultipleMatches      Kind = "MULTIPLE_MATCHES"
	ApprovalRequired     Kind = "APPROVAL_REQUIRED"
	InvalidResponse      Kind = "INVALID_RESPONSE_FORMAT"
	InvalidFilePath      Kind = "INVALID_FILE_PATH"
	InvalidToolCall      Kind = "INVALID_TOOL_CALL"
	ImportError          Kind = "IMPORT_ERROR"
	Unknown              Kind = "UNKNOWN"
)

// Network-layer kinds.
const (
	EmptyResponse        Kind = "EMPTY_RESPONSE"
	ReservedTokenPresent Kind = "RESERVED_TOKEN_PRESENT"
	RateLimitExceeded    Kind = "RATE_LIMIT_EXCEEDED"
	NetworkError         Kind = "NETWORK_ERROR"
	AuthenticationError  Kind = "AUTHENTICATION_ERROR"
	ResourceExhausted    Kind = "RESOURCE_EXHAUSTED"
)

// Kinds lists every member of the taxonomy, in declaration order.
// Used to pre-populate zeroed counters.
var Kinds = []Kind{
	SyntaxError, RuntimeError, Timeout, FileNotFound, SearchTermNotFound,
	ThirdPartyDependency, MultipleMatches, ApprovalRequired, InvalidResponse,
	InvalidFilePath, InvalidToolCall, ImportError, Unknown,
	EmptyResponse, ReservedTokenPresent, RateLimitExceeded, NetworkError,
	AuthenticationError, ResourceExhausted,
}

// Error is a failure tagged with its Kind. It is the only error type that
// crosses the tool-dispatch and inference-retry boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that preserves cause for errors.Is/As chains.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf recovers the kind from an error. Untagged errors report Unknown;
// a nil error has no kind and reports the empty string.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if fe, ok := err.(*Error); ok {
		return fe.Kind
	}
	return Unknown
}

// Retryable reports whether a failure of the given kind may succeed on a
// fresh attempt against the same or a rotated backend. Only the transient
// network kinds qualify; everything else needs a changed request.
func Retryable(kind Kind) bool {
	switch kind {
	case EmptyResponse, ReservedTokenPresent, RateLimitExceeded,
		Timeout, NetworkError, ResourceExhausted, InvalidResponse:
		return true
	default:
		return false
	}
}

// Counter is a histogram of failures by kind.
type Counter map[Kind]int

// NewCounter returns a Counter with every kind present at zero, so
// serialized histograms always have the full key set.
func NewCounter() Counter {
	c := make(Counter, len(Kinds))
	for _, k := range Kinds {
		c[k] = 0
	}
	return c
}

// Add increments the count for kind.
func (c Counter) Add(kind Kind) {
	c[kind]++
}

// Merge adds every count from other into c.
func (c Counter) Merge(other Counter) {
	for k, n := range other {
		c[k] += n
	}
}

// Total returns the sum of all counts.
func (c Counter) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}
