package model

import (
	"errors"
	"fmt"
)

// Kind classifies a proxy failure.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate in the proxy.
	KindUnknown Kind = iota
	// KindConfig means the route table could not be built.
	KindConfig
	// KindNoMatch means no route prefix matched the request path.
	KindNoMatch
	// KindUnreachable means the backend connection could not be established.
	KindUnreachable
	// KindNoResponse means the request was sent but no response arrived.
	KindNoResponse
	// KindBackend means the backend answered with a non-2xx status. Such
	// responses are relayed, not returned as errors; the kind only labels them
	// in logs.
	KindBackend
	// KindSetup means the outbound request could not be constructed.
	KindSetup
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNoMatch:
		return "no_match"
	case KindUnreachable:
		return "unreachable"
	case KindNoResponse:
		return "no_response"
	case KindBackend:
		return "backend"
	case KindSetup:
		return "setup"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind, so callers can use errors.Is. ErrBackend is
// never wrapped by the proxy itself; it is available to code that wants to
// turn a relayed non-2xx response into an error.
var (
	ErrConfig      = errors.New("invalid route configuration")
	ErrNoMatch     = errors.New("no matching route")
	ErrUnreachable = errors.New("backend unreachable")
	ErrNoResponse  = errors.New("no response from backend")
	ErrBackend     = errors.New("backend returned non-2xx status")
	ErrSetup       = errors.New("outbound request setup failed")
)

var sentinels = map[Kind]error{
	KindConfig:      ErrConfig,
	KindNoMatch:     ErrNoMatch,
	KindUnreachable: ErrUnreachable,
	KindNoResponse:  ErrNoResponse,
	KindBackend:     ErrBackend,
	KindSetup:       ErrSetup,
}

// Error is a classified proxy failure.
type Error struct {
	Kind   Kind
	Op     string // operation that failed
	Path   string // inbound request path, if any
	Target string // backend URL or offending config value, if any
	Err    error  // underlying cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s [%s]", e.Kind, e.Op)
	if e.Path != "" {
		msg += " path=" + e.Path
	}
	if e.Target != "" {
		msg += " target=" + e.Target
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the same kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// ConfigError reports an invalid route table entry.
func ConfigError(op, target string, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Op: op, Target: target, Err: fmt.Errorf(format, args...)}
}

// NoMatchError reports a request path that no route handles.
func NoMatchError(path string) *Error {
	return &Error{Kind: KindNoMatch, Op: "match", Path: path}
}

// UnreachableError reports a backend that could not be connected to.
func UnreachableError(target string, cause error) *Error {
	return &Error{Kind: KindUnreachable, Op: "forward", Target: target, Err: cause}
}

// NoResponseError reports a backend that did not answer.
func NoResponseError(target string, cause error) *Error {
	return &Error{Kind: KindNoResponse, Op: "forward", Target: target, Err: cause}
}

// SetupError reports an outbound request that could not be built.
func SetupError(op, target string, cause error) *Error {
	return &Error{Kind: KindSetup, Op: op, Target: target, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Cause returns the innermost message suitable for a client-facing body.
func Cause(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}
