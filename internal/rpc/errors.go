package rpc

import (
	"encoding/json"
	"fmt"
)

// CodeClientError is the reserved sentinel code carried by failures that did
// not originate in the daemon: transport failures below the protocol layer
// and malformed or mis-correlated envelopes. Backend errors keep their own
// code verbatim.
const CodeClientError = -32000

// FailureKind classifies where in the stack a call failed.
type FailureKind int

const (
	// KindTransport: the bridge invocation itself failed (serialization,
	// process, or channel failure).
	KindTransport FailureKind = iota
	// KindProtocol: the response arrived but was not a well-formed envelope
	// for this request (parse failure, version or id mismatch).
	KindProtocol
	// KindApplication: a well-formed envelope carrying a daemon-populated
	// error object.
	KindApplication
)

func (k FailureKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Error is the single normalized failure representation surfaced by Call.
type Error struct {
	Kind    FailureKind
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s error %d: %s", e.Kind, e.Code, e.Message)
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Code: CodeClientError, Message: err.Error()}
}

func protocolError(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Code: CodeClientError, Message: fmt.Sprintf(format, args...)}
}
