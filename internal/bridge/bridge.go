// Package bridge defines the host-provided channel between the view process
// and the chat daemon. The host shell exposes exactly two primitives: invoke
// one named command with an argument object, and listen for one named native
// event. Everything the client core sends or receives flows through them.
package bridge

import "context"

const (
	// CommandDaemonRPC is the single host command used for request forwarding.
	CommandDaemonRPC = "daemon_rpc"
	// EventDaemonEvent is the native event name of the daemon event channel.
	// Its payload is {"topic": string, "payload": any}.
	EventDaemonEvent = "daemon-event"
)

// EventFunc receives the raw payload of one native event.
type EventFunc func(payload []byte)

// Bridge is the transport primitive supplied by the host shell. Invoke sends
// a command and returns the raw response body; Listen registers a handler for
// a named native event and returns a cancel func that stops delivery.
//
// Neither operation offers cancellation of work already in flight on the
// daemon side; ctx only bounds the local wait.
type Bridge interface {
	Invoke(ctx context.Context, command string, args any) ([]byte, error)
	Listen(ctx context.Context, event string, fn EventFunc) (func(), error)
}
