// Package binding scopes a topic subscription to the lifetime of a transient
// UI owner. The handler attached to the multiplexer is a stable trampoline,
// so the owner can swap its handler on every re-render without any daemon
// subscribe/unsubscribe traffic; only enable/disable transitions and owner
// teardown touch the multiplexer.
package binding

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"aim-chat/go-client/internal/events"
)

// Binding attaches one handler to one topic for exactly as long as the owner
// context is alive and the binding is enabled.
type Binding struct {
	mux   *events.Mux
	topic string

	latest atomic.Pointer[events.Handler]

	mu      sync.Mutex
	enabled bool
	closed  bool
	// gen invalidates an in-flight subscribe when the binding is disabled or
	// closed before multiplexer initialization completes.
	gen        uint64
	subscribed bool
	token      events.Token
}

// Bind creates an enabled binding owned by ctx. When ctx is canceled the
// binding closes itself and detaches exactly once.
func Bind(ctx context.Context, mux *events.Mux, topic string, fn events.Handler) *Binding {
	b := New(mux, topic, fn)
	b.SetEnabled(ctx, true)
	go func() {
		<-ctx.Done()
		b.Close(context.WithoutCancel(ctx))
	}()
	return b
}

// New creates a disabled binding; call SetEnabled to attach.
func New(mux *events.Mux, topic string, fn events.Handler) *Binding {
	b := &Binding{mux: mux, topic: topic}
	b.SetHandler(fn)
	return b
}

// SetHandler swaps the handler the trampoline forwards to. It never causes
// daemon traffic and is safe mid-delivery: events dispatched after the swap
// reach the new handler.
func (b *Binding) SetHandler(fn events.Handler) {
	if fn == nil {
		fn = func(json.RawMessage) {}
	}
	b.latest.Store(&fn)
}

// SetEnabled transitions the activation precondition. false→true subscribes
// once multiplexer initialization completes; true→false unsubscribes exactly
// once. Redundant transitions are no-ops.
func (b *Binding) SetEnabled(ctx context.Context, enabled bool) {
	b.mu.Lock()
	if b.closed || b.enabled == enabled {
		b.mu.Unlock()
		return
	}
	b.enabled = enabled
	b.gen++
	if !enabled {
		token, ok := b.clearTokenLocked()
		b.mu.Unlock()
		if ok {
			b.mux.Unsubscribe(ctx, token)
		}
		return
	}
	gen := b.gen
	b.mu.Unlock()

	b.mux.Init(ctx)
	go b.attach(context.WithoutCancel(ctx), gen)
}

// Close detaches and permanently disables the binding. Safe to call multiple
// times and concurrently with owner teardown.
func (b *Binding) Close(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.enabled = false
	b.gen++
	token, ok := b.clearTokenLocked()
	b.mu.Unlock()
	if ok {
		b.mux.Unsubscribe(ctx, token)
	}
}

// Active reports whether the binding currently holds a multiplexer token.
func (b *Binding) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed
}

// attach waits for multiplexer initialization, then subscribes. If the owner
// disabled or closed the binding while initialization was in flight, nothing
// is registered and nothing can dangle.
func (b *Binding) attach(ctx context.Context, gen uint64) {
	select {
	case <-b.mux.Ready():
	case <-ctx.Done():
		return
	}

	b.mu.Lock()
	if b.gen != gen || b.subscribed {
		b.mu.Unlock()
		return
	}
	b.token = b.mux.Subscribe(ctx, b.topic, b.forward)
	b.subscribed = true
	b.mu.Unlock()
}

func (b *Binding) clearTokenLocked() (events.Token, bool) {
	if !b.subscribed {
		return events.Token{}, false
	}
	token := b.token
	b.subscribed = false
	b.token = events.Token{}
	return token, true
}

func (b *Binding) forward(payload json.RawMessage) {
	if fn := b.latest.Load(); fn != nil {
		(*fn)(payload)
	}
}
