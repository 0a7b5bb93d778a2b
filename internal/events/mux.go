// Package events routes the daemon event channel to topic-scoped listeners.
// One Mux owns at most one native listener registration; incoming
// {topic, payload} events fan out to the topic's handlers, and the daemon is
// told to start or stop forwarding a topic exactly on the first-handler and
// last-handler transitions.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"aim-chat/go-client/internal/bridge"
	"aim-chat/go-client/internal/metrics"
	"aim-chat/go-client/internal/platform/ratelimiter"
)

const (
	MethodSubscribe   = "events.subscribe"
	MethodUnsubscribe = "events.unsubscribe"
)

// Caller issues JSON-RPC calls; satisfied by *rpc.Client.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Handler receives the raw payload of one topic event.
type Handler func(payload json.RawMessage)

// DeliveryPolicy decides what happens to events that arrive for a topic
// whose backend subscribe call has not completed yet.
type DeliveryPolicy int

const (
	// DeliverImmediate hands pre-ack events to handlers right away. This is
	// the default: events already in flight are never dropped while the
	// backend call is outstanding.
	DeliverImmediate DeliveryPolicy = iota
	// BufferUntilAck queues pre-ack events and flushes them in order once
	// the backend subscribe completes.
	BufferUntilAck
	// DropUntilAck discards pre-ack events.
	DropUntilAck
)

// Token identifies one registered handler. Unsubscribe requires the token
// returned by Subscribe; handler values themselves are never compared.
type Token struct {
	topic string
	id    uint64
}

// Topic returns the topic the token is bound to.
func (t Token) Topic() string { return t.topic }

type topicState struct {
	gen      uint64
	acked    bool
	handlers map[uint64]Handler
	buffered []json.RawMessage
}

type topicsParams struct {
	Topics []string `json:"topics"`
}

// Options tune a Mux. Zero value is usable: immediate delivery, default
// logger, no metrics.
type Options struct {
	Policy  DeliveryPolicy
	Logger  *slog.Logger
	Metrics *metrics.Set
}

// Mux is an explicitly constructed event multiplexer. It holds no
// package-level state; tests run as many independent instances as they like.
type Mux struct {
	bridge  bridge.Bridge
	caller  Caller
	policy  DeliveryPolicy
	logger  *slog.Logger
	metrics *metrics.Set
	// warnLimit caps malformed-event warnings so a misbehaving daemon cannot
	// flood the diagnostic channel.
	warnLimit *ratelimiter.MapLimiter

	mu           sync.Mutex
	initialized  bool
	epoch        uint64
	ready        chan struct{}
	initErr      error
	cancelListen func()
	topics       map[string]*topicState
	nextGen      uint64
	nextToken    uint64
}

func NewMux(b bridge.Bridge, c Caller, opts Options) *Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		bridge:    b,
		caller:    c,
		policy:    opts.Policy,
		logger:    logger,
		metrics:   opts.Metrics,
		warnLimit: ratelimiter.New(1, 5, time.Minute),
		topics:    make(map[string]*topicState),
	}
}

// Init establishes the native listener registration. It is idempotent under
// any interleaving: the initialized flag is set synchronously before the
// asynchronous registration runs, so overlapping calls short-circuit instead
// of registering a second listener. The first Subscribe also initializes.
func (m *Mux) Init(ctx context.Context) {
	m.mu.Lock()
	m.initLocked(ctx)
	m.mu.Unlock()
}

func (m *Mux) initLocked(ctx context.Context) {
	if m.initialized {
		return
	}
	m.initialized = true
	ready := make(chan struct{})
	m.ready = ready
	epoch := m.epoch
	listenCtx := context.WithoutCancel(ctx)
	go func() {
		cancel, err := m.bridge.Listen(listenCtx, bridge.EventDaemonEvent, m.dispatchRaw)
		m.mu.Lock()
		if m.epoch != epoch {
			// torn down while registration was in flight
			m.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			close(ready)
			return
		}
		if err != nil {
			m.initErr = err
			m.logger.Error("native event listener registration failed", "error", err.Error())
		} else {
			m.cancelListen = cancel
		}
		close(ready)
		m.mu.Unlock()
	}()
}

// Ready returns a channel closed once the native listener registration has
// completed (successfully or not). Observing Ready initializes the Mux if
// nothing else has.
func (m *Mux) Ready() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initLocked(context.Background())
	return m.ready
}

// InitErr reports a failed listener registration, if any.
func (m *Mux) InitErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initErr
}

// Subscribe attaches a handler to a topic and returns its token. On the
// topic's 0→1 handler transition the daemon-side subscribe call is issued
// asynchronously; its failure is swallowed so local delivery is never held
// hostage to backend-confirmed state.
func (m *Mux) Subscribe(ctx context.Context, topic string, fn Handler) Token {
	m.mu.Lock()
	m.initLocked(ctx)
	st, ok := m.topics[topic]
	if !ok {
		m.nextGen++
		st = &topicState{gen: m.nextGen, handlers: make(map[uint64]Handler)}
		m.topics[topic] = st
		go m.backendSubscribe(context.WithoutCancel(ctx), topic, st.gen)
	}
	m.nextToken++
	token := Token{topic: topic, id: m.nextToken}
	st.handlers[token.id] = fn
	m.mu.Unlock()
	return token
}

// Unsubscribe removes the handler identified by token. Removing the last
// handler drops the topic and issues a best-effort daemon unsubscribe; if
// the daemon subscribe is still in flight, its completion performs the
// unwind instead so no daemon-side registration dangles.
func (m *Mux) Unsubscribe(ctx context.Context, token Token) {
	m.mu.Lock()
	st, ok := m.topics[token.topic]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, ok := st.handlers[token.id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(st.handlers, token.id)
	if len(st.handlers) > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.topics, token.topic)
	acked := st.acked
	m.mu.Unlock()
	if acked {
		m.backendUnsubscribe(context.WithoutCancel(ctx), token.topic)
	}
}

// TopicAcked reports whether the daemon subscribe call for a topic has
// completed. Local delivery never waits for this; it only matters to
// consumers of the BufferUntilAck and DropUntilAck policies.
func (m *Mux) TopicAcked(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.topics[topic]; ok {
		return st.acked
	}
	return false
}

// HandlerCount reports registered handlers for a topic.
func (m *Mux) HandlerCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.topics[topic]; ok {
		return len(st.handlers)
	}
	return 0
}

// Close tears down the native listener registration and clears all topic
// state. A later Subscribe re-initializes from scratch.
func (m *Mux) Close() {
	m.mu.Lock()
	m.epoch++
	cancel := m.cancelListen
	m.cancelListen = nil
	m.initialized = false
	m.ready = nil
	m.initErr = nil
	m.topics = make(map[string]*topicState)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Mux) backendSubscribe(ctx context.Context, topic string, gen uint64) {
	_, err := m.caller.Call(ctx, MethodSubscribe, topicsParams{Topics: []string{topic}})

	m.mu.Lock()
	st, ok := m.topics[topic]
	if !ok {
		// every handler left while the subscribe was outstanding
		m.mu.Unlock()
		m.backendUnsubscribe(ctx, topic)
		return
	}
	if st.gen != gen {
		// a newer subscribe cycle owns the topic; its completion settles state
		m.mu.Unlock()
		return
	}
	st.acked = true
	buffered := st.buffered
	st.buffered = nil
	var fns []Handler
	if len(buffered) > 0 {
		fns = snapshotHandlers(st)
	}
	m.mu.Unlock()

	if err != nil {
		// optimistic local delivery; the daemon call is advisory
		m.logger.Warn("daemon subscribe failed", "topic", topic, "error", err.Error())
	}
	for _, payload := range buffered {
		m.invoke(topic, fns, payload)
	}
}

func (m *Mux) backendUnsubscribe(ctx context.Context, topic string) {
	if _, err := m.caller.Call(ctx, MethodUnsubscribe, topicsParams{Topics: []string{topic}}); err != nil {
		m.logger.Warn("daemon unsubscribe failed", "topic", topic, "error", err.Error())
	}
}

type wireEvent struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func (m *Mux) dispatchRaw(payload []byte) {
	var evt wireEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.Topic == "" {
		if m.warnLimit.Allow("malformed", time.Now()) {
			m.logger.Warn("discarding malformed daemon event")
		}
		return
	}

	m.mu.Lock()
	st, ok := m.topics[evt.Topic]
	if !ok {
		m.mu.Unlock()
		return
	}
	if !st.acked {
		switch m.policy {
		case BufferUntilAck:
			st.buffered = append(st.buffered, evt.Payload)
			m.mu.Unlock()
			return
		case DropUntilAck:
			m.mu.Unlock()
			return
		}
	}
	fns := snapshotHandlers(st)
	m.mu.Unlock()

	m.invoke(evt.Topic, fns, evt.Payload)
}

func (m *Mux) invoke(topic string, fns []Handler, payload json.RawMessage) {
	for _, fn := range fns {
		m.metrics.CountDispatch(topic)
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.metrics.CountHandlerPanic()
					m.logger.Error("event handler panicked", "topic", topic, "panic", r)
				}
			}()
			fn(payload)
		}()
	}
}

func snapshotHandlers(st *topicState) []Handler {
	fns := make([]Handler, 0, len(st.handlers))
	for _, fn := range st.handlers {
		fns = append(fns, fn)
	}
	return fns
}
