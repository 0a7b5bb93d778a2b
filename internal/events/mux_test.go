package events

import (
	"context"
	"encoding/json"
	"io"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"aim-chat/go-client/internal/bridge"
)

type recordedCall struct {
	Method string
	Topics []string
}

type fakeCaller struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	fail  map[string]error
	ch    chan recordedCall
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		gates: make(map[string]chan struct{}),
		fail:  make(map[string]error),
		ch:    make(chan recordedCall, 64),
	}
}

func (f *fakeCaller) gateMethod(method string) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[method] = gate
	f.mu.Unlock()
	return gate
}

func (f *fakeCaller) failMethod(method string, err error) {
	f.mu.Lock()
	f.fail[method] = err
	f.mu.Unlock()
}

func (f *fakeCaller) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	gate := f.gates[method]
	err := f.fail[method]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	rec := recordedCall{Method: method}
	if tp, ok := params.(topicsParams); ok {
		rec.Topics = tp.Topics
	}
	f.ch <- rec
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{}`), nil
}

func waitCall(t *testing.T, f *fakeCaller) recordedCall {
	t.Helper()
	select {
	case rec := <-f.ch:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a daemon call")
		return recordedCall{}
	}
}

func requireNoCall(t *testing.T, f *fakeCaller, within time.Duration) {
	t.Helper()
	select {
	case rec := <-f.ch:
		t.Fatalf("unexpected daemon call %s %v", rec.Method, rec.Topics)
	case <-time.After(within):
	}
}

func newTestMux(t *testing.T, opts Options) (*Mux, *bridge.Loopback, *fakeCaller) {
	t.Helper()
	lb := bridge.NewLoopback(nil)
	caller := newFakeCaller()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := NewMux(lb, caller, opts)
	t.Cleanup(m.Close)
	return m, lb, caller
}

func awaitReady(t *testing.T, m *Mux) {
	t.Helper()
	select {
	case <-m.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("multiplexer initialization did not complete")
	}
}

func emit(t *testing.T, lb *bridge.Loopback, topic string, payload any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"topic": topic, "payload": payload})
	if err != nil {
		t.Fatalf("marshal event failed: %v", err)
	}
	lb.EmitEvent(bridge.EventDaemonEvent, raw)
}

func TestInitRegistersExactlyOneListener(t *testing.T) {
	m, lb, _ := newTestMux(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Init(context.Background())
		}()
	}
	wg.Wait()
	awaitReady(t, m)

	if got := lb.ListenerCount(bridge.EventDaemonEvent); got != 1 {
		t.Fatalf("expected exactly one native listener, got %d", got)
	}
	// repeated init after completion stays a no-op
	m.Init(context.Background())
	if got := lb.ListenerCount(bridge.EventDaemonEvent); got != 1 {
		t.Fatalf("re-init registered another listener, got %d", got)
	}
}

func TestRoutingByTopic(t *testing.T) {
	m, lb, caller := newTestMux(t, Options{})
	ctx := context.Background()

	var mu sync.Mutex
	var got1, got2 []string
	m.Subscribe(ctx, "topic_a", func(p json.RawMessage) {
		mu.Lock()
		got1 = append(got1, string(p))
		mu.Unlock()
	})
	m.Subscribe(ctx, "topic_a", func(p json.RawMessage) {
		mu.Lock()
		got2 = append(got2, string(p))
		mu.Unlock()
	})
	if rec := waitCall(t, caller); rec.Method != MethodSubscribe || len(rec.Topics) != 1 || rec.Topics[0] != "topic_a" {
		t.Fatalf("unexpected daemon call %+v", rec)
	}
	awaitReady(t, m)

	emit(t, lb, "topic_a", map[string]int{"x": 1})
	emit(t, lb, "topic_b", map[string]any{})

	mu.Lock()
	defer mu.Unlock()
	if len(got1) != 1 || got1[0] != `{"x":1}` {
		t.Fatalf("first handler saw %v", got1)
	}
	if len(got2) != 1 || got2[0] != `{"x":1}` {
		t.Fatalf("second handler saw %v", got2)
	}
}

func TestSecondSubscribeCausesNoDaemonTraffic(t *testing.T) {
	m, _, caller := newTestMux(t, Options{})
	ctx := context.Background()

	m.Subscribe(ctx, "message.received", func(json.RawMessage) {})
	waitCall(t, caller)
	m.Subscribe(ctx, "message.received", func(json.RawMessage) {})
	requireNoCall(t, caller, 50*time.Millisecond)

	if got := m.HandlerCount("message.received"); got != 2 {
		t.Fatalf("expected 2 handlers, got %d", got)
	}
}

func TestPanickingHandlerDoesNotBlockSiblings(t *testing.T) {
	m, lb, caller := newTestMux(t, Options{})
	ctx := context.Background()

	invoked := 0
	m.Subscribe(ctx, "topic_a", func(json.RawMessage) { panic("boom") })
	m.Subscribe(ctx, "topic_a", func(json.RawMessage) { invoked++ })
	waitCall(t, caller)
	awaitReady(t, m)

	emit(t, lb, "topic_a", nil)
	if invoked != 1 {
		t.Fatalf("sibling handler invoked %d times", invoked)
	}
}

func TestRefcountedDaemonSubscription(t *testing.T) {
	m, _, caller := newTestMux(t, Options{})
	ctx := context.Background()

	tokens := make([]Token, 0, 3)
	for i := 0; i < 3; i++ {
		tokens = append(tokens, m.Subscribe(ctx, "contact.updated", func(json.RawMessage) {}))
	}
	if rec := waitCall(t, caller); rec.Method != MethodSubscribe {
		t.Fatalf("expected one subscribe, got %+v", rec)
	}
	requireNoCall(t, caller, 50*time.Millisecond)

	m.Unsubscribe(ctx, tokens[0])
	m.Unsubscribe(ctx, tokens[1])
	requireNoCall(t, caller, 50*time.Millisecond)

	m.Unsubscribe(ctx, tokens[2])
	if rec := waitCall(t, caller); rec.Method != MethodUnsubscribe || rec.Topics[0] != "contact.updated" {
		t.Fatalf("expected one unsubscribe, got %+v", rec)
	}

	// double unsubscribe of a spent token stays silent
	m.Unsubscribe(ctx, tokens[2])
	requireNoCall(t, caller, 50*time.Millisecond)

	// a fresh subscribe starts a new daemon-side cycle
	m.Subscribe(ctx, "contact.updated", func(json.RawMessage) {})
	if rec := waitCall(t, caller); rec.Method != MethodSubscribe {
		t.Fatalf("expected resubscribe, got %+v", rec)
	}
}

func TestUnsubscribeBeforeAckUnwindsDaemonState(t *testing.T) {
	m, _, caller := newTestMux(t, Options{})
	ctx := context.Background()
	gate := caller.gateMethod(MethodSubscribe)

	token := m.Subscribe(ctx, "t", func(json.RawMessage) {})
	m.Unsubscribe(ctx, token)
	requireNoCall(t, caller, 50*time.Millisecond)

	close(gate)
	if rec := waitCall(t, caller); rec.Method != MethodSubscribe {
		t.Fatalf("expected the stalled subscribe first, got %+v", rec)
	}
	if rec := waitCall(t, caller); rec.Method != MethodUnsubscribe || rec.Topics[0] != "t" {
		t.Fatalf("expected automatic unsubscribe, got %+v", rec)
	}
}

func TestDaemonSubscribeFailureIsSwallowed(t *testing.T) {
	m, lb, caller := newTestMux(t, Options{})
	ctx := context.Background()
	caller.failMethod(MethodSubscribe, errors.New("daemon offline"))

	delivered := 0
	m.Subscribe(ctx, "topic_a", func(json.RawMessage) { delivered++ })
	waitCall(t, caller)
	awaitReady(t, m)

	emit(t, lb, "topic_a", nil)
	if delivered != 1 {
		t.Fatalf("local delivery must survive a failed daemon subscribe, got %d", delivered)
	}
}

func TestBufferUntilAckFlushesInOrder(t *testing.T) {
	m, lb, caller := newTestMux(t, Options{Policy: BufferUntilAck})
	ctx := context.Background()
	gate := caller.gateMethod(MethodSubscribe)

	var mu sync.Mutex
	var got []string
	m.Subscribe(ctx, "topic_a", func(p json.RawMessage) {
		mu.Lock()
		got = append(got, string(p))
		mu.Unlock()
	})
	awaitReady(t, m)

	emit(t, lb, "topic_a", 1)
	emit(t, lb, "topic_a", 2)
	mu.Lock()
	if len(got) != 0 {
		mu.Unlock()
		t.Fatalf("pre-ack events leaked: %v", got)
	}
	mu.Unlock()

	close(gate)
	waitCall(t, caller)
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("buffered events never flushed, got %d", n)
		case <-time.After(time.Millisecond):
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "1" || got[1] != "2" {
		t.Fatalf("flush out of order: %v", got)
	}
}

func TestDropUntilAckDiscardsEarlyEvents(t *testing.T) {
	m, lb, caller := newTestMux(t, Options{Policy: DropUntilAck})
	ctx := context.Background()
	gate := caller.gateMethod(MethodSubscribe)

	delivered := 0
	m.Subscribe(ctx, "topic_a", func(json.RawMessage) { delivered++ })
	awaitReady(t, m)

	emit(t, lb, "topic_a", nil)
	close(gate)
	waitCall(t, caller)

	deadline := time.After(time.Second)
	for !m.TopicAcked("topic_a") {
		select {
		case <-deadline:
			t.Fatal("topic never acked")
		case <-time.After(time.Millisecond):
		}
	}
	emit(t, lb, "topic_a", nil)
	if delivered != 1 {
		t.Fatalf("expected only the post-ack event, got %d deliveries", delivered)
	}
}

func TestCloseResetsEverything(t *testing.T) {
	m, lb, caller := newTestMux(t, Options{})
	ctx := context.Background()

	m.Subscribe(ctx, "topic_a", func(json.RawMessage) {})
	waitCall(t, caller)
	awaitReady(t, m)
	if got := lb.ListenerCount(bridge.EventDaemonEvent); got != 1 {
		t.Fatalf("expected 1 listener before close, got %d", got)
	}

	m.Close()
	if got := lb.ListenerCount(bridge.EventDaemonEvent); got != 0 {
		t.Fatalf("close left %d native listeners", got)
	}
	if got := m.HandlerCount("topic_a"); got != 0 {
		t.Fatalf("close left %d handlers", got)
	}

	// a later subscribe re-initializes from scratch
	m.Subscribe(ctx, "topic_a", func(json.RawMessage) {})
	if rec := waitCall(t, caller); rec.Method != MethodSubscribe {
		t.Fatalf("expected fresh subscribe, got %+v", rec)
	}
	awaitReady(t, m)
	if got := lb.ListenerCount(bridge.EventDaemonEvent); got != 1 {
		t.Fatalf("expected re-registration, got %d listeners", got)
	}
}

func TestEventsForUnknownTopicAreIgnored(t *testing.T) {
	m, lb, caller := newTestMux(t, Options{})
	ctx := context.Background()

	delivered := 0
	m.Subscribe(ctx, "topic_a", func(json.RawMessage) { delivered++ })
	waitCall(t, caller)
	awaitReady(t, m)

	emit(t, lb, "topic_b", map[string]any{})
	lb.EmitEvent(bridge.EventDaemonEvent, []byte(`not json`))
	if delivered != 0 {
		t.Fatalf("expected no deliveries, got %d", delivered)
	}
}

func TestDispatchPreservesPerTopicOrder(t *testing.T) {
	m, lb, caller := newTestMux(t, Options{})
	ctx := context.Background()

	var got []string
	m.Subscribe(ctx, "message.received", func(p json.RawMessage) {
		got = append(got, string(p))
	})
	waitCall(t, caller)
	awaitReady(t, m)

	for i := 0; i < 5; i++ {
		emit(t, lb, "message.received", i)
	}
	want := []string{"0", "1", "2", "3", "4"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("out-of-order delivery: %v", got)
	}
}
