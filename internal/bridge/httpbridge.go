package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"aim-chat/go-client/internal/metrics"
	"aim-chat/go-client/internal/platform/ratelimiter"
)

const (
	DefaultDaemonAddr = "127.0.0.1:8787"

	maxRPCResponseBytes int64 = 1 << 20 // matches the daemon's request cap

	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 30 * time.Second
)

// HTTPBridgeConfig configures a bridge backed by a chat daemon's HTTP surface.
type HTTPBridgeConfig struct {
	Addr         string
	RPCToken     string
	HTTPClient   *http.Client
	Limiter      *rate.Limiter
	Metrics      *metrics.Set
	Logger       *slog.Logger
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// HTTPBridge implements Bridge against a running chat daemon: POST /rpc for
// invocations and the GET /rpc/stream SSE channel for daemon events. Each
// stream notification is re-emitted as a daemon-event payload
// {"topic": method, "payload": params.payload} so consumers see the same
// shape a shell-hosted bridge would deliver.
type HTTPBridge struct {
	cfg       HTTPBridgeConfig
	client    *http.Client
	logger    *slog.Logger
	warnLimit *ratelimiter.MapLimiter

	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]EventFunc
	streaming bool
	streamCtx context.Context
	stopAll   context.CancelFunc
	cursor    int64
}

func NewHTTPBridge(cfg HTTPBridgeConfig) *HTTPBridge {
	if cfg.Addr == "" {
		cfg.Addr = DefaultDaemonAddr
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = defaultReconnectMax
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPBridge{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		warnLimit: ratelimiter.New(1, 5, time.Minute),
		listeners: make(map[string]map[int]EventFunc),
	}
}

func (b *HTTPBridge) Invoke(ctx context.Context, command string, args any) ([]byte, error) {
	if command != CommandDaemonRPC {
		return nil, fmt.Errorf("unknown bridge command %q", command)
	}
	if b.cfg.Limiter != nil {
		if err := b.cfg.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.rpcURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.applyAuth(req)

	b.cfg.Metrics.CountInvoke(command)
	resp, err := b.client.Do(req)
	if err != nil {
		b.cfg.Metrics.CountInvokeError(command)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCResponseBytes))
	if err != nil {
		b.cfg.Metrics.CountInvokeError(command)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		b.cfg.Metrics.CountInvokeError(command)
		return nil, fmt.Errorf("daemon rpc returned status %d", resp.StatusCode)
	}
	return raw, nil
}

func (b *HTTPBridge) Listen(ctx context.Context, event string, fn EventFunc) (func(), error) {
	if event != EventDaemonEvent {
		return nil, fmt.Errorf("unknown native event %q", event)
	}
	if fn == nil {
		return nil, errors.New("nil event handler")
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	set, ok := b.listeners[event]
	if !ok {
		set = make(map[int]EventFunc)
		b.listeners[event] = set
	}
	set[id] = fn
	if !b.streaming {
		b.streaming = true
		streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		b.streamCtx = streamCtx
		b.stopAll = cancel
		go b.consumeStream(streamCtx)
	}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if set, ok := b.listeners[event]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(b.listeners, event)
			}
		}
		if len(b.listeners) == 0 && b.streaming {
			b.streaming = false
			b.stopAll()
			b.stopAll = nil
			b.streamCtx = nil
		}
		b.mu.Unlock()
	}, nil
}

// Cursor reports the last stream sequence number seen, for persistence across
// restarts.
func (b *HTTPBridge) Cursor() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// SetCursor seeds the reconnect cursor, typically from a persisted snapshot.
func (b *HTTPBridge) SetCursor(cursor int64) {
	b.mu.Lock()
	if cursor > b.cursor {
		b.cursor = cursor
	}
	b.mu.Unlock()
}

func (b *HTTPBridge) rpcURL() string {
	return "http://" + b.cfg.Addr + "/rpc"
}

func (b *HTTPBridge) streamURL(cursor int64) string {
	u := "http://" + b.cfg.Addr + "/rpc/stream"
	if cursor > 0 {
		u += "?cursor=" + strconv.FormatInt(cursor, 10)
	}
	return u
}

func (b *HTTPBridge) applyAuth(req *http.Request) {
	if b.cfg.RPCToken != "" {
		req.Header.Set("X-AIM-RPC-Token", b.cfg.RPCToken)
	}
}

func (b *HTTPBridge) consumeStream(ctx context.Context) {
	backoff := b.cfg.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		err := b.streamOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.logger.Warn("daemon event stream interrupted", "error", err.Error(), "retry_in", backoff.String())
		}
		b.cfg.Metrics.CountStreamReconnect()
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > b.cfg.ReconnectMax {
			backoff = b.cfg.ReconnectMax
		}
	}
}

func (b *HTTPBridge) streamOnce(ctx context.Context) error {
	b.mu.Lock()
	cursor := b.cursor
	b.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.streamURL(cursor), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	b.applyAuth(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), int(maxRPCResponseBytes))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			if seq, err := strconv.ParseInt(strings.TrimPrefix(line, "id: "), 10, 64); err == nil {
				b.mu.Lock()
				if seq > b.cursor {
					b.cursor = seq
				}
				b.mu.Unlock()
			}
		case strings.HasPrefix(line, "data: "):
			b.handleStreamData([]byte(strings.TrimPrefix(line, "data: ")))
		default:
			// comments (keepalives) and blank separators
		}
	}
	return scanner.Err()
}

// streamNotification is the daemon's SSE payload: a JSON-RPC notification
// whose params wrap the topic payload with stream metadata.
type streamNotification struct {
	Method string `json:"method"`
	Params struct {
		Seq     int64           `json:"seq"`
		Payload json.RawMessage `json:"payload"`
	} `json:"params"`
}

func (b *HTTPBridge) handleStreamData(data []byte) {
	var note streamNotification
	if err := json.Unmarshal(data, &note); err != nil || note.Method == "" {
		if b.warnLimit.Allow("malformed", time.Now()) {
			b.logger.Warn("discarding malformed stream notification")
		}
		return
	}
	event, err := json.Marshal(map[string]any{
		"topic":   note.Method,
		"payload": note.Params.Payload,
	})
	if err != nil {
		return
	}
	b.cfg.Metrics.CountStreamEvent()

	b.mu.Lock()
	if note.Params.Seq > b.cursor {
		b.cursor = note.Params.Seq
	}
	fns := make([]EventFunc, 0, len(b.listeners[EventDaemonEvent]))
	for _, fn := range b.listeners[EventDaemonEvent] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
