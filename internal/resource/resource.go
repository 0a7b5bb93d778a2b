// Package resource composes one correlator fetch with one topic binding: a
// cached value that is fetched when its owner activates and re-fetched in
// full whenever a relevant daemon event arrives. The event is only ever a
// trigger, never a trusted data source.
package resource

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"aim-chat/go-client/internal/binding"
	"aim-chat/go-client/internal/events"
	"aim-chat/go-client/internal/metrics"
)

// Caller issues JSON-RPC calls; satisfied by *rpc.Client.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Options tune a Resource.
type Options struct {
	// Params is passed to every fetch call.
	Params any
	// Limiter, when set, coalesces event-driven refresh storms. It does not
	// order results.
	Limiter *rate.Limiter
	Logger  *slog.Logger
	Metrics *metrics.Set
}

// Resource is a derived value of type T.
//
// Overlapping refreshes are neither deduplicated nor sequenced: the most
// recently resolving fetch wins and overwrites the cache, even if a fetch
// started later resolved earlier. Generation() exposes how many fetches have
// landed so callers can observe the race.
type Resource[T any] struct {
	caller  Caller
	mux     *events.Mux
	method  string
	topic   string
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Set

	mu      sync.Mutex
	active  bool
	epoch   uint64
	binding *binding.Binding
	value   T
	loaded  bool
	gen     uint64
}

func New[T any](caller Caller, mux *events.Mux, method, topic string, opts Options) *Resource[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resource[T]{
		caller:  caller,
		mux:     mux,
		method:  method,
		topic:   topic,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Activate performs the initial fetch and starts refreshing on topic events.
// Idempotent while active.
func (r *Resource[T]) Activate(ctx context.Context) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return
	}
	r.active = true
	r.epoch++
	epoch := r.epoch
	r.binding = binding.New(r.mux, r.topic, func(json.RawMessage) {
		r.onEvent(context.WithoutCancel(ctx), epoch)
	})
	r.binding.SetEnabled(ctx, true)
	r.mu.Unlock()

	go r.refresh(context.WithoutCancel(ctx), epoch)
}

// Deactivate detaches the topic binding. Fetches still in flight resolve
// into the void: their epoch no longer matches, so the cache is untouched.
func (r *Resource[T]) Deactivate(ctx context.Context) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	r.epoch++
	b := r.binding
	r.binding = nil
	r.mu.Unlock()
	if b != nil {
		b.Close(ctx)
	}
}

// Get returns the cached value and whether any fetch has landed yet.
func (r *Resource[T]) Get() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.loaded
}

// Generation counts fetches that have overwritten the cache.
func (r *Resource[T]) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Refresh forces a full re-fetch regardless of events.
func (r *Resource[T]) Refresh(ctx context.Context) error {
	r.mu.Lock()
	epoch := r.epoch
	active := r.active
	r.mu.Unlock()
	if !active {
		return nil
	}
	return r.refresh(ctx, epoch)
}

func (r *Resource[T]) onEvent(ctx context.Context, epoch uint64) {
	if r.opts.Limiter != nil && !r.opts.Limiter.Allow() {
		return
	}
	go func() {
		_ = r.refresh(ctx, epoch)
	}()
}

func (r *Resource[T]) refresh(ctx context.Context, epoch uint64) error {
	r.metrics.CountResourceRefresh(r.method)
	raw, err := r.caller.Call(ctx, r.method, r.opts.Params)
	if err != nil {
		r.logger.Warn("resource refresh failed", "method", r.method, "error", err.Error())
		return err
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		r.logger.Warn("resource result does not decode", "method", r.method, "error", err.Error())
		return err
	}

	r.mu.Lock()
	if r.epoch != epoch {
		// resolved after deactivation; late results are ignored
		r.mu.Unlock()
		return nil
	}
	// last resolving call wins, whatever order the fetches started in
	r.value = value
	r.loaded = true
	r.gen++
	r.mu.Unlock()
	return nil
}
