package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// DispatchFunc handles one invoked command in-process.
type DispatchFunc func(ctx context.Context, command string, args []byte) ([]byte, error)

// Loopback is an in-process Bridge. Hosts that embed the daemon directly wire
// its dispatch function to the daemon service; tests drive it with canned
// responses and EmitEvent.
type Loopback struct {
	dispatch DispatchFunc

	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]EventFunc
}

func NewLoopback(dispatch DispatchFunc) *Loopback {
	return &Loopback{
		dispatch:  dispatch,
		listeners: make(map[string]map[int]EventFunc),
	}
}

func (l *Loopback) Invoke(ctx context.Context, command string, args any) ([]byte, error) {
	if l.dispatch == nil {
		return nil, errors.New("loopback bridge has no dispatcher")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return l.dispatch(ctx, command, raw)
}

func (l *Loopback) Listen(ctx context.Context, event string, fn EventFunc) (func(), error) {
	if fn == nil {
		return nil, errors.New("nil event handler")
	}
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	set, ok := l.listeners[event]
	if !ok {
		set = make(map[int]EventFunc)
		l.listeners[event] = set
	}
	set[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		if set, ok := l.listeners[event]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(l.listeners, event)
			}
		}
		l.mu.Unlock()
	}, nil
}

// EmitEvent delivers a native event to every current listener for its name.
func (l *Loopback) EmitEvent(event string, payload []byte) {
	l.mu.Lock()
	fns := make([]EventFunc, 0, len(l.listeners[event]))
	for _, fn := range l.listeners[event] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// ListenerCount reports active listeners for a native event name.
func (l *Loopback) ListenerCount(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.listeners[event])
}
