// Package rpc is the request correlator: it turns each logical call into one
// JSON-RPC envelope forwarded through the host bridge and matches the raw
// response back to its request id. It imposes no retries, no timeouts and no
// ordering across calls; callers bound waits with their context.
package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"aim-chat/go-client/internal/bridge"
	"aim-chat/go-client/internal/metrics"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client correlates calls with responses over one shared bridge. Construct
// one per bridge; there is no package-level instance.
type Client struct {
	bridge  bridge.Bridge
	metrics *metrics.Set

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]struct{}
}

func NewClient(b bridge.Bridge, m *metrics.Set) *Client {
	return &Client{
		bridge:  b,
		metrics: m,
		pending: make(map[uint64]struct{}),
	}
}

// Call issues one JSON-RPC request and returns the raw result verbatim. The
// correlator performs no semantic validation of the result shape; that is
// the caller's responsibility. All failures surface as *Error.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if method == "" {
		return nil, protocolError("method must be a non-empty string")
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = struct{}{}
	c.mu.Unlock()
	defer c.settle(id)

	c.metrics.CountRPCCall(method)
	raw, err := c.bridge.Invoke(ctx, bridge.CommandDaemonRPC, request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		c.metrics.CountRPCFailure(method, KindTransport.String())
		return nil, transportError(err)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.metrics.CountRPCFailure(method, KindProtocol.String())
		return nil, protocolError("response is not a valid envelope: %v", err)
	}
	if resp.JSONRPC != "2.0" {
		c.metrics.CountRPCFailure(method, KindProtocol.String())
		return nil, protocolError("unexpected jsonrpc version %q", resp.JSONRPC)
	}
	if resp.ID != id {
		c.metrics.CountRPCFailure(method, KindProtocol.String())
		return nil, protocolError("response id %d does not match request id %d", resp.ID, id)
	}
	if resp.Error != nil {
		if resp.Result != nil {
			c.metrics.CountRPCFailure(method, KindProtocol.String())
			return nil, protocolError("envelope carries both result and error")
		}
		c.metrics.CountRPCFailure(method, KindApplication.String())
		return nil, &Error{
			Kind:    KindApplication,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
		}
	}
	return resp.Result, nil
}

// CallInto decodes the result of Call into out.
func (c *Client) CallInto(ctx context.Context, method string, params, out any) error {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return protocolError("result does not decode: %v", err)
	}
	return nil
}

// PendingCalls reports in-flight entries in the correlation table. It must
// drain to zero once all calls return; anything else is a protocol violation.
func (c *Client) PendingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) settle(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
