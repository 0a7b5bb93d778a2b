// Package viewclient wires the client core together from a resolved
// configuration: bridge, correlator, multiplexer, metrics and persisted
// state, composed once at process start.
package viewclient

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"aim-chat/go-client/internal/bridge"
	"aim-chat/go-client/internal/clientconfig"
	"aim-chat/go-client/internal/events"
	"aim-chat/go-client/internal/metrics"
	"aim-chat/go-client/internal/platform/privacylog"
	"aim-chat/go-client/internal/rpc"
	"aim-chat/go-client/internal/securestore"
)

type Client struct {
	Bridge  *bridge.HTTPBridge
	RPC     *rpc.Client
	Mux     *events.Mux
	Metrics *metrics.Set
	Logger  *slog.Logger

	cfg clientconfig.Config
	// token is the effective RPC token, whether it came from the config or
	// the persisted state file.
	token string
}

func New(cfg clientconfig.Config, reg prometheus.Registerer) (*Client, error) {
	logger := privacylog.DefaultLogger()
	set := metrics.NewSet(reg)

	token := cfg.RPCToken
	cursor := int64(0)
	if cfg.StatePath != "" && cfg.StateSecret != "" {
		state, err := securestore.LoadClientState(cfg.StatePath, cfg.StateSecret)
		if err != nil {
			return nil, err
		}
		if token == "" {
			token = state.RPCToken
		}
		cursor = state.StreamCursor
	}

	b := bridge.NewHTTPBridge(bridge.HTTPBridgeConfig{
		Addr:         cfg.DaemonAddr,
		RPCToken:     token,
		Limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		Metrics:      set,
		Logger:       logger,
		ReconnectMin: cfg.ReconnectMin,
		ReconnectMax: cfg.ReconnectMax,
	})
	b.SetCursor(cursor)

	client := rpc.NewClient(b, set)
	mux := events.NewMux(b, client, events.Options{
		Policy:  parsePolicy(cfg.DeliveryPolicy),
		Logger:  logger,
		Metrics: set,
	})

	return &Client{
		Bridge:  b,
		RPC:     client,
		Mux:     mux,
		Metrics: set,
		Logger:  logger,
		cfg:     cfg,
		token:   token,
	}, nil
}

// PersistState writes the RPC token and reconnect cursor back to the
// encrypted state file, when one is configured.
func (c *Client) PersistState() error {
	if c.cfg.StatePath == "" || c.cfg.StateSecret == "" {
		return nil
	}
	return securestore.SaveClientState(c.cfg.StatePath, c.cfg.StateSecret, securestore.ClientState{
		RPCToken:     c.token,
		StreamCursor: c.Bridge.Cursor(),
	})
}

// Close tears down the multiplexer and persists state.
func (c *Client) Close() error {
	c.Mux.Close()
	return c.PersistState()
}

func parsePolicy(policy string) events.DeliveryPolicy {
	switch policy {
	case "buffer":
		return events.BufferUntilAck
	case "drop":
		return events.DropUntilAck
	default:
		return events.DeliverImmediate
	}
}
