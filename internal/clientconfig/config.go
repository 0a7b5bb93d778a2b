// Package clientconfig loads the view-process configuration: file values are
// merged over defaults, then environment variables override both.
package clientconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved client configuration.
type Config struct {
	DaemonAddr     string
	RPCToken       string
	StatePath      string
	StateSecret    string
	DeliveryPolicy string // immediate | buffer | drop
	RateLimitRPS   float64
	RateLimitBurst int
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
}

// FileConfig is the yaml surface. Pointers distinguish "absent" from zero.
type FileConfig struct {
	Daemon struct {
		Addr     string `yaml:"addr"`
		RPCToken string `yaml:"rpcToken"`
	} `yaml:"daemon"`
	State struct {
		Path   string `yaml:"path"`
		Secret string `yaml:"secret"`
	} `yaml:"state"`
	Events struct {
		DeliveryPolicy string         `yaml:"deliveryPolicy"`
		ReconnectMin   *time.Duration `yaml:"reconnectMin"`
		ReconnectMax   *time.Duration `yaml:"reconnectMax"`
	} `yaml:"events"`
	RateLimit struct {
		RPS   *float64 `yaml:"rps"`
		Burst *int     `yaml:"burst"`
	} `yaml:"rateLimit"`
}

func Default() Config {
	return Config{
		DaemonAddr:     "127.0.0.1:8787",
		DeliveryPolicy: "immediate",
		RateLimitRPS:   30,
		RateLimitBurst: 60,
		ReconnectMin:   500 * time.Millisecond,
		ReconnectMax:   30 * time.Second,
	}
}

// LoadFromPath resolves the configuration. An empty path falls back to the
// conventional candidate locations; unreadable or unparseable candidates are
// skipped the way the daemon's loader skips them.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-client/configs/client.yaml",
			"configs/client.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src FileConfig) {
	if src.Daemon.Addr != "" {
		dst.DaemonAddr = src.Daemon.Addr
	}
	if src.Daemon.RPCToken != "" {
		dst.RPCToken = src.Daemon.RPCToken
	}
	if src.State.Path != "" {
		dst.StatePath = src.State.Path
	}
	if src.State.Secret != "" {
		dst.StateSecret = src.State.Secret
	}
	if src.Events.DeliveryPolicy != "" {
		dst.DeliveryPolicy = src.Events.DeliveryPolicy
	}
	if src.Events.ReconnectMin != nil {
		dst.ReconnectMin = *src.Events.ReconnectMin
	}
	if src.Events.ReconnectMax != nil {
		dst.ReconnectMax = *src.Events.ReconnectMax
	}
	if src.RateLimit.RPS != nil && *src.RateLimit.RPS > 0 {
		dst.RateLimitRPS = *src.RateLimit.RPS
	}
	if src.RateLimit.Burst != nil && *src.RateLimit.Burst > 0 {
		dst.RateLimitBurst = *src.RateLimit.Burst
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("AIM_DAEMON_ADDR")); v != "" {
		cfg.DaemonAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("AIM_RPC_TOKEN")); v != "" {
		cfg.RPCToken = v
	}
	if v := strings.TrimSpace(os.Getenv("AIM_CLIENT_STATE_PATH")); v != "" {
		cfg.StatePath = v
	}
	if v := strings.TrimSpace(os.Getenv("AIM_CLIENT_STATE_SECRET")); v != "" {
		cfg.StateSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("AIM_EVENT_DELIVERY_POLICY")); v != "" {
		cfg.DeliveryPolicy = v
	}
	if v := strings.TrimSpace(os.Getenv("AIM_CLIENT_RATE_LIMIT_RPS")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.RateLimitRPS = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("AIM_CLIENT_RATE_LIMIT_BURST")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.RateLimitBurst = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("AIM_STREAM_RECONNECT_MIN")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.ReconnectMin = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("AIM_STREAM_RECONNECT_MAX")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.ReconnectMax = parsed
		}
	}
}
