package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultTCPServerPort   = 12355
	DefaultMaxTCPClients   = 1000
	DefaultNumRouterShards = 4
	DefaultMinFanoutToWarn = 100
	DefaultMinTopicsToWarn = 100

	// Seconds without a complete request before a connection is dropped.
	DefaultClientTimeout = 300
)

// Config is the process-wide configuration, captured once at startup and
// passed by reference into each component. There is no runtime reload.
type Config struct {
	// Interface to bind; "any" means all interfaces.
	ListenIP string `mapstructure:"listen_ip"`

	// TCP port the broker listens on.
	TCPServerPort int `mapstructure:"tcp_server_port"`

	// Hard cap on concurrent client connections.
	MaxTCPClients int `mapstructure:"max_tcp_clients"`

	// Shard count for the router; fixed for the process lifetime.
	NumRouterShards int `mapstructure:"num_router_shards"`

	// Per-publish subscriber count above which a warning is logged.
	RouterMinFanoutToWarn int `mapstructure:"router_min_fanout_to_warn"`

	// Per-publish topic count above which a warning is logged.
	RouterMinPublishToTopicsToWarn int `mapstructure:"router_min_publish_to_topics_to_warn"`

	// Seconds a connection may sit idle before it is closed.
	ClientTimeout int `mapstructure:"client_timeout"`

	// Optional path for the pidfile; empty disables it.
	PidFile string `mapstructure:"pid_file"`

	// Optional address for the prometheus endpoint; empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Optional address for the websocket listener; empty disables it.
	WebsocketAddr string `mapstructure:"websocket_addr"`
}

// Default returns a Config with every option at its default.
func Default() *Config {
	return &Config{
		ListenIP:                       "any",
		TCPServerPort:                  DefaultTCPServerPort,
		MaxTCPClients:                  DefaultMaxTCPClients,
		NumRouterShards:                DefaultNumRouterShards,
		RouterMinFanoutToWarn:          DefaultMinFanoutToWarn,
		RouterMinPublishToTopicsToWarn: DefaultMinTopicsToWarn,
		ClientTimeout:                  DefaultClientTimeout,
	}
}

// Load reads the configuration from an optional file plus KRAKEN_* environment
// variables. path may be empty, in which case only defaults and the
// environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	cfg := Default()
	v.SetDefault("listen_ip", cfg.ListenIP)
	v.SetDefault("tcp_server_port", cfg.TCPServerPort)
	v.SetDefault("max_tcp_clients", cfg.MaxTCPClients)
	v.SetDefault("num_router_shards", cfg.NumRouterShards)
	v.SetDefault("router_min_fanout_to_warn", cfg.RouterMinFanoutToWarn)
	v.SetDefault("router_min_publish_to_topics_to_warn", cfg.RouterMinPublishToTopicsToWarn)
	v.SetDefault("client_timeout", cfg.ClientTimeout)
	v.SetDefault("pid_file", cfg.PidFile)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("websocket_addr", cfg.WebsocketAddr)

	v.SetEnvPrefix("KRAKEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config/Load: reading %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config/Load: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (this *Config) validate() error {
	if this.NumRouterShards < 1 {
		return fmt.Errorf("config: num_router_shards must be >= 1, got %d", this.NumRouterShards)
	}

	if this.MaxTCPClients < 1 {
		return fmt.Errorf("config: max_tcp_clients must be >= 1, got %d", this.MaxTCPClients)
	}

	if this.TCPServerPort < 1 || this.TCPServerPort > 65535 {
		return fmt.Errorf("config: tcp_server_port out of range: %d", this.TCPServerPort)
	}

	return nil
}

// ListenAddr resolves listen_ip/tcp_server_port into a net listen address.
func (this *Config) ListenAddr() string {
	ip := this.ListenIP
	if ip == "any" {
		ip = ""
	}
	return fmt.Sprintf("%s:%d", ip, this.TCPServerPort)
}
