package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Filler   FillerConfig   `mapstructure:"filler"`
	Domains  []DomainConfig `mapstructure:"domains"`
	Routes   []RouteConfig  `mapstructure:"routes"`
	Beacon   BeaconConfig   `mapstructure:"beacon"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
}

type ServerConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Port           string  `mapstructure:"port"`
	RateLimitQPS   float64 `mapstructure:"rate_limit_qps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StoreConfig struct {
	// memory, postgres, sqlite or redis
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type FillerConfig struct {
	// EVM key used on every evm domain.
	PrivateKey string `mapstructure:"private_key"`
	// Account the wallet sidecar signs for on aztec domains.
	AztecAddress string `mapstructure:"aztec_address"`
}

type DomainConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"` // evm or aztec
	DomainID uint32 `mapstructure:"domain_id"`
	RPCURL   string `mapstructure:"rpc_url"`
	// Wallet sidecar endpoint, aztec only.
	WalletURL string `mapstructure:"wallet_url"`
	ChainID   int64  `mapstructure:"chain_id"`
	Gateway   string `mapstructure:"gateway"`
	// Base storage slot of the gateway's settled-message mapping.
	OutboxSlot uint64 `mapstructure:"outbox_slot"`
	// Contract and base slot of the mapping that records inbound messages.
	Inbox               string        `mapstructure:"inbox"`
	InboxSlot           uint64        `mapstructure:"inbox_slot"`
	RateLimitQPS        float64       `mapstructure:"rate_limit_qps"`
	RateLimitBurst      int           `mapstructure:"rate_limit_burst"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	LogsPerEvent        int           `mapstructure:"logs_per_event"`
}

// RouteConfig describes how a fill on Destination is proven back to Origin.
type RouteConfig struct {
	Origin          uint32 `mapstructure:"origin"`
	Destination     uint32 `mapstructure:"destination"`
	ForwarderDomain uint32 `mapstructure:"forwarder_domain"`
	Forwarder       string `mapstructure:"forwarder"`
	Anchor          string `mapstructure:"anchor"`
	// storage or membership
	ProofMode      string `mapstructure:"proof_mode"`
	BeaconAnchored bool   `mapstructure:"beacon_anchored"`
}

type BeaconConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ScheduleConfig holds cron specs, e.g. "@every 5s".
type ScheduleConfig struct {
	Watchers      string `mapstructure:"watchers"`
	ForwardSettle string `mapstructure:"forward_settle"`
	Settle        string `mapstructure:"settle"`
}

type WatcherConfig struct {
	LogRetryMax     int           `mapstructure:"log_retry_max"`
	LogRetryBackoff time.Duration `mapstructure:"log_retry_backoff"`
	PartialHold     uint64        `mapstructure:"partial_hold"`
}

type PricingConfig struct {
	AllowedDestinations []uint32 `mapstructure:"allowed_destinations"`
	MinSpreadBps        int64    `mapstructure:"min_spread_bps"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. RELAYGATE_FILLER_PRIVATE_KEY
	v.SetEnvPrefix("relaygate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.rate_limit_qps", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("redis.key_prefix", "relaygate:")
	v.SetDefault("kafka.topic", "relaygate.order-status")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("beacon.timeout", 10*time.Second)
	v.SetDefault("schedule.watchers", "@every 5s")
	v.SetDefault("schedule.forward_settle", "@every 30s")
	v.SetDefault("schedule.settle", "@every 30s")
	v.SetDefault("watcher.log_retry_max", 5)
	v.SetDefault("watcher.log_retry_backoff", 500*time.Millisecond)
	v.SetDefault("watcher.partial_hold", 64)
}

// Validate checks cross references between domains and routes.
func (c *Config) Validate() error {
	seen := make(map[uint32]bool, len(c.Domains))
	for i := range c.Domains {
		d := &c.Domains[i]
		if d.Kind != "evm" && d.Kind != "aztec" {
			return fmt.Errorf("domain %q: unknown kind %q", d.Name, d.Kind)
		}
		if seen[d.DomainID] {
			return fmt.Errorf("domain id %d configured twice", d.DomainID)
		}
		seen[d.DomainID] = true
		if d.ConfirmationTimeout <= 0 {
			d.ConfirmationTimeout = 2 * time.Minute
		}
		if d.PollInterval <= 0 {
			d.PollInterval = 2 * time.Second
		}
	}
	for _, r := range c.Routes {
		for _, id := range []uint32{r.Origin, r.Destination, r.ForwarderDomain} {
			if !seen[id] {
				return fmt.Errorf("route %d->%d references unknown domain %d", r.Destination, r.Origin, id)
			}
		}
		if r.ProofMode != "storage" && r.ProofMode != "membership" {
			return fmt.Errorf("route %d->%d: proof_mode must be storage or membership", r.Destination, r.Origin)
		}
		if r.BeaconAnchored && c.Beacon.URL == "" {
			return fmt.Errorf("route %d->%d is beacon anchored but beacon.url is empty", r.Destination, r.Origin)
		}
	}
	switch c.Store.Driver {
	case "memory", "postgres", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
