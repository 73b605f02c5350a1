package domain

import "time"

// Config holds the complete Kestrel service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backends are used by default
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Scoring
	Profiles ProfilesConfig `json:"profiles" mapstructure:"profiles"`
	Policy   PolicyConfig   `json:"policy" mapstructure:"policy"`
	Worker   WorkerConfig   `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// ProfilesConfig controls where risk profiles come from.
type ProfilesConfig struct {
	// Dir holds *.yaml profile files loaded at startup (optional)
	Dir string `json:"dir" mapstructure:"dir"`

	// Default is used when a case names no profile and no profile
	// matches the case currency
	Default string `json:"default" mapstructure:"default"`
}

// PolicyConfig holds the external SAR policy applied after evaluation.
type PolicyConfig struct {
	SARThreshold int `json:"sarThreshold" mapstructure:"sar_threshold"`

	// Repeat assessments of a customer within VelocityWindow lower the
	// threshold by RepeatEscalation points each, down to MinThreshold.
	VelocityWindow   time.Duration `json:"velocityWindow" mapstructure:"velocity_window"`
	RepeatEscalation int           `json:"repeatEscalation" mapstructure:"repeat_escalation"`
	MinThreshold     int           `json:"minThreshold" mapstructure:"min_threshold"`
}

// WorkerConfig sizes the async and batch pools.
type WorkerConfig struct {
	Concurrency int           `json:"concurrency" mapstructure:"concurrency"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`

	// Async consumes case.submitted from the event bus. Tenants limits the
	// subscription; empty subscribes the "_global" tenant.
	Async   bool     `json:"async" mapstructure:"async"`
	Tenants []string `json:"tenants" mapstructure:"tenants"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, channels and an in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Profiles: ProfilesConfig{
			Default: "generic-usd",
		},
		Policy: PolicyConfig{
			SARThreshold:   50,
			VelocityWindow: 30 * 24 * time.Hour,
			MinThreshold:   50,
		},
		Worker: WorkerConfig{
			Concurrency: 8,
			Timeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Async = true
	cfg.Tracing.Enabled = true
	return cfg
}
