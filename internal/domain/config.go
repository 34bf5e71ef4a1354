package domain

import "time"

// Config holds the complete Sentinel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Detection  DetectionConfig  `json:"detection"`
	Monitor    MonitorConfig    `json:"monitor"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// DetectionConfig holds evaluation pipeline settings.
type DetectionConfig struct {
	// Thresholds maps each domain to its case-creation cutoff. Missing
	// entries fall back to the documented per-domain defaults.
	Thresholds map[DomainType]float64 `json:"thresholds"`

	// ProviderTimeout bounds a single provider's evaluation; a provider
	// that exceeds it is logged and its signal excluded from combination.
	ProviderTimeout time.Duration `json:"providerTimeout"`

	// AccuracyWindow is the rolling window for detection accuracy.
	AccuracyWindow time.Duration `json:"accuracyWindow"`
}

// MonitorConfig holds polling cycle settings for the scheduler.
type MonitorConfig struct {
	PumpInterval      time.Duration `json:"pumpInterval"`
	DriverInterval    time.Duration `json:"driverInterval"`
	InventoryInterval time.Duration `json:"inventoryInterval"`
}

// DefaultThresholds returns the documented per-domain case cutoffs.
func DefaultThresholds() map[DomainType]float64 {
	return map[DomainType]float64{
		DomainPumpTampering:     0.70,
		DomainDriverDiversion:   0.65,
		DomainInventoryTheft:    0.75,
		DomainTransactionFraud:  0.68,
		DomainPriceManipulation: 0.70,
		DomainDocumentForgery:   0.65,
	}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
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
			SQLitePath: "./sentinel.db",
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
		Detection: DetectionConfig{
			Thresholds:      DefaultThresholds(),
			ProviderTimeout: 5 * time.Second,
			AccuracyWindow:  30 * 24 * time.Hour,
		},
		Monitor: MonitorConfig{
			PumpInterval:      30 * time.Second,
			DriverInterval:    60 * time.Second,
			InventoryInterval: 300 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sentinel",
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
		PostgresDB:   "sentinel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
