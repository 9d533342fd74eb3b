package ops

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"

	"tradeflow/internal/feed"
	"tradeflow/internal/journal"
	"tradeflow/internal/order"
	"tradeflow/internal/risk"
	"tradeflow/internal/schema"
	"tradeflow/internal/strategy"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Registry   RegistryConfig   `json:"registry"`
	Feed       FeedConfig       `json:"feed"`
	Risk       risk.Limits      `json:"risk"`
	Order      OrderConfig      `json:"order"`
	Strategies []StrategyConfig `json:"strategies"`
	Book       BookConfig       `json:"book"`
	Bus        BusConfig        `json:"bus"`
	Metrics    MetricsConfig    `json:"metrics"`
	Journal    JournalConfig    `json:"journal"`
	Store      StoreConfig      `json:"store"`
	Profiler   ProfilerConfig   `json:"profiler"`
}

// RegistryConfig defines venue and instrument mappings.
type RegistryConfig struct {
	Venues      []VenueConfig      `json:"venues"`
	Instruments []InstrumentConfig `json:"instruments"`
}

// VenueConfig describes a venue entry.
type VenueConfig struct {
	Name string `json:"name"`
}

// InstrumentConfig describes an instrument entry.
type InstrumentConfig struct {
	Symbol string           `json:"symbol"`
	Venue  string           `json:"venue"`
	Scale  schema.ScaleSpec `json:"scale"`
}

// FeedConfig describes the market data connection.
type FeedConfig struct {
	URL            string   `json:"url"`
	Symbols        []string `json:"symbols"`
	IdleTimeoutMs  int      `json:"idleTimeoutMs"`
	BufferSize     int      `json:"bufferSize"`
	FaultThreshold int      `json:"faultThreshold"`
	BackoffBaseMs  int      `json:"backoffBaseMs"`
	BackoffCapMs   int      `json:"backoffCapMs"`
	BackoffFactor  float64  `json:"backoffFactor"`
}

// OrderConfig tunes the order manager.
type OrderConfig struct {
	AckTimeoutMs      int `json:"ackTimeoutMs"`
	FillTimeoutMs     int `json:"fillTimeoutMs"`
	MaxSubmitAttempts int `json:"maxSubmitAttempts"`
	SweepIntervalMs   int `json:"sweepIntervalMs"`
}

// StrategyConfig describes one strategy instance.
type StrategyConfig struct {
	Kind           string          `json:"kind"`
	ID             uint32          `json:"id"`
	Symbol         string          `json:"symbol"`
	QueueSize      int             `json:"queueSize"`
	EvalIntervalMs int             `json:"evalIntervalMs"`
	Params         strategy.Params `json:"params"`
}

// BookConfig tunes the instrument book.
type BookConfig struct {
	WindowSize int `json:"windowSize"`
}

// BusConfig tunes subscriber queues.
type BusConfig struct {
	QueueSize int `json:"queueSize"`
}

// MetricsConfig configures the scrape endpoint.
type MetricsConfig struct {
	Listen string `json:"listen"`
}

// JournalConfig configures the tick journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir"`
}

// StoreConfig configures the order audit store.
type StoreConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

// ProfilerConfig configures continuous profiling.
type ProfilerConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
}

// StrategySpec is a resolved strategy definition.
type StrategySpec struct {
	Kind         string
	ID           uint32
	InstrumentID schema.InstrumentID
	QueueSize    int
	EvalInterval time.Duration
	Params       strategy.Params
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	Registry   *schema.Registry
	FeedURL    string
	Feed       feed.Config
	Risk       risk.Limits
	Order      order.Config
	Strategies []StrategySpec
	WindowSize int
	QueueSize  int
	Metrics    MetricsConfig
	Journal    journal.Config
	JournalOn  bool
	Store      StoreConfig
	Profiler   ProfilerConfig
}

// Load reads the JSON config, applies environment overrides, and validates
// everything needed for startup. An empty subscription list or invalid risk
// limits are fatal here, not at first use.
func Load(path string) (Loaded, error) {
	// A .env file is optional; environment wins over file values either way.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, fmt.Errorf("parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)

	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}
	if len(cfg.Feed.Symbols) == 0 {
		return Loaded{}, fmt.Errorf("feed.symbols is empty")
	}
	for _, symbol := range cfg.Feed.Symbols {
		if _, ok := registry.InstrumentIDBySymbol(symbol); !ok {
			return Loaded{}, fmt.Errorf("feed symbol not in registry: %s", symbol)
		}
	}
	if err := cfg.Risk.Validate(); err != nil {
		return Loaded{}, err
	}
	specs, err := resolveStrategies(cfg.Strategies, registry)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{
		Registry: registry,
		FeedURL:  cfg.Feed.URL,
		Feed: feed.Config{
			Symbols:        cfg.Feed.Symbols,
			IdleTimeout:    time.Duration(cfg.Feed.IdleTimeoutMs) * time.Millisecond,
			BufferSize:     cfg.Feed.BufferSize,
			FaultThreshold: cfg.Feed.FaultThreshold,
			Backoff: feed.Backoff{
				Base:   time.Duration(cfg.Feed.BackoffBaseMs) * time.Millisecond,
				Cap:    time.Duration(cfg.Feed.BackoffCapMs) * time.Millisecond,
				Factor: cfg.Feed.BackoffFactor,
			},
			Source: 1,
		},
		Risk: cfg.Risk,
		Order: order.Config{
			AckTimeout:        time.Duration(cfg.Order.AckTimeoutMs) * time.Millisecond,
			FillTimeout:       time.Duration(cfg.Order.FillTimeoutMs) * time.Millisecond,
			MaxSubmitAttempts: cfg.Order.MaxSubmitAttempts,
			SweepInterval:     time.Duration(cfg.Order.SweepIntervalMs) * time.Millisecond,
		},
		Strategies: specs,
		WindowSize: cfg.Book.WindowSize,
		QueueSize:  cfg.Bus.QueueSize,
		Metrics:    cfg.Metrics,
		JournalOn:  cfg.Journal.Enabled,
		Store:      cfg.Store,
		Profiler:   cfg.Profiler,
	}
	if cfg.Journal.Enabled {
		loaded.Journal = journal.DefaultConfig(cfg.Journal.Dir)
		if err := loaded.Journal.Validate(); err != nil {
			return Loaded{}, err
		}
	}
	if loaded.Metrics.Listen == "" {
		loaded.Metrics.Listen = ":9100"
	}
	if loaded.QueueSize <= 0 {
		loaded.QueueSize = 1024
	}
	if cfg.Store.Enabled && cfg.Store.DSN == "" {
		return Loaded{}, fmt.Errorf("store.dsn is empty")
	}
	if cfg.Profiler.Enabled && cfg.Profiler.ServerAddress == "" {
		return Loaded{}, fmt.Errorf("profiler.serverAddress is empty")
	}
	if cfg.Feed.URL == "" {
		return Loaded{}, fmt.Errorf("feed.url is empty")
	}
	return loaded, nil
}

// applyEnvOverrides lets deployment-specific values come from the
// environment instead of the checked-in config file.
func applyEnvOverrides(cfg *FileConfig) {
	if v := os.Getenv("ENGINE_FEED_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("ENGINE_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("ENGINE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("ENGINE_JOURNAL_DIR"); v != "" {
		cfg.Journal.Dir = v
	}
	if v := os.Getenv("ENGINE_PROFILER_ADDRESS"); v != "" {
		cfg.Profiler.ServerAddress = v
	}
	if v := os.Getenv("ENGINE_MAX_ORDERS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Risk.MaxOrdersPerMinute = n
		}
	}
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, venue := range cfg.Venues {
		if _, err := reg.AddVenue(venue.Name); err != nil {
			return nil, err
		}
	}
	for _, inst := range cfg.Instruments {
		venueID, ok := reg.VenueIDByName(inst.Venue)
		if !ok {
			return nil, fmt.Errorf("venue not found: %s", inst.Venue)
		}
		if inst.Scale.PriceScale < 0 || inst.Scale.QuantityScale < 0 {
			return nil, fmt.Errorf("invalid scale for %s: must be >= 0", inst.Symbol)
		}
		if _, err := reg.AddInstrument(inst.Symbol, venueID, inst.Scale); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func resolveStrategies(configs []StrategyConfig, reg *schema.Registry) ([]StrategySpec, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no strategies configured")
	}
	specs := make([]StrategySpec, 0, len(configs))
	seen := make(map[uint32]bool, len(configs))
	for _, cfg := range configs {
		if cfg.ID == 0 {
			return nil, fmt.Errorf("strategy id must be set for kind %q", cfg.Kind)
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("duplicate strategy id: %d", cfg.ID)
		}
		seen[cfg.ID] = true
		instrumentID, ok := reg.InstrumentIDBySymbol(cfg.Symbol)
		if !ok {
			return nil, fmt.Errorf("strategy %d: symbol not in registry: %s", cfg.ID, cfg.Symbol)
		}
		if cfg.Params.Qty <= 0 {
			return nil, fmt.Errorf("strategy %d: params.qty must be positive", cfg.ID)
		}
		queueSize := cfg.QueueSize
		if queueSize <= 0 {
			queueSize = 1024
		}
		specs = append(specs, StrategySpec{
			Kind:         cfg.Kind,
			ID:           cfg.ID,
			InstrumentID: instrumentID,
			QueueSize:    queueSize,
			EvalInterval: time.Duration(cfg.EvalIntervalMs) * time.Millisecond,
			Params:       cfg.Params,
		})
	}
	return specs, nil
}
