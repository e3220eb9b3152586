package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"AuctionCore/internal/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		AdminKey string `yaml:"admin_key"`
	} `yaml:"server"`
	DB struct {
		Driver            string `yaml:"driver"` // postgres | sqlite
		DSN               string `yaml:"dsn"`
		LockTimeoutMillis int    `yaml:"lock_timeout_ms"`
	} `yaml:"db"`
	Auctions struct {
		MinDurationMinutes int `yaml:"min_duration_minutes"`
		MaxDurationDays    int `yaml:"max_duration_days"`
	} `yaml:"auctions"`
	Worker struct {
		Embedded        bool `yaml:"embedded"`
		IntervalSeconds int  `yaml:"interval_seconds"`
		BatchSize       int  `yaml:"batch_size"`
	} `yaml:"worker"`
	Realtime struct {
		TickMillis int `yaml:"tick_ms"`
	} `yaml:"realtime"`
	Commission struct {
		GlobalPct          string `yaml:"global_pct"`
		MinFeeCents        int64  `yaml:"min_fee_cents"`
		NewVendorHoldHours int    `yaml:"new_vendor_hold_hours"`
		NewVendorHoldCount int    `yaml:"new_vendor_hold_count"`
	} `yaml:"commission"`
	Bidding struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"bidding"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Log struct {
		Level  string `yaml:"level"`  // debug | info | warn | error
		Format string `yaml:"format"` // console | json
	} `yaml:"log"`
	Tracing struct {
		Endpoint    string `yaml:"endpoint"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	if c.DB.Driver != "postgres" && c.DB.Driver != "sqlite" {
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	pct, err := decimal.NewFromString(c.Commission.GlobalPct)
	if err != nil {
		return fmt.Errorf("commission.global_pct: %w", err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("commission.global_pct must be within 0..100")
	}
	if c.Commission.MinFeeCents < 0 {
		return errors.New("commission.min_fee_cents must not be negative")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.DB.LockTimeoutMillis <= 0 {
		cfg.DB.LockTimeoutMillis = 3000
	}
	if cfg.Auctions.MinDurationMinutes <= 0 {
		cfg.Auctions.MinDurationMinutes = 5
	}
	if cfg.Auctions.MaxDurationDays <= 0 {
		cfg.Auctions.MaxDurationDays = 30
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 2
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 200
	}
	if cfg.Realtime.TickMillis <= 0 {
		cfg.Realtime.TickMillis = 1000
	}
	if cfg.Commission.GlobalPct == "" {
		cfg.Commission.GlobalPct = "10"
	}
	if cfg.Bidding.RatePerSecond <= 0 {
		cfg.Bidding.RatePerSecond = 2
	}
	if cfg.Bidding.Burst <= 0 {
		cfg.Bidding.Burst = 5
	}
	if cfg.AMQP.Exchange == "" {
		cfg.AMQP.Exchange = "auctions"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "auction-core"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ADMIN_KEY"); v != "" {
		cfg.Server.AdminKey = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.DB.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DB_LOCK_TIMEOUT_MS"); v != "" {
		cfg.DB.LockTimeoutMillis = atoiOr(cfg.DB.LockTimeoutMillis, v)
	}
	if v := os.Getenv("WORKER_EMBEDDED"); v != "" {
		cfg.Worker.Embedded = boolOr(cfg.Worker.Embedded, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoiOr(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		cfg.Worker.BatchSize = atoiOr(cfg.Worker.BatchSize, v)
	}
	if v := os.Getenv("REALTIME_TICK_MS"); v != "" {
		cfg.Realtime.TickMillis = atoiOr(cfg.Realtime.TickMillis, v)
	}
	if v := os.Getenv("COMMISSION_GLOBAL_PCT"); v != "" {
		cfg.Commission.GlobalPct = v
	}
	if v := os.Getenv("COMMISSION_MIN_FEE_CENTS"); v != "" {
		cfg.Commission.MinFeeCents = atoi64Or(cfg.Commission.MinFeeCents, v)
	}
	if v := os.Getenv("NEW_VENDOR_HOLD_HOURS"); v != "" {
		cfg.Commission.NewVendorHoldHours = atoiOr(cfg.Commission.NewVendorHoldHours, v)
	}
	if v := os.Getenv("NEW_VENDOR_HOLD_COUNT"); v != "" {
		cfg.Commission.NewVendorHoldCount = atoiOr(cfg.Commission.NewVendorHoldCount, v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQP.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

func (c *Config) TickEvery() time.Duration {
	return time.Duration(c.Realtime.TickMillis) * time.Millisecond
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.DB.LockTimeoutMillis) * time.Millisecond
}

func (c *Config) MinDuration() time.Duration {
	return time.Duration(c.Auctions.MinDurationMinutes) * time.Minute
}

func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Auctions.MaxDurationDays) * 24 * time.Hour
}

// CommissionPct is only valid after Load has validated the config.
func (c *Config) CommissionPct() decimal.Decimal {
	return decimal.RequireFromString(c.Commission.GlobalPct)
}

// CommissionConfig bundles the commission section for the settlement service.
func (c *Config) CommissionConfig() models.CommissionConfig {
	return models.CommissionConfig{
		GlobalPct:          c.CommissionPct(),
		MinFeeCents:        c.Commission.MinFeeCents,
		NewVendorHoldHours: c.Commission.NewVendorHoldHours,
		NewVendorHoldCount: c.Commission.NewVendorHoldCount,
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}
