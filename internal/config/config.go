package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fieldserve/internal/models"
)

type Config struct {
	App         Application       `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	API         APIConfig         `yaml:"api"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Worker      WorkerConfig      `yaml:"worker"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	Exports     ExportConfig      `yaml:"exports"`
}

type Application struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type GatewayConfig struct {
	BaseURL        string `yaml:"base_url"`
	MerchantCode   string `yaml:"merchant_code"`
	APIKey         string `yaml:"api_key"`
	Secret         string `yaml:"secret"`
	CallbackURL    string `yaml:"callback_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// MarketplaceConfig carries the business-rule knobs.
type MarketplaceConfig struct {
	PortalFeePercent int      `yaml:"portal_fee_percent"`
	BidFee           BidFee   `yaml:"bid_fee"`
	Coupons          []Coupon `yaml:"coupons"`
}

const (
	FeeModeFlat    = "flat"
	FeeModePercent = "percent"
)

// BidFee is the charge assessed when a partner places a bid. Mode is "flat"
// (Value is an absolute amount) or "percent" (Value is a percentage of the
// bid price).
type BidFee struct {
	Mode  string `yaml:"mode"`
	Value int64  `yaml:"value"`
}

type Coupon struct {
	Code    string `yaml:"code"`
	Mode    string `yaml:"mode"` // flat or percent
	Value   int64  `yaml:"value"`
	MaxOff  int64  `yaml:"max_off"`
	Enabled bool   `yaml:"enabled"`
}

type WorkerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
	MaxRetries          int `yaml:"max_retries"`
	PendingAgeSeconds   int `yaml:"pending_age_seconds"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; values referenced from the YAML via ${VAR}.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Gateway.BaseURL != "" && c.Gateway.Secret == "" {
		return errors.New("gateway secret is required when gateway base_url is set")
	}

	switch c.Marketplace.BidFee.Mode {
	case "", "flat", "percent":
	default:
		return fmt.Errorf("unknown bid fee mode: %s", c.Marketplace.BidFee.Mode)
	}

	seen := make(map[string]bool, len(c.Marketplace.Coupons))
	for _, coupon := range c.Marketplace.Coupons {
		code := strings.ToUpper(strings.TrimSpace(coupon.Code))
		if code == "" {
			return errors.New("coupon code is required")
		}
		if seen[code] {
			return fmt.Errorf("duplicate coupon code: %s", code)
		}
		seen[code] = true
		if coupon.Mode != "flat" && coupon.Mode != "percent" {
			return fmt.Errorf("unknown coupon mode for %s: %s", code, coupon.Mode)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "fieldserve"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Marketplace.PortalFeePercent == 0 {
		c.Marketplace.PortalFeePercent = models.DefaultPortalFeePercent
	}
	if c.Marketplace.BidFee.Mode == "" {
		c.Marketplace.BidFee.Mode = "flat"
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 15
	}
	if c.Worker.PollIntervalSeconds == 0 {
		c.Worker.PollIntervalSeconds = 30
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 20
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.PendingAgeSeconds == 0 {
		c.Worker.PendingAgeSeconds = 60
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
