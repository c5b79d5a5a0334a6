// Package config loads and validates framework configuration.
//
// Configuration is read with viper from a YAML or TOML file, merged onto
// built-in defaults, then overridden by QUANT__A__B environment variables
// (double underscore as the path separator). The loaded Config is treated
// as read-only after Load returns.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"quantcore/internal/errs"
	"quantcore/pkg/types"
)

// EngineConfig holds event engine runtime settings.
type EngineConfig struct {
	WorkerCount int `mapstructure:"worker_count"`
	QueueSize   int `mapstructure:"queue_size"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// PluginsConfig controls plugin loading.
type PluginsConfig struct {
	Enabled  []string `mapstructure:"enabled"`
	Autoload bool     `mapstructure:"autoload"`
}

// AssetTypeConfig describes trading rules per asset class.
type AssetTypeConfig struct {
	Settlement string  `mapstructure:"settlement"` // "T+0" or "T+1"
	LotSize    int64   `mapstructure:"lot_size"`
	FeeRate    float64 `mapstructure:"fee_rate"`
}

// AssetConfig selects the asset class under test.
type AssetConfig struct {
	Type   string         `mapstructure:"type"` // "stock" or "cb"
	Params map[string]any `mapstructure:"params"`
}

// StrategyConfig selects and parameterizes the strategy.
type StrategyConfig struct {
	Name   string         `mapstructure:"name"`
	Params map[string]any `mapstructure:"params"`
}

// DataSourceConfig names the market data adapters.
type DataSourceConfig struct {
	Primary  string `mapstructure:"primary"`
	Backup   string `mapstructure:"backup"`
	CacheDir string `mapstructure:"cache_dir"`
}

// BacktestConfig holds replay parameters.
type BacktestConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	StartDate      string  `mapstructure:"start_date"`
	EndDate        string  `mapstructure:"end_date"`
	FeeRate        float64 `mapstructure:"fee_rate"`
}

// RiskConfig holds the risk thresholds wired into the manager.
type RiskConfig struct {
	MaxPositionRatio float64 `mapstructure:"max_position_ratio"`
	StopLossRatio    float64 `mapstructure:"stop_loss_ratio"`
}

// Config is the top-level configuration record.
type Config struct {
	Environment string                     `mapstructure:"environment"`
	Engine      EngineConfig               `mapstructure:"engine"`
	Logging     LoggingConfig              `mapstructure:"logging"`
	Plugins     PluginsConfig              `mapstructure:"plugins"`
	AssetTypes  map[string]AssetTypeConfig `mapstructure:"asset_types"`
	Asset       AssetConfig                `mapstructure:"asset"`
	Strategy    StrategyConfig             `mapstructure:"strategy"`
	DataSource  DataSourceConfig           `mapstructure:"data_source"`
	Backtest    BacktestConfig             `mapstructure:"backtest"`
	Risk        RiskConfig                 `mapstructure:"risk"`
}

// envPrefix marks environment variables that override configuration keys.
const envPrefix = "QUANT__"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "dev",
		Engine:      EngineConfig{WorkerCount: 1, QueueSize: 10000},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
		Plugins:     PluginsConfig{Autoload: true},
		AssetTypes: map[string]AssetTypeConfig{
			"stock": {Settlement: "T+1", LotSize: 100, FeeRate: 0.0003},
			"cb":    {Settlement: "T+0", LotSize: 10, FeeRate: 0.0001},
		},
		Asset:    AssetConfig{Type: "cb"},
		Strategy: StrategyConfig{Name: "double_low"},
		Backtest: BacktestConfig{InitialCapital: 1000000, FeeRate: 0.0003},
		Risk:     RiskConfig{MaxPositionRatio: 0.3, StopLossRatio: 0.1},
	}
}

// Load reads the configuration file at path, merges it onto the defaults,
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, errs.Wrap(err, errs.KindConfig, "failed to read config file").With("path", path)
	}
	return build(v)
}

// FromMap validates a configuration given as a nested map, merged onto
// the defaults. Used by hosts that assemble config programmatically.
func FromMap(data map[string]any) (*Config, error) {
	v := viper.New()
	if err := v.MergeConfigMap(data); err != nil {
		return nil, errs.Wrap(err, errs.KindConfig, "failed to merge config map")
	}
	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	cfg := Default()
	applyEnvOverrides(v, os.Environ())

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.Wrap(err, errs.KindConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides projects QUANT__A__B=value variables onto the config
// tree. The double underscore separates path segments, segment names are
// lowercased, and values are parsed as JSON with a plain-string fallback
// so QUANT__ENGINE__WORKER_COUNT=4 and QUANT__PLUGINS__AUTOLOAD=false
// land with their natural types.
func applyEnvOverrides(v *viper.Viper, environ []string) {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		eq := strings.Index(kv, "=")
		if eq < 0 {
			continue
		}
		name, raw := kv[:eq], kv[eq+1:]

		segments := strings.Split(strings.TrimPrefix(name, envPrefix), "__")
		for i, s := range segments {
			segments[i] = strings.ToLower(s)
		}
		key := strings.Join(segments, ".")

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		v.Set(key, value)
	}
}

// Validate checks every range and cross-field invariant.
func (c *Config) Validate() error {
	switch c.Environment {
	case "dev", "test", "prod":
	default:
		return badConfig("environment must be dev, test, or prod, got %q", c.Environment)
	}
	if c.Engine.WorkerCount < 1 {
		return badConfig("engine.worker_count must be >= 1, got %d", c.Engine.WorkerCount)
	}
	if c.Engine.QueueSize < 1 {
		return badConfig("engine.queue_size must be >= 1, got %d", c.Engine.QueueSize)
	}

	for name, at := range c.AssetTypes {
		if at.Settlement != "T+0" && at.Settlement != "T+1" {
			return badConfig("asset_types.%s.settlement must be T+0 or T+1, got %q", name, at.Settlement)
		}
		if at.LotSize < 1 {
			return badConfig("asset_types.%s.lot_size must be >= 1, got %d", name, at.LotSize)
		}
		if at.FeeRate <= 0 || at.FeeRate > 0.01 {
			return badConfig("asset_types.%s.fee_rate must be in (0, 0.01], got %v", name, at.FeeRate)
		}
	}

	if c.Asset.Type != "" {
		if _, ok := c.AssetTypes[c.Asset.Type]; !ok {
			return badConfig("asset.type %q has no asset_types entry", c.Asset.Type)
		}
	}

	switch c.Strategy.Name {
	case "", "double_low":
	case "macd":
		fast, fok := paramInt(c.Strategy.Params, "fast")
		slow, sok := paramInt(c.Strategy.Params, "slow")
		if fok && sok && fast >= slow {
			return badConfig("strategy.params: macd fast (%d) must be < slow (%d)", fast, slow)
		}
	default:
		return badConfig("strategy.name must be double_low or macd, got %q", c.Strategy.Name)
	}

	if c.Backtest.InitialCapital <= 0 {
		return badConfig("backtest.initial_capital must be positive, got %v", c.Backtest.InitialCapital)
	}
	if c.Backtest.FeeRate < 0 || c.Backtest.FeeRate > 0.01 {
		return badConfig("backtest.fee_rate must be in [0, 0.01], got %v", c.Backtest.FeeRate)
	}
	if c.Backtest.StartDate != "" && c.Backtest.EndDate != "" {
		start, err := types.ParseDate(c.Backtest.StartDate)
		if err != nil {
			return badConfig("backtest.start_date: %v", err)
		}
		end, err := types.ParseDate(c.Backtest.EndDate)
		if err != nil {
			return badConfig("backtest.end_date: %v", err)
		}
		if end.Before(start) {
			return badConfig("backtest.end_date %s must not be before start_date %s",
				c.Backtest.EndDate, c.Backtest.StartDate)
		}
	}

	if r := c.Risk.MaxPositionRatio; r <= 0 || r > 1 {
		return badConfig("risk.max_position_ratio must be in (0, 1], got %v", r)
	}
	if r := c.Risk.StopLossRatio; r <= 0 || r > 1 {
		return badConfig("risk.stop_loss_ratio must be in (0, 1], got %v", r)
	}
	return nil
}

func badConfig(format string, args ...any) error {
	return errs.New(errs.KindConfig, fmt.Sprintf(format, args...))
}

func paramInt(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
