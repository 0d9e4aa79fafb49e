package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"hft-engine/infrastructure/logger"
	"hft-engine/infrastructure/monitor"
	"hft-engine/market"
	"hft-engine/order"
	"hft-engine/risk"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string                  `yaml:"env"`
	Engine    EngineConfig            `yaml:"engine"`
	Risk      risk.Limits             `yaml:"risk"`
	OrderBook OrderBookConfig         `yaml:"orderBook"`
	Feed      FeedConfig              `yaml:"feed"`
	Store     StoreConfig             `yaml:"store"`
	Redis     RedisConfig             `yaml:"redis"`
	Alert     AlertConfig             `yaml:"alert"`
	HotReload HotReloadConfig         `yaml:"hotReload"`
	Log       logger.Config           `yaml:"log"`
	Metrics   monitor.Config          `yaml:"metrics"`
	Symbols   map[string]SymbolConfig `yaml:"symbols"`
}

type EngineConfig struct {
	Paper           bool `yaml:"paper"`           // 纸面交易：下单即按限价全部成交
	TickIntervalMs  int  `yaml:"tickIntervalMs"`  // 行情循环间隔
	IntentQueueSize int  `yaml:"intentQueueSize"` // 策略意图队列长度
	IntentWorkers   int  `yaml:"intentWorkers"`
}

// TickInterval 行情循环间隔。
func (c EngineConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

type OrderBookConfig struct {
	Depth           int `yaml:"depth"`
	ImbalanceLevels int `yaml:"imbalanceLevels"`
	HistorySize     int `yaml:"historySize"`
}

// Market 转换为订单簿配置。
func (c OrderBookConfig) Market() market.Config {
	return market.Config{Depth: c.Depth, ImbalanceLevels: c.ImbalanceLevels, HistorySize: c.HistorySize}
}

// FeedConfig 行情源：paper 为本地随机游走，binance 为深度 websocket。
type FeedConfig struct {
	Mode     string      `yaml:"mode"`
	Endpoint string      `yaml:"endpoint"`
	Paper    PaperConfig `yaml:"paper"`
}

type PaperConfig struct {
	Volatility    float64 `yaml:"volatility"`    // 单步相对波动
	MeanReversion float64 `yaml:"meanReversion"` // 回归起始价的强度
	SpreadPct     float64 `yaml:"spreadPct"`
	Levels        int     `yaml:"levels"`
	Seed          int64   `yaml:"seed"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver"` // memory, postgres, sqlite
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlitePath"`
	MaxConns   int    `yaml:"maxConns"`
}

type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	SnapshotTTLMs int    `yaml:"snapshotTTLMs"`
	MinIntervalMs int    `yaml:"minIntervalMs"` // 每个交易对写缓存的最小间隔
	AlertTopic    string `yaml:"alertTopic"`
}

type AlertConfig struct {
	ThrottleSeconds int  `yaml:"throttleSeconds"`
	Redis           bool `yaml:"redis"` // 同时发布到 redis 频道
}

type HotReloadConfig struct {
	Enabled    bool `yaml:"enabled"`
	CooldownMs int  `yaml:"cooldownMs"`
}

// SymbolConfig 保存交易对的精度/名义限制和策略参数。
type SymbolConfig struct {
	TickSize    float64        `yaml:"tickSize"`
	StepSize    float64        `yaml:"stepSize"`
	MinQty      float64        `yaml:"minQty"`
	MinNotional float64        `yaml:"minNotional"`
	StartPrice  float64        `yaml:"startPrice"` // paper 行情的起始价
	Strategy    StrategyParams `yaml:"strategy"`
}

// Constraints 转换为下单约束。
func (s SymbolConfig) Constraints() order.SymbolConstraints {
	return order.SymbolConstraints{
		TickSize:    s.TickSize,
		StepSize:    s.StepSize,
		MinSize:     s.MinQty,
		MinNotional: s.MinNotional,
	}
}

type StrategyParams struct {
	Enabled          bool    `yaml:"enabled"`
	MinSpreadBps     float64 `yaml:"minSpreadBps"`     // 价差超过该值才出信号
	BaseSize         float64 `yaml:"baseSize"`         // 信号强度为 1 时的下单数量
	CooldownMs       int     `yaml:"cooldownMs"`       // 两次信号的最小间隔
	CanaryMultiplier float64 `yaml:"canaryMultiplier"` // 灰度期的数量系数
	MinSize          float64 `yaml:"minSize"`
	TargetSpreadPct  float64 `yaml:"targetSpreadPct"` // 报价价差占 mid 的比例
	FullSize         bool    `yaml:"fullSize"`        // 关闭灰度，按全量下单
	MaxDrift         float64 `yaml:"maxDrift"`        // 仓位超过该值时报价整体偏移
}

// Default 返回默认配置。
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Engine: EngineConfig{
			Paper:           true,
			TickIntervalMs:  10,
			IntentQueueSize: 256,
			IntentWorkers:   1,
		},
		Risk:      risk.DefaultLimits(),
		OrderBook: OrderBookConfig{Depth: 20, ImbalanceLevels: 5, HistorySize: 1000},
		Feed: FeedConfig{
			Mode:     "paper",
			Endpoint: "wss://stream.binance.com:9443/ws",
			Paper: PaperConfig{
				Volatility:    0.0005,
				MeanReversion: 0.001,
				SpreadPct:     0.0001,
				Levels:        10,
			},
		},
		Store:     StoreConfig{Driver: "memory", SQLitePath: "data/hft.db", MaxConns: 10},
		Redis:     RedisConfig{Addr: "localhost:6379", SnapshotTTLMs: 5000, MinIntervalMs: 100, AlertTopic: "hft:alerts"},
		Alert:     AlertConfig{ThrottleSeconds: 60},
		HotReload: HotReloadConfig{Enabled: true, CooldownMs: 1000},
		Log:       logger.DefaultConfig(),
		Metrics:   monitor.DefaultConfig(),
	}
}

// DefaultStrategy 默认做市参数。
func DefaultStrategy() StrategyParams {
	return StrategyParams{
		Enabled:          true,
		MinSpreadBps:     5,
		BaseSize:         1,
		CooldownMs:       1000,
		CanaryMultiplier: 0.1,
		MinSize:          0.01,
		TargetSpreadPct:  0.001,
	}
}

// withDefaults 未配置的策略参数取默认值。
func (p StrategyParams) withDefaults() StrategyParams {
	d := DefaultStrategy()
	if p.MinSpreadBps == 0 {
		p.MinSpreadBps = d.MinSpreadBps
	}
	if p.BaseSize == 0 {
		p.BaseSize = d.BaseSize
	}
	if p.CooldownMs == 0 {
		p.CooldownMs = d.CooldownMs
	}
	if p.CanaryMultiplier == 0 {
		p.CanaryMultiplier = d.CanaryMultiplier
	}
	if p.MinSize == 0 {
		p.MinSize = d.MinSize
	}
	if p.TargetSpreadPct == 0 {
		p.TargetSpreadPct = d.TargetSpreadPct
	}
	return p
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	for sym, sc := range cfg.Symbols {
		sc.Strategy = sc.Strategy.withDefaults()
		cfg.Symbols[sym] = sc
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads .env (if present) and the YAML config, then
// overrides connection settings from env vars.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	if err := loadDotEnv(); err != nil {
		return AppConfig{}, err
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("HFT_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("HFT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HFT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HFT_FEED_ENDPOINT"); v != "" {
		cfg.Feed.Endpoint = v
	}
	return cfg, Validate(cfg)
}

// dotEnvPath is overridden in tests.
var dotEnvPath = ".env"

// loadDotEnv 不覆盖已存在的环境变量。
func loadDotEnv() error {
	err := godotenv.Load(dotEnvPath)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", dotEnvPath, err)
}

// SymbolNames 返回排序后的交易对列表。
func (c AppConfig) SymbolNames() []string {
	out := make([]string, 0, len(c.Symbols))
	for s := range c.Symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if err := cfg.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if cfg.Engine.TickIntervalMs < 0 {
		return errors.New("engine.tickIntervalMs must be >= 0")
	}
	if cfg.Engine.IntentQueueSize < 0 || cfg.Engine.IntentWorkers < 0 {
		return errors.New("engine queue settings must be >= 0")
	}
	if cfg.OrderBook.Depth <= 0 || cfg.OrderBook.ImbalanceLevels <= 0 || cfg.OrderBook.HistorySize <= 0 {
		return errors.New("orderBook depth/imbalanceLevels/historySize must be > 0")
	}
	switch strings.ToLower(cfg.Feed.Mode) {
	case "paper":
	case "binance":
		if cfg.Feed.Endpoint == "" {
			return errors.New("feed.endpoint is required for binance mode")
		}
	default:
		return fmt.Errorf("unknown feed.mode %q", cfg.Feed.Mode)
	}
	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Store.DSN == "" {
			return errors.New("store.dsn is required for postgres (or HFT_STORE_DSN)")
		}
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			return errors.New("store.sqlitePath is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols config is required")
	}
	for sym, sc := range cfg.Symbols {
		if sc.TickSize < 0 || sc.StepSize < 0 {
			return fmt.Errorf("symbol %s tickSize/stepSize must be >= 0", sym)
		}
		if sc.MinQty < 0 || sc.MinNotional < 0 {
			return fmt.Errorf("symbol %s qty bounds must be >= 0", sym)
		}
		if strings.EqualFold(cfg.Feed.Mode, "paper") && sc.StartPrice <= 0 {
			return fmt.Errorf("symbol %s startPrice must be > 0 in paper mode", sym)
		}
		if !sc.Strategy.Enabled {
			continue
		}
		if sc.Strategy.MinSpreadBps < 0 {
			return fmt.Errorf("symbol %s strategy.minSpreadBps must be >= 0", sym)
		}
		if sc.Strategy.BaseSize <= 0 {
			return fmt.Errorf("symbol %s strategy.baseSize must be > 0", sym)
		}
		if sc.Strategy.CooldownMs < 0 {
			return fmt.Errorf("symbol %s strategy.cooldownMs must be >= 0", sym)
		}
		if sc.Strategy.CanaryMultiplier <= 0 || sc.Strategy.CanaryMultiplier > 1 {
			return fmt.Errorf("symbol %s strategy.canaryMultiplier must be in (0,1]", sym)
		}
	}
	return nil
}
