// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	RPCURLs    []string `mapstructure:"rpc_list"`
	SwapAPIURL string   `mapstructure:"swap_api_url"`
	FeeAddress string   `mapstructure:"fee_address"`

	DataDir       string `mapstructure:"data_dir"`
	AllowlistPath string `mapstructure:"allowlist_path"`

	MinDepositSol           float64 `mapstructure:"min_deposit_sol"`
	PrivilegedMinDepositSol float64 `mapstructure:"privileged_min_deposit_sol"`
	PerTradeFloorSol        float64 `mapstructure:"per_trade_floor_sol"`
	TradeCeilingSol         float64 `mapstructure:"trade_ceiling_sol"`
	TradeFractionMin        float64 `mapstructure:"trade_fraction_min"`
	TradeFractionMax        float64 `mapstructure:"trade_fraction_max"`

	PollIntervalMs  int `mapstructure:"poll_interval_ms"`
	TradeDelayMs    int `mapstructure:"trade_delay_ms"`
	RetryDelayMs    int `mapstructure:"retry_delay_ms"`
	CallTimeoutMs   int `mapstructure:"call_timeout_ms"`
	SweepIntervalMs int `mapstructure:"sweep_interval_ms"`
	RetentionHours  int `mapstructure:"retention_hours"`

	MetricsAddr  string `mapstructure:"metrics_addr"`
	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
}

const (
	DefaultMinDepositSol    = 0.1
	DefaultPerTradeFloorSol = 0.001
	DefaultTradeCeilingSol  = 0.5
	DefaultPollIntervalMs   = 5000
	DefaultTradeDelayMs     = 8000
	DefaultRetryDelayMs     = 5000
	DefaultCallTimeoutMs    = 30000
	DefaultSweepIntervalMs  = 60000
	DefaultRetentionHours   = 72
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"min_deposit_sol":            DefaultMinDepositSol,
		"privileged_min_deposit_sol": 0.01,
		"per_trade_floor_sol":        DefaultPerTradeFloorSol,
		"trade_ceiling_sol":          DefaultTradeCeilingSol,
		"trade_fraction_min":         0.05,
		"trade_fraction_max":         0.15,
		"poll_interval_ms":           DefaultPollIntervalMs,
		"trade_delay_ms":             DefaultTradeDelayMs,
		"retry_delay_ms":             DefaultRetryDelayMs,
		"call_timeout_ms":            DefaultCallTimeoutMs,
		"sweep_interval_ms":          DefaultSweepIntervalMs,
		"retention_hours":            DefaultRetentionHours,
		"data_dir":                   "data",
		"metrics_addr":               ":9102",
		"log_file":                   "volumebot.log",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCURLs) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCURLs {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.SwapAPIURL == "" {
		return errors.New("swap_api_url is required")
	}
	if err := validateURL(cfg.SwapAPIURL, "http"); err != nil {
		return errors.New("invalid swap API URL protocol")
	}
	if cfg.FeeAddress == "" {
		return errors.New("fee_address is required")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.MinDepositSol <= 0 {
		return errors.New("invalid min_deposit_sol")
	}
	if cfg.PrivilegedMinDepositSol <= 0 || cfg.PrivilegedMinDepositSol > cfg.MinDepositSol {
		return errors.New("invalid privileged_min_deposit_sol")
	}
	if cfg.PerTradeFloorSol <= 0 {
		return errors.New("invalid per_trade_floor_sol")
	}
	if cfg.TradeCeilingSol < cfg.PerTradeFloorSol {
		return errors.New("trade_ceiling_sol below per_trade_floor_sol")
	}
	if cfg.TradeFractionMin <= 0 || cfg.TradeFractionMax > 1 || cfg.TradeFractionMin > cfg.TradeFractionMax {
		return fmt.Errorf("invalid trade fraction bounds [%f, %f]", cfg.TradeFractionMin, cfg.TradeFractionMax)
	}
	for name, val := range map[string]int{
		"poll_interval_ms":  cfg.PollIntervalMs,
		"trade_delay_ms":    cfg.TradeDelayMs,
		"retry_delay_ms":    cfg.RetryDelayMs,
		"call_timeout_ms":   cfg.CallTimeoutMs,
		"sweep_interval_ms": cfg.SweepIntervalMs,
	} {
		if val <= 0 {
			return fmt.Errorf("invalid %s", name)
		}
	}
	if cfg.RetentionHours < 0 {
		return errors.New("invalid retention_hours")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("VOLUMEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCURLs = cleanRPCs
		}
	}

	envFeeAddr := v.GetString("FEE_ADDRESS")
	if envFeeAddr != "" {
		cfg.FeeAddress = envFeeAddr
	}
	return nil
}

// Duration accessors. Raw config keeps integers for viper/env friendliness.

func (c *Config) PollInterval() time.Duration  { return time.Duration(c.PollIntervalMs) * time.Millisecond }
func (c *Config) TradeDelay() time.Duration    { return time.Duration(c.TradeDelayMs) * time.Millisecond }
func (c *Config) RetryDelay() time.Duration    { return time.Duration(c.RetryDelayMs) * time.Millisecond }
func (c *Config) CallTimeout() time.Duration   { return time.Duration(c.CallTimeoutMs) * time.Millisecond }
func (c *Config) SweepInterval() time.Duration { return time.Duration(c.SweepIntervalMs) * time.Millisecond }
func (c *Config) Retention() time.Duration     { return time.Duration(c.RetentionHours) * time.Hour }
