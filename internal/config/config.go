// Package config loads the engine configuration from file and environment.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file and the environment,
// layered over DefaultConfig. Environment variables use the BTE_ prefix with
// underscores, e.g. BTE_RISK_MAX_LEVERAGE=10.
func Load(path string) (types.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return types.Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := types.DefaultConfig()

	cfg.AccountCurrency = v.GetString("account_currency")
	cfg.InitialBalance = decimal.NewFromFloat(v.GetFloat64("initial_balance"))

	cfg.Risk.RiskPercent = v.GetFloat64("risk.risk_percent")
	cfg.Risk.MaxLeverage = v.GetFloat64("risk.max_leverage")
	cfg.Risk.MarginCeiling = v.GetFloat64("risk.margin_ceiling")
	cfg.Risk.MarginRate = v.GetFloat64("risk.margin_rate")
	cfg.Risk.MaxOpenTrades = v.GetInt("risk.max_open_trades")

	cfg.Data.ChunkSize = v.GetInt("data.chunk_size")
	cfg.Data.GapTolerance = v.GetDuration("data.gap_tolerance")

	cfg.WalkForward.Windows = v.GetInt("walk_forward.windows")
	cfg.WalkForward.TrainFraction = v.GetFloat64("walk_forward.train_fraction")
	cfg.WalkForward.OverfitRatio = v.GetFloat64("walk_forward.overfit_ratio")
	cfg.WalkForward.Workers = v.GetInt("walk_forward.workers")
	cfg.WalkForward.EvaluationBudget = v.GetInt("walk_forward.evaluation_budget")

	cfg.MaxHoldingBars = v.GetInt("max_holding_bars")

	// Viper lowercases map keys; instrument names are upper case by convention.
	if raw := v.GetStringMapString("rates"); len(raw) > 0 {
		rates := make(map[string]float64, len(raw))
		for pair, val := range raw {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return types.Config{}, fmt.Errorf("bad rate for %s: %w", pair, err)
			}
			rates[strings.ToUpper(pair)] = f
		}
		cfg.Rates = rates
	}

	if err := validate(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := types.DefaultConfig()
	v.SetDefault("account_currency", d.AccountCurrency)
	v.SetDefault("initial_balance", d.InitialBalance.InexactFloat64())
	v.SetDefault("risk.risk_percent", d.Risk.RiskPercent)
	v.SetDefault("risk.max_leverage", d.Risk.MaxLeverage)
	v.SetDefault("risk.margin_ceiling", d.Risk.MarginCeiling)
	v.SetDefault("risk.margin_rate", d.Risk.MarginRate)
	v.SetDefault("risk.max_open_trades", d.Risk.MaxOpenTrades)
	v.SetDefault("data.chunk_size", d.Data.ChunkSize)
	v.SetDefault("data.gap_tolerance", d.Data.GapTolerance)
	v.SetDefault("walk_forward.windows", d.WalkForward.Windows)
	v.SetDefault("walk_forward.train_fraction", d.WalkForward.TrainFraction)
	v.SetDefault("walk_forward.overfit_ratio", d.WalkForward.OverfitRatio)
	v.SetDefault("walk_forward.workers", d.WalkForward.Workers)
	v.SetDefault("walk_forward.evaluation_budget", d.WalkForward.EvaluationBudget)
	v.SetDefault("max_holding_bars", d.MaxHoldingBars)
}

func validate(cfg types.Config) error {
	if cfg.Risk.RiskPercent <= 0 || cfg.Risk.RiskPercent > 100 {
		return fmt.Errorf("risk_percent out of range: %v", cfg.Risk.RiskPercent)
	}
	if cfg.Risk.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage must be positive: %v", cfg.Risk.MaxLeverage)
	}
	if cfg.Risk.MarginCeiling <= 0 || cfg.Risk.MarginCeiling > 1 {
		return fmt.Errorf("margin_ceiling must be in (0,1]: %v", cfg.Risk.MarginCeiling)
	}
	if cfg.WalkForward.TrainFraction <= 0 || cfg.WalkForward.TrainFraction >= 1 {
		return fmt.Errorf("train_fraction must be in (0,1): %v", cfg.WalkForward.TrainFraction)
	}
	if cfg.WalkForward.Windows < 1 {
		return fmt.Errorf("walk_forward.windows must be at least 1: %d", cfg.WalkForward.Windows)
	}
	return nil
}
