// Package config loads and validates the YAML configuration for the EOD
// valuation pipeline: orchestrator tuning, market data requirements,
// tolerance rules, risk limits, storage DSNs and the daemon schedule.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"cds-eod-engine/internal/domain"
)

type Config struct {
	Environment string `yaml:"environment" validate:"required"`

	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	Orchestrator struct {
		MaxRetries         int           `yaml:"max_retries" validate:"min=0,max=10"`
		RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
		StageTimeout       time.Duration `yaml:"stage_timeout"`
		ValuationWorkers   int           `yaml:"valuation_workers" validate:"min=0,max=64"`
		CancelPollInterval time.Duration `yaml:"cancel_poll_interval"`
	} `yaml:"orchestrator"`

	MarketData struct {
		RequiredEntities   []string `yaml:"required_entities"`
		RequiredCurrencies []string `yaml:"required_currencies"`

		Feed struct {
			URL            string        `yaml:"url" validate:"omitempty,uri"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay"`
			PingInterval   time.Duration `yaml:"ping_interval"`
		} `yaml:"feed"`
	} `yaml:"market_data"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	ClickHouse struct {
		DSN string `yaml:"dsn"`
	} `yaml:"clickhouse"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Schedule struct {
		// RunAt is the local wall-clock trigger time, "HH:MM".
		RunAt    string `yaml:"run_at" validate:"omitempty,len=5"`
		Timezone string `yaml:"timezone"`
	} `yaml:"schedule"`

	ToleranceRules []ToleranceRuleConfig `yaml:"tolerance_rules" validate:"dive"`
	RiskLimits     []RiskLimitConfig     `yaml:"risk_limits" validate:"dive"`
}

// ToleranceRuleConfig seeds one reconciliation tolerance rule.
type ToleranceRuleConfig struct {
	RuleID       string   `yaml:"rule_id" validate:"required"`
	Type         string   `yaml:"type" validate:"oneof=NPV_CHANGE PNL_THRESHOLD"`
	AppliesTo    string   `yaml:"applies_to" validate:"oneof=ALL PORTFOLIO TRADE_TYPE"`
	PortfolioID  string   `yaml:"portfolio_id"`
	TradeType    string   `yaml:"trade_type"`
	AbsThreshold *float64 `yaml:"abs_threshold"`
	PctThreshold *float64 `yaml:"pct_threshold"`
	Severity     string   `yaml:"severity" validate:"omitempty,oneof=INFO WARNING ERROR CRITICAL"`
}

// RiskLimitConfig seeds one risk limit.
type RiskLimitConfig struct {
	LimitID          string   `yaml:"limit_id" validate:"required"`
	Type             string   `yaml:"type" validate:"oneof=CS01 IR01 JTD NOTIONAL VAR_95 VAR_99"`
	FirmWide         bool     `yaml:"firm_wide"`
	PortfolioID      string   `yaml:"portfolio_id"`
	Limit            float64  `yaml:"limit" validate:"gt=0"`
	WarningThreshold *float64 `yaml:"warning_threshold"`
}

// Load reads, defaults and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides secrets-bearing fields
// with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.ClickHouse.DSN = v
	}
	if v := os.Getenv("MARKET_FEED_URL"); v != "" {
		c.MarketData.Feed.URL = v
	}
	if v := os.Getenv("REQUIRED_ENTITIES"); v != "" {
		c.MarketData.RequiredEntities = strings.Split(v, ",")
	}

	return c, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	c := &Config{Environment: "development"}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Orchestrator.MaxRetries == 0 {
		c.Orchestrator.MaxRetries = 2
	}
	if c.Orchestrator.RetryBaseDelay == 0 {
		c.Orchestrator.RetryBaseDelay = 5 * time.Second
	}
	if c.Orchestrator.StageTimeout == 0 {
		c.Orchestrator.StageTimeout = 10 * time.Minute
	}
	if c.Orchestrator.ValuationWorkers == 0 {
		c.Orchestrator.ValuationWorkers = 4
	}
	if c.Orchestrator.CancelPollInterval == 0 {
		c.Orchestrator.CancelPollInterval = time.Second
	}
	if c.MarketData.Feed.ReconnectDelay == 0 {
		c.MarketData.Feed.ReconnectDelay = time.Second
	}
	if c.MarketData.Feed.PingInterval == 0 {
		c.MarketData.Feed.PingInterval = 30 * time.Second
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Schedule.RunAt == "" {
		c.Schedule.RunAt = "17:30"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "America/New_York"
	}
}

// Validate checks the configuration against its struct constraints plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if _, err := time.Parse("15:04", c.Schedule.RunAt); err != nil {
		return fmt.Errorf("schedule.run_at must be HH:MM: %w", err)
	}

	for _, r := range c.ToleranceRules {
		if r.AppliesTo == "PORTFOLIO" && r.PortfolioID == "" {
			return fmt.Errorf("tolerance rule %s: applies_to PORTFOLIO requires portfolio_id", r.RuleID)
		}
		if r.AbsThreshold == nil && r.PctThreshold == nil {
			return fmt.Errorf("tolerance rule %s: at least one of abs_threshold, pct_threshold is required", r.RuleID)
		}
	}
	for _, l := range c.RiskLimits {
		if !l.FirmWide && l.PortfolioID == "" {
			return fmt.Errorf("risk limit %s: portfolio-scoped limit requires portfolio_id", l.LimitID)
		}
		if l.WarningThreshold != nil && *l.WarningThreshold >= l.Limit {
			return fmt.Errorf("risk limit %s: warning_threshold must be below limit", l.LimitID)
		}
	}

	return nil
}

// DomainToleranceRules converts configured rules to domain records for
// seeding the tolerance rule store.
func (c *Config) DomainToleranceRules() []*domain.ValuationToleranceRule {
	rules := make([]*domain.ValuationToleranceRule, 0, len(c.ToleranceRules))
	for _, r := range c.ToleranceRules {
		severity := domain.SeverityWarning
		if r.Severity != "" {
			severity = domain.ExceptionSeverity(r.Severity)
		}
		rules = append(rules, &domain.ValuationToleranceRule{
			RuleID:       r.RuleID,
			RuleType:     domain.ToleranceRuleType(r.Type),
			AppliesTo:    domain.ToleranceScope(r.AppliesTo),
			PortfolioID:  r.PortfolioID,
			TradeType:    r.TradeType,
			AbsThreshold: decimalPtr(r.AbsThreshold),
			PctThreshold: decimalPtr(r.PctThreshold),
			Severity:     severity,
			Active:       true,
		})
	}
	return rules
}

// DomainRiskLimits converts configured limits to domain records for seeding
// the risk limit store.
func (c *Config) DomainRiskLimits() []*domain.RiskLimit {
	limits := make([]*domain.RiskLimit, 0, len(c.RiskLimits))
	for _, l := range c.RiskLimits {
		limits = append(limits, &domain.RiskLimit{
			LimitID:          l.LimitID,
			LimitType:        domain.LimitType(l.Type),
			FirmWide:         l.FirmWide,
			PortfolioID:      l.PortfolioID,
			LimitValue:       decimal.NewFromFloat(l.Limit),
			WarningThreshold: decimalPtr(l.WarningThreshold),
			Active:           true,
		})
	}
	return limits
}

func decimalPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
