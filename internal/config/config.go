package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gregtusar/zerodte/pkg/alpaca"
	"github.com/gregtusar/zerodte/pkg/liquidity"
	"github.com/gregtusar/zerodte/pkg/logging"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/gregtusar/zerodte/pkg/orders"
	"github.com/gregtusar/zerodte/pkg/recovery"
	"github.com/gregtusar/zerodte/pkg/secrets"
	"github.com/gregtusar/zerodte/pkg/selector"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Alpaca    alpaca.Config   `mapstructure:"alpaca"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Selector  selector.Config `mapstructure:"selector"`
	Liquidity LiquidityConfig `mapstructure:"liquidity"`
	Orders    orders.Config   `mapstructure:"orders"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   logging.Config  `mapstructure:"logging"`
	Slack     SlackConfig     `mapstructure:"slack"`
	GCP       GCPConfig       `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type CalendarConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type RecoveryConfig struct {
	Backoff recovery.BackoffConfig `mapstructure:"backoff"`
	Log     recovery.FileLogConfig `mapstructure:"log"`
}

// LiquidityConfig exposes the empirically tuned filter constants.
type LiquidityConfig struct {
	JunkSpreadPct float64           `mapstructure:"junk_spread_pct"`
	JunkMaxMid    float64           `mapstructure:"junk_max_mid"`
	LowPriceMid   float64           `mapstructure:"low_price_mid"`
	LadderBreak   float64           `mapstructure:"ladder_break"`
	Progressive   ProgressiveConfig `mapstructure:"progressive"`
}

type ProgressiveConfig struct {
	MaxDTE              int              `mapstructure:"max_dte"`
	Step1MinVolume      int64            `mapstructure:"step1_min_volume"`
	Step1MaxSpreadAbs   float64          `mapstructure:"step1_max_spread_abs"`
	Step1MaxSpreadPct   float64          `mapstructure:"step1_max_spread_pct"`
	Step2MinVolume      int64            `mapstructure:"step2_min_volume"`
	Step2MaxSpreadAbs   float64          `mapstructure:"step2_max_spread_abs"`
	Step2MaxSpreadPct   float64          `mapstructure:"step2_max_spread_pct"`
	RelaxedOpenInterest map[string]int64 `mapstructure:"relaxed_open_interest"`
}

type TradingConfig struct {
	Underlyings []string `mapstructure:"underlyings"`
	Side        string   `mapstructure:"side"`
	Qty         int64    `mapstructure:"qty"`
	Concurrency int      `mapstructure:"concurrency"`
	DryRun      bool     `mapstructure:"dry_run"`
}

type StoreConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

type SlackConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Channel    string        `mapstructure:"channel"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/zerodte")
	}

	v.SetEnvPrefix("ZERODTE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		sm, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
		if err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
		defer sm.Close()
		applySecrets(ctx, &config, sm)
		logger.Info("Successfully loaded secrets from GCP Secret Manager")
	}

	if config.Alpaca.Timezone == "" {
		config.Alpaca.Timezone = config.Calendar.Timezone
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")

	v.SetDefault("alpaca.paper", true)
	v.SetDefault("alpaca.auth_type", string(alpaca.AuthTypeKey))
	v.SetDefault("alpaca.data_url", alpaca.DataURL)
	v.SetDefault("alpaca.feed", "indicative")
	v.SetDefault("alpaca.timeout", 30*time.Second)
	v.SetDefault("alpaca.requests_per_minute", 180)

	v.SetDefault("calendar.timezone", "America/New_York")

	bo := recovery.DefaultBackoffConfig()
	v.SetDefault("recovery.backoff.initial_delay", bo.InitialDelay)
	v.SetDefault("recovery.backoff.max_delay", bo.MaxDelay)
	v.SetDefault("recovery.backoff.multiplier", bo.Multiplier)
	v.SetDefault("recovery.backoff.max_attempts", bo.MaxAttempts)
	v.SetDefault("recovery.log.path", "./logs/recovery.jsonl")
	v.SetDefault("recovery.log.max_size_mb", 50)
	v.SetDefault("recovery.log.max_backups", 10)
	v.SetDefault("recovery.log.max_age_days", 30)

	sel := selector.DefaultConfig()
	v.SetDefault("selector.near_money_pct", sel.NearMoneyPct)
	v.SetDefault("selector.nearest_strikes", sel.NearestStrikes)
	v.SetDefault("selector.min_quote_coverage", sel.MinQuoteCoverage)
	v.SetDefault("selector.quote_concurrency", sel.QuoteConcurrency)
	v.SetDefault("selector.discovery_max_dte", sel.DiscoveryMaxDTE)
	v.SetDefault("selector.fallback_expiries", sel.FallbackExpiries)
	v.SetDefault("selector.data_integrity_cooldown", sel.DataIntegrityCooldown)
	v.SetDefault("selector.no_expiry_cooldown", sel.NoExpiryCooldown)
	v.SetDefault("selector.scale_min_improvement_pts", sel.ScaleMinImprovementPts)
	v.SetDefault("selector.scale_min_improvement_rel", sel.ScaleMinImprovementRel)
	v.SetDefault("selector.delta_min", sel.DeltaMin)
	v.SetDefault("selector.delta_max", sel.DeltaMax)
	v.SetDefault("selector.delta_max_distance_pct", sel.DeltaMaxDistancePct)

	lo := liquidity.DefaultOptions()
	v.SetDefault("liquidity.junk_spread_pct", lo.Guardrails.JunkSpreadPct)
	v.SetDefault("liquidity.junk_max_mid", lo.Guardrails.JunkMaxMid.InexactFloat64())
	v.SetDefault("liquidity.low_price_mid", lo.Guardrails.LowPriceMid.InexactFloat64())
	v.SetDefault("liquidity.ladder_break", lo.LadderBreak.InexactFloat64())
	p := lo.Progressive
	v.SetDefault("liquidity.progressive.max_dte", p.MaxDTE)
	v.SetDefault("liquidity.progressive.step1_min_volume", p.Step1MinVolume)
	v.SetDefault("liquidity.progressive.step1_max_spread_abs", p.Step1MaxSpreadAbs.InexactFloat64())
	v.SetDefault("liquidity.progressive.step1_max_spread_pct", p.Step1MaxSpreadPct)
	v.SetDefault("liquidity.progressive.step2_min_volume", p.Step2MinVolume)
	v.SetDefault("liquidity.progressive.step2_max_spread_abs", p.Step2MaxSpreadAbs.InexactFloat64())
	v.SetDefault("liquidity.progressive.step2_max_spread_pct", p.Step2MaxSpreadPct)
	relaxed := make(map[string]int64, len(p.RelaxedOpenInterest))
	for class, oi := range p.RelaxedOpenInterest {
		relaxed[string(class)] = oi
	}
	v.SetDefault("liquidity.progressive.relaxed_open_interest", relaxed)

	oc := orders.DefaultConfig()
	v.SetDefault("orders.poll_timeout", oc.PollTimeout)
	v.SetDefault("orders.poll_interval", oc.PollInterval)
	v.SetDefault("orders.time_in_force", oc.TimeInForce)
	v.SetDefault("orders.limit_offset", oc.LimitOffset)
	v.SetDefault("orders.limit_markup", oc.LimitMarkup)

	v.SetDefault("trading.side", "call")
	v.SetDefault("trading.qty", 1)
	v.SetDefault("trading.concurrency", 4)
	v.SetDefault("trading.dry_run", false)

	v.SetDefault("store.path", "./data/zerodte.badger")
	v.SetDefault("store.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("slack.timeout", 5*time.Second)

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")

	names := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.alpaca_key_id", names.AlpacaKeyID)
	v.SetDefault("gcp.secret_names.alpaca_secret_key", names.AlpacaSecretKey)
	v.SetDefault("gcp.secret_names.alpaca_oauth_token", names.AlpacaOAuth)
	v.SetDefault("gcp.secret_names.slack_webhook", names.SlackWebhook)
	v.SetDefault("gcp.secret_names.jwt_secret", names.JWTSecret)
}

func overrideFromEnv(config *Config) {
	// Both spellings are in circulation for the key id.
	if keyID := os.Getenv("ALPACA_KEY_ID"); keyID != "" {
		config.Alpaca.KeyID = keyID
	}
	if keyID := os.Getenv("ALPACA_API_KEY"); keyID != "" {
		config.Alpaca.KeyID = keyID
	}
	if secret := os.Getenv("ALPACA_SECRET_KEY"); secret != "" {
		config.Alpaca.SecretKey = secret
	}
	if token := os.Getenv("ALPACA_OAUTH_TOKEN"); token != "" {
		config.Alpaca.OAuthToken = token
	}
	if baseURL := os.Getenv("ALPACA_BASE_URL"); baseURL != "" {
		config.Alpaca.BaseURL = baseURL
	}
	if hook := os.Getenv("SLACK_WEBHOOK_URL"); hook != "" {
		config.Slack.WebhookURL = hook
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

// applySecrets fills only the credentials that are still empty.
func applySecrets(ctx context.Context, config *Config, src secrets.Source) {
	names := config.GCP.SecretNames
	fill := func(dst *string, name string) {
		if *dst == "" {
			*dst = src.GetSecretWithDefault(ctx, name, "")
		}
	}
	fill(&config.Alpaca.KeyID, names.AlpacaKeyID)
	fill(&config.Alpaca.SecretKey, names.AlpacaSecretKey)
	if config.Alpaca.AuthType == alpaca.AuthTypeOAuth {
		fill(&config.Alpaca.OAuthToken, names.AlpacaOAuth)
	}
	fill(&config.Slack.WebhookURL, names.SlackWebhook)
	fill(&config.Server.JWTSecret, names.JWTSecret)
}

// Options converts the configured constants into filter engine options.
// Tier tables and ladders keep their defaults.
func (c LiquidityConfig) Options() liquidity.Options {
	opts := liquidity.DefaultOptions()
	if c.JunkSpreadPct > 0 {
		opts.Guardrails.JunkSpreadPct = c.JunkSpreadPct
	}
	if c.JunkMaxMid > 0 {
		opts.Guardrails.JunkMaxMid = decimal.NewFromFloat(c.JunkMaxMid)
	}
	if c.LowPriceMid > 0 {
		opts.Guardrails.LowPriceMid = decimal.NewFromFloat(c.LowPriceMid)
	}
	if c.LadderBreak > 0 {
		opts.LadderBreak = decimal.NewFromFloat(c.LadderBreak)
	}

	p := c.Progressive
	if p.MaxDTE > 0 {
		opts.Progressive.MaxDTE = p.MaxDTE
	}
	if p.Step1MinVolume > 0 {
		opts.Progressive.Step1MinVolume = p.Step1MinVolume
	}
	if p.Step1MaxSpreadAbs > 0 {
		opts.Progressive.Step1MaxSpreadAbs = decimal.NewFromFloat(p.Step1MaxSpreadAbs)
	}
	if p.Step1MaxSpreadPct > 0 {
		opts.Progressive.Step1MaxSpreadPct = p.Step1MaxSpreadPct
	}
	if p.Step2MinVolume > 0 {
		opts.Progressive.Step2MinVolume = p.Step2MinVolume
	}
	if p.Step2MaxSpreadAbs > 0 {
		opts.Progressive.Step2MaxSpreadAbs = decimal.NewFromFloat(p.Step2MaxSpreadAbs)
	}
	if p.Step2MaxSpreadPct > 0 {
		opts.Progressive.Step2MaxSpreadPct = p.Step2MaxSpreadPct
	}
	if len(p.RelaxedOpenInterest) > 0 {
		relaxed := make(map[models.UnderlyingClass]int64, len(p.RelaxedOpenInterest))
		for class, oi := range p.RelaxedOpenInterest {
			relaxed[models.UnderlyingClass(class)] = oi
		}
		opts.Progressive.RelaxedOpenInterest = relaxed
	}
	return opts
}
