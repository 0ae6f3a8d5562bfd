// Package daemon manages the Ascend engine lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // rewards.timezone must resolve on hosts without zoneinfo

	"github.com/BurntSushi/toml"

	"github.com/ascend-academy/ascend/internal/app/activity"
	"github.com/ascend-academy/ascend/internal/app/commission"
	"github.com/ascend-academy/ascend/internal/app/engagement"
	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/infra/events"
	"github.com/ascend-academy/ascend/internal/infra/store"
)

// Config holds all engine configuration.
type Config struct {
	Store        StoreConfig          `toml:"store"`
	API          APIConfig            `toml:"api"`
	Logging      LoggingConfig        `toml:"logging"`
	Telemetry    TelemetryConfig      `toml:"telemetry"`
	Events       EventsConfig         `toml:"events"`
	Levels       LevelsConfig         `toml:"levels"`
	Rewards      RewardsConfig        `toml:"rewards"`
	Streak       StreakConfig         `toml:"streak"`
	Commission   CommissionConfig     `toml:"commission"`
	Achievements []domain.Achievement `toml:"achievements"`
}

// StoreConfig selects the database.
type StoreConfig struct {
	Driver       string `toml:"driver"` // sqlite | postgres
	Dir          string `toml:"dir"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Mode  string `toml:"mode"` // development | production
	Level string `toml:"level"`
}

// TelemetryConfig controls metrics and health checks.
type TelemetryConfig struct {
	Prometheus            bool `toml:"prometheus"`
	HealthIntervalSeconds int  `toml:"health_interval_seconds"`
}

// EventsConfig selects the reward event bus.
type EventsConfig struct {
	Driver   string `toml:"driver"` // none | memory | redis
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// LevelsConfig describes the level curve. Explicit thresholds win over
// the exponential parameters.
type LevelsConfig struct {
	MaxLevel   int     `toml:"max_level"`
	Base       float64 `toml:"base"`
	Growth     float64 `toml:"growth"`
	Thresholds []int64 `toml:"thresholds"` // XP floor of level 1, 2, ...
}

// RewardsConfig prices activities.
type RewardsConfig struct {
	CompletionThreshold float64         `toml:"completion_threshold"`
	Timezone            string          `toml:"timezone"`
	Video               activity.Reward `toml:"video"`
	Module              activity.Reward `toml:"module"`
	Course              activity.Reward `toml:"course"`
	Cognitive           activity.Reward `toml:"cognitive"`
}

// StreakConfig tunes habit check-ins.
type StreakConfig struct {
	CooldownHours   float64                  `toml:"cooldown_hours"`
	ResetAfterHours float64                  `toml:"reset_after_hours"`
	CheckInXP       int64                    `toml:"checkin_xp"`
	CheckInCoins    int64                    `toml:"checkin_coins"`
	Milestones      []domain.StreakMilestone `toml:"milestones"`
}

// CommissionConfig holds the referral economy.
type CommissionConfig struct {
	TierSharesPercent []float64    `toml:"tier_shares"`
	Rules             []RuleConfig `toml:"rules"`
}

// RuleConfig is one commission rule as written in TOML.
type RuleConfig struct {
	Event     string  `toml:"event"`
	FlatCents int64   `toml:"flat_cents"`
	Percent   float64 `toml:"percent"`
	Active    *bool   `toml:"active"` // default true
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	home := ascendHome()
	streak := engagement.DefaultStreakConfig()
	rewards := activity.DefaultRewardTable()
	return Config{
		Store: StoreConfig{
			Driver: store.DriverSQLite,
			Dir:    home,
		},
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8420,
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Mode:  "development",
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Prometheus:            true,
			HealthIntervalSeconds: 30,
		},
		Events: EventsConfig{
			Driver:  events.DriverNone,
			Channel: events.DefaultChannel,
		},
		Levels: LevelsConfig{
			MaxLevel: 100,
			Base:     100,
			Growth:   1.2,
		},
		Rewards: RewardsConfig{
			CompletionThreshold: activity.DefaultCompletionThreshold,
			Timezone:            "UTC",
			Video:               rewards.Video,
			Module:              rewards.Module,
			Course:              rewards.Course,
			Cognitive:           rewards.Cognitive,
		},
		Streak: StreakConfig{
			CooldownHours:   streak.Cooldown.Hours(),
			ResetAfterHours: streak.ResetAfter.Hours(),
			CheckInXP:       streak.CheckInXP,
			CheckInCoins:    streak.CheckInCoins,
			Milestones:      streak.Milestones,
		},
		Commission: CommissionConfig{
			TierSharesPercent: []float64{25, 15, 10},
			Rules: []RuleConfig{
				{Event: string(domain.EventRegistration), FlatCents: 500},
				{Event: string(domain.EventSubscriptionPurchase), Percent: 20},
				{Event: string(domain.EventCoursePurchase), Percent: 20},
				{Event: string(domain.EventServicePurchase), Percent: 10},
				{Event: string(domain.EventRenewal), Percent: 10},
			},
		},
	}
}

// LoadConfig reads $ASCEND_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile reads path over the defaults. A missing file is not an error.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	// Lists replace rather than merge, so decode them fresh.
	cfg.Streak.Milestones = nil
	cfg.Commission.Rules = nil
	cfg.Commission.TierSharesPercent = nil
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	def := DefaultConfig()
	if !md.IsDefined("streak", "milestones") {
		cfg.Streak.Milestones = def.Streak.Milestones
	}
	if !md.IsDefined("commission", "rules") {
		cfg.Commission.Rules = def.Commission.Rules
	}
	if !md.IsDefined("commission", "tier_shares") {
		cfg.Commission.TierSharesPercent = def.Commission.TierSharesPercent
	}

	return cfg, cfg.Validate()
}

// SaveConfig writes the config to path, creating parent directories.
func SaveConfig(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Validate builds every derived setting once so errors surface at startup.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "", store.DriverSQLite, store.DriverPostgres:
	default:
		return &domain.ConfigError{Field: "store.driver", Reason: fmt.Sprintf("unsupported driver %q", c.Store.Driver)}
	}
	if c.Store.Driver == store.DriverPostgres && strings.TrimSpace(c.Store.DSN) == "" {
		return &domain.ConfigError{Field: "store.dsn", Reason: "required for postgres"}
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return &domain.ConfigError{Field: "api.port", Reason: "must be within 1..65535"}
	}
	switch strings.ToLower(c.Events.Driver) {
	case "", events.DriverNone, events.DriverMemory, events.DriverRedis:
	default:
		return &domain.ConfigError{Field: "events.driver", Reason: fmt.Sprintf("unsupported driver %q", c.Events.Driver)}
	}
	if _, err := c.LevelTable(); err != nil {
		return err
	}
	if _, err := c.Normalizer(); err != nil {
		return err
	}
	if _, err := c.StreakSettings(); err != nil {
		return err
	}
	if _, err := c.Calculator(); err != nil {
		return err
	}
	if _, err := c.Catalog(); err != nil {
		return err
	}
	return nil
}

// ─── Derived Settings ───────────────────────────────────────────────────────

// Location resolves rewards.timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Rewards.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Rewards.Timezone)
	if err != nil {
		return nil, &domain.ConfigError{Field: "rewards.timezone", Reason: err.Error()}
	}
	return loc, nil
}

// LevelTable builds the level curve.
func (c Config) LevelTable() (*engagement.LevelTable, error) {
	if len(c.Levels.Thresholds) > 0 {
		rows := make([]domain.LevelThreshold, len(c.Levels.Thresholds))
		for i, xp := range c.Levels.Thresholds {
			rows[i] = domain.LevelThreshold{Level: i + 1, MinMetric: xp}
		}
		return engagement.NewLevelTable(rows)
	}
	if c.Levels.MaxLevel < 1 || c.Levels.Base <= 0 || c.Levels.Growth < 1 {
		return nil, &domain.ConfigError{Field: "levels", Reason: "need max_level >= 1, base > 0 and growth >= 1"}
	}
	return engagement.NewLevelTable(engagement.ExponentialThresholds(c.Levels.MaxLevel, c.Levels.Base, c.Levels.Growth))
}

// Normalizer builds the activity normalizer.
func (c Config) Normalizer() (*activity.Normalizer, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	table := activity.RewardTable{
		Video:     c.Rewards.Video,
		Module:    c.Rewards.Module,
		Course:    c.Rewards.Course,
		Cognitive: c.Rewards.Cognitive,
	}
	return activity.NewNormalizer(table, c.Rewards.CompletionThreshold, loc)
}

// StreakSettings converts [streak] to the service config.
func (c Config) StreakSettings() (engagement.StreakConfig, error) {
	loc, err := c.Location()
	if err != nil {
		return engagement.StreakConfig{}, err
	}
	sc := engagement.StreakConfig{
		Cooldown:     hours(c.Streak.CooldownHours),
		ResetAfter:   hours(c.Streak.ResetAfterHours),
		CheckInXP:    c.Streak.CheckInXP,
		CheckInCoins: c.Streak.CheckInCoins,
		Milestones:   c.Streak.Milestones,
		Location:     loc,
	}
	return sc, sc.Validate()
}

// Calculator builds the commission calculator from [commission].
func (c Config) Calculator() (*commission.Calculator, error) {
	shares := make(domain.TierShares, len(c.Commission.TierSharesPercent))
	for i, pct := range c.Commission.TierSharesPercent {
		shares[i] = domain.PercentToBasisPoints(pct)
	}
	rules := make([]domain.CommissionRule, 0, len(c.Commission.Rules))
	for _, r := range c.Commission.Rules {
		active := true
		if r.Active != nil {
			active = *r.Active
		}
		rules = append(rules, domain.CommissionRule{
			EventType: domain.CommissionEvent(r.Event),
			FlatCents: r.FlatCents,
			PercentBP: domain.PercentToBasisPoints(r.Percent),
			Active:    active,
		})
	}
	return commission.NewCalculator(rules, shares)
}

// Catalog merges [[achievements]] over the built-in catalog.
func (c Config) Catalog() ([]domain.Achievement, error) {
	catalog := engagement.MergeCatalog(engagement.DefaultAchievements(), c.Achievements)
	if err := engagement.ValidateCatalog(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// ─── Paths ──────────────────────────────────────────────────────────────────

// ascendHome returns the Ascend data directory.
func ascendHome() string {
	if env := os.Getenv("ASCEND_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ascend")
}

// Home is exported for use by other packages.
func Home() string {
	return ascendHome()
}

// ConfigPath is $ASCEND_HOME/config.toml.
func ConfigPath() string {
	return filepath.Join(ascendHome(), "config.toml")
}
