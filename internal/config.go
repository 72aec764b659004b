package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/draft"
	"github.com/starford/ansuz/internal/guardrail"
	"github.com/starford/ansuz/internal/scheduler"
	"github.com/starford/ansuz/internal/xapi"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	Guardrail GuardrailConfig   `yaml:"guardrails"`
	Schedule  ScheduleConfig    `yaml:"schedule"`
	API       APIConfig         `yaml:"api"`
	Secrets   SecretsConfig     `yaml:"secrets"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Insights  InsightsConfig    `yaml:"insights"`
	OAuth     OAuthConfig       `yaml:"oauth"`
	Daemon    DaemonConfig      `yaml:"daemon"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.Guardrail.Validate(); err != nil {
		return err
	}
	if err := c.Schedule.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return c.Daemon.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// WorkspaceConfig holds the path to the agent workspace directory that
// contains drafts/, state/, human/, and memory/.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// GuardrailConfig holds the publish guardrail settings.
type GuardrailConfig struct {
	MaxPostsPerDay         int    `yaml:"max_posts_per_day"`
	MinPostIntervalMinutes int    `yaml:"min_post_interval_minutes"`
	MaxLateMinutes         int    `yaml:"max_late_minutes"`
	RequiredHost           string `yaml:"required_host"`
	RequireApproval        bool   `yaml:"require_approval"`
	KillSwitchPath         string `yaml:"kill_switch_path"`
}

// Validate validates the guardrail configuration.
func (c *GuardrailConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxPostsPerDay, validation.Min(0)),
		validation.Field(&c.MinPostIntervalMinutes, validation.Min(0)),
		validation.Field(&c.MaxLateMinutes, validation.Required, validation.Min(1)),
	)
}

// Rules converts the configuration into guardrail rules.
func (c *GuardrailConfig) Rules() guardrail.Rules {
	return guardrail.Rules{
		MaxPostsPerDay:  c.MaxPostsPerDay,
		MinPostInterval: time.Duration(c.MinPostIntervalMinutes) * time.Minute,
		MaxLate:         time.Duration(c.MaxLateMinutes) * time.Minute,
		RequiredHost:    c.RequiredHost,
		RequireApproval: c.RequireApproval,
	}
}

// ScheduleConfig holds the slot grid used to assign publish times.
type ScheduleConfig struct {
	Timezone      string   `yaml:"timezone"`
	Slots         []string `yaml:"slots"`
	BufferMinutes int      `yaml:"buffer_minutes"`
	HorizonDays   int      `yaml:"horizon_days"`
}

// Validate validates the schedule configuration.
func (c *ScheduleConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Timezone, validation.Required),
		validation.Field(&c.Slots, validation.Required, validation.Length(1, 0)),
		validation.Field(&c.BufferMinutes, validation.Min(0)),
		validation.Field(&c.HorizonDays, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("schedule: unknown timezone %q: %w", c.Timezone, err)
	}
	if _, err := scheduler.ParseSlots(c.Slots); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	return nil
}

// SchedulerConfig converts the schedule and guardrail sections into the
// scheduler's resolved configuration.
func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("schedule: unknown timezone %q: %w", c.Schedule.Timezone, err)
	}
	slots, err := scheduler.ParseSlots(c.Schedule.Slots)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("schedule: %w", err)
	}
	return scheduler.Config{
		Location:        loc,
		Slots:           slots,
		Buffer:          time.Duration(c.Schedule.BufferMinutes) * time.Minute,
		HorizonDays:     c.Schedule.HorizonDays,
		MaxPostsPerDay:  c.Guardrail.MaxPostsPerDay,
		MinPostInterval: time.Duration(c.Guardrail.MinPostIntervalMinutes) * time.Minute,
		MaxLate:         time.Duration(c.Guardrail.MaxLateMinutes) * time.Minute,
	}, nil
}

// APIConfig holds the remote API endpoint.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Validate validates the API configuration.
func (c *APIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required),
	)
}

// SecretsConfig locates the credential files loaded at startup.
type SecretsConfig struct {
	Root string `yaml:"root"` // directory of per-workspace secrets files
	File string `yaml:"file"` // explicit file, overrides the root lookup
}

// MetricsConfig controls the metrics fetcher.
type MetricsConfig struct {
	FetchLimit         int `yaml:"fetch_limit"`          // most recent posts to consider
	MinIntervalMinutes int `yaml:"min_interval_minutes"` // skip posts fetched more recently
}

// Validate validates the metrics configuration.
func (c *MetricsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.FetchLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.MinIntervalMinutes, validation.Min(0)),
	)
}

// InsightsConfig holds the read-model database path.
type InsightsConfig struct {
	Path string `yaml:"path"`
}

// OAuthConfig holds the login-flow settings.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	RedirectURI  string `yaml:"redirect_uri"`
	CallbackAddr string `yaml:"callback_addr"`
	Scopes       string `yaml:"scopes"`
}

// DaemonConfig controls the long-running reconcile loop.
type DaemonConfig struct {
	TickMinutes int `yaml:"tick_minutes"`
}

// Validate validates the daemon configuration.
func (c *DaemonConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TickMinutes, validation.Required, validation.Min(1)),
	)
}

// Tick returns the daemon reconcile interval.
func (c *DaemonConfig) Tick() time.Duration {
	return time.Duration(c.TickMinutes) * time.Minute
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Workspace: WorkspaceConfig{
			Path: ".",
		},
		Guardrail: GuardrailConfig{
			MaxPostsPerDay:         2,
			MinPostIntervalMinutes: 180,
			MaxLateMinutes:         720,
			RequiredHost:           "autonomous",
			RequireApproval:        true,
			KillSwitchPath:         draft.StopFile,
		},
		Schedule: ScheduleConfig{
			Timezone:      "Asia/Tokyo",
			Slots:         []string{"07:30", "12:10", "20:30"},
			BufferMinutes: 10,
			HorizonDays:   7,
		},
		API: APIConfig{
			BaseURL: xapi.DefaultBaseURL,
		},
		Metrics: MetricsConfig{
			FetchLimit:         25,
			MinIntervalMinutes: 60,
		},
		Insights: InsightsConfig{
			Path: "state/insights.db",
		},
		OAuth: OAuthConfig{
			RedirectURI:  "http://127.0.0.1:8787/callback",
			CallbackAddr: "127.0.0.1:8787",
		},
		Daemon: DaemonConfig{
			TickMinutes: 10,
		},
	}
}
