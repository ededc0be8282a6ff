/*
config.go - Service configuration

PURPOSE:
  One Config value built at startup and passed by pointer to the server,
  the CLI and the scheduler.

SOURCES (later wins):
  1. Defaults
  2. YAML file (-config / --config)
  3. .env in the working directory, loaded into the environment
  4. FUND_ETL_* environment variables

EXAMPLE:
  server:
    port: 8081
  database:
    path: /data/fund_data.db
  validation:
    threshold_percent: 5
    update_mode: full
  workflow:
    timeout: 45m
  alerts:
    enabled: true
    smtp_addr: smtp.internal:587
    to: [data-team@company.com]

SEE ALSO:
  - reconcile/config.go: Validated reconciliation settings
*/
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/fund-etl/reconcile"
	"github.com/warp/fund-etl/workflow"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FUND_ETL_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Validation ValidationConfig `yaml:"validation"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Source     SourceConfig     `yaml:"source"`
	Alerts     AlertsConfig     `yaml:"alerts"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ValidationConfig feeds reconcile.NewConfig.
type ValidationConfig struct {
	ThresholdPercent float64  `yaml:"threshold_percent"`
	CriticalFields   []string `yaml:"critical_fields"`
	UpdateMode       string   `yaml:"update_mode"`
	Workers          int      `yaml:"workers"`
	Epsilon          float64  `yaml:"epsilon"`
}

type WorkflowConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	OutputLines int           `yaml:"output_lines"`
}

// SchedulerConfig triggers the daily run once a day at Hour (local time),
// optionally followed by a lookback validation.
type SchedulerConfig struct {
	Enabled  bool `yaml:"enabled"`
	Hour     int  `yaml:"hour"`
	Validate bool `yaml:"validate"`
}

// SourceConfig locates the exported feeds.
type SourceConfig struct {
	Dir                   string        `yaml:"dir"`
	Retries               int           `yaml:"retries"`
	RetryDelay            time.Duration `yaml:"retry_delay"`
	CarryForwardOnFailure bool          `yaml:"carry_forward_on_failure"`
}

type AlertsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPAddr string   `yaml:"smtp_addr"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8081, CORSOrigins: []string{"*"}},
		Database: DatabaseConfig{Path: "fund_data.db"},
		Validation: ValidationConfig{
			ThresholdPercent: reconcile.DefaultThresholdPercent,
			CriticalFields:   append([]string(nil), reconcile.DefaultCriticalFields...),
			UpdateMode:       string(reconcile.ModeSelective),
			Workers:          reconcile.DefaultWorkers,
			Epsilon:          reconcile.DefaultEpsilon,
		},
		Workflow: WorkflowConfig{
			Timeout:     30 * time.Minute,
			OutputLines: workflow.DefaultOutputLines,
		},
		Scheduler: SchedulerConfig{Hour: 6},
		Source: SourceConfig{
			Dir:                   "data",
			Retries:               3,
			RetryDelay:            30 * time.Second,
			CarryForwardOnFailure: true,
		},
		Alerts: AlertsConfig{From: "fund-etl@localhost"},
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when empty), a .env file and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = splitList(v)
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	integer("PORT", &c.Server.Port)
	list("CORS_ORIGINS", &c.Server.CORSOrigins)
	str("DB_PATH", &c.Database.Path)

	float("THRESHOLD_PERCENT", &c.Validation.ThresholdPercent)
	list("CRITICAL_FIELDS", &c.Validation.CriticalFields)
	str("UPDATE_MODE", &c.Validation.UpdateMode)
	integer("WORKERS", &c.Validation.Workers)
	float("EPSILON", &c.Validation.Epsilon)

	duration("RUN_TIMEOUT", &c.Workflow.Timeout)
	integer("OUTPUT_LINES", &c.Workflow.OutputLines)

	boolean("SCHEDULER_ENABLED", &c.Scheduler.Enabled)
	integer("SCHEDULER_HOUR", &c.Scheduler.Hour)
	boolean("SCHEDULER_VALIDATE", &c.Scheduler.Validate)

	str("SOURCE_DIR", &c.Source.Dir)
	integer("SOURCE_RETRIES", &c.Source.Retries)
	duration("SOURCE_RETRY_DELAY", &c.Source.RetryDelay)
	boolean("CARRY_FORWARD_ON_FAILURE", &c.Source.CarryForwardOnFailure)

	boolean("ALERTS_ENABLED", &c.Alerts.Enabled)
	str("SMTP_ADDR", &c.Alerts.SMTPAddr)
	str("SMTP_FROM", &c.Alerts.From)
	list("SMTP_TO", &c.Alerts.To)
	str("SMTP_USERNAME", &c.Alerts.Username)
	str("SMTP_PASSWORD", &c.Alerts.Password)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks ranges and builds the reconciliation config once to
// reject unknown critical fields and modes.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is empty"))
	}
	if c.Workflow.Timeout < 0 {
		errs = append(errs, fmt.Errorf("workflow.timeout %s is negative", c.Workflow.Timeout))
	}
	if c.Workflow.OutputLines < 0 {
		errs = append(errs, fmt.Errorf("workflow.output_lines %d is negative", c.Workflow.OutputLines))
	}
	if c.Scheduler.Hour < 0 || c.Scheduler.Hour > 23 {
		errs = append(errs, fmt.Errorf("scheduler.hour %d out of range", c.Scheduler.Hour))
	}
	if c.Source.Retries < 0 {
		errs = append(errs, fmt.Errorf("source.retries %d is negative", c.Source.Retries))
	}
	if c.Alerts.Enabled && (c.Alerts.SMTPAddr == "" || len(c.Alerts.To) == 0) {
		errs = append(errs, errors.New("alerts.enabled needs smtp_addr and to"))
	}
	if _, err := c.Reconcile(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Reconcile builds the reconciliation config.
func (c *Config) Reconcile() (*reconcile.Config, error) {
	v := c.Validation
	return reconcile.NewConfig(reconcile.Options{
		ThresholdPercent: v.ThresholdPercent,
		CriticalFields:   v.CriticalFields,
		Mode:             reconcile.UpdateMode(v.UpdateMode),
		Epsilon:          v.Epsilon,
		Workers:          v.Workers,
	})
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
