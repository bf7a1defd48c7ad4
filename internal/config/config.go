package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"pubflow/internal/calendar"
	"pubflow/internal/distributor"
	"pubflow/internal/runner"
	"pubflow/internal/scheduler"
)

// Config covers process level configuration read from environment variables and an optional
// YAML file named by PUBFLOW_CONFIG. Environment variables win over the file.
type Config struct {
	Environment string
	LogLevel    string
	HTTPAddr    string
	DBPath      string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	NATSURL         string
	NATSSubject     string

	Cron         string
	Timezone     string
	Location     *time.Location
	BatchLimit   int
	SinkAttempts int

	MinPerDay int
	MaxPerDay int
	Budget    time.Duration
	Workers   int
	Holidays  []string

	Mode            string
	PeakProbability float64
	MaxRetries      int
	Collision       string
	Seed            int64
	Profiles        map[time.Weekday]distributor.HourProfile
}

// fileConfig is the YAML layout. Zero values leave the defaults alone.
type fileConfig struct {
	Window struct {
		MinPerDay     int `yaml:"min_per_day"`
		MaxPerDay     int `yaml:"max_per_day"`
		BudgetSeconds int `yaml:"budget_seconds"`
		Workers       int `yaml:"workers"`
	} `yaml:"window"`
	Distribution struct {
		Mode            string  `yaml:"mode"`
		PeakProbability float64 `yaml:"peak_probability"`
		MaxRetries      int     `yaml:"max_retries"`
		Collision       string  `yaml:"collision"`
		Seed            int64   `yaml:"seed"`
	} `yaml:"distribution"`
	Schedule struct {
		Cron       string `yaml:"cron"`
		Timezone   string `yaml:"timezone"`
		BatchLimit int    `yaml:"batch_limit"`
	} `yaml:"schedule"`
	Holidays []string                           `yaml:"holidays"`
	Profiles map[string]distributor.HourProfile `yaml:"profiles"`
}

func defaults() *Config {
	return &Config{
		Environment:     "development",
		LogLevel:        "",
		HTTPAddr:        ":8080",
		DBPath:          "pubflow.db",
		MongoDatabase:   "content",
		MongoCollection: "articles",
		NATSSubject:     "pubflow.runs",
		Cron:            "*/15 * * * *",
		Timezone:        "UTC",
		BatchLimit:      1000,
		SinkAttempts:    3,
		MinPerDay:       50,
		MaxPerDay:       80,
		Budget:          30 * time.Second,
		Workers:         1,
		Mode:            "humanized",
		PeakProbability: distributor.DefaultPeakProbability,
		MaxRetries:      distributor.DefaultMaxRetries,
		Collision:       string(distributor.CollisionAccept),
		Profiles:        distributor.DefaultProfiles(),
	}
}

// Load reads the optional YAML file, applies environment overrides, and validates the result.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("PUBFLOW_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Environment = getEnv("PUBFLOW_ENV", cfg.Environment)
	cfg.LogLevel = getEnv("PUBFLOW_LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPAddr = getEnv("PUBFLOW_HTTP_ADDR", cfg.HTTPAddr)
	cfg.DBPath = getEnv("PUBFLOW_DB_PATH", cfg.DBPath)
	cfg.MongoURI = getEnv("PUBFLOW_MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = getEnv("PUBFLOW_MONGO_DATABASE", cfg.MongoDatabase)
	cfg.MongoCollection = getEnv("PUBFLOW_MONGO_COLLECTION", cfg.MongoCollection)
	cfg.NATSURL = getEnv("PUBFLOW_NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = getEnv("PUBFLOW_NATS_SUBJECT", cfg.NATSSubject)
	cfg.Cron = getEnv("PUBFLOW_CRON", cfg.Cron)
	cfg.Timezone = getEnv("PUBFLOW_TIMEZONE", cfg.Timezone)
	cfg.Mode = getEnv("PUBFLOW_MODE", cfg.Mode)
	cfg.Collision = getEnv("PUBFLOW_COLLISION", cfg.Collision)

	budgetSeconds := int(cfg.Budget / time.Second)
	for _, e := range []struct {
		key string
		dst *int
	}{
		{"PUBFLOW_BATCH_LIMIT", &cfg.BatchLimit},
		{"PUBFLOW_SINK_ATTEMPTS", &cfg.SinkAttempts},
		{"PUBFLOW_MIN_PER_DAY", &cfg.MinPerDay},
		{"PUBFLOW_MAX_PER_DAY", &cfg.MaxPerDay},
		{"PUBFLOW_BUDGET_SECONDS", &budgetSeconds},
		{"PUBFLOW_WORKERS", &cfg.Workers},
		{"PUBFLOW_MAX_RETRIES", &cfg.MaxRetries},
	} {
		v, err := getEnvInt(e.key, *e.dst)
		if err != nil {
			return nil, err
		}
		*e.dst = v
	}
	cfg.Budget = time.Duration(budgetSeconds) * time.Second

	var err error
	if cfg.PeakProbability, err = getEnvFloat("PUBFLOW_PEAK_PROBABILITY", cfg.PeakProbability); err != nil {
		return nil, err
	}
	if cfg.Seed, err = getEnvInt64("PUBFLOW_SEED", cfg.Seed); err != nil {
		return nil, err
	}
	if v := os.Getenv("PUBFLOW_HOLIDAYS"); v != "" {
		cfg.Holidays = splitList(v)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setInt(&c.MinPerDay, fc.Window.MinPerDay)
	setInt(&c.MaxPerDay, fc.Window.MaxPerDay)
	setInt(&c.Workers, fc.Window.Workers)
	if fc.Window.BudgetSeconds > 0 {
		c.Budget = time.Duration(fc.Window.BudgetSeconds) * time.Second
	}
	setString(&c.Mode, fc.Distribution.Mode)
	setString(&c.Collision, fc.Distribution.Collision)
	setInt(&c.MaxRetries, fc.Distribution.MaxRetries)
	if fc.Distribution.PeakProbability > 0 {
		c.PeakProbability = fc.Distribution.PeakProbability
	}
	if fc.Distribution.Seed != 0 {
		c.Seed = fc.Distribution.Seed
	}
	setString(&c.Cron, fc.Schedule.Cron)
	setString(&c.Timezone, fc.Schedule.Timezone)
	setInt(&c.BatchLimit, fc.Schedule.BatchLimit)
	if len(fc.Holidays) > 0 {
		c.Holidays = fc.Holidays
	}
	for name, p := range fc.Profiles {
		day, err := distributor.ParseWeekday(name)
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		c.Profiles[day] = p
	}
	return nil
}

func (c *Config) validate() error {
	if c.MinPerDay <= 0 || c.MaxPerDay < c.MinPerDay {
		return fmt.Errorf("per-day bounds [%d,%d] are invalid: need 0 < min <= max", c.MinPerDay, c.MaxPerDay)
	}
	if c.Workers < 1 {
		return fmt.Errorf("PUBFLOW_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.Budget < 0 {
		return fmt.Errorf("budget must not be negative")
	}
	if c.BatchLimit < 1 {
		return fmt.Errorf("PUBFLOW_BATCH_LIMIT must be at least 1, got %d", c.BatchLimit)
	}
	if c.SinkAttempts < 1 {
		return fmt.Errorf("PUBFLOW_SINK_ATTEMPTS must be at least 1, got %d", c.SinkAttempts)
	}
	if c.PeakProbability <= 0 || c.PeakProbability > 1 {
		return fmt.Errorf("peak probability %.2f must be in (0,1]", c.PeakProbability)
	}
	if _, err := distributor.ParseMode(c.Mode); err != nil {
		return err
	}
	switch distributor.CollisionPolicy(c.Collision) {
	case distributor.CollisionAccept, distributor.CollisionProbe:
	default:
		return fmt.Errorf("unknown collision policy %q", c.Collision)
	}
	for day, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s profile: %w", day, err)
		}
	}
	if _, err := calendar.WithHolidays(c.Holidays); err != nil {
		return err
	}
	if err := scheduler.ValidateCronExpression(c.Cron); err != nil {
		return fmt.Errorf("cron %q: %w", c.Cron, err)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc
	return nil
}

// Calendar builds the working calendar with the configured holidays.
func (c *Config) Calendar() *calendar.Calendar {
	cal, err := calendar.WithHolidays(c.Holidays)
	if err != nil {
		// validated in Load
		return calendar.New()
	}
	return cal
}

func (c *Config) DistributorOptions() distributor.Options {
	return distributor.Options{
		Profiles:        c.Profiles,
		PeakProbability: c.PeakProbability,
		MaxRetries:      c.MaxRetries,
		Collision:       distributor.CollisionPolicy(c.Collision),
		Seed:            c.Seed,
	}
}

func (c *Config) RunnerOptions() runner.Options {
	mode, _ := distributor.ParseMode(c.Mode)
	return runner.Options{Workers: c.Workers, Mode: mode}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not an integer", key, val)
	}
	return parsed, nil
}

func getEnvInt64(key string, def int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not an integer", key, val)
	}
	return parsed, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a number", key, val)
	}
	return parsed, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
