package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// scheduleTimeRe matches a wall-clock HH:MM schedule time.
var scheduleTimeRe = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// Load reads the YAML configuration file at path, expands ${VAR} environment
// references, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(strings.NewReader(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are rejected.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tuning fields with their documented
// defaults. It does not touch credentials or endpoints.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Scheduler.DailyScheduleTime == "" {
		cfg.Scheduler.DailyScheduleTime = "02:00"
	}
	if cfg.Scheduler.HistoricalDays <= 0 {
		cfg.Scheduler.HistoricalDays = 60
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 50
	}
	if cfg.Scheduler.MaxRetries <= 0 {
		cfg.Scheduler.MaxRetries = 3
	}
	if cfg.Scheduler.WorkerCount <= 0 {
		cfg.Scheduler.WorkerCount = 4
	}
	if cfg.Scheduler.AnalysisParallelism <= 0 {
		cfg.Scheduler.AnalysisParallelism = 2
	}
	if cfg.Scheduler.ItemTimeout <= 0 {
		cfg.Scheduler.ItemTimeout = Duration(5 * time.Minute)
	}
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = "data"
	}
	if cfg.ASR.Engine == "" {
		cfg.ASR.Engine = "full"
	}
	if cfg.ASR.MaxWait <= 0 {
		cfg.ASR.MaxWait = Duration(30 * time.Minute)
	}
	if cfg.ASR.ChunkDuration <= 0 {
		cfg.ASR.ChunkDuration = Duration(30 * time.Minute)
	}
	if cfg.Database.EmbeddingDimensions <= 0 {
		cfg.Database.EmbeddingDimensions = 1536
	}
	if cfg.Notetaker.CredentialKeyEnv == "" {
		cfg.Notetaker.CredentialKeyEnv = "CONVOSCOPE_CRED_KEY"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if !scheduleTimeRe.MatchString(cfg.Scheduler.DailyScheduleTime) {
		errs = append(errs, fmt.Errorf("scheduler.daily_schedule_time %q is not a valid HH:MM wall-clock time", cfg.Scheduler.DailyScheduleTime))
	}
	if cfg.Scheduler.WorkerCount > 64 {
		errs = append(errs, fmt.Errorf("scheduler.worker_count %d is out of range [1, 64]", cfg.Scheduler.WorkerCount))
	}

	if cfg.Telephony.BaseURL != "" {
		if cfg.Telephony.ClientID == "" || cfg.Telephony.JWT == "" {
			errs = append(errs, errors.New("telephony.client_id and telephony.jwt are required when telephony.base_url is set"))
		}
	}
	if cfg.ASR.BaseURL == "" {
		errs = append(errs, errors.New("asr.base_url is required"))
	}
	if cfg.Archive.BaseURL == "" {
		errs = append(errs, errors.New("archive.base_url is required"))
	}

	for task, route := range cfg.LLM.TaskRoutes {
		if route.Model == "" {
			errs = append(errs, fmt.Errorf("llm.task_routes[%q].model is required", task))
		}
		if route.Provider == "" {
			errs = append(errs, fmt.Errorf("llm.task_routes[%q].provider is required", task))
		}
	}

	if cfg.Alerts.Email != nil {
		e := cfg.Alerts.Email
		if e.Host == "" || e.From == "" || len(e.To) == 0 {
			errs = append(errs, errors.New("alerts.email requires host, from, and at least one recipient"))
		}
		if e.Port <= 0 || e.Port > 65535 {
			errs = append(errs, fmt.Errorf("alerts.email.port %d is out of range", e.Port))
		}
	}

	return errors.Join(errs...)
}
