// Package config is Config & Bootstrap (C9): JSON5 config file + env
// overlay (env always wins; secrets are env-only), plus the two
// newline-delimited channel-list files with fsnotify hot-reload.
//
// Grounded on internal/config/config.go and config_load.go's Default() /
// Load() / applyEnvOverrides() shape from the teacher.
package config

import "time"

// Config is the root configuration for corrobot.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Pipeline  PipelineConfig  `json:"pipeline,omitempty"`
	Ingest    IngestConfig    `json:"ingest,omitempty"`
	LLM       LLMConfig       `json:"llm,omitempty"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	DataDir   string          `json:"data_dir,omitempty"`
}

// TelegramConfig holds the reader-session bot tokens. Token is the
// send-capable identity (session 0); ReaderTokens are additional
// read-only watchers (sessions 1..N-1).
type TelegramConfig struct {
	Token        string   `json:"-"` // env CORROBOT_TELEGRAM_TOKEN only
	ReaderTokens []string `json:"-"` // env CORROBOT_TELEGRAM_READER_TOKENS (comma-separated) only
}

// DatabaseConfig selects and configures the Durable Store backend.
// PostgresDSN is never read from the config file — only from env, matching
// the teacher's DatabaseConfig convention.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
	PostgresDSN string `json:"-"`              // env CORROBOT_POSTGRES_DSN only
}

// IsManagedMode reports whether the managed (Postgres) backend is configured.
func (d DatabaseConfig) IsManagedMode() bool {
	return d.Mode == "managed" && d.PostgresDSN != ""
}

// PipelineConfig holds the Pipeline and background-loop tunables from
// spec.md §6.
type PipelineConfig struct {
	HighAuthorityThreshold float64       `json:"high_authority_threshold,omitempty"`
	MatchThreshold         float64       `json:"match_threshold,omitempty"`
	MinSources             int           `json:"min_sources,omitempty"`
	EventMergeWindowSec    int           `json:"event_merge_window_seconds,omitempty"`
	FlushEverySec          int           `json:"flush_every_seconds,omitempty"`
	MaintenanceCron        string        `json:"maintenance_cron,omitempty"`
	RetentionWindowSec     int           `json:"retention_window_seconds,omitempty"`
	BatchSize              int           `json:"batch_size,omitempty"`
	MaxBatchAgeSec         int           `json:"max_batch_age_seconds,omitempty"`
	SummaryMinIntervalSec  int           `json:"summary_min_interval_seconds,omitempty"`
	DedupRetention         time.Duration `json:"-"`
}

// IngestConfig holds the channel-list files and fan-in tuning.
type IngestConfig struct {
	SourceChannelsFile string   `json:"source_channels_file,omitempty"`
	SmartChannelsFile  string   `json:"smart_channels_file,omitempty"`
	BlockPhrases       []string `json:"block_phrases,omitempty"`
	ScanBatchLimit     int      `json:"scan_batch_limit,omitempty"`
}

// LLMConfig holds the Signature Extractor's endpoint and limits.
type LLMConfig struct {
	Endpoint     string `json:"endpoint,omitempty"`
	APIKey       string `json:"-"` // env CORROBOT_LLM_API_KEY only
	BudgetHourly int    `json:"budget_hourly,omitempty"`
	RPMLimit     int    `json:"rpm_limit,omitempty"`
}

// DispatchConfig holds the output chat ids.
type DispatchConfig struct {
	ReportChat  string `json:"report_chat,omitempty"`
	SummaryChat string `json:"summary_chat,omitempty"`
}

// TelemetryConfig mirrors the teacher's own TelemetryConfig shape
// (internal/config/config.go): trace export only, no metrics/logs exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Protocol string `json:"protocol,omitempty"` // "grpc" or "http"
	Insecure bool   `json:"insecure,omitempty"`
}
