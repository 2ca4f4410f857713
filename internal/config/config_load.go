package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults, mirroring the teacher's
// Default()-then-overlay shape in config_load.go.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Mode: "standalone"},
		Pipeline: PipelineConfig{
			HighAuthorityThreshold: 70,
			MatchThreshold:         0.6,
			MinSources:             2,
			EventMergeWindowSec:    600,
			FlushEverySec:          30,
			MaintenanceCron:        "0 * * * *",
			RetentionWindowSec:     86400,
			BatchSize:              10,
			MaxBatchAgeSec:         120,
			SummaryMinIntervalSec:  60,
		},
		Ingest: IngestConfig{
			SourceChannelsFile: "arab_channels.txt",
			SmartChannelsFile:  "smart_channels.txt",
			ScanBatchLimit:     100,
		},
		LLM: LLMConfig{
			Endpoint:     "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent",
			BudgetHourly: 120,
			RPMLimit:     18,
		},
		DataDir: "./data",
	}
}

// Load reads config from a JSON5 file (comments/trailing commas allowed,
// matching the teacher's titanous/json5 choice), then overlays env vars,
// which always win and are the only source for secrets.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}

	envStr("CORROBOT_TELEGRAM_TOKEN", &c.Telegram.Token)
	if v := os.Getenv("CORROBOT_TELEGRAM_READER_TOKENS"); v != "" {
		c.Telegram.ReaderTokens = splitNonEmpty(v, ",")
	}

	envStr("CORROBOT_DB_MODE", &c.Database.Mode)
	envStr("CORROBOT_POSTGRES_DSN", &c.Database.PostgresDSN)

	envFloat("CORROBOT_HIGH_AUTHORITY_THRESHOLD", &c.Pipeline.HighAuthorityThreshold)
	envFloat("CORROBOT_MATCH_THRESHOLD", &c.Pipeline.MatchThreshold)
	envInt("CORROBOT_MIN_SOURCES", &c.Pipeline.MinSources)
	envInt("CORROBOT_EVENT_MERGE_WINDOW", &c.Pipeline.EventMergeWindowSec)
	envInt("CORROBOT_FLUSH_EVERY", &c.Pipeline.FlushEverySec)
	envStr("CORROBOT_MAINTENANCE_CRON", &c.Pipeline.MaintenanceCron)
	envInt("CORROBOT_RETENTION_WINDOW", &c.Pipeline.RetentionWindowSec)
	envInt("CORROBOT_BATCH_SIZE", &c.Pipeline.BatchSize)
	envInt("CORROBOT_MAX_BATCH_AGE", &c.Pipeline.MaxBatchAgeSec)
	envInt("CORROBOT_SUMMARY_MIN_INTERVAL", &c.Pipeline.SummaryMinIntervalSec)

	envStr("CORROBOT_SOURCE_CHANNELS_FILE", &c.Ingest.SourceChannelsFile)
	envStr("CORROBOT_SMART_CHANNELS_FILE", &c.Ingest.SmartChannelsFile)
	envInt("CORROBOT_SCAN_BATCH_LIMIT", &c.Ingest.ScanBatchLimit)

	envStr("CORROBOT_LLM_ENDPOINT", &c.LLM.Endpoint)
	envStr("CORROBOT_LLM_API_KEY", &c.LLM.APIKey)
	envInt("CORROBOT_LLM_BUDGET_HOURLY", &c.LLM.BudgetHourly)
	envInt("CORROBOT_LLM_RPM_LIMIT", &c.LLM.RPMLimit)

	envStr("CORROBOT_REPORT_CHAT", &c.Dispatch.ReportChat)
	envStr("CORROBOT_SUMMARY_CHAT", &c.Dispatch.SummaryChat)

	envBool("CORROBOT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("CORROBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CORROBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envBool("CORROBOT_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	envStr("CORROBOT_DATA_DIR", &c.DataDir)
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
