package pipeline

import "time"

// Config collects every tunable named in spec.md §6 that the Pipeline and
// its background loops read.
type Config struct {
	HighAuthorityThreshold float64 // score >= this routes straight to the extractor
	MinSources             int     // corroboration threshold
	EventMergeWindow       time.Duration
	FlushEvery             time.Duration
	MaintenanceCron        string        // cron expression for the maintenance loop; falls back to MaintenanceInterval if empty/invalid
	MaintenanceInterval    time.Duration
	RetentionWindow        time.Duration

	BatchSize          int
	MaxBatchAge        time.Duration
	SummaryMinInterval time.Duration

	DedupCacheSize int
}

// DefaultConfig mirrors the typical values named in spec.md (§4.3, §4.4,
// §4.5, §4.5.3) and original_source/config equivalents.
func DefaultConfig() Config {
	return Config{
		HighAuthorityThreshold: 70,
		MinSources:             2,
		EventMergeWindow:       600 * time.Second,
		FlushEvery:             30 * time.Second,
		MaintenanceCron:        "0 * * * *",
		MaintenanceInterval:    time.Hour,
		RetentionWindow:        24 * time.Hour,
		BatchSize:              10,
		MaxBatchAge:            120 * time.Second,
		SummaryMinInterval:     60 * time.Second,
		DedupCacheSize:         5000,
	}
}
