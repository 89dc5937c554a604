package models

import "time"

// Source says where a generation's asset came from.
type Source string

const (
	SourceCache       Source = "cache"
	SourceRemote      Source = "remote"
	SourcePlaceholder Source = "placeholder"
)

// GenerationRecord is one resolved generation in the ledger.
type GenerationRecord struct {
	ID            int64     `json:"id"`
	CacheKey      string    `json:"cache_key"`
	Prompt        string    `json:"prompt"`
	Seed          int64     `json:"seed"`
	GuidanceScale float64   `json:"guidance_scale"`
	Steps         int       `json:"num_inference_steps"`
	Source        Source    `json:"source"`
	URL           string    `json:"url"`
	SessionID     string    `json:"session_id,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// GenerationSummary aggregates ledger records by source.
type GenerationSummary struct {
	Source        Source `json:"source"`
	Count         int    `json:"count"`
	TotalDuration int64  `json:"total_duration_ms"`
	DistinctKeys  int    `json:"distinct_keys"`
}
