package models

import "time"

// SystemMetrics is a JSON snapshot of the service's instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64     `json:"cache_hit_ratio"`
	CacheHits                uint64      `json:"cache_hits"`
	CacheMisses              uint64      `json:"cache_misses"`
	RequestsTotal            uint64      `json:"requests_total"`
	AverageRequestDurationMs float64     `json:"average_request_duration_ms"`
	GradesRecorded           uint64      `json:"grades_recorded"`
	CalculationsFinalized    uint64      `json:"calculations_finalized"`
	PromotionsDecided        uint64      `json:"promotions_decided"`
	Goroutines               int         `json:"goroutines"`
	RegisterQueue            *QueueStats `json:"register_queue,omitempty"`
	GeneratedAt              time.Time   `json:"generated_at"`
}

// QueueStats counts register job outcomes since the process started.
type QueueStats struct {
	Succeeded uint64 `json:"succeeded"`
	Retried   uint64 `json:"retried"`
	Dropped   uint64 `json:"dropped"`
}
