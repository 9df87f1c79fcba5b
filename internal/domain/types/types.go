// Package types contains result shapes handed to the orchestration layer.
package types

// DetectionResult summarizes one batch detection run.
type DetectionResult struct {
	RunID           string         `json:"run_id"`
	EntitiesScanned int            `json:"entities_scanned"`
	SignalsDetected int            `json:"signals_detected"`
	ByKind          map[string]int `json:"by_kind"`
}

// ActiveSummary aggregates the currently active early signals.
type ActiveSummary struct {
	TotalActive         int            `json:"total_active"`
	ByKind              map[string]int `json:"by_kind"`
	BySeverity          map[string]int `json:"by_severity"`
	EntitiesWithSignals int            `json:"entities_with_signals"`
}
