package detect

import "time"

// Thresholds are the cut-offs of every detector. Zero-value fields are not
// replaced with defaults; start from DefaultThresholds and override.
type Thresholds struct {
	RisingStarMaxStars        int64
	RisingStarMinVelocity     float64
	RisingStarVelocityRatio   float64
	RisingStarHighVelocity    float64
	RisingStarHighRatio       float64
	RisingStarMediumVelocity  float64
	RisingStarMediumRatio     float64
	RisingStarTTL             time.Duration
	SuddenSpikeWindow         int
	SuddenSpikeMultiplier     float64
	SuddenSpikeMinAbsolute    int64
	SuddenSpikeHigh           int64
	SuddenSpikeMedium         int64
	SuddenSpikeTTL            time.Duration
	BreakoutVelocityThreshold float64
	BreakoutPriorDays         float64 // span between the 7d and 30d anchors
	BreakoutHigh              float64
	BreakoutMedium            float64
	BreakoutTTL               time.Duration
	ViralMinScore             int64
	ViralWindow               time.Duration
	ViralHigh                 int64
	ViralMedium               int64
	ViralTTL                  time.Duration
}

// DefaultThresholds returns the stock detector configuration.
func DefaultThresholds() Thresholds {
	const day = 24 * time.Hour
	return Thresholds{
		RisingStarMaxStars:        5000,
		RisingStarMinVelocity:     10,
		RisingStarVelocityRatio:   0.01,
		RisingStarHighVelocity:    50,
		RisingStarHighRatio:       0.05,
		RisingStarMediumVelocity:  20,
		RisingStarMediumRatio:     0.02,
		RisingStarTTL:             7 * day,
		SuddenSpikeWindow:         30,
		SuddenSpikeMultiplier:     3,
		SuddenSpikeMinAbsolute:    100,
		SuddenSpikeHigh:           1000,
		SuddenSpikeMedium:         500,
		SuddenSpikeTTL:            3 * day,
		BreakoutVelocityThreshold: 2,
		BreakoutPriorDays:         23,
		BreakoutHigh:              10,
		BreakoutMedium:            5,
		BreakoutTTL:               7 * day,
		ViralMinScore:             100,
		ViralWindow:               48 * time.Hour,
		ViralHigh:                 500,
		ViralMedium:               200,
		ViralTTL:                  3 * day,
	}
}
