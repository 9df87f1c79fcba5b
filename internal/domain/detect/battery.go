package detect

import (
	"context"
	"fmt"

	"github.com/okian/starsignal/internal/domain/model"
)

// Registered is a named detector in a Battery.
type Registered struct {
	Name   string
	Kind   model.Kind
	Detect Detector
}

// Failure describes a detector that errored or panicked for one entity.
type Failure struct {
	EntityID int64
	Detector string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("detector %s on entity %d: %v", f.Detector, f.EntityID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Battery runs a fixed, ordered list of detectors.
type Battery struct {
	thresholds Thresholds
	detectors  []Registered
}

// NewBattery registers the four stock detectors with t.
func NewBattery(t Thresholds) *Battery {
	b := &Battery{thresholds: t}
	b.Register("rising_star", model.KindRisingStar, RisingStar(t))
	b.Register("sudden_spike", model.KindSuddenSpike, SuddenSpike(t))
	b.Register("breakout", model.KindBreakout, Breakout(t))
	b.Register("viral_mention", model.KindViralMention, ViralMention(t))
	return b
}

// Register appends a detector. It is not safe to call while Run executes.
func (b *Battery) Register(name string, kind model.Kind, d Detector) {
	b.detectors = append(b.detectors, Registered{Name: name, Kind: kind, Detect: d})
}

// Detectors returns the registered detectors in run order.
func (b *Battery) Detectors() []Registered {
	out := make([]Registered, len(b.detectors))
	copy(out, b.detectors)
	return out
}

// Thresholds returns the thresholds the stock detectors were built with.
func (b *Battery) Thresholds() Thresholds { return b.thresholds }

// Run evaluates every detector for e. A failing or panicking detector is
// reported in failures and does not stop the others.
func (b *Battery) Run(ctx context.Context, e model.Entity, dc *Context) (found []model.EarlySignal, failures []Failure) {
	for _, d := range b.detectors {
		sig, err := safeDetect(ctx, d, e, dc)
		if err != nil {
			failures = append(failures, Failure{EntityID: e.ID, Detector: d.Name, Err: err})
			continue
		}
		if sig != nil {
			found = append(found, *sig)
		}
	}
	return found, failures
}

func safeDetect(ctx context.Context, d Registered, e model.Entity, dc *Context) (sig *model.EarlySignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.Detect(ctx, e, dc)
}
