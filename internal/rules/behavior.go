package rules

import (
	"context"
	"errors"
	"fmt"

	"dogsense/ingestion/internal/domain"
)

// Threshold fires when a behavior's confidence is strictly greater than Above.
type Threshold struct {
	Behavior domain.Behavior `yaml:"behavior"`
	Above    float64         `yaml:"above"`
}

func DefaultThresholds() []Threshold {
	return []Threshold{
		{Behavior: domain.BehaviorDistressed, Above: 0.7},
		{Behavior: domain.BehaviorLimping, Above: 0.5},
		{Behavior: domain.BehaviorScratching, Above: 0.6},
	}
}

type BehaviorEvaluator struct {
	thresholds []Threshold
	emitter    *Emitter
}

func NewBehaviorEvaluator(thresholds []Threshold, emitter *Emitter) (*BehaviorEvaluator, error) {
	for _, t := range thresholds {
		if !domain.IsBehavior(string(t.Behavior)) {
			return nil, fmt.Errorf("rules: unknown behavior %q in thresholds", t.Behavior)
		}
	}
	return &BehaviorEvaluator{thresholds: thresholds, emitter: emitter}, nil
}

// Evaluate checks every threshold independently and emits one behavior_concern
// alert per exceeded threshold.
func (e *BehaviorEvaluator) Evaluate(ctx context.Context, petID int64, set *domain.BehaviorScoreSet) ([]*domain.Alert, error) {
	var (
		emitted []*domain.Alert
		errs    []error
	)
	for _, t := range e.thresholds {
		score, ok := set.Score(t.Behavior)
		if !ok || score <= t.Above {
			continue
		}

		pid := petID
		alert := domain.NewAlert(&pid, set.DeviceID, domain.CategoryBehaviorConcern, domain.SeverityMedium)
		alert.Title = fmt.Sprintf("Concerning Behavior: %s", t.Behavior)
		alert.Description = fmt.Sprintf("Detected high %s behavior", t.Behavior)
		alert.Detail = map[string]any{
			"behavior":   string(t.Behavior),
			"confidence": score,
			"threshold":  t.Above,
		}
		if err := e.emitter.Emit(ctx, alert); err != nil {
			errs = append(errs, err)
			continue
		}
		emitted = append(emitted, alert)
	}
	return emitted, errors.Join(errs...)
}
