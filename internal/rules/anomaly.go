package rules

import (
	"context"
	"fmt"
	"math"

	"dogsense/ingestion/internal/domain"
)

const DefaultAnomalyThreshold = 0.3

type BehaviorHistory interface {
	// RecentBehavior returns up to limit score sets for the pet, newest first,
	// leaving out the set with id excludeID.
	RecentBehavior(ctx context.Context, petID int64, excludeID int64, limit int) ([]domain.BehaviorScoreSet, error)
}

// AnomalyEvaluator compares a new score set with the pet's recent history and
// raises a low severity behavior alert when it deviates too far.
type AnomalyEvaluator struct {
	history   BehaviorHistory
	window    int
	threshold float64
	emitter   *Emitter
}

func NewAnomalyEvaluator(history BehaviorHistory, window int, threshold float64, emitter *Emitter) *AnomalyEvaluator {
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}
	return &AnomalyEvaluator{history: history, window: window, threshold: threshold, emitter: emitter}
}

func (e *AnomalyEvaluator) Evaluate(ctx context.Context, petID int64, set *domain.BehaviorScoreSet) (*domain.Alert, error) {
	if e.window <= 0 {
		return nil, nil
	}
	past, err := e.history.RecentBehavior(ctx, petID, set.ID, e.window)
	if err != nil {
		return nil, fmt.Errorf("load behavior history for pet %d: %w", petID, err)
	}
	if len(past) == 0 {
		return nil, nil
	}

	score, deviations := AnomalyScore(set, past)
	if !(score > e.threshold) {
		return nil, nil
	}

	devs := make(map[string]float64, len(deviations))
	for b, d := range deviations {
		devs[string(b)] = d
	}
	pid := petID
	alert := domain.NewAlert(&pid, set.DeviceID, domain.CategoryBehavior, domain.SeverityLow)
	alert.Type = "behavior_anomaly"
	alert.Title = "Unusual Behavior Pattern"
	alert.Description = fmt.Sprintf("Behavior deviates from the last %d observations (score %.2f)", len(past), score)
	alert.Detail = map[string]any{
		"anomaly_score": score,
		"threshold":     e.threshold,
		"deviations":    devs,
		"history_size":  len(past),
	}
	if err := e.emitter.Emit(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// AnomalyScore is the mean absolute deviation, across every tracked behavior,
// between current and the average of past. Unreported categories count as 0.
func AnomalyScore(current *domain.BehaviorScoreSet, past []domain.BehaviorScoreSet) (float64, map[domain.Behavior]float64) {
	deviations := make(map[domain.Behavior]float64, len(domain.Behaviors))
	if len(past) == 0 {
		return 0, deviations
	}
	var total float64
	for _, b := range domain.Behaviors {
		var sum float64
		for i := range past {
			sum += past[i].Scores[b]
		}
		avg := sum / float64(len(past))
		d := math.Abs(current.Scores[b] - avg)
		deviations[b] = d
		total += d
	}
	return total / float64(len(domain.Behaviors)), deviations
}
