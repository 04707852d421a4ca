package rules

import (
	"context"
	"errors"
	"math"
	"testing"

	"dogsense/ingestion/internal/domain"
)

func calmHistory(n int) []domain.BehaviorScoreSet {
	out := make([]domain.BehaviorScoreSet, n)
	for i := range out {
		out[i] = domain.BehaviorScoreSet{ID: int64(i + 1), PetID: 7, Scores: map[domain.Behavior]float64{domain.BehaviorResting: 0.5}}
	}
	return out
}

func TestAnomalyScore(t *testing.T) {
	current := &domain.BehaviorScoreSet{Scores: map[domain.Behavior]float64{domain.BehaviorResting: 0.5, domain.BehaviorBarking: 0.75}}
	score, devs := AnomalyScore(current, calmHistory(3))
	want := 0.75 / float64(len(domain.Behaviors))
	if math.Abs(score-want) > 1e-12 {
		t.Fatalf("expected %v got %v", want, score)
	}
	if devs[domain.BehaviorBarking] != 0.75 || devs[domain.BehaviorResting] != 0 {
		t.Fatalf("unexpected deviations %v", devs)
	}
	if len(devs) != len(domain.Behaviors) {
		t.Fatalf("expected a deviation per behavior got %d", len(devs))
	}
}

func TestAnomalyAlertAboveThreshold(t *testing.T) {
	emitter, sink, _, _ := newTestEmitter()
	history := &fakeHistory{sets: calmHistory(5)}
	e := NewAnomalyEvaluator(history, 10, DefaultAnomalyThreshold, emitter)

	current := &domain.BehaviorScoreSet{ID: 99, PetID: 7, DeviceID: "cam-1", Scores: map[domain.Behavior]float64{
		domain.BehaviorResting:    0.5,
		domain.BehaviorDistressed: 1,
		domain.BehaviorWhining:    1,
		domain.BehaviorPanting:    1,
		domain.BehaviorBarking:    1,
		domain.BehaviorLimping:    1,
	}}
	alert, err := e.Evaluate(context.Background(), 7, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert == nil {
		t.Fatalf("expected an anomaly alert")
	}
	if alert.Category != domain.CategoryBehavior || alert.Severity != domain.SeverityLow || alert.Type != "behavior_anomaly" {
		t.Fatalf("unexpected alert %s/%s/%s", alert.Category, alert.Severity, alert.Type)
	}
	if alert.Detail["history_size"] != 5 {
		t.Fatalf("unexpected history size %v", alert.Detail["history_size"])
	}
	if history.excludeID != 99 || history.limit != 10 {
		t.Fatalf("history queried with exclude=%d limit=%d", history.excludeID, history.limit)
	}
	if len(sink.saved()) != 1 {
		t.Fatalf("expected alert to be saved")
	}
}

func TestAnomalyBelowThreshold(t *testing.T) {
	emitter, sink, _, _ := newTestEmitter()
	e := NewAnomalyEvaluator(&fakeHistory{sets: calmHistory(5)}, 10, DefaultAnomalyThreshold, emitter)
	alert, err := e.Evaluate(context.Background(), 7, &domain.BehaviorScoreSet{ID: 99, Scores: map[domain.Behavior]float64{domain.BehaviorResting: 0.6}})
	if err != nil || alert != nil || len(sink.saved()) != 0 {
		t.Fatalf("expected no alert got %v err=%v", alert, err)
	}
}

func TestAnomalyEmptyHistory(t *testing.T) {
	emitter, sink, _, _ := newTestEmitter()
	e := NewAnomalyEvaluator(&fakeHistory{}, 10, DefaultAnomalyThreshold, emitter)
	alert, err := e.Evaluate(context.Background(), 7, &domain.BehaviorScoreSet{ID: 1, Scores: map[domain.Behavior]float64{domain.BehaviorDistressed: 1}})
	if err != nil || alert != nil || len(sink.saved()) != 0 {
		t.Fatalf("first observation must not alert")
	}
}

func TestAnomalyDisabled(t *testing.T) {
	history := &fakeHistory{err: errors.New("should not be called")}
	e := NewAnomalyEvaluator(history, 0, DefaultAnomalyThreshold, NewEmitter(&fakeSink{}, nil, nil))
	alert, err := e.Evaluate(context.Background(), 7, &domain.BehaviorScoreSet{ID: 1})
	if err != nil || alert != nil {
		t.Fatalf("disabled evaluator must be a no-op, got %v %v", alert, err)
	}
}

func TestAnomalyHistoryError(t *testing.T) {
	boom := errors.New("db down")
	e := NewAnomalyEvaluator(&fakeHistory{err: boom}, 10, DefaultAnomalyThreshold, NewEmitter(&fakeSink{}, nil, nil))
	if _, err := e.Evaluate(context.Background(), 7, &domain.BehaviorScoreSet{ID: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected history error got %v", err)
	}
}
