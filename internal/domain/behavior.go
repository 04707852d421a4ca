package domain

import (
	"fmt"
	"math"
	"time"
)

type Behavior string

const (
	BehaviorResting    Behavior = "resting"
	BehaviorActive     Behavior = "active"
	BehaviorAlert      Behavior = "alert"
	BehaviorDistressed Behavior = "distressed"
	BehaviorPlaying    Behavior = "playing"
	BehaviorEating     Behavior = "eating"
	BehaviorDrinking   Behavior = "drinking"
	BehaviorWalking    Behavior = "walking"
	BehaviorRunning    Behavior = "running"
	BehaviorBarking    Behavior = "barking"
	BehaviorWhining    Behavior = "whining"
	BehaviorPanting    Behavior = "panting"
	BehaviorLimping    Behavior = "limping"
	BehaviorScratching Behavior = "scratching"
	BehaviorSleeping   Behavior = "sleeping"
)

// Behaviors is the closed set of categories tracked end to end: decoded from
// payloads, stored as columns, and read by the rule evaluators.
var Behaviors = []Behavior{
	BehaviorResting,
	BehaviorActive,
	BehaviorAlert,
	BehaviorDistressed,
	BehaviorPlaying,
	BehaviorEating,
	BehaviorDrinking,
	BehaviorWalking,
	BehaviorRunning,
	BehaviorBarking,
	BehaviorWhining,
	BehaviorPanting,
	BehaviorLimping,
	BehaviorScratching,
	BehaviorSleeping,
}

func IsBehavior(name string) bool {
	for _, b := range Behaviors {
		if string(b) == name {
			return true
		}
	}
	return false
}

// BehaviorScoreSet holds independent per-category confidences in [0,1].
// Categories the classifier did not report are absent from Scores.
type BehaviorScoreSet struct {
	ID        int64
	PetID     int64
	DeviceID  string
	Timestamp time.Time
	Scores    map[Behavior]float64
}

// Score returns the confidence for b and whether it was reported.
func (s *BehaviorScoreSet) Score(b Behavior) (float64, bool) {
	v, ok := s.Scores[b]
	return v, ok
}

func ValidateScore(b Behavior, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("behavior %s: confidence %v outside [0,1]", b, v)
	}
	return nil
}
