package pipeline

import (
	"errors"
	"fmt"
)

// Stage names the step of message handling that failed.
type Stage string

const (
	StageParse    Stage = "parse"
	StageValidate Stage = "validate"
	StageResolve  Stage = "resolve"
	StagePersist  Stage = "persist"
	StageEvaluate Stage = "evaluate"
	StageHandle   Stage = "handle"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingDeviceID  = errors.New("missing device_id")
	ErrUnknownDevice    = errors.New("unknown device")
	ErrDeviceInactive   = errors.New("device inactive")
	ErrTimestampRange   = errors.New("timestamp out of range")
	ErrDeviceMismatch   = errors.New("payload device_id does not match topic")

	ErrQueueFull  = errors.New("dispatcher queue full")
	ErrStopped    = errors.New("dispatcher stopped")
	ErrNotRunning = errors.New("service not running")
)

type StageError struct {
	Stage    Stage
	Topic    string
	DeviceID string
	Err      error
}

func (e *StageError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("%s %s (device %s): %v", e.Stage, e.Topic, e.DeviceID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Topic, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf reports the stage carried by err, if it wraps a StageError.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Dropped reports whether err is an expected drop (bad payload or unregistered
// device) rather than a processing failure.
func Dropped(err error) bool {
	stage, ok := StageOf(err)
	if !ok {
		return false
	}
	switch stage {
	case StageParse, StageValidate, StageResolve:
		return true
	}
	return false
}

func stageErr(stage Stage, msg Message, deviceID string, err error) *StageError {
	return &StageError{Stage: stage, Topic: msg.Topic, DeviceID: deviceID, Err: err}
}
