package pipeline

import "time"

// Recorder receives run and stage measurements.
type Recorder interface {
	// ObserveStage is called once per capability invocation with outcome
	// "ok", "error" or "timeout".
	ObserveStage(stage, outcome string, elapsed time.Duration)
	// ObserveRun is called once per Run with the result status, or
	// "failure_<kind>" when the run failed.
	ObserveRun(status string, elapsed time.Duration, attempts int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, string, time.Duration) {}

func (nopRecorder) ObserveRun(string, time.Duration, int) {}
