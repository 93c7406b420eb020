package service

import (
	"sync"
	"time"

	"crisp-voting-client/models"
)

// MetricsCollector tracks how long each step of the current attempt took
type MetricsCollector struct {
	mu      sync.RWMutex
	started time.Time
	steps   []StepMetrics
}

// StepMetrics contains timing information for one step
type StepMetrics struct {
	Step           models.VotingStep `json:"step"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        time.Time         `json:"end_time,omitempty"`
	ProcessingTime int64             `json:"processing_time_ms"`
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordStepStart closes the running step, if any, and opens step.
func (mc *MetricsCollector) RecordStepStart(step models.VotingStep, at time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.started.IsZero() {
		mc.started = at
	}
	mc.endRunning(at)

	mc.steps = append(mc.steps, StepMetrics{Step: step, StartTime: at})
}

// RecordEnd closes the running step.
func (mc *MetricsCollector) RecordEnd(at time.Time) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.endRunning(at)
}

func (mc *MetricsCollector) endRunning(at time.Time) {
	if len(mc.steps) == 0 {
		return
	}

	last := &mc.steps[len(mc.steps)-1]
	if !last.EndTime.IsZero() {
		return
	}
	last.EndTime = at
	last.ProcessingTime = at.Sub(last.StartTime).Milliseconds()
}

// GetMetrics returns the recorded steps in order.
func (mc *MetricsCollector) GetMetrics() []StepMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	steps := make([]StepMetrics, len(mc.steps))
	copy(steps, mc.steps)
	return steps
}

// Elapsed is the time between the first step and the end of the last one.
func (mc *MetricsCollector) Elapsed() time.Duration {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if len(mc.steps) == 0 {
		return 0
	}

	last := mc.steps[len(mc.steps)-1]
	if last.EndTime.IsZero() {
		return 0
	}
	return last.EndTime.Sub(mc.started)
}

// Reset clears all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.started = time.Time{}
	mc.steps = nil
}
