package metrics

import "time"

// ResultLabel enumerates per-partition generation outcomes for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultSkipped ResultLabel = "skipped"
	ResultEmpty   ResultLabel = "empty"
	ResultFailed  ResultLabel = "failed"
)

// Recorder defines observability hooks for generation runs. Implementations
// may forward to Prometheus, OpenTelemetry, etc. All methods must be safe on
// the zero value so components can default to NoopRecorder.
type Recorder interface {
	ObservePartitionDuration(d time.Duration)
	ObserveRunDuration(kind string, d time.Duration)
	IncPartitionResult(result ResultLabel)
	IncRunOutcome(outcome string) // outcome: completed|cancelled|none
	IncTick()
	SetWorkRemaining(n int)
	SetAggregateEntries(n int)
	IncPing(endpoint string, success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePartitionDuration(time.Duration)   {}
func (NoopRecorder) ObserveRunDuration(string, time.Duration) {}
func (NoopRecorder) IncPartitionResult(ResultLabel)           {}
func (NoopRecorder) IncRunOutcome(string)                     {}
func (NoopRecorder) IncTick()                                 {}
func (NoopRecorder) SetWorkRemaining(int)                     {}
func (NoopRecorder) SetAggregateEntries(int)                  {}
func (NoopRecorder) IncPing(string, bool)                     {}
