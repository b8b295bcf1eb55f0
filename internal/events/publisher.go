// Package events publishes sitemap lifecycle events for downstream
// consumers (cache invalidation, dashboards, audit trails). Publishing is
// best-effort: callers log failures and continue, generation never blocks
// on a consumer.
package events

import "context"

// Publisher emits lifecycle events. Implementations must tolerate being
// called from the generation hot path; slow transports should buffer or
// drop rather than block.
type Publisher interface {
	RunStarted(ctx context.Context, ev RunStartedEvent) error
	PartitionWritten(ctx context.Context, ev PartitionWrittenEvent) error
	RunFinished(ctx context.Context, ev RunFinishedEvent) error
	Close() error
}

// NoopPublisher is a Publisher that does nothing (default when events are
// not configured).
type NoopPublisher struct{}

func (NoopPublisher) RunStarted(context.Context, RunStartedEvent) error             { return nil }
func (NoopPublisher) PartitionWritten(context.Context, PartitionWrittenEvent) error { return nil }
func (NoopPublisher) RunFinished(context.Context, RunFinishedEvent) error           { return nil }
func (NoopPublisher) Close() error                                                  { return nil }
