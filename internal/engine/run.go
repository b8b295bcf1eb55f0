package engine

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/sitemapd/internal/events"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/state"
)

// StartIncremental detects missing and stale partitions and generates them.
// With background true the work set is persisted and a run is scheduled for
// the tick loop; otherwise the whole set is generated before returning.
// An empty work set returns MethodNone without creating any run.
func (e *Engine) StartIncremental(ctx context.Context, background bool) (StartResult, error) {
	detected, err := e.Detect(ctx)
	if err != nil {
		return StartResult{}, err
	}
	work := detected.Days()
	if len(work) == 0 {
		e.logger.Info("nothing to generate", "summary", detected.Summary())
		return StartResult{Method: MethodNone}, nil
	}
	if background {
		return e.schedule(ctx, state.RunKindIncremental, work)
	}
	return e.runDirect(ctx, state.RunKindIncremental, work)
}

// StartFull schedules a rebuild of every partition that ever had content:
// the union of days the source reports live content for and days that
// currently hold a document. Stored days whose content is gone regenerate
// to empty and drop their document.
func (e *Engine) StartFull(ctx context.Context) (StartResult, error) {
	if err := e.refreshSource(ctx); err != nil {
		return StartResult{}, err
	}
	live, err := e.source.DaysWithContent(ctx)
	if err != nil {
		return StartResult{}, fmt.Errorf("list content days: %w", err)
	}
	stored, err := e.docs.Days(ctx)
	if err != nil {
		return StartResult{}, fmt.Errorf("list stored days: %w", err)
	}
	work := mergeDays(live, stored)
	if len(work) == 0 {
		return StartResult{Method: MethodNone}, nil
	}
	return e.schedule(ctx, state.RunKindFull, work)
}

// schedule begins a background run and persists its work set.
func (e *Engine) schedule(ctx context.Context, kind state.RunKind, work []partition.Day) (StartResult, error) {
	run, err := e.runs.Begin(ctx, kind, len(work))
	if err != nil {
		return StartResult{}, err
	}
	if err := e.runs.ClearWork(ctx); err != nil {
		_ = e.runs.Reset(ctx)
		return StartResult{}, fmt.Errorf("clear stale work set: %w", err)
	}
	if err := e.runs.PushWork(ctx, work); err != nil {
		_ = e.runs.Reset(ctx)
		return StartResult{}, fmt.Errorf("persist work set: %w", err)
	}

	e.recorder.SetWorkRemaining(len(work))
	e.publishStarted(ctx, run)
	e.logger.Info("generation run scheduled",
		"run_id", run.ID, "kind", kind, "partitions", len(work))
	return StartResult{Method: MethodBackground, Scheduled: len(work), RunID: run.ID}, nil
}

// runDirect generates the work set synchronously under a short-lived run,
// so progress reporting and cancellation work and no background run can
// start mid-pass.
func (e *Engine) runDirect(ctx context.Context, kind state.RunKind, work []partition.Day) (StartResult, error) {
	run, err := e.runs.Begin(ctx, kind, len(work))
	if err != nil {
		return StartResult{}, err
	}
	e.publishStarted(ctx, run)

	var batch BatchResult
	for _, day := range work {
		stopped, err := e.stopRequested(ctx)
		if err != nil {
			return StartResult{}, err
		}
		if stopped {
			batch.Stopped = true
			break
		}
		res, genErr := e.generatePartition(ctx, day, true, run.ID)
		batch.record(day, res, genErr)
		if genErr != nil {
			e.logger.Warn("partition generation failed", "day", day, "error", genErr)
		}
		if err := e.runs.Advance(ctx, 1); err != nil {
			return StartResult{}, err
		}
	}

	outcome := events.OutcomeCompleted
	if batch.Stopped {
		outcome = events.OutcomeCancelled
	}
	if err := e.finishRun(ctx, outcome); err != nil {
		return StartResult{}, err
	}
	return StartResult{
		Method:    MethodDirect,
		Scheduled: len(work),
		RunID:     run.ID,
		Batch:     &batch,
	}, nil
}

// Tick drives the active run forward by at most one batch of partitions.
// It is harmless when nothing is running and when delivered twice for the
// same interval; the persisted work queue hands each partition out once.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	e.recorder.IncTick()

	run, err := e.runs.Current(ctx)
	if err != nil {
		return TickResult{}, err
	}
	switch run.State {
	case state.RunIdle:
		return TickResult{Done: true, Completed: run.Completed, Total: run.Total}, nil
	case state.RunHalting:
		if err := e.finishRun(ctx, events.OutcomeCancelled); err != nil {
			return TickResult{}, err
		}
		return TickResult{
			Done:      true,
			Completed: run.Completed,
			Total:     run.Total,
			Outcome:   events.OutcomeCancelled,
		}, nil
	}

	if err := e.refreshSource(ctx); err != nil {
		return TickResult{}, err
	}

	var result TickResult
	batch := int(e.batchSize.Load())
	for i := 0; i < batch; i++ {
		stopped, err := e.stopRequested(ctx)
		if err != nil {
			return TickResult{}, err
		}
		if stopped {
			current, err := e.runs.Current(ctx)
			if err != nil {
				return TickResult{}, err
			}
			if err := e.finishRun(ctx, events.OutcomeCancelled); err != nil {
				return TickResult{}, err
			}
			result.Done = true
			result.Completed = current.Completed
			result.Total = current.Total
			result.Outcome = events.OutcomeCancelled
			return result, nil
		}

		// Partitions are popped one at a time so a crash mid-batch loses
		// at most the partition in flight.
		days, err := e.runs.PopWork(ctx, 1)
		if err != nil {
			return TickResult{}, err
		}
		if len(days) == 0 {
			break
		}
		day := days[0]

		if _, genErr := e.generatePartition(ctx, day, true, run.ID); genErr != nil {
			e.logger.Warn("partition generation failed", "day", day, "error", genErr)
			result.Errors = append(result.Errors, PartitionError{Day: day, Error: genErr.Error()})
		}
		if err := e.runs.Advance(ctx, 1); err != nil {
			return TickResult{}, err
		}
	}

	current, err := e.runs.Current(ctx)
	if err != nil {
		return TickResult{}, err
	}
	remaining, err := e.runs.WorkRemaining(ctx)
	if err != nil {
		return TickResult{}, err
	}
	e.recorder.SetWorkRemaining(remaining)

	result.Completed = current.Completed
	result.Total = current.Total
	if remaining == 0 {
		if err := e.finishRun(ctx, events.OutcomeCompleted); err != nil {
			return TickResult{}, err
		}
		result.Done = true
		result.Outcome = events.OutcomeCompleted
	}
	return result, nil
}

// Cancel requests that the active run stop. The halt takes effect at the
// next cancellation check, between two partitions or at the next tick.
// Returns false when nothing was running.
func (e *Engine) Cancel(ctx context.Context) (bool, error) {
	halted, err := e.runs.Halt(ctx)
	if err != nil {
		return false, err
	}
	if halted {
		e.logger.Info("cancellation requested")
	}
	return halted, nil
}

// stopRequested reports whether the in-flight pass should stop: either the
// caller's context is gone or a halt was requested.
func (e *Engine) stopRequested(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	run, err := e.runs.Current(ctx)
	if err != nil {
		return false, err
	}
	return run.State == state.RunHalting, nil
}

// finishRun closes out the active run. Completion advances the watermark;
// cancellation leaves it untouched, a cancelled run is not a completed one.
// Either way the queue is cleared and the state returns to idle. The
// bookkeeping runs detached from the caller's context so a run stopped by
// context cancellation still lands in a clean idle state.
func (e *Engine) finishRun(ctx context.Context, outcome string) error {
	ctx = context.WithoutCancel(ctx)
	run, err := e.runs.Current(ctx)
	if err != nil {
		return err
	}
	if outcome == events.OutcomeCompleted {
		if err := e.runs.SetWatermark(ctx, e.now()); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}
	if err := e.runs.ClearWork(ctx); err != nil {
		return fmt.Errorf("clear work set: %w", err)
	}
	if err := e.runs.Reset(ctx); err != nil {
		return fmt.Errorf("reset run state: %w", err)
	}

	e.recorder.SetWorkRemaining(0)
	e.recorder.IncRunOutcome(outcome)
	if !run.StartedAt.IsZero() {
		e.recorder.ObserveRunDuration(string(run.Kind), e.now().Sub(run.StartedAt))
	}
	if total, err := e.docs.AggregateCount(ctx); err == nil {
		e.recorder.SetAggregateEntries(total)
	}
	e.publishFinished(ctx, run, outcome)
	e.logger.Info("generation run finished",
		"run_id", run.ID, "outcome", outcome,
		"completed", run.Completed, "total", run.Total)
	return nil
}

func (e *Engine) publishStarted(ctx context.Context, run state.Run) {
	err := e.publisher.RunStarted(ctx, events.RunStartedEvent{
		RunID:     run.ID,
		Kind:      string(run.Kind),
		Total:     run.Total,
		Timestamp: e.now(),
	})
	if err != nil {
		e.logger.Warn("failed to publish run started event", "run_id", run.ID, "error", err)
	}
}

func (e *Engine) publishFinished(ctx context.Context, run state.Run, outcome string) {
	err := e.publisher.RunFinished(ctx, events.RunFinishedEvent{
		RunID:     run.ID,
		Kind:      string(run.Kind),
		Outcome:   outcome,
		Total:     run.Total,
		Completed: run.Completed,
		StartedAt: run.StartedAt,
		Timestamp: e.now(),
	})
	if err != nil {
		e.logger.Warn("failed to publish run finished event", "run_id", run.ID, "error", err)
	}
}

// mergeDays unions two ascending day lists into one ascending list without
// duplicates.
func mergeDays(a, b []partition.Day) []partition.Day {
	out := make([]partition.Day, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := a[i].Compare(b[j]); {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
