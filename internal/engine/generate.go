package engine

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/sitemapd/internal/events"
	"git.home.luguber.info/inful/sitemapd/internal/metrics"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
	"git.home.luguber.info/inful/sitemapd/internal/store"
)

// Generate builds the sitemap document for one partition.
//
// Without force, an existing document is left untouched and the result
// carries CodeSitemapExists. An empty partition deletes any stored document
// and carries CodeNoContent; absence is the canonical representation of
// emptiness. Document writes adjust the aggregate entry count in the same
// transaction, so this is safe to call while a background run is active.
func (e *Engine) Generate(ctx context.Context, day partition.Day, force bool) (GenerateResult, error) {
	if err := e.refreshSource(ctx); err != nil {
		return GenerateResult{}, err
	}
	return e.generatePartition(ctx, day, force, "")
}

// generatePartition runs the per-partition algorithm. runID tags published
// events with the owning run, empty for direct calls.
func (e *Engine) generatePartition(ctx context.Context, day partition.Day, force bool, runID string) (GenerateResult, error) {
	start := e.now()

	if !force {
		exists, err := e.docs.Exists(ctx, day)
		if err != nil {
			return GenerateResult{}, fmt.Errorf("check existing document: %w", err)
		}
		if exists {
			e.recorder.IncPartitionResult(metrics.ResultSkipped)
			return GenerateResult{Day: day, Code: smerr.CodeSitemapExists}, nil
		}
	}

	rendered, err := e.generator.Generate(ctx, day)
	if err != nil {
		e.recorder.IncPartitionResult(metrics.ResultFailed)
		return GenerateResult{}, err
	}

	if rendered.Count == 0 {
		removed, err := e.docs.Delete(ctx, day)
		if err != nil {
			e.recorder.IncPartitionResult(metrics.ResultFailed)
			return GenerateResult{}, fmt.Errorf("remove empty partition %s: %w", day, err)
		}
		if removed {
			e.publishPartition(ctx, events.PartitionWrittenEvent{
				RunID:     runID,
				Day:       day.String(),
				Removed:   true,
				Forced:    force,
				Timestamp: e.now(),
			})
		}
		e.recorder.IncPartitionResult(metrics.ResultEmpty)
		e.logger.Debug("partition has no content", "day", day, "removed_document", removed)
		return GenerateResult{Day: day, Code: smerr.CodeNoContent}, nil
	}

	doc := store.Document{
		Day:        day,
		Content:    rendered.Content,
		EntryCount: rendered.Count,
	}
	if err := e.docs.Save(ctx, doc); err != nil {
		e.recorder.IncPartitionResult(metrics.ResultFailed)
		return GenerateResult{}, fmt.Errorf("save partition %s: %w", day, err)
	}

	e.publishPartition(ctx, events.PartitionWrittenEvent{
		RunID:      runID,
		Day:        day.String(),
		EntryCount: rendered.Count,
		Forced:     force,
		Timestamp:  e.now(),
	})
	e.recorder.IncPartitionResult(metrics.ResultSuccess)
	e.recorder.ObservePartitionDuration(e.now().Sub(start))
	e.logger.Debug("partition generated", "day", day, "entries", rendered.Count)

	return GenerateResult{Day: day, EntryCount: rendered.Count}, nil
}

// record folds one partition outcome into a batch summary.
func (b *BatchResult) record(day partition.Day, res GenerateResult, err error) {
	b.Attempted++
	switch {
	case err != nil:
		b.Errors = append(b.Errors, PartitionError{Day: day, Error: err.Error()})
	case res.Code == smerr.CodeSitemapExists:
		b.Skipped++
	case res.Code == smerr.CodeNoContent:
		b.Removed++
	default:
		b.Written++
	}
}

func (e *Engine) publishPartition(ctx context.Context, ev events.PartitionWrittenEvent) {
	if err := e.publisher.PartitionWritten(ctx, ev); err != nil {
		e.logger.Warn("failed to publish partition event", "day", ev.Day, "error", err)
	}
}
