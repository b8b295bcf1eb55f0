package engine

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/sitemap"
)

// Delete removes the stored document for one partition. Returns false when
// no document existed.
func (e *Engine) Delete(ctx context.Context, day partition.Day) (bool, error) {
	removed, err := e.docs.Delete(ctx, day)
	if err != nil {
		return false, err
	}
	if removed {
		e.logger.Info("partition document deleted", "day", day)
	}
	return removed, nil
}

// DeleteMatching removes every stored document matched by the queries and
// returns how many were removed.
func (e *Engine) DeleteMatching(ctx context.Context, queries []partition.Query) (int, error) {
	removed, err := e.docs.DeleteMatching(ctx, queries)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.logger.Info("partition documents deleted", "count", removed)
	}
	return removed, nil
}

// DeleteAll removes every stored document and zeroes the aggregate count.
func (e *Engine) DeleteAll(ctx context.Context) (int, error) {
	removed, err := e.docs.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	e.recorder.SetAggregateEntries(0)
	e.logger.Info("all partition documents deleted", "count", removed)
	return removed, nil
}

// Recount walks every stored document, repairs per-document entry counts
// and rewrites the aggregate from the corrected sum. Full mode re-parses
// the stored XML and treats unparseable content as zero entries, which
// forces regeneration on the next detection pass. Fast mode trusts the
// providers' current counts instead of parsing.
func (e *Engine) Recount(ctx context.Context, full bool) (RecountResult, error) {
	if !full {
		if err := e.refreshSource(ctx); err != nil {
			return RecountResult{}, err
		}
	}

	stored, err := e.docs.EntryCounts(ctx)
	if err != nil {
		return RecountResult{}, err
	}
	days, err := e.docs.Days(ctx)
	if err != nil {
		return RecountResult{}, err
	}

	var result RecountResult
	total := 0
	for _, day := range days {
		actual, err := e.actualCount(ctx, day, full)
		if err != nil {
			return RecountResult{}, err
		}
		total += actual
		if actual == stored[day] {
			continue
		}
		if err := e.docs.SetEntryCount(ctx, day, actual); err != nil {
			return RecountResult{}, fmt.Errorf("correct entry count for %s: %w", day, err)
		}
		result.Updated++
		result.Mismatches = append(result.Mismatches, day)
	}

	if err := e.docs.SetAggregateCount(ctx, total); err != nil {
		return RecountResult{}, fmt.Errorf("correct aggregate count: %w", err)
	}
	result.Aggregate = total
	e.recorder.SetAggregateEntries(total)
	e.logger.Info("recount finished",
		"mode", recountMode(full), "documents", len(days),
		"updated", result.Updated, "aggregate", total)
	return result, nil
}

func recountMode(full bool) string {
	if full {
		return "full"
	}
	return "fast"
}

// actualCount computes the authoritative entry count for one stored day.
func (e *Engine) actualCount(ctx context.Context, day partition.Day, full bool) (int, error) {
	if !full {
		n, err := e.registry.CountFor(ctx, day)
		if err != nil {
			return 0, fmt.Errorf("provider count for %s: %w", day, err)
		}
		return n, nil
	}

	doc, err := e.docs.Find(ctx, day)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, nil
	}
	n, err := sitemap.CountEntries(doc.Content)
	if err != nil {
		e.logger.Warn("stored document does not parse, counting zero entries",
			"day", day, "error", err)
		return 0, nil
	}
	return n, nil
}
