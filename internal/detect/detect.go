// Package detect computes which date partitions need a sitemap generated.
//
// A partition is missing when the content source has live items for it but
// no sitemap document is stored. A stored partition is stale when the source
// reports an item in it modified at or after the last completed watermark,
// or when the stored entry count no longer matches the live item count.
// The two lists are disjoint and together form the work set for a run.
package detect

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/sitemapd/internal/content"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/state"
	"git.home.luguber.info/inful/sitemapd/internal/store"
)

// Result is the outcome of one detection pass.
type Result struct {
	// Missing lists partitions with live content but no stored document,
	// ascending by day.
	Missing []partition.Day

	// Stale lists stored partitions whose document is out of date,
	// ascending by day. Never overlaps Missing.
	Stale []partition.Day
}

// Days returns the combined work set, missing partitions first. The slices
// are disjoint, so no day appears twice.
func (r Result) Days() []partition.Day {
	out := make([]partition.Day, 0, len(r.Missing)+len(r.Stale))
	out = append(out, r.Missing...)
	out = append(out, r.Stale...)
	return out
}

// Empty reports whether nothing needs generating.
func (r Result) Empty() bool {
	return len(r.Missing) == 0 && len(r.Stale) == 0
}

// Summary returns a short human-readable description of the result.
func (r Result) Summary() string {
	if r.Empty() {
		return "all sitemap partitions are up to date"
	}
	return fmt.Sprintf("%d missing and %d stale sitemap partitions", len(r.Missing), len(r.Stale))
}

// Detector compares the content source against the document store.
type Detector struct {
	source content.Source
	docs   *store.Store
	runs   *state.Store
	logger *slog.Logger
}

// New creates a detector over the given source and stores.
func New(source content.Source, docs *store.Store, runs *state.Store) *Detector {
	return &Detector{
		source: source,
		docs:   docs,
		runs:   runs,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (d *Detector) WithLogger(logger *slog.Logger) *Detector {
	d.logger = logger
	return d
}

// Detect runs one detection pass. When the source supports refreshing, the
// caller is expected to have refreshed it first.
func (d *Detector) Detect(ctx context.Context) (Result, error) {
	days, err := d.source.DaysWithContent(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list content days: %w", err)
	}

	stored, err := d.docs.EntryCounts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list stored documents: %w", err)
	}

	var result Result
	for _, day := range days {
		if _, ok := stored[day]; !ok {
			result.Missing = append(result.Missing, day)
		}
	}

	modified, err := d.modifiedDays(ctx)
	if err != nil {
		return Result{}, err
	}

	storedDays, err := d.docs.Days(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list stored days: %w", err)
	}
	for _, day := range storedDays {
		stale, err := d.isStale(ctx, day, stored[day], modified)
		if err != nil {
			return Result{}, err
		}
		if stale {
			result.Stale = append(result.Stale, day)
		}
	}

	d.logger.Debug("detection pass complete",
		"missing", len(result.Missing),
		"stale", len(result.Stale))
	return result, nil
}

// modifiedDays returns the set of days with an item modified at or after the
// last completed watermark. Without a watermark no run has ever completed,
// so modification times say nothing useful and the check is skipped.
func (d *Detector) modifiedDays(ctx context.Context) (map[partition.Day]bool, error) {
	watermark, ok, err := d.runs.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	if !ok {
		return nil, nil
	}

	mods, err := d.source.ModifiedSince(ctx, watermark)
	if err != nil {
		return nil, fmt.Errorf("list modified items: %w", err)
	}
	days := make(map[partition.Day]bool, len(mods))
	for _, m := range mods {
		days[m.Day] = true
	}
	return days, nil
}

func (d *Detector) isStale(ctx context.Context, day partition.Day, storedCount int, modified map[partition.Day]bool) (bool, error) {
	if modified[day] {
		return true, nil
	}
	live, err := d.source.LiveCount(ctx, day)
	if err != nil {
		return false, fmt.Errorf("count live items for %s: %w", day, err)
	}
	return live != storedCount, nil
}
