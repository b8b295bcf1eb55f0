package content

import (
	"context"
	"testing"
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
)

func memItem(slug string, published time.Time) Item {
	return Item{
		Slug:        slug,
		Kind:        "post",
		Title:       slug,
		PublishedAt: published,
		ModifiedAt:  published,
	}
}

func TestMemorySourceRemoveUnpublishes(t *testing.T) {
	day := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	source := NewMemorySource(memItem("a", day), memItem("b", day.Add(time.Hour)))

	ctx := context.Background()
	count, err := source.LiveCount(ctx, partition.DayOf(day))
	if err != nil {
		t.Fatalf("LiveCount error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 live items, got %d", count)
	}

	source.Remove("a")
	count, _ = source.LiveCount(ctx, partition.DayOf(day))
	if count != 1 {
		t.Fatalf("expected 1 live item after removal, got %d", count)
	}

	source.Remove("a") // removing twice is harmless
	count, _ = source.LiveCount(ctx, partition.DayOf(day))
	if count != 1 {
		t.Fatalf("expected count unchanged after repeat removal, got %d", count)
	}
}

func TestMemorySourceTouchMovesModificationTime(t *testing.T) {
	published := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	edited := time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)
	source := NewMemorySource(memItem("a", published))

	mods, err := source.ModifiedSince(context.Background(), edited)
	if err != nil {
		t.Fatalf("ModifiedSince error: %v", err)
	}
	if len(mods) != 0 {
		t.Fatalf("expected no modifications before touch, got %v", mods)
	}

	source.Touch("a", edited)
	mods, _ = source.ModifiedSince(context.Background(), edited)
	if len(mods) != 1 {
		t.Fatalf("expected 1 modification at the boundary, got %v", mods)
	}
	if mods[0].Day.String() != "2025-06-10" {
		t.Errorf("modification keyed by publication day, got %s", mods[0].Day)
	}
}
