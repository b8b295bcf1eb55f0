package sitemap

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
)

// EntrySource yields the sitemap entries for one partition. The provider
// registry implements this.
type EntrySource interface {
	EntriesFor(ctx context.Context, day partition.Day) ([]Entry, error)
}

// Rendered is the output of generating one partition: the encoded document
// and the number of entries it contains. Count zero means the partition is
// empty and must be represented by absence, not by an empty document; that
// decision belongs to the caller.
type Rendered struct {
	Content []byte
	Count   int
}

// Generator renders one partition document from an entry source.
type Generator struct {
	source EntrySource
}

// NewGenerator creates a partition generator over the given entry source.
func NewGenerator(source EntrySource) *Generator {
	return &Generator{source: source}
}

// Generate collects all entries for the day and encodes them. For a day with
// no entries it returns a zero-count Rendered with no content.
func (g *Generator) Generate(ctx context.Context, day partition.Day) (Rendered, error) {
	entries, err := g.source.EntriesFor(ctx, day)
	if err != nil {
		return Rendered{}, fmt.Errorf("collect entries for %s: %w", day, err)
	}
	if len(entries) == 0 {
		return Rendered{}, nil
	}

	content, err := Encode(entries)
	if err != nil {
		return Rendered{}, fmt.Errorf("render partition %s: %w", day, err)
	}
	return Rendered{Content: content, Count: len(entries)}, nil
}
