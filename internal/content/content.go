// Package content provides read-only access to the site's content corpus.
//
// A Source answers the questions the detection and generation paths need:
// which days carry live content, how many items a day has, which items
// changed since a timestamp, and the items themselves. Two implementations
// exist: SQLiteSource reads a CMS-style content database, GitSource reads a
// Markdown tree inside a git checkout. MemorySource backs tests.
package content

import (
	"context"
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
)

// Body formats carried by Item.BodyFormat.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// Item is one live content item.
type Item struct {
	Slug        string
	Kind        string
	Title       string
	Body        string
	BodyFormat  string
	PublishedAt time.Time
	ModifiedAt  time.Time
}

// Day returns the UTC publication day the item belongs to.
func (i Item) Day() partition.Day {
	return partition.DayOf(i.PublishedAt)
}

// Modification reports one item changed at or after a given timestamp.
type Modification struct {
	Day        partition.Day
	ModifiedAt time.Time
}

// ImageRef is an image found inside an item body.
type ImageRef struct {
	URL   string
	Title string
}

// Source is a read-only view over the content corpus.
//
// Implementations must treat a day without content as an ordinary empty
// answer, never an error.
type Source interface {
	// HasContent reports whether at least one live item was published on day.
	HasContent(ctx context.Context, day partition.Day) (bool, error)

	// LiveCount returns the number of live items published on day.
	LiveCount(ctx context.Context, day partition.Day) (int, error)

	// ItemsFor returns the live items published on day, oldest first.
	ItemsFor(ctx context.Context, day partition.Day) ([]Item, error)

	// ModifiedSince returns one entry per live item modified at or after
	// since, keyed by the item's publication day.
	ModifiedSince(ctx context.Context, since time.Time) ([]Modification, error)

	// DaysWithContent returns every day with at least one live item,
	// ascending.
	DaysWithContent(ctx context.Context) ([]partition.Day, error)
}

// Refresher is an optional capability of a Source whose backing data is
// scanned into memory. Callers refresh before a detection pass.
type Refresher interface {
	Refresh(ctx context.Context) error
}
