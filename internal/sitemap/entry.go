// Package sitemap defines the sitemap entry model, the XML document encoding
// for date-partitioned sitemaps, and the generator that renders one partition
// from registered content providers.
package sitemap

import "time"

// ChangeFreq is the sitemap change-frequency hint.
type ChangeFreq string

const (
	ChangeAlways  ChangeFreq = "always"
	ChangeHourly  ChangeFreq = "hourly"
	ChangeDaily   ChangeFreq = "daily"
	ChangeWeekly  ChangeFreq = "weekly"
	ChangeMonthly ChangeFreq = "monthly"
	ChangeYearly  ChangeFreq = "yearly"
	ChangeNever   ChangeFreq = "never"
)

// Valid reports whether f is one of the sitemap protocol values. The empty
// string is valid and means "omit the hint".
func (f ChangeFreq) Valid() bool {
	switch f {
	case "", ChangeAlways, ChangeHourly, ChangeDaily, ChangeWeekly, ChangeMonthly, ChangeYearly, ChangeNever:
		return true
	}
	return false
}

// Image is an image reference attached to an entry, rendered with the
// Google image sitemap extension.
type Image struct {
	Loc   string
	Title string
}

// Entry is one URL in a partition document. Entries are produced by content
// providers and only ever persisted as part of an encoded document.
type Entry struct {
	Loc        string
	LastMod    time.Time
	Priority   float64
	ChangeFreq ChangeFreq
	Images     []Image
}
