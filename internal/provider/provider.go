// Package provider turns content items into sitemap entries.
//
// Each Provider owns the inclusion policy for one content kind. The Registry
// aggregates all registered providers for a day, in registration order,
// deduplicating entries by URL with last-registered-wins semantics.
package provider

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/sitemap"
)

// Provider produces sitemap entries for one content kind.
//
// A day without matching content is an ordinary empty answer, not an error.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Entries returns the sitemap entries for day.
	Entries(ctx context.Context, day partition.Day) ([]sitemap.Entry, error)

	// EstimateCount returns the number of entries Entries would yield,
	// without building them.
	EstimateCount(ctx context.Context, day partition.Day) (int, error)
}

// Registry aggregates providers in registration order.
type Registry struct {
	providers []Provider
}

// NewRegistry returns a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// Register appends a provider. Later registrations win URL conflicts.
func (r *Registry) Register(p Provider) {
	r.providers = append(r.providers, p)
}

// Providers returns the registered providers in order.
func (r *Registry) Providers() []Provider {
	return r.providers
}

// EntriesFor collects every provider's entries for day. Duplicate URLs keep
// their first position but carry the last registered provider's entry.
func (r *Registry) EntriesFor(ctx context.Context, day partition.Day) ([]sitemap.Entry, error) {
	var entries []sitemap.Entry
	position := make(map[string]int)

	for _, p := range r.providers {
		got, err := p.Entries(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name(), err)
		}
		for _, entry := range got {
			if i, seen := position[entry.Loc]; seen {
				entries[i] = entry
				continue
			}
			position[entry.Loc] = len(entries)
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// EmptyFor reports whether no provider yields any entry for day.
func (r *Registry) EmptyFor(ctx context.Context, day partition.Day) (bool, error) {
	entries, err := r.EntriesFor(ctx, day)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// CountFor sums the providers' entry estimates for day. Estimates do not
// account for cross-provider URL conflicts.
func (r *Registry) CountFor(ctx context.Context, day partition.Day) (int, error) {
	total := 0
	for _, p := range r.providers {
		n, err := p.EstimateCount(ctx, day)
		if err != nil {
			return 0, fmt.Errorf("provider %s: %w", p.Name(), err)
		}
		total += n
	}
	return total, nil
}

var _ sitemap.EntrySource = (*Registry)(nil)
