package provider

import (
	"context"
	"fmt"
	"net/url"

	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/content"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/sitemap"
)

// ItemProvider exposes one configured content kind as sitemap entries.
// Entry URLs are base_url + path_prefix + slug; image references inside
// item bodies are resolved against base_url when image extraction is on.
type ItemProvider struct {
	source content.Source
	base   *url.URL
	kind   config.KindConfig
}

// NewItemProvider builds a provider for one kind. baseURL must be absolute.
func NewItemProvider(source content.Source, baseURL string, kind config.KindConfig) (*ItemProvider, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL must be absolute, got %q", baseURL)
	}
	return &ItemProvider{source: source, base: base, kind: kind}, nil
}

// FromConfig wires a registry with one ItemProvider per configured kind.
func FromConfig(source content.Source, cfg *config.Config) (*Registry, error) {
	registry := NewRegistry()
	for _, kind := range cfg.Content.Kinds {
		p, err := NewItemProvider(source, cfg.Site.BaseURL, kind)
		if err != nil {
			return nil, fmt.Errorf("provider for kind %s: %w", kind.Kind, err)
		}
		registry.Register(p)
	}
	return registry, nil
}

func (p *ItemProvider) Name() string {
	return p.kind.Kind
}

func (p *ItemProvider) Entries(ctx context.Context, day partition.Day) ([]sitemap.Entry, error) {
	items, err := p.source.ItemsFor(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	var entries []sitemap.Entry
	for _, item := range items {
		if item.Kind != p.kind.Kind {
			continue
		}
		loc, err := url.JoinPath(p.base.String(), p.kind.PathPrefix, item.Slug)
		if err != nil {
			return nil, fmt.Errorf("build URL for %s: %w", item.Slug, err)
		}
		entry := sitemap.Entry{
			Loc:        loc,
			LastMod:    item.ModifiedAt,
			Priority:   p.kind.Priority,
			ChangeFreq: sitemap.ChangeFreq(p.kind.ChangeFreq),
		}
		if p.kind.Images {
			entry.Images = p.resolveImages(content.ExtractImages(item.Body, item.BodyFormat))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p *ItemProvider) EstimateCount(ctx context.Context, day partition.Day) (int, error) {
	items, err := p.source.ItemsFor(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("list items: %w", err)
	}
	count := 0
	for _, item := range items {
		if item.Kind == p.kind.Kind {
			count++
		}
	}
	return count, nil
}

// resolveImages absolutizes image references against the site base URL and
// drops anything that is not plain http(s).
func (p *ItemProvider) resolveImages(refs []content.ImageRef) []sitemap.Image {
	var images []sitemap.Image
	for _, ref := range refs {
		u, err := url.Parse(ref.URL)
		if err != nil {
			continue
		}
		resolved := p.base.ResolveReference(u)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		images = append(images, sitemap.Image{Loc: resolved.String(), Title: ref.Title})
	}
	return images
}

var _ Provider = (*ItemProvider)(nil)
