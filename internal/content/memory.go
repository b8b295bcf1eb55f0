package content

import (
	"context"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
)

// MemorySource is an in-memory Source for tests and local experiments.
// Items are keyed by slug; Put replaces, Remove unpublishes.
type MemorySource struct {
	mu    sync.RWMutex
	items map[string]Item
}

// NewMemorySource returns a source preloaded with items.
func NewMemorySource(items ...Item) *MemorySource {
	s := &MemorySource{items: make(map[string]Item, len(items))}
	for _, item := range items {
		s.items[item.Slug] = item
	}
	return s
}

// Put adds or replaces an item.
func (s *MemorySource) Put(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Slug] = item
}

// Remove drops the item with the given slug, simulating a hard delete.
func (s *MemorySource) Remove(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, slug)
}

// Touch updates an item's modification time, simulating an edit.
func (s *MemorySource) Touch(slug string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[slug]; ok {
		item.ModifiedAt = at
		s.items[slug] = item
	}
}

func (s *MemorySource) sorted() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].PublishedAt.Before(items[j].PublishedAt)
		}
		return items[i].Slug < items[j].Slug
	})
	return items
}

func (s *MemorySource) HasContent(_ context.Context, day partition.Day) (bool, error) {
	for _, item := range s.sorted() {
		if item.Day() == day {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemorySource) LiveCount(_ context.Context, day partition.Day) (int, error) {
	count := 0
	for _, item := range s.sorted() {
		if item.Day() == day {
			count++
		}
	}
	return count, nil
}

func (s *MemorySource) ItemsFor(_ context.Context, day partition.Day) ([]Item, error) {
	var items []Item
	for _, item := range s.sorted() {
		if item.Day() == day {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *MemorySource) ModifiedSince(_ context.Context, since time.Time) ([]Modification, error) {
	var mods []Modification
	for _, item := range s.sorted() {
		if !item.ModifiedAt.Before(since) {
			mods = append(mods, Modification{Day: item.Day(), ModifiedAt: item.ModifiedAt})
		}
	}
	return mods, nil
}

func (s *MemorySource) DaysWithContent(_ context.Context) ([]partition.Day, error) {
	seen := make(map[partition.Day]bool)
	var days []partition.Day
	for _, item := range s.sorted() {
		if !seen[item.Day()] {
			seen[item.Day()] = true
			days = append(days, item.Day())
		}
	}
	return days, nil
}

var _ Source = (*MemorySource)(nil)
