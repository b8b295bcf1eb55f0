package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"git.home.luguber.info/inful/sitemapd/internal/frontmatter"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
)

// GitSource reads Markdown content from a git checkout.
//
// Files under contentDir are scanned into an in-memory snapshot; call
// Refresh to pick up new commits. The publication day comes from the
// `date` frontmatter field, the modification time from the most recent
// commit touching the file (falling back to the file's mtime for
// uncommitted changes). Drafts and undated files are ignored.
type GitSource struct {
	repoPath   string
	contentDir string

	mu    sync.RWMutex
	items []Item
}

// NewGitSource scans repoPath/contentDir and returns a ready source.
func NewGitSource(ctx context.Context, repoPath, contentDir string) (*GitSource, error) {
	s := &GitSource{repoPath: repoPath, contentDir: contentDir}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh rescans the content tree and commit history.
func (s *GitSource) Refresh(ctx context.Context) error {
	files, err := s.scanFiles(ctx)
	if err != nil {
		return err
	}

	need := make(map[string]bool, len(files))
	for _, f := range files {
		need[f.repoRel] = true
	}
	times, err := s.commitTimes(need)
	if err != nil {
		return err
	}

	items := make([]Item, 0, len(files))
	for _, f := range files {
		item, ok, err := s.buildItem(f, times)
		if err != nil {
			return err
		}
		if ok {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].PublishedAt.Before(items[j].PublishedAt)
		}
		return items[i].Slug < items[j].Slug
	})

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

type scannedFile struct {
	absPath string
	repoRel string // repo-root-relative, slash-separated
	treeRel string // contentDir-relative, slash-separated
}

func (s *GitSource) scanFiles(ctx context.Context) ([]scannedFile, error) {
	root := filepath.Join(s.repoPath, s.contentDir)
	var files []scannedFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, "_") || !strings.EqualFold(filepath.Ext(name), ".md") {
			return nil
		}

		repoRel, err := filepath.Rel(s.repoPath, path)
		if err != nil {
			return err
		}
		treeRel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, scannedFile{
			absPath: path,
			repoRel: filepath.ToSlash(repoRel),
			treeRel: filepath.ToSlash(treeRel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan content tree: %w", err)
	}
	return files, nil
}

// fileMeta is the frontmatter subset the source cares about.
type fileMeta struct {
	Title string `yaml:"title"`
	Slug  string `yaml:"slug"`
	Date  string `yaml:"date"`
	Type  string `yaml:"type"`
	Draft bool   `yaml:"draft"`
}

func (s *GitSource) buildItem(f scannedFile, times map[string]time.Time) (Item, bool, error) {
	raw, err := os.ReadFile(f.absPath)
	if err != nil {
		return Item{}, false, fmt.Errorf("read content file %s: %w", f.repoRel, err)
	}

	meta, body, _, err := frontmatter.Split(raw)
	if err != nil {
		return Item{}, false, fmt.Errorf("split frontmatter in %s: %w", f.repoRel, err)
	}
	var fm fileMeta
	if err := frontmatter.Decode(meta, &fm); err != nil {
		return Item{}, false, fmt.Errorf("decode frontmatter in %s: %w", f.repoRel, err)
	}

	if fm.Draft || fm.Date == "" {
		return Item{}, false, nil
	}
	published, err := parseDate(fm.Date)
	if err != nil {
		return Item{}, false, fmt.Errorf("parse date in %s: %w", f.repoRel, err)
	}

	modified, ok := times[f.repoRel]
	if !ok {
		info, statErr := os.Stat(f.absPath)
		if statErr != nil {
			return Item{}, false, statErr
		}
		modified = info.ModTime().UTC()
	}

	stem := strings.TrimSuffix(filepath.Base(f.absPath), filepath.Ext(f.absPath))
	slugSeed := fm.Slug
	if slugSeed == "" {
		slugSeed = stem
	}
	title := fm.Title
	if title == "" {
		title = stem
	}

	return Item{
		Slug:        Slugify(slugSeed),
		Kind:        kindOf(f.treeRel, fm.Type),
		Title:       title,
		Body:        string(body),
		BodyFormat:  FormatMarkdown,
		PublishedAt: published,
		ModifiedAt:  modified,
	}, true, nil
}

// kindOf derives the content kind from the tree location, with a
// frontmatter `type` override. Files at the tree root are pages.
func kindOf(treeRel, override string) string {
	if override != "" {
		return override
	}
	if i := strings.IndexByte(treeRel, '/'); i > 0 {
		return treeRel[:i]
	}
	return "page"
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate accepts the usual frontmatter date shapes. Layouts without an
// offset are read as UTC.
func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// commitTimes returns the most recent commit time per tracked path, walking
// history only until every needed path has been seen. A repository without
// commits yields an empty map.
func (s *GitSource) commitTimes(need map[string]bool) (map[string]time.Time, error) {
	times := make(map[string]time.Time, len(need))
	if len(need) == 0 {
		return times, nil
	}

	repo, err := git.PlainOpen(s.repoPath)
	if err != nil {
		return nil, fmt.Errorf("open git repository: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Fresh repository with no commits yet.
			return times, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("read commit log: %w", err)
	}
	defer iter.Close()

	found := 0
	err = iter.ForEach(func(c *object.Commit) error {
		stats, statsErr := c.Stats()
		if statsErr != nil {
			return nil // merge commits and similar; skip
		}
		when := c.Committer.When.UTC()
		for _, stat := range stats {
			name := stat.Name
			// Renames surface as "old => new"; the new path is current.
			if i := strings.LastIndex(name, " => "); i >= 0 {
				name = name[i+len(" => "):]
			}
			if _, seen := times[name]; seen || !need[name] {
				continue
			}
			times[name] = when
			found++
		}
		if found == len(need) {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk commit log: %w", err)
	}
	return times, nil
}

func (s *GitSource) snapshot() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items
}

func (s *GitSource) HasContent(_ context.Context, day partition.Day) (bool, error) {
	for _, item := range s.snapshot() {
		if item.Day() == day {
			return true, nil
		}
	}
	return false, nil
}

func (s *GitSource) LiveCount(_ context.Context, day partition.Day) (int, error) {
	count := 0
	for _, item := range s.snapshot() {
		if item.Day() == day {
			count++
		}
	}
	return count, nil
}

func (s *GitSource) ItemsFor(_ context.Context, day partition.Day) ([]Item, error) {
	var items []Item
	for _, item := range s.snapshot() {
		if item.Day() == day {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *GitSource) ModifiedSince(_ context.Context, since time.Time) ([]Modification, error) {
	var mods []Modification
	for _, item := range s.snapshot() {
		if !item.ModifiedAt.Before(since) {
			mods = append(mods, Modification{Day: item.Day(), ModifiedAt: item.ModifiedAt})
		}
	}
	return mods, nil
}

func (s *GitSource) DaysWithContent(_ context.Context) ([]partition.Day, error) {
	seen := make(map[partition.Day]bool)
	var days []partition.Day
	for _, item := range s.snapshot() {
		if !seen[item.Day()] {
			seen[item.Day()] = true
			days = append(days, item.Day())
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

var _ Source = (*GitSource)(nil)
var _ Refresher = (*GitSource)(nil)
