package frontmatter

import (
	"errors"
	"testing"
	"time"
)

func TestSplitDocumentWithFrontmatter(t *testing.T) {
	doc := []byte("---\ntitle: Hello\ndate: 2025-06-10\n---\nBody text.\n")

	meta, body, had, err := Split(doc)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if !had {
		t.Fatalf("expected frontmatter to be detected")
	}
	if string(meta) != "title: Hello\ndate: 2025-06-10\n" {
		t.Errorf("unexpected meta: %q", meta)
	}
	if string(body) != "Body text.\n" {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestSplitDocumentWithoutFrontmatter(t *testing.T) {
	doc := []byte("Just a body.\n")

	meta, body, had, err := Split(doc)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if had {
		t.Fatalf("expected no frontmatter")
	}
	if meta != nil {
		t.Errorf("expected nil meta, got %q", meta)
	}
	if string(body) != string(doc) {
		t.Errorf("body should be full input, got %q", body)
	}
}

func TestSplitCRLF(t *testing.T) {
	doc := []byte("---\r\ntitle: Windows\r\n---\r\nBody\r\n")

	meta, _, had, err := Split(doc)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if !had {
		t.Fatalf("expected frontmatter to be detected")
	}
	if string(meta) != "title: Windows\r\n" {
		t.Errorf("unexpected meta: %q", meta)
	}
}

func TestSplitEmptyFrontmatter(t *testing.T) {
	doc := []byte("---\n---\nBody\n")

	meta, body, had, err := Split(doc)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if !had {
		t.Fatalf("expected frontmatter to be detected")
	}
	if len(meta) != 0 {
		t.Errorf("expected empty meta, got %q", meta)
	}
	if string(body) != "Body\n" {
		t.Errorf("unexpected body: %q", body)
	}
}

func TestSplitMissingClosingDelimiter(t *testing.T) {
	doc := []byte("---\ntitle: Broken\nno closing here\n")

	_, _, _, err := Split(doc)
	if !errors.Is(err, ErrMissingClosingDelimiter) {
		t.Fatalf("expected ErrMissingClosingDelimiter, got %v", err)
	}
}

func TestSplitClosingDelimiterAtEOF(t *testing.T) {
	doc := []byte("---\ntitle: Tight\n---")

	meta, body, had, err := Split(doc)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	if !had {
		t.Fatalf("expected frontmatter to be detected")
	}
	if string(meta) != "title: Tight\n" {
		t.Errorf("unexpected meta: %q", meta)
	}
	if len(body) != 0 {
		t.Errorf("expected empty body, got %q", body)
	}
}

func TestDecodeTypedFields(t *testing.T) {
	meta := []byte("title: Hello\ndate: 2025-06-10T08:00:00Z\ndraft: true\n")

	var out struct {
		Title string    `yaml:"title"`
		Date  time.Time `yaml:"date"`
		Draft bool      `yaml:"draft"`
	}
	if err := Decode(meta, &out); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if out.Title != "Hello" {
		t.Errorf("unexpected title: %q", out.Title)
	}
	if out.Date.IsZero() {
		t.Errorf("date not decoded")
	}
	if !out.Draft {
		t.Errorf("draft not decoded")
	}
}

func TestParseYAMLEmpty(t *testing.T) {
	fields, err := ParseYAML(nil)
	if err != nil {
		t.Fatalf("ParseYAML error: %v", err)
	}
	if fields == nil || len(fields) != 0 {
		t.Fatalf("expected empty map, got %v", fields)
	}
}
