package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/config"
	"git.home.luguber.info/inful/sitemapd/internal/content"
	"git.home.luguber.info/inful/sitemapd/internal/engine"
	"git.home.luguber.info/inful/sitemapd/internal/provider"
	"git.home.luguber.info/inful/sitemapd/internal/state"
	"git.home.luguber.info/inful/sitemapd/internal/store"
)

func newTestServer(t *testing.T) (*Server, *content.MemorySource) {
	t.Helper()

	docs, err := store.NewStore(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = docs.Close() })

	runs, err := state.NewStore(":memory:")
	if err != nil {
		t.Fatalf("create state: %v", err)
	}
	t.Cleanup(func() { _ = runs.Close() })

	source := content.NewMemorySource()
	p, err := provider.NewItemProvider(source, "https://example.com", config.KindConfig{
		Kind:       "post",
		PathPrefix: "/posts",
	})
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}

	eng := engine.New(source, provider.NewRegistry(p), docs, runs, 10)

	cfg := &config.Config{}
	cfg.Site.BaseURL = "https://example.com"
	cfg.Server.Addr = ":0"

	srv, err := NewServer(cfg, eng, docs, nil)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	return srv, source
}

func addPost(source *content.MemorySource, slug, day string) {
	published, _ := time.Parse("2006-01-02", day)
	published = published.Add(9 * time.Hour)
	source.Put(content.Item{
		Slug:        slug,
		Kind:        "post",
		Title:       slug,
		PublishedAt: published,
		ModifiedAt:  published,
	})
}

func request(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func dataMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %T", resp.Data)
	}
	return m
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := request(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := request(t, srv, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode(t, rec)
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	data := dataMap(t, resp)
	if data["documents"] != float64(0) {
		t.Fatalf("documents = %v", data["documents"])
	}
}

func TestGenerateSinglePartition(t *testing.T) {
	srv, source := newTestServer(t)
	addPost(source, "hello", "2024-01-15")

	rec := request(t, srv, http.MethodPost, "/api/generate", `{"day":"2024-01-15"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := dataMap(t, decode(t, rec))
	if data["entry_count"] != float64(1) {
		t.Fatalf("entry_count = %v", data["entry_count"])
	}

	// Second call without force hits the idempotent skip.
	rec = request(t, srv, http.MethodPost, "/api/generate", `{"day":"2024-01-15"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data = dataMap(t, decode(t, rec))
	if data["code"] != "sitemap_exists" {
		t.Fatalf("code = %v", data["code"])
	}
}

func TestGenerateRejectsBadDay(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := request(t, srv, http.MethodPost, "/api/generate", `{"day":"not-a-day"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode(t, rec)
	if string(resp.Code) != "invalid_date" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestBackgroundRunLifecycle(t *testing.T) {
	srv, source := newTestServer(t)
	addPost(source, "a", "2024-02-01")
	addPost(source, "b", "2024-02-02")

	rec := request(t, srv, http.MethodPost, "/api/generate", `{"mode":"full"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := dataMap(t, decode(t, rec))
	if data["method"] != "background" {
		t.Fatalf("method = %v", data["method"])
	}

	// A second start while running conflicts.
	rec = request(t, srv, http.MethodPost, "/api/generate", `{"mode":"full"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode(t, rec)
	if string(resp.Code) != "already_running" {
		t.Fatalf("code = %q", resp.Code)
	}

	rec = request(t, srv, http.MethodPost, "/api/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data = dataMap(t, decode(t, rec))
	if data["cancelled"] != true {
		t.Fatalf("cancelled = %v", data["cancelled"])
	}
}

func TestUnknownModeRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := request(t, srv, http.MethodPost, "/api/generate", `{"mode":"sideways"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDetectEndpoint(t *testing.T) {
	srv, source := newTestServer(t)
	addPost(source, "a", "2024-03-01")

	rec := request(t, srv, http.MethodGet, "/api/detect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := dataMap(t, decode(t, rec))
	missing, ok := data["missing"].([]any)
	if !ok || len(missing) != 1 || missing[0] != "2024-03-01" {
		t.Fatalf("missing = %v", data["missing"])
	}
	if data["summary"] == "" {
		t.Fatal("summary should be set")
	}
}

func TestDeletePartitionEndpoint(t *testing.T) {
	srv, source := newTestServer(t)
	addPost(source, "a", "2024-04-01")
	request(t, srv, http.MethodPost, "/api/generate", `{"day":"2024-04-01"}`)

	rec := request(t, srv, http.MethodDelete, "/api/partitions/2024-04-01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if data := dataMap(t, decode(t, rec)); data["removed"] != true {
		t.Fatalf("removed = %v", data["removed"])
	}

	rec = request(t, srv, http.MethodDelete, "/api/partitions/2024-04-01", "")
	if data := dataMap(t, decode(t, rec)); data["removed"] != false {
		t.Fatalf("second delete removed = %v", data["removed"])
	}

	rec = request(t, srv, http.MethodDelete, "/api/partitions/garbage", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRecountEndpoint(t *testing.T) {
	srv, source := newTestServer(t)
	addPost(source, "a", "2024-05-01")
	request(t, srv, http.MethodPost, "/api/generate", `{"day":"2024-05-01"}`)

	rec := request(t, srv, http.MethodPost, "/api/recount?full=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := dataMap(t, decode(t, rec))
	if data["updated"] != float64(0) {
		t.Fatalf("updated = %v", data["updated"])
	}
	if data["aggregate"] != float64(1) {
		t.Fatalf("aggregate = %v", data["aggregate"])
	}
}

func TestSitemapServing(t *testing.T) {
	srv, source := newTestServer(t)
	addPost(source, "a", "2024-06-01")
	request(t, srv, http.MethodPost, "/api/generate", `{"day":"2024-06-01"}`)

	rec := request(t, srv, http.MethodGet, "/sitemaps/sitemap-2024-06-01.xml", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/xml") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<urlset") {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = request(t, srv, http.MethodGet, "/sitemaps/sitemap-2024-06-02.xml", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing partition status = %d", rec.Code)
	}

	rec = request(t, srv, http.MethodGet, "/sitemap.xml", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("index status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<sitemapindex") {
		t.Fatalf("index body = %s", body)
	}
	if !strings.Contains(body, "https://example.com/sitemaps/sitemap-2024-06-01.xml") {
		t.Fatalf("index missing partition ref: %s", body)
	}
}

func TestEmptyIndexIsValid(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := request(t, srv, http.MethodGet, "/sitemap.xml", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sitemapindex") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
