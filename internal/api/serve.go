package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/sitemap"
)

// handleIndex serves the sitemap index referencing every stored partition.
// An empty store yields a valid, empty index.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.docs.Summaries(r.Context())
	if err != nil {
		http.Error(w, "failed to list sitemaps", http.StatusInternalServerError)
		return
	}

	refs := make([]sitemap.IndexRef, 0, len(summaries))
	for _, sum := range summaries {
		loc := *s.base
		loc.Path = "/sitemaps/sitemap-" + sum.Day.String() + ".xml"
		refs = append(refs, sitemap.IndexRef{
			Day:     sum.Day,
			Loc:     loc.String(),
			LastMod: sum.UpdatedAt,
		})
	}

	content, err := sitemap.EncodeIndex(refs)
	if err != nil {
		http.Error(w, "failed to render index", http.StatusInternalServerError)
		return
	}
	writeXML(w, content)
}

// handleSitemap serves one stored partition document verbatim.
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	day, err := partition.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	doc, err := s.docs.Find(r.Context(), day)
	if err != nil {
		http.Error(w, "failed to load sitemap", http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.NotFound(w, r)
		return
	}
	writeXML(w, doc.Content)
}

func writeXML(w http.ResponseWriter, content []byte) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
