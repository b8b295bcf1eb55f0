package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/sitemapd/internal/engine"
	"git.home.luguber.info/inful/sitemapd/internal/partition"
	"git.home.luguber.info/inful/sitemapd/internal/smerr"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		s.Error(w, err)
		return
	}
	s.Success(w, http.StatusOK, status)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Detect(r.Context())
	if err != nil {
		s.Error(w, err)
		return
	}
	s.Success(w, http.StatusOK, map[string]any{
		"missing": result.Missing,
		"stale":   result.Stale,
		"summary": result.Summary(),
	})
}

// GenerateRequest selects what to generate. With Day set a single partition
// is generated; otherwise Mode picks an incremental or full run.
type GenerateRequest struct {
	Day        string `json:"day,omitempty"`
	Force      bool   `json:"force,omitempty"`
	Mode       string `json:"mode,omitempty"` // incremental|full
	Background bool   `json:"background,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.Error(w, smerr.Wrap(err, smerr.CodeInvalidDate, "malformed request body"))
		return
	}

	if req.Day != "" {
		day, err := partition.ParseDay(req.Day)
		if err != nil {
			s.Error(w, err)
			return
		}
		result, err := s.engine.Generate(r.Context(), day, req.Force)
		if err != nil {
			s.Error(w, err)
			return
		}
		s.Success(w, http.StatusOK, result)
		return
	}

	var result engine.StartResult
	var err error
	switch req.Mode {
	case "", "incremental":
		result, err = s.engine.StartIncremental(r.Context(), req.Background)
	case "full":
		result, err = s.engine.StartFull(r.Context())
	default:
		s.Error(w, smerr.Newf(smerr.CodeInvalidDate, "unknown mode %q", req.Mode))
		return
	}
	if err != nil {
		s.Error(w, err)
		return
	}

	status := http.StatusOK
	if result.Method == engine.MethodBackground {
		status = http.StatusAccepted
	}
	s.Success(w, status, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.engine.Cancel(r.Context())
	if err != nil {
		s.Error(w, err)
		return
	}
	s.Success(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleRecount(w http.ResponseWriter, r *http.Request) {
	full := r.URL.Query().Get("full") == "true" || r.URL.Query().Get("full") == "1"
	result, err := s.engine.Recount(r.Context(), full)
	if err != nil {
		s.Error(w, err)
		return
	}
	s.Success(w, http.StatusOK, result)
}

func (s *Server) handleDeletePartition(w http.ResponseWriter, r *http.Request) {
	day, err := partition.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		s.Error(w, err)
		return
	}
	removed, err := s.engine.Delete(r.Context(), day)
	if err != nil {
		s.Error(w, err)
		return
	}
	s.Success(w, http.StatusOK, map[string]bool{"removed": removed})
}
