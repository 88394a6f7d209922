package web

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

// ingestRequest holds the parameters of an ingest call besides the file.
type ingestRequest struct {
	Kind          string `validate:"required,max=64"`
	Sheet         string `validate:"max=31"`
	ValidateOnly  bool
	SkipErrorRows bool
}

// handleIngest runs one workbook through the pipeline.
//
// A file with row errors still answers 200: the result body carries
// success=false and the diagnostics. Non-2xx statuses mean the call itself
// could not run or the write was rolled back.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	req := ingestRequest{
		Kind:          chi.URLParam(r, "kind"),
		Sheet:         r.FormValue("sheet"),
		ValidateOnly:  parseBool(r.FormValue("validate_only")),
		SkipErrorRows: parseBool(r.FormValue("skip_error_rows")),
	}
	if err := validate.Struct(req); err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.service.Ingest(r.Context(), up.Data, core.IngestOptions{
		Kind:          core.EntityKind(req.Kind),
		ValidateOnly:  req.ValidateOnly,
		SkipErrorRows: req.SkipErrorRows,
		Sheet:         req.Sheet,
		FileName:      up.Name,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// previewRequest validates the optional sheet name of a preview call.
type previewRequest struct {
	Sheet string `validate:"max=31"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	req := previewRequest{Sheet: r.FormValue("sheet")}
	if err := validate.Struct(req); err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.service.Preview(r.Context(), up.Data, req.Sheet)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Limiter().Status())
}

// healthResponse is the body of /healthz.
type healthResponse struct {
	Status    string                   `json:"status"`
	Store     string                   `json:"store"`
	Ingestion core.IngestLimiterStatus `json:"ingestion"`
}

// handleHealth reports 503 only when a configured store is unreachable. A
// server running without a store is healthy but validate-only.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Store:     "ok",
		Ingestion: s.service.Limiter().Status(),
	}
	status := http.StatusOK

	switch err := s.service.Ping(r.Context()); {
	case errors.Is(err, core.ErrNoStore):
		resp.Store = "none"
	case err != nil:
		resp.Status = "unavailable"
		resp.Store = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
