package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleTemplate serves a blank (or ?sample=true) workbook for a kind.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	kind := core.EntityKind(chi.URLParam(r, "kind"))

	data, err := s.service.GenerateTemplate(kind, parseBool(r.URL.Query().Get("sample")))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeXLSX(w, string(kind)+"_template.xlsx", data)
}

// handleCombinedTemplate serves one workbook with a sheet per kind.
func (s *Server) handleCombinedTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GenerateCombinedTemplate(parseBool(r.URL.Query().Get("sample")))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeXLSX(w, "combined_template.xlsx", data)
}

func writeXLSX(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Kinds())
}
