package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/report-api/internal/api/shared"
)

// ListCatalog handles GET /catalog.
func (h *ReportHandler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CatalogResponse{
		Categories: h.reports.ListCatalog(identity.Roles),
	})
}

// GetDefinition handles GET /catalog/{type}.
func (h *ReportHandler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	def, err := h.reports.GetDefinition(chi.URLParam(r, "type"), identity.Roles)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, def)
}

// GetFilterValues handles GET /catalog/{type}/filters/{filterId}/values?scope=.
func (h *ReportHandler) GetFilterValues(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	opts, err := h.reports.ResolveFilterValues(
		r.Context(),
		chi.URLParam(r, "type"),
		chi.URLParam(r, "filterId"),
		r.URL.Query().Get("scope"),
		identity.Roles,
	)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load filter values")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, FilterValuesResponse{Options: opts})
}
