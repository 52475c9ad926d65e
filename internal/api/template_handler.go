package api

import (
	"net/http"

	"github.com/phrazzld/report-api/internal/api/shared"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/service"
)

// ListTemplates handles GET /templates?report_type=.
func (h *ReportHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	templates, err := h.templates.List(r.Context(), identity.UserID, r.URL.Query().Get("report_type"))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list templates")
		return
	}
	if templates == nil {
		templates = []*domain.Template{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TemplatesResponse{Templates: templates})
}

// SaveTemplate handles POST /templates.
func (h *ReportHandler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req SaveTemplateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	tmpl, err := h.templates.Save(r.Context(), identity.UserID, service.SaveTemplateRequest{
		Name:       req.Name,
		ReportType: req.ReportType,
		Config:     req.Config,
		IsPublic:   req.IsPublic,
		Roles:      identity.Roles,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to save template")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, tmpl)
}

// DeleteTemplate handles DELETE /templates/{id}.
func (h *ReportHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	identity, templateID, ok := handleIdentityAndPathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.templates.Delete(r.Context(), templateID, identity.UserID); err != nil {
		HandleAPIError(w, r, err, "Failed to delete template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
