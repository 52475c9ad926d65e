package api

import (
	"net/http"

	"github.com/phrazzld/report-api/internal/api/shared"
	"github.com/phrazzld/report-api/internal/queue"
)

// QueueStats handles GET /queue/stats. It always answers 200; a broker
// outage is reported in the error field.
func (h *ReportHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, h.reports.QueueStats(r.Context()))
}

// ActiveEntries handles GET /queue/active.
func (h *ReportHandler) ActiveEntries(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	entries, err := h.reports.ActiveEntries(r.Context())
	h.respondEntries(w, r, entries, err)
}

// FailedEntries handles GET /queue/failed.
func (h *ReportHandler) FailedEntries(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r); !ok {
		return
	}
	entries, err := h.reports.FailedEntries(r.Context())
	h.respondEntries(w, r, entries, err)
}

func (h *ReportHandler) respondEntries(w http.ResponseWriter, r *http.Request, entries []queue.Entry, err error) {
	if err != nil {
		HandleAPIError(w, r, err, "Queue is unavailable")
		return
	}
	if entries == nil {
		entries = []queue.Entry{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, QueueEntriesResponse{Entries: entries})
}
