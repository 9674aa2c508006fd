package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"

	"poliux/internal/domain"
	httpinfra "poliux/internal/infra/http"
	"poliux/internal/usecase/reports"
)

type orderReportRequest struct {
	Type        domain.ReportType     `json:"type"`
	Scope       domain.ScopeSelection `json:"scope"`
	Prompt      string                `json:"prompt"`
	Deadline    string                `json:"deadline"`
	Sensitivity domain.Sensitivity    `json:"sensitivity"`
}

// parseDeadline принимает дату (2006-01-02) или RFC3339.
func parseDeadline(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, domain.NewValidationError("deadline", "ожидали дату в формате YYYY-MM-DD")
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	list, err := h.deps.Reports.List(r.Context(), owner(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"reports": list})
}

func (h *Handler) orderReport(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req orderReportRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if req.Scope.Mode == "" {
		req.Scope.Mode = domain.ScopeAll
	}
	deadline, err := parseDeadline(req.Deadline)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	report, err := h.deps.Reports.Order(r.Context(), owner(r), id, req.Type, req.Scope, reports.OrderOptions{
		Prompt:         req.Prompt,
		Deadline:       deadline,
		Sensitivity:    req.Sensitivity,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusAccepted, report)
}

func (h *Handler) viewReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Reports.View(r.Context(), owner(r), chi.URLParam(r, "reportID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) deleteReport(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Reports.Delete(r.Context(), owner(r), chi.URLParam(r, "reportID")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) retryReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Reports.Retry(r.Context(), owner(r), chi.URLParam(r, "reportID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusAccepted, report)
}

func (h *Handler) cancelReport(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Reports.Cancel(r.Context(), owner(r), chi.URLParam(r, "reportID")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) exportReport(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")
	md, err := h.deps.Reports.Export(r.Context(), owner(r), reportID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s.md"`, reportID))
	_, _ = w.Write([]byte(md))
}

// streamEvents отдаёт события отчётов кампании как server-sent events.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	ownerID := owner(r)
	if _, err := h.deps.Campaigns.Get(r.Context(), ownerID, id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpinfra.WriteError(w, http.StatusInternalServerError, "потоковая передача не поддерживается")
		return
	}
	events, cancel := h.deps.Events.Subscribe(ownerID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.CampaignID != id {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn().Err(err).Msg("не удалось сериализовать событие")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: report\nid: %s\ndata: %s\n\n", ev.ReportID, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
