package api

import (
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"poliux/internal/domain"
	httpinfra "poliux/internal/infra/http"
)

func (h *Handler) searchBills(w http.ResponseWriter, r *http.Request) {
	bills, err := h.deps.Catalog.SearchBills(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), searchLimit(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"bills": bills})
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	b, err := h.deps.Catalog.GetBill(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) searchLegislators(w http.ResponseWriter, r *http.Request) {
	people, err := h.deps.Catalog.SearchLegislators(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), searchLimit(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"legislators": people})
}

func (h *Handler) getLegislator(w http.ResponseWriter, r *http.Request) {
	l, err := h.deps.Catalog.GetLegislator(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, l)
}

func (h *Handler) campaignsForItem(t domain.ItemType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := h.deps.Membership.CampaignsForItem(r.Context(), owner(r), t, chi.URLParam(r, "itemID"))
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"campaigns": list})
	}
}
