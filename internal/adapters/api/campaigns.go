package api

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"poliux/internal/domain"
	httpinfra "poliux/internal/infra/http"
)

type createCampaignRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type linkRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Campaigns.List(r.Context(), owner(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"campaigns": list})
}

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	c, err := h.deps.Campaigns.Create(r.Context(), owner(r), req.Name, req.Description)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	c, err := h.deps.Campaigns.Get(r.Context(), owner(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) updateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var patch domain.CampaignPatch
	if err := decodeBody(r, &patch); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	c, err := h.deps.Campaigns.Update(r.Context(), owner(r), id, patch)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.deps.Campaigns.Delete(r.Context(), owner(r), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) archiveCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	c, err := h.deps.Campaigns.Archive(r.Context(), owner(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) unarchiveCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	c, err := h.deps.Campaigns.Unarchive(r.Context(), owner(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) linkBills(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req linkRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	created, err := h.deps.Membership.LinkBills(r.Context(), owner(r), id, req.IDs)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"created": created})
}

func (h *Handler) linkLegislators(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req linkRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	created, err := h.deps.Membership.LinkLegislators(r.Context(), owner(r), id, req.IDs)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"created": created})
}

func (h *Handler) unlink(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	t, err := itemType(chi.URLParam(r, "itemType"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.deps.Membership.Unlink(r.Context(), owner(r), id, t, chi.URLParam(r, "itemID")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	items, err := h.deps.Membership.ListItems(r.Context(), owner(r), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, items)
}

// suggestions возвращает отслеживаемые элементы, ещё не привязанные к кампании.
func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	t, err := itemType(chi.URLParam(r, "itemType"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	ids, err := h.deps.Membership.TrackedNotInCampaign(r.Context(), owner(r), id, t)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"ids": ids})
}
