package api

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"poliux/internal/domain"
	httpinfra "poliux/internal/infra/http"
)

type noteRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

type editNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *Handler) listTracked(w http.ResponseWriter, r *http.Request) {
	t, err := itemType(chi.URLParam(r, "itemType"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	items, err := h.deps.Tracking.ListTracked(r.Context(), owner(r), t)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) isTracked(w http.ResponseWriter, r *http.Request) {
	t, err := itemType(chi.URLParam(r, "itemType"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	tracked, err := h.deps.Tracking.IsTracked(r.Context(), owner(r), t, chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"tracked": tracked})
}

func (h *Handler) track(w http.ResponseWriter, r *http.Request) {
	t, err := itemType(chi.URLParam(r, "itemType"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.deps.Tracking.Track(r.Context(), owner(r), t, chi.URLParam(r, "itemID")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"tracked": true})
}

func (h *Handler) toggleTracked(w http.ResponseWriter, r *http.Request) {
	t, err := itemType(chi.URLParam(r, "itemType"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	tracked, err := h.deps.Tracking.Toggle(r.Context(), owner(r), t, chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"tracked": tracked})
}

func (h *Handler) untrack(w http.ResponseWriter, r *http.Request) {
	t, err := itemType(chi.URLParam(r, "itemType"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.deps.Tracking.Untrack(r.Context(), owner(r), t, chi.URLParam(r, "itemID")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listNotes(w http.ResponseWriter, r *http.Request) {
	var t domain.ItemType
	if raw := r.URL.Query().Get("entity_type"); raw != "" {
		parsed, err := itemType(raw)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		t = parsed
	}
	notes, err := h.deps.Tracking.NotesFor(r.Context(), owner(r), t, r.URL.Query().Get("entity_id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	t, err := itemType(req.EntityType)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	n, err := h.deps.Tracking.AddNote(r.Context(), owner(r), t, req.EntityID, req.Title, req.Content)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, n)
}

func (h *Handler) editNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req editNoteRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	n, err := h.deps.Tracking.EditNote(r.Context(), owner(r), id, req.Title, req.Content)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) deleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.deps.Tracking.DeleteNote(r.Context(), owner(r), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
