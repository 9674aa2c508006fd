package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"poliux/internal/domain"
	httpinfra "poliux/internal/infra/http"
	"poliux/internal/usecase/campaigns"
	"poliux/internal/usecase/membership"
	"poliux/internal/usecase/reports"
	"poliux/internal/usecase/tracking"
)

// Deps: сервисы, которые обслуживает HTTP API.
type Deps struct {
	Catalog    domain.CatalogRepo
	Campaigns  *campaigns.Service
	Membership *membership.Manager
	Reports    *reports.Manager
	Tracking   *tracking.Service
	Events     *reports.Broadcaster
}

// Handler связывает HTTP маршруты с сервисами.
type Handler struct {
	deps      Deps
	log       zerolog.Logger
	heartbeat time.Duration
}

// NewHandler создаёт обработчик API.
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{
		deps:      deps,
		log:       logger.With().Str("component", "api").Logger(),
		heartbeat: 15 * time.Second,
	}
}

// Mount регистрирует маршруты /api/v1 за проверкой владельца.
func (h *Handler) Mount(r chi.Router, authSecret string) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httpinfra.OwnerAuthMiddleware(authSecret))

		api.Get("/bills", h.searchBills)
		api.Get("/bills/{itemID}", h.getBill)
		api.Get("/bills/{itemID}/campaigns", h.campaignsForItem(domain.ItemBill))
		api.Get("/legislators", h.searchLegislators)
		api.Get("/legislators/{itemID}", h.getLegislator)
		api.Get("/legislators/{itemID}/campaigns", h.campaignsForItem(domain.ItemLegislator))

		api.Route("/campaigns", func(c chi.Router) {
			c.Get("/", h.listCampaigns)
			c.Post("/", h.createCampaign)
			c.Route("/{campaignID}", func(c chi.Router) {
				c.Get("/", h.getCampaign)
				c.Patch("/", h.updateCampaign)
				c.Delete("/", h.deleteCampaign)
				c.Post("/archive", h.archiveCampaign)
				c.Post("/unarchive", h.unarchiveCampaign)
				c.Post("/bills", h.linkBills)
				c.Post("/legislators", h.linkLegislators)
				c.Get("/items", h.listItems)
				c.Get("/suggestions/{itemType}", h.suggestions)
				c.Delete("/{itemType}/{itemID}", h.unlink)
				c.Get("/reports", h.listReports)
				c.Post("/reports", h.orderReport)
				c.Get("/events", h.streamEvents)
			})
		})

		api.Route("/reports/{reportID}", func(rep chi.Router) {
			rep.Get("/", h.viewReport)
			rep.Delete("/", h.deleteReport)
			rep.Post("/retry", h.retryReport)
			rep.Post("/cancel", h.cancelReport)
			rep.Get("/export", h.exportReport)
		})

		api.Route("/tracked/{itemType}", func(t chi.Router) {
			t.Get("/", h.listTracked)
			t.Get("/{itemID}", h.isTracked)
			t.Post("/{itemID}", h.track)
			t.Post("/{itemID}/toggle", h.toggleTracked)
			t.Delete("/{itemID}", h.untrack)
		})

		api.Get("/notes", h.listNotes)
		api.Post("/notes", h.addNote)
		api.Patch("/notes/{noteID}", h.editNote)
		api.Delete("/notes/{noteID}", h.deleteNote)
	})
}

// writeDomainError переводит ошибку домена в HTTP статус.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		httpinfra.WriteJSON(w, http.StatusUnprocessableEntity, httpinfra.ErrorResponse{Error: ve.Message, Field: ve.Field})
	case errors.Is(err, domain.ErrValidation):
		httpinfra.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, "не найдено")
	case errors.Is(err, domain.ErrInvalidState):
		httpinfra.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrQuotaExceeded):
		httpinfra.WriteError(w, http.StatusTooManyRequests, "достигнут лимит активных кампаний")
	default:
		h.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Str("path", r.URL.Path).Msg("ошибка обработки запроса")
		httpinfra.WriteJSON(w, http.StatusInternalServerError, httpinfra.ErrorResponse{Error: "внутренняя ошибка", RequestID: httpinfra.RequestID(r)})
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("body", "некорректное тело запроса")
	}
	return nil
}

func campaignID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "campaignID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("campaign_id", "некорректный идентификатор кампании")
	}
	return id, nil
}

func noteID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "noteID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("note_id", "некорректный идентификатор заметки")
	}
	return id, nil
}

// itemType принимает как единственное, так и множественное число: bill, bills, legislator, legislators.
func itemType(raw string) (domain.ItemType, error) {
	t := domain.ItemType(strings.TrimSuffix(strings.ToLower(raw), "s"))
	if !t.Valid() {
		return "", domain.NewValidationError("item_type", "неизвестный тип элемента")
	}
	return t, nil
}

func searchLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 0
	}
	return limit
}

func owner(r *http.Request) string {
	return httpinfra.Owner(r.Context())
}
