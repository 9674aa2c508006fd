package campaigns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"poliux/internal/domain"
	"poliux/internal/infra/metrics"
)

// DefaultLimit: лимит активных кампаний на владельца.
const DefaultLimit = 25

// Store: репозитории, нужные сервису кампаний.
type Store interface {
	domain.CampaignRepo
	domain.BusinessMetricRepo
}

// ReportDropper останавливает таймеры отчётов удалённой кампании.
type ReportDropper interface {
	DropCampaign(campaignID int64)
}

// Service управляет кампаниями пользователя.
type Service struct {
	repo    Store
	reports ReportDropper
	limit   int
	log     zerolog.Logger
	now     func() time.Time
}

// NewService создаёт сервис кампаний. reports может быть nil.
func NewService(repo Store, reports ReportDropper, limit int, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		reports: reports,
		limit:   limit,
		log:     logger.With().Str("component", "campaigns").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create создаёт активную кампанию, если владелец не превысил лимит.
func (s *Service) Create(ctx context.Context, ownerID, name, description string) (domain.Campaign, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Campaign{}, domain.NewValidationError("owner_id", "не указан владелец")
	}
	cleanName, err := domain.NormalizeCampaignName(name)
	if err != nil {
		return domain.Campaign{}, err
	}
	cleanDescription, err := domain.NormalizeCampaignDescription(description)
	if err != nil {
		return domain.Campaign{}, err
	}
	now := s.now()
	created, err := s.repo.CreateCampaign(ctx, domain.Campaign{
		OwnerID:     ownerID,
		Name:        cleanName,
		Description: cleanDescription,
		Status:      domain.CampaignActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, s.limit)
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("создание кампании: %w", err)
	}
	metrics.IncCampaignEvent(domain.BusinessMetricEventCampaignCreated)
	s.record(ctx, domain.BusinessMetricEventCampaignCreated, created, map[string]any{"name": created.Name})
	s.log.Info().Str("owner", ownerID).Int64("campaign_id", created.ID).Msg("кампания создана")
	return created, nil
}

// Get возвращает кампанию владельца.
func (s *Service) Get(ctx context.Context, ownerID string, id int64) (domain.Campaign, error) {
	return domain.LoadOwnedCampaign(ctx, s.repo, ownerID, id)
}

// List возвращает кампании владельца, недавно изменённые первыми.
func (s *Service) List(ctx context.Context, ownerID string) ([]domain.Campaign, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.NewValidationError("owner_id", "не указан владелец")
	}
	return s.repo.ListCampaignsByOwner(ctx, ownerID)
}

// Update меняет имя и описание по тем же правилам, что и при создании.
func (s *Service) Update(ctx context.Context, ownerID string, id int64, patch domain.CampaignPatch) (domain.Campaign, error) {
	if _, err := domain.LoadOwnedCampaign(ctx, s.repo, ownerID, id); err != nil {
		return domain.Campaign{}, err
	}
	clean := domain.CampaignPatch{}
	if patch.Name != nil {
		name, err := domain.NormalizeCampaignName(*patch.Name)
		if err != nil {
			return domain.Campaign{}, err
		}
		clean.Name = &name
	}
	if patch.Description != nil {
		description, err := domain.NormalizeCampaignDescription(*patch.Description)
		if err != nil {
			return domain.Campaign{}, err
		}
		clean.Description = &description
	}
	updated, err := s.repo.UpdateCampaign(ctx, id, clean, s.now())
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("обновление кампании: %w", err)
	}
	return updated, nil
}

// Archive переводит кампанию в архив. Архивная кампания не занимает слот лимита.
func (s *Service) Archive(ctx context.Context, ownerID string, id int64) (domain.Campaign, error) {
	return s.setStatus(ctx, ownerID, id, domain.CampaignArchived)
}

// Unarchive возвращает кампанию из архива с проверкой лимита.
func (s *Service) Unarchive(ctx context.Context, ownerID string, id int64) (domain.Campaign, error) {
	return s.setStatus(ctx, ownerID, id, domain.CampaignActive)
}

func (s *Service) setStatus(ctx context.Context, ownerID string, id int64, status domain.CampaignStatus) (domain.Campaign, error) {
	if _, err := domain.LoadOwnedCampaign(ctx, s.repo, ownerID, id); err != nil {
		return domain.Campaign{}, err
	}
	updated, err := s.repo.SetCampaignStatus(ctx, id, status, s.limit, s.now())
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("смена статуса кампании: %w", err)
	}
	metrics.IncCampaignEvent("campaign_" + string(status))
	return updated, nil
}

// Delete удаляет кампанию вместе со связями и отчётами и останавливает их таймеры.
func (s *Service) Delete(ctx context.Context, ownerID string, id int64) error {
	c, err := domain.LoadOwnedCampaign(ctx, s.repo, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCampaign(ctx, id); err != nil {
		return fmt.Errorf("удаление кампании: %w", err)
	}
	if s.reports != nil {
		s.reports.DropCampaign(id)
	}
	metrics.IncCampaignEvent(domain.BusinessMetricEventCampaignDeleted)
	s.record(ctx, domain.BusinessMetricEventCampaignDeleted, c, nil)
	s.log.Info().Str("owner", ownerID).Int64("campaign_id", id).Msg("кампания удалена")
	return nil
}

func (s *Service) record(ctx context.Context, event string, c domain.Campaign, meta map[string]any) {
	id := c.ID
	err := s.repo.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:      event,
		OwnerID:    c.OwnerID,
		CampaignID: &id,
		Metadata:   meta,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("не удалось сохранить бизнес-метрику")
	}
}
