package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"poliux/internal/domain"
	"poliux/internal/infra/metrics"
)

// Store: репозитории, нужные менеджеру состава кампании.
type Store interface {
	domain.CampaignRepo
	domain.LinkRepo
	domain.TrackingRepo
}

// Manager управляет законопроектами и законодателями кампании.
type Manager struct {
	repo    Store
	catalog domain.CatalogRepo
	log     zerolog.Logger
	now     func() time.Time
}

// NewManager создаёт менеджер состава кампании.
func NewManager(repo Store, catalog domain.CatalogRepo, logger zerolog.Logger) *Manager {
	return &Manager{
		repo:    repo,
		catalog: catalog,
		log:     logger.With().Str("component", "membership").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Items: идентификаторы элементов кампании в порядке добавления.
type Items struct {
	BillIDs   []string `json:"bill_ids"`
	PeopleIDs []string `json:"people_ids"`
}

// LinkBills привязывает законопроекты и возвращает только новые связи.
func (m *Manager) LinkBills(ctx context.Context, ownerID string, campaignID int64, billIDs []string) ([]domain.CampaignBillLink, error) {
	if _, err := domain.LoadOwnedCampaign(ctx, m.repo, ownerID, campaignID); err != nil {
		return nil, err
	}
	ids := domain.NormalizeIDs(billIDs)
	for _, id := range ids {
		if _, err := m.catalog.GetBill(ctx, id); err != nil {
			return nil, fmt.Errorf("проверка законопроекта: %w", err)
		}
	}
	if len(ids) == 0 {
		return []domain.CampaignBillLink{}, nil
	}
	created, err := m.repo.AddBillLinks(ctx, campaignID, ids, m.now())
	if err != nil {
		return nil, fmt.Errorf("привязка законопроектов: %w", err)
	}
	metrics.AddCampaignLinks(string(domain.ItemBill), len(created))
	m.log.Debug().Int64("campaign_id", campaignID).Int("requested", len(ids)).Int("created", len(created)).Msg("законопроекты привязаны")
	return created, nil
}

// LinkLegislators привязывает законодателей и возвращает только новые связи.
func (m *Manager) LinkLegislators(ctx context.Context, ownerID string, campaignID int64, peopleIDs []string) ([]domain.CampaignLegislatorLink, error) {
	if _, err := domain.LoadOwnedCampaign(ctx, m.repo, ownerID, campaignID); err != nil {
		return nil, err
	}
	ids := domain.NormalizeIDs(peopleIDs)
	for _, id := range ids {
		if _, err := m.catalog.GetLegislator(ctx, id); err != nil {
			return nil, fmt.Errorf("проверка законодателя: %w", err)
		}
	}
	if len(ids) == 0 {
		return []domain.CampaignLegislatorLink{}, nil
	}
	created, err := m.repo.AddLegislatorLinks(ctx, campaignID, ids, m.now())
	if err != nil {
		return nil, fmt.Errorf("привязка законодателей: %w", err)
	}
	metrics.AddCampaignLinks(string(domain.ItemLegislator), len(created))
	m.log.Debug().Int64("campaign_id", campaignID).Int("requested", len(ids)).Int("created", len(created)).Msg("законодатели привязаны")
	return created, nil
}

// Unlink отвязывает элемент. Отсутствующая связь не является ошибкой.
func (m *Manager) Unlink(ctx context.Context, ownerID string, campaignID int64, itemType domain.ItemType, itemID string) error {
	if !itemType.Valid() {
		return domain.NewValidationError("item_type", "неизвестный тип элемента")
	}
	if _, err := domain.LoadOwnedCampaign(ctx, m.repo, ownerID, campaignID); err != nil {
		return err
	}
	if err := m.repo.RemoveLink(ctx, campaignID, itemType, itemID); err != nil {
		return fmt.Errorf("отвязка элемента: %w", err)
	}
	return nil
}

// IsLinked сообщает, привязан ли элемент к кампании.
func (m *Manager) IsLinked(ctx context.Context, ownerID string, campaignID int64, itemType domain.ItemType, itemID string) (bool, error) {
	if !itemType.Valid() {
		return false, domain.NewValidationError("item_type", "неизвестный тип элемента")
	}
	if _, err := domain.LoadOwnedCampaign(ctx, m.repo, ownerID, campaignID); err != nil {
		return false, err
	}
	return m.repo.HasLink(ctx, campaignID, itemType, itemID)
}

// ListLinkedBillIDs возвращает законопроекты кампании в порядке добавления.
func (m *Manager) ListLinkedBillIDs(ctx context.Context, ownerID string, campaignID int64) ([]string, error) {
	if _, err := domain.LoadOwnedCampaign(ctx, m.repo, ownerID, campaignID); err != nil {
		return nil, err
	}
	return LinkedBillIDs(ctx, m.repo, campaignID)
}

// ListLinkedLegislatorIDs возвращает законодателей кампании в порядке добавления.
func (m *Manager) ListLinkedLegislatorIDs(ctx context.Context, ownerID string, campaignID int64) ([]string, error) {
	if _, err := domain.LoadOwnedCampaign(ctx, m.repo, ownerID, campaignID); err != nil {
		return nil, err
	}
	return LinkedLegislatorIDs(ctx, m.repo, campaignID)
}

// ListItems возвращает оба списка элементов кампании.
func (m *Manager) ListItems(ctx context.Context, ownerID string, campaignID int64) (Items, error) {
	if _, err := domain.LoadOwnedCampaign(ctx, m.repo, ownerID, campaignID); err != nil {
		return Items{}, err
	}
	bills, err := LinkedBillIDs(ctx, m.repo, campaignID)
	if err != nil {
		return Items{}, err
	}
	people, err := LinkedLegislatorIDs(ctx, m.repo, campaignID)
	if err != nil {
		return Items{}, err
	}
	return Items{BillIDs: bills, PeopleIDs: people}, nil
}

// CampaignsForItem возвращает кампании владельца, в которые входит элемент.
func (m *Manager) CampaignsForItem(ctx context.Context, ownerID string, itemType domain.ItemType, itemID string) ([]domain.Campaign, error) {
	if !itemType.Valid() {
		return nil, domain.NewValidationError("item_type", "неизвестный тип элемента")
	}
	ids, err := m.repo.ListCampaignIDsForItem(ctx, itemType, itemID)
	if err != nil {
		return nil, fmt.Errorf("кампании элемента: %w", err)
	}
	out := make([]domain.Campaign, 0, len(ids))
	for _, id := range ids {
		c, err := m.repo.GetCampaign(ctx, id)
		if err != nil {
			continue
		}
		if c.OwnedBy(ownerID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// TrackedNotInCampaign возвращает отслеживаемые владельцем элементы, которых ещё нет в кампании.
func (m *Manager) TrackedNotInCampaign(ctx context.Context, ownerID string, campaignID int64, itemType domain.ItemType) ([]string, error) {
	if !itemType.Valid() {
		return nil, domain.NewValidationError("item_type", "неизвестный тип элемента")
	}
	if _, err := domain.LoadOwnedCampaign(ctx, m.repo, ownerID, campaignID); err != nil {
		return nil, err
	}
	tracked, err := m.repo.ListTracked(ctx, ownerID, itemType)
	if err != nil {
		return nil, fmt.Errorf("отслеживаемые элементы: %w", err)
	}
	var linked []string
	if itemType == domain.ItemBill {
		linked, err = LinkedBillIDs(ctx, m.repo, campaignID)
	} else {
		linked, err = LinkedLegislatorIDs(ctx, m.repo, campaignID)
	}
	if err != nil {
		return nil, err
	}
	inCampaign := make(map[string]struct{}, len(linked))
	for _, id := range linked {
		inCampaign[id] = struct{}{}
	}
	out := make([]string, 0, len(tracked))
	for _, item := range tracked {
		if _, ok := inCampaign[item.ItemID]; !ok {
			out = append(out, item.ItemID)
		}
	}
	return out, nil
}

// LinkedBillIDs читает идентификаторы законопроектов кампании без проверки владельца.
func LinkedBillIDs(ctx context.Context, links domain.LinkRepo, campaignID int64) ([]string, error) {
	rows, err := links.ListBillLinks(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("законопроекты кампании: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, l := range rows {
		ids = append(ids, l.BillID)
	}
	return ids, nil
}

// LinkedLegislatorIDs читает идентификаторы законодателей кампании без проверки владельца.
func LinkedLegislatorIDs(ctx context.Context, links domain.LinkRepo, campaignID int64) ([]string, error) {
	rows, err := links.ListLegislatorLinks(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("законодатели кампании: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, l := range rows {
		ids = append(ids, l.PeopleID)
	}
	return ids, nil
}
