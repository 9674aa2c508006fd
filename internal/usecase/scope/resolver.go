package scope

import (
	"context"

	"github.com/rs/zerolog"

	"poliux/internal/domain"
	"poliux/internal/usecase/membership"
)

// Resolver превращает выбор пользователя в зафиксированный охват отчёта.
type Resolver struct {
	links domain.LinkRepo
	log   zerolog.Logger
}

// NewResolver создаёт резолвер охвата.
func NewResolver(links domain.LinkRepo, logger zerolog.Logger) *Resolver {
	return &Resolver{links: links, log: logger.With().Str("component", "scope").Logger()}
}

// Resolve возвращает снимок элементов кампании на момент вызова.
// В режиме custom непривязанные идентификаторы отбрасываются.
func (r *Resolver) Resolve(ctx context.Context, campaignID int64, sel domain.ScopeSelection) (domain.ReportScope, error) {
	if sel.Mode != domain.ScopeAll && sel.Mode != domain.ScopeCustom {
		return domain.ReportScope{}, domain.NewValidationError("scope.mode", "неизвестный режим охвата")
	}
	bills, err := membership.LinkedBillIDs(ctx, r.links, campaignID)
	if err != nil {
		return domain.ReportScope{}, err
	}
	people, err := membership.LinkedLegislatorIDs(ctx, r.links, campaignID)
	if err != nil {
		return domain.ReportScope{}, err
	}
	if sel.Mode == domain.ScopeAll {
		return domain.ReportScope{Mode: domain.ScopeAll, BillIDs: bills, PeopleIDs: people}, nil
	}

	keptBills, droppedBills := intersect(sel.BillIDs, bills)
	keptPeople, droppedPeople := intersect(sel.PeopleIDs, people)
	if droppedBills+droppedPeople > 0 {
		r.log.Debug().
			Int64("campaign_id", campaignID).
			Int("dropped_bills", droppedBills).
			Int("dropped_people", droppedPeople).
			Msg("непривязанные элементы исключены из охвата")
	}
	return domain.ReportScope{Mode: domain.ScopeCustom, BillIDs: keptBills, PeopleIDs: keptPeople}, nil
}

// intersect сохраняет порядок запроса и убирает повторы.
func intersect(requested, linked []string) ([]string, int) {
	allowed := make(map[string]struct{}, len(linked))
	for _, id := range linked {
		allowed[id] = struct{}{}
	}
	cleaned := domain.NormalizeIDs(requested)
	kept := make([]string, 0, len(cleaned))
	dropped := 0
	for _, id := range cleaned {
		if _, ok := allowed[id]; ok {
			kept = append(kept, id)
			continue
		}
		dropped++
	}
	return kept, dropped
}
