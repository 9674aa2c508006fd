package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"poliux/internal/domain"
)

// Memory реализует domain.Store в памяти процесса.
// Связи проиндексированы по campaign_id и защищены отдельным мьютексом кампании.
type Memory struct {
	mu sync.RWMutex

	bills       map[string]domain.Bill
	legislators map[string]domain.Legislator

	campaigns      map[int64]domain.Campaign
	nextCampaignID int64
	links          map[int64]*campaignLinks

	reports map[string]domain.CampaignReport

	tracked    map[trackKey]domain.TrackedItem
	notes      map[int64]domain.Note
	nextNoteID int64

	metrics []domain.BusinessMetric
}

var _ domain.Store = (*Memory)(nil)

type campaignLinks struct {
	mu        sync.Mutex
	bills     []domain.CampaignBillLink
	billIdx   map[string]struct{}
	people    []domain.CampaignLegislatorLink
	peopleIdx map[string]struct{}
}

func newCampaignLinks() *campaignLinks {
	return &campaignLinks{billIdx: map[string]struct{}{}, peopleIdx: map[string]struct{}{}}
}

type trackKey struct {
	owner    string
	itemType domain.ItemType
	itemID   string
}

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		bills:       map[string]domain.Bill{},
		legislators: map[string]domain.Legislator{},
		campaigns:   map[int64]domain.Campaign{},
		links:       map[int64]*campaignLinks{},
		reports:     map[string]domain.CampaignReport{},
		tracked:     map[trackKey]domain.TrackedItem{},
		notes:       map[int64]domain.Note{},
	}
}

// PutBill добавляет или заменяет законопроект в каталоге.
func (m *Memory) PutBill(b domain.Bill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bills[b.ID] = b
}

// PutLegislator добавляет или заменяет законодателя в каталоге.
func (m *Memory) PutLegislator(l domain.Legislator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legislators[l.ID] = l
}

// UpsertBill реализует CatalogWriter.
func (m *Memory) UpsertBill(_ context.Context, b domain.Bill) error {
	m.PutBill(b)
	return nil
}

// UpsertLegislator реализует CatalogWriter.
func (m *Memory) UpsertLegislator(_ context.Context, l domain.Legislator) error {
	m.PutLegislator(l)
	return nil
}

// GetBill реализует domain.CatalogRepo.
func (m *Memory) GetBill(_ context.Context, id string) (domain.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bills[id]
	if !ok {
		return domain.Bill{}, domain.NotFoundf("bill %s", id)
	}
	return b, nil
}

// GetLegislator реализует domain.CatalogRepo.
func (m *Memory) GetLegislator(_ context.Context, id string) (domain.Legislator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.legislators[id]
	if !ok {
		return domain.Legislator{}, domain.NotFoundf("legislator %s", id)
	}
	return l, nil
}

// SearchBills ищет по номеру и названию без учёта регистра.
func (m *Memory) SearchBills(_ context.Context, query string, limit int) ([]domain.Bill, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	m.mu.RLock()
	out := make([]domain.Bill, 0)
	for _, b := range m.bills {
		if q == "" || strings.Contains(strings.ToLower(b.Number), q) || strings.Contains(strings.ToLower(b.Title), q) {
			out = append(out, b)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return clip(out, searchLimit(limit)), nil
}

// SearchLegislators ищет по имени и штату без учёта регистра.
func (m *Memory) SearchLegislators(_ context.Context, query string, limit int) ([]domain.Legislator, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	m.mu.RLock()
	out := make([]domain.Legislator, 0)
	for _, l := range m.legislators {
		if q == "" || strings.Contains(strings.ToLower(l.Name), q) || strings.EqualFold(l.State, q) {
			out = append(out, l)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return clip(out, searchLimit(limit)), nil
}

// CreateCampaign реализует domain.CampaignRepo.
func (m *Memory) CreateCampaign(_ context.Context, c domain.Campaign, limit int) (domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 && c.Status == domain.CampaignActive && m.countActiveLocked(c.OwnerID) >= limit {
		return domain.Campaign{}, domain.ErrQuotaExceeded
	}
	m.nextCampaignID++
	c.ID = m.nextCampaignID
	m.campaigns[c.ID] = c
	m.links[c.ID] = newCampaignLinks()
	return c, nil
}

func (m *Memory) countActiveLocked(ownerID string) int {
	n := 0
	for _, c := range m.campaigns {
		if c.OwnerID == ownerID && c.Status == domain.CampaignActive {
			n++
		}
	}
	return n
}

// GetCampaign реализует domain.CampaignRepo.
func (m *Memory) GetCampaign(_ context.Context, id int64) (domain.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.NotFoundf("campaign %d", id)
	}
	return c, nil
}

// ListCampaignsByOwner реализует domain.CampaignRepo.
func (m *Memory) ListCampaignsByOwner(_ context.Context, ownerID string) ([]domain.Campaign, error) {
	m.mu.RLock()
	out := make([]domain.Campaign, 0)
	for _, c := range m.campaigns {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// UpdateCampaign реализует domain.CampaignRepo.
func (m *Memory) UpdateCampaign(_ context.Context, id int64, patch domain.CampaignPatch, at time.Time) (domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.NotFoundf("campaign %d", id)
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	c.UpdatedAt = at
	m.campaigns[id] = c
	return c, nil
}

// SetCampaignStatus реализует domain.CampaignRepo.
func (m *Memory) SetCampaignStatus(_ context.Context, id int64, status domain.CampaignStatus, limit int, at time.Time) (domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.NotFoundf("campaign %d", id)
	}
	if c.Status == status {
		return c, nil
	}
	if status == domain.CampaignActive && limit > 0 && m.countActiveLocked(c.OwnerID) >= limit {
		return domain.Campaign{}, domain.ErrQuotaExceeded
	}
	c.Status = status
	c.UpdatedAt = at
	m.campaigns[id] = c
	return c, nil
}

// DeleteCampaign удаляет кампанию, её связи и отчёты.
func (m *Memory) DeleteCampaign(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return domain.NotFoundf("campaign %d", id)
	}
	delete(m.campaigns, id)
	delete(m.links, id)
	for reportID, r := range m.reports {
		if r.CampaignID == id {
			delete(m.reports, reportID)
		}
	}
	return nil
}

func (m *Memory) campaignLinks(id int64) (*campaignLinks, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[id]
	if !ok {
		return nil, domain.NotFoundf("campaign %d", id)
	}
	return l, nil
}

// AddBillLinks реализует domain.LinkRepo.
func (m *Memory) AddBillLinks(_ context.Context, campaignID int64, billIDs []string, at time.Time) ([]domain.CampaignBillLink, error) {
	l, err := m.campaignLinks(campaignID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	created := make([]domain.CampaignBillLink, 0, len(billIDs))
	for _, id := range billIDs {
		if _, ok := l.billIdx[id]; ok {
			continue
		}
		link := domain.CampaignBillLink{CampaignID: campaignID, BillID: id, AddedAt: at}
		l.billIdx[id] = struct{}{}
		l.bills = append(l.bills, link)
		created = append(created, link)
	}
	return created, nil
}

// AddLegislatorLinks реализует domain.LinkRepo.
func (m *Memory) AddLegislatorLinks(_ context.Context, campaignID int64, peopleIDs []string, at time.Time) ([]domain.CampaignLegislatorLink, error) {
	l, err := m.campaignLinks(campaignID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	created := make([]domain.CampaignLegislatorLink, 0, len(peopleIDs))
	for _, id := range peopleIDs {
		if _, ok := l.peopleIdx[id]; ok {
			continue
		}
		link := domain.CampaignLegislatorLink{CampaignID: campaignID, PeopleID: id, AddedAt: at}
		l.peopleIdx[id] = struct{}{}
		l.people = append(l.people, link)
		created = append(created, link)
	}
	return created, nil
}

// RemoveLink реализует domain.LinkRepo. Отсутствующая связь не является ошибкой.
func (m *Memory) RemoveLink(_ context.Context, campaignID int64, itemType domain.ItemType, itemID string) error {
	l, err := m.campaignLinks(campaignID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch itemType {
	case domain.ItemBill:
		if _, ok := l.billIdx[itemID]; !ok {
			return nil
		}
		delete(l.billIdx, itemID)
		kept := l.bills[:0]
		for _, link := range l.bills {
			if link.BillID != itemID {
				kept = append(kept, link)
			}
		}
		l.bills = kept
	case domain.ItemLegislator:
		if _, ok := l.peopleIdx[itemID]; !ok {
			return nil
		}
		delete(l.peopleIdx, itemID)
		kept := l.people[:0]
		for _, link := range l.people {
			if link.PeopleID != itemID {
				kept = append(kept, link)
			}
		}
		l.people = kept
	}
	return nil
}

// HasLink реализует domain.LinkRepo.
func (m *Memory) HasLink(_ context.Context, campaignID int64, itemType domain.ItemType, itemID string) (bool, error) {
	l, err := m.campaignLinks(campaignID)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch itemType {
	case domain.ItemBill:
		_, ok := l.billIdx[itemID]
		return ok, nil
	case domain.ItemLegislator:
		_, ok := l.peopleIdx[itemID]
		return ok, nil
	}
	return false, nil
}

// ListBillLinks реализует domain.LinkRepo.
func (m *Memory) ListBillLinks(_ context.Context, campaignID int64) ([]domain.CampaignBillLink, error) {
	l, err := m.campaignLinks(campaignID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.CampaignBillLink{}, l.bills...), nil
}

// ListLegislatorLinks реализует domain.LinkRepo.
func (m *Memory) ListLegislatorLinks(_ context.Context, campaignID int64) ([]domain.CampaignLegislatorLink, error) {
	l, err := m.campaignLinks(campaignID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.CampaignLegislatorLink{}, l.people...), nil
}

// ListCampaignIDsForItem реализует domain.LinkRepo.
func (m *Memory) ListCampaignIDsForItem(ctx context.Context, itemType domain.ItemType, itemID string) ([]int64, error) {
	m.mu.RLock()
	candidates := make(map[int64]*campaignLinks, len(m.links))
	for id, l := range m.links {
		candidates[id] = l
	}
	m.mu.RUnlock()

	ids := make([]int64, 0)
	for id := range candidates {
		ok, err := m.HasLink(ctx, id, itemType, itemID)
		if err != nil {
			continue
		}
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// CreateReport реализует domain.ReportRepo.
func (m *Memory) CreateReport(_ context.Context, r domain.CampaignReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[r.CampaignID]; !ok {
		return domain.NotFoundf("campaign %d", r.CampaignID)
	}
	m.reports[r.ID] = cloneReport(r)
	return nil
}

// GetReport реализует domain.ReportRepo.
func (m *Memory) GetReport(_ context.Context, id string) (domain.CampaignReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return domain.CampaignReport{}, domain.NotFoundf("report %s", id)
	}
	return cloneReport(r), nil
}

// ListReports реализует domain.ReportRepo.
func (m *Memory) ListReports(_ context.Context, campaignID int64) ([]domain.CampaignReport, error) {
	m.mu.RLock()
	out := make([]domain.CampaignReport, 0)
	for _, r := range m.reports {
		if r.CampaignID == campaignID {
			out = append(out, cloneReport(r))
		}
	}
	m.mu.RUnlock()
	sortReportsNewestFirst(out)
	return out, nil
}

// ListPendingReports реализует domain.ReportRepo.
func (m *Memory) ListPendingReports(_ context.Context) ([]domain.CampaignReport, error) {
	m.mu.RLock()
	out := make([]domain.CampaignReport, 0)
	for _, r := range m.reports {
		if r.Status.Cancellable() {
			out = append(out, cloneReport(r))
		}
	}
	m.mu.RUnlock()
	sortReportsNewestFirst(out)
	return out, nil
}

// TransitionReport реализует domain.ReportRepo.
func (m *Memory) TransitionReport(_ context.Context, t domain.ReportTransition) (domain.CampaignReport, error) {
	if !domain.CanTransition(t.From, t.To) {
		return domain.CampaignReport{}, domain.InvalidStatef("report %s: transition %s -> %s is not allowed", t.ReportID, t.From, t.To)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[t.ReportID]
	if !ok {
		return domain.CampaignReport{}, domain.NotFoundf("report %s", t.ReportID)
	}
	if r.Status != t.From {
		return domain.CampaignReport{}, domain.InvalidStatef("report %s is %s, expected %s", r.ID, r.Status, t.From)
	}
	applyTransition(&r, t)
	m.reports[r.ID] = r
	return cloneReport(r), nil
}

// DeleteReport реализует domain.ReportRepo.
func (m *Memory) DeleteReport(_ context.Context, id string, allowed ...domain.ReportStatus) (domain.CampaignReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return domain.CampaignReport{}, domain.NotFoundf("report %s", id)
	}
	if !statusIn(r.Status, allowed) {
		return domain.CampaignReport{}, domain.InvalidStatef("report %s is %s", r.ID, r.Status)
	}
	delete(m.reports, id)
	return r, nil
}

// Track реализует domain.TrackingRepo.
func (m *Memory) Track(_ context.Context, item domain.TrackedItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := trackKey{owner: item.OwnerID, itemType: item.ItemType, itemID: item.ItemID}
	if _, ok := m.tracked[key]; ok {
		return false, nil
	}
	m.tracked[key] = item
	return true, nil
}

// Untrack реализует domain.TrackingRepo.
func (m *Memory) Untrack(_ context.Context, ownerID string, itemType domain.ItemType, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracked, trackKey{owner: ownerID, itemType: itemType, itemID: itemID})
	return nil
}

// IsTracked реализует domain.TrackingRepo.
func (m *Memory) IsTracked(_ context.Context, ownerID string, itemType domain.ItemType, itemID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tracked[trackKey{owner: ownerID, itemType: itemType, itemID: itemID}]
	return ok, nil
}

// ListTracked реализует domain.TrackingRepo.
func (m *Memory) ListTracked(_ context.Context, ownerID string, itemType domain.ItemType) ([]domain.TrackedItem, error) {
	m.mu.RLock()
	out := make([]domain.TrackedItem, 0)
	for key, item := range m.tracked {
		if key.owner == ownerID && key.itemType == itemType {
			out = append(out, item)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TrackedAt.Equal(out[j].TrackedAt) {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].TrackedAt.Before(out[j].TrackedAt)
	})
	return out, nil
}

// CreateNote реализует domain.NoteRepo.
func (m *Memory) CreateNote(_ context.Context, n domain.Note) (domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNoteID++
	n.ID = m.nextNoteID
	m.notes[n.ID] = n
	return n, nil
}

// GetNote реализует domain.NoteRepo.
func (m *Memory) GetNote(_ context.Context, id int64) (domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notes[id]
	if !ok {
		return domain.Note{}, domain.NotFoundf("note %d", id)
	}
	return n, nil
}

// UpdateNote реализует domain.NoteRepo.
func (m *Memory) UpdateNote(_ context.Context, id int64, title, content string, at time.Time) (domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return domain.Note{}, domain.NotFoundf("note %d", id)
	}
	n.Title = title
	n.Content = content
	n.UpdatedAt = at
	m.notes[id] = n
	return n, nil
}

// DeleteNote реализует domain.NoteRepo.
func (m *Memory) DeleteNote(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[id]; !ok {
		return domain.NotFoundf("note %d", id)
	}
	delete(m.notes, id)
	return nil
}

// ListNotes реализует domain.NoteRepo.
func (m *Memory) ListNotes(_ context.Context, ownerID string, entityType domain.ItemType, entityID string) ([]domain.Note, error) {
	m.mu.RLock()
	out := make([]domain.Note, 0)
	for _, n := range m.notes {
		if n.OwnerID != ownerID {
			continue
		}
		if (entityType == "" || n.EntityType == entityType) && (entityID == "" || n.EntityID == entityID) {
			out = append(out, n)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RecordBusinessMetric сохраняет событие в памяти.
func (m *Memory) RecordBusinessMetric(_ context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, metric)
	return nil
}

// BusinessMetrics возвращает копию сохранённых событий.
func (m *Memory) BusinessMetrics() []domain.BusinessMetric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.BusinessMetric{}, m.metrics...)
}

func applyTransition(r *domain.CampaignReport, t domain.ReportTransition) {
	r.Status = t.To
	r.UpdatedAt = t.At
	switch t.To {
	case domain.ReportQueued:
		r.Attempts++
		r.Content = nil
		r.FailureReason = ""
	case domain.ReportReady:
		r.Content = t.Content
		r.FailureReason = ""
	case domain.ReportFailed:
		r.Content = nil
		r.FailureReason = t.FailureReason
	}
}

func cloneReport(r domain.CampaignReport) domain.CampaignReport {
	r.Scope = r.Scope.Clone()
	if r.Content != nil {
		content := domain.ReportContent{Sections: append([]domain.ReportSection{}, r.Content.Sections...)}
		r.Content = &content
	}
	if r.Deadline != nil {
		d := *r.Deadline
		r.Deadline = &d
	}
	return r
}

func sortReportsNewestFirst(reports []domain.CampaignReport) {
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].CreatedAt.Equal(reports[j].CreatedAt) {
			return reports[i].ID > reports[j].ID
		}
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
}

func statusIn(status domain.ReportStatus, allowed []domain.ReportStatus) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

const defaultSearchLimit = 50

func searchLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	return limit
}

func clip[T any](items []T, limit int) []T {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
