package domain

import (
	"context"
	"errors"
	"time"
)

// CatalogRepo отдаёт законопроекты и законодателей из внешнего каталога.
type CatalogRepo interface {
	GetBill(ctx context.Context, id string) (Bill, error)
	GetLegislator(ctx context.Context, id string) (Legislator, error)
	SearchBills(ctx context.Context, query string, limit int) ([]Bill, error)
	SearchLegislators(ctx context.Context, query string, limit int) ([]Legislator, error)
}

// CampaignRepo управляет кампаниями.
type CampaignRepo interface {
	// CreateCampaign атомарно проверяет лимит активных кампаний владельца и сохраняет новую.
	// limit <= 0 отключает проверку.
	CreateCampaign(ctx context.Context, c Campaign, limit int) (Campaign, error)
	GetCampaign(ctx context.Context, id int64) (Campaign, error)
	// ListCampaignsByOwner возвращает кампании, отсортированные по updated_at по убыванию.
	ListCampaignsByOwner(ctx context.Context, ownerID string) ([]Campaign, error)
	UpdateCampaign(ctx context.Context, id int64, patch CampaignPatch, at time.Time) (Campaign, error)
	// SetCampaignStatus при возврате в active проверяет тот же лимит, что и CreateCampaign.
	SetCampaignStatus(ctx context.Context, id int64, status CampaignStatus, limit int, at time.Time) (Campaign, error)
	// DeleteCampaign удаляет кампанию вместе со связями и отчётами.
	DeleteCampaign(ctx context.Context, id int64) error
}

// LinkRepo хранит связи кампаний с законопроектами и законодателями.
// Повторная привязка пропускается, а не возвращает ошибку.
type LinkRepo interface {
	AddBillLinks(ctx context.Context, campaignID int64, billIDs []string, at time.Time) ([]CampaignBillLink, error)
	AddLegislatorLinks(ctx context.Context, campaignID int64, peopleIDs []string, at time.Time) ([]CampaignLegislatorLink, error)
	RemoveLink(ctx context.Context, campaignID int64, itemType ItemType, itemID string) error
	HasLink(ctx context.Context, campaignID int64, itemType ItemType, itemID string) (bool, error)
	ListBillLinks(ctx context.Context, campaignID int64) ([]CampaignBillLink, error)
	ListLegislatorLinks(ctx context.Context, campaignID int64) ([]CampaignLegislatorLink, error)
	ListCampaignIDsForItem(ctx context.Context, itemType ItemType, itemID string) ([]int64, error)
}

// ReportRepo хранит отчёты кампаний.
type ReportRepo interface {
	CreateReport(ctx context.Context, r CampaignReport) error
	GetReport(ctx context.Context, id string) (CampaignReport, error)
	// ListReports возвращает отчёты кампании, новые первыми.
	ListReports(ctx context.Context, campaignID int64) ([]CampaignReport, error)
	// ListPendingReports возвращает отчёты в статусах queued и processing.
	ListPendingReports(ctx context.Context) ([]CampaignReport, error)
	// TransitionReport применяет переход, только если текущий статус равен t.From.
	// Возвращает ErrNotFound для удалённого отчёта и ErrInvalidState при несовпадении статуса.
	// Переход в queued увеличивает Attempts и очищает содержимое и причину сбоя.
	TransitionReport(ctx context.Context, t ReportTransition) (CampaignReport, error)
	// DeleteReport удаляет отчёт, если его статус входит в allowed.
	DeleteReport(ctx context.Context, id string, allowed ...ReportStatus) (CampaignReport, error)
}

// TrackingRepo хранит отслеживаемые пользователем элементы.
type TrackingRepo interface {
	// Track возвращает true, если запись создана впервые.
	Track(ctx context.Context, item TrackedItem) (bool, error)
	Untrack(ctx context.Context, ownerID string, itemType ItemType, itemID string) error
	IsTracked(ctx context.Context, ownerID string, itemType ItemType, itemID string) (bool, error)
	ListTracked(ctx context.Context, ownerID string, itemType ItemType) ([]TrackedItem, error)
}

// NoteRepo хранит заметки пользователей.
type NoteRepo interface {
	CreateNote(ctx context.Context, n Note) (Note, error)
	GetNote(ctx context.Context, id int64) (Note, error)
	UpdateNote(ctx context.Context, id int64, title, content string, at time.Time) (Note, error)
	DeleteNote(ctx context.Context, id int64) error
	// ListNotes возвращает заметки владельца, новые первыми. Пустые entityType и entityID не фильтруют.
	ListNotes(ctx context.Context, ownerID string, entityType ItemType, entityID string) ([]Note, error)
}

// Store объединяет все репозитории одного хранилища.
type Store interface {
	CatalogRepo
	CampaignRepo
	LinkRepo
	ReportRepo
	TrackingRepo
	NoteRepo
	BusinessMetricRepo
}

// ErrCacheMiss возвращается Cache.Get при отсутствии ключа.
var ErrCacheMiss = errors.New("cache miss")

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	// Once выполняет fn, только если ключ ещё не задан, и возвращает true, если fn была вызвана.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
