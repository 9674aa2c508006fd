package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"poliux/internal/domain"
	"poliux/internal/infra/metrics"
)

const (
	DefaultQueueDelay        = time.Second
	DefaultReadyDelay        = 3 * time.Second
	DefaultGenerationTimeout = time.Minute
	DefaultIdempotencyTTL    = 10 * time.Minute
)

// Config задаёт тайминги прогрессии отчётов.
type Config struct {
	// QueueDelay: пауза между созданием и переходом в processing.
	QueueDelay time.Duration
	// ReadyDelay отсчитывается от создания или повтора, а не от перехода в processing.
	ReadyDelay        time.Duration
	GenerationTimeout time.Duration
	IdempotencyTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueDelay <= 0 {
		c.QueueDelay = DefaultQueueDelay
	}
	if c.ReadyDelay <= 0 {
		c.ReadyDelay = DefaultReadyDelay
	}
	if c.ReadyDelay < c.QueueDelay {
		c.ReadyDelay = c.QueueDelay
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = DefaultIdempotencyTTL
	}
	return c
}

// Store: репозитории, нужные менеджеру отчётов.
type Store interface {
	domain.CampaignRepo
	domain.ReportRepo
	domain.BusinessMetricRepo
}

// ScopeResolver вычисляет охват отчёта.
type ScopeResolver interface {
	Resolve(ctx context.Context, campaignID int64, sel domain.ScopeSelection) (domain.ReportScope, error)
}

// Deps: зависимости менеджера. Publisher, Cache и Clock необязательны.
type Deps struct {
	Store     Store
	Catalog   domain.CatalogRepo
	Resolver  ScopeResolver
	Generator domain.ReportGenerator
	Publisher domain.ReportEventPublisher
	Cache     domain.Cache
	Clock     Clock
}

// OrderOptions: необязательные параметры заказа.
type OrderOptions struct {
	Prompt         string
	Deadline       *time.Time
	Sensitivity    domain.Sensitivity
	IdempotencyKey string
}

// Manager ведёт отчёты от заказа до готовности.
// Каждый переход условный, а таймер отчёта помечен поколением,
// поэтому отменённый или повторённый отчёт не получит устаревший переход.
type Manager struct {
	store     Store
	catalog   domain.CatalogRepo
	resolver  ScopeResolver
	generator domain.ReportGenerator
	publisher domain.ReportEventPublisher
	cache     domain.Cache
	clock     Clock
	cfg       Config
	log       zerolog.Logger

	baseCtx    context.Context
	stopAll    context.CancelFunc
	mu         sync.Mutex
	handles    map[string]*handle
	generation uint64
	closed     bool
	wg         sync.WaitGroup
}

type job struct {
	reportID   string
	campaignID int64
	ownerID    string
	reportType domain.ReportType
	since      time.Time
}

type handle struct {
	job
	gen    uint64
	timer  Timer
	cancel context.CancelFunc
}

type step func(ctx context.Context, j job, gen uint64)

// NewManager создаёт менеджер отчётов.
func NewManager(deps Deps, cfg Config, logger zerolog.Logger) *Manager {
	clock := deps.Clock
	if clock == nil {
		clock = RealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     deps.Store,
		catalog:   deps.Catalog,
		resolver:  deps.Resolver,
		generator: deps.Generator,
		publisher: deps.Publisher,
		cache:     deps.Cache,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		log:       logger.With().Str("component", "reports").Logger(),
		baseCtx:   ctx,
		stopAll:   cancel,
		handles:   map[string]*handle{},
	}
}

// Order заказывает отчёт и сразу возвращает его в статусе queued.
func (m *Manager) Order(ctx context.Context, ownerID string, campaignID int64, reportType domain.ReportType, sel domain.ScopeSelection, opts OrderOptions) (domain.CampaignReport, error) {
	if !reportType.Valid() {
		return domain.CampaignReport{}, domain.NewValidationError("type", "неизвестный тип отчёта")
	}
	prompt := strings.TrimSpace(opts.Prompt)
	if utf8.RuneCountInString(prompt) > domain.ReportPromptMax {
		return domain.CampaignReport{}, domain.NewValidationError("prompt", "запрос должен содержать не более 2000 символов")
	}
	opts.Prompt = prompt
	if opts.Sensitivity == "" {
		opts.Sensitivity = domain.SensitivityInternal
	}
	if !opts.Sensitivity.Valid() {
		return domain.CampaignReport{}, domain.NewValidationError("sensitivity", "неизвестный уровень доступа")
	}

	key := strings.TrimSpace(opts.IdempotencyKey)
	if key == "" || m.cache == nil {
		return m.order(ctx, ownerID, campaignID, reportType, sel, opts)
	}
	return m.orderOnce(ctx, ownerID, key, func() (domain.CampaignReport, error) {
		return m.order(ctx, ownerID, campaignID, reportType, sel, opts)
	})
}

// orderOnce возвращает отчёт первого запроса, если ключ уже использовался.
func (m *Manager) orderOnce(ctx context.Context, ownerID, key string, create func() (domain.CampaignReport, error)) (domain.CampaignReport, error) {
	cacheKey := "report_order:" + ownerID + ":" + key
	var created domain.CampaignReport
	called, err := m.cache.Once(ctx, cacheKey, m.cfg.IdempotencyTTL, func() error {
		r, err := create()
		if err != nil {
			return err
		}
		created = r
		// Заглушка ключа остаётся и без id: повтор получит 409.
		if err := m.cache.Set(ctx, cacheKey, []byte(r.ID), m.cfg.IdempotencyTTL); err != nil {
			m.log.Warn().Err(err).Str("report_id", r.ID).Msg("не удалось сохранить ключ идемпотентности")
		}
		return nil
	})
	if err != nil {
		if created.ID != "" {
			return created, nil
		}
		return domain.CampaignReport{}, err
	}
	if called {
		return created, nil
	}
	stored, err := m.cache.Get(ctx, cacheKey)
	if err != nil && !errors.Is(err, domain.ErrCacheMiss) {
		return domain.CampaignReport{}, fmt.Errorf("ключ идемпотентности: %w", err)
	}
	reportID := string(stored)
	if reportID == "" || reportID == "1" {
		return domain.CampaignReport{}, domain.InvalidStatef("order %s is in progress", key)
	}
	m.log.Debug().Str("report_id", reportID).Msg("повторный заказ с тем же ключом")
	return m.View(ctx, ownerID, reportID)
}

func (m *Manager) order(ctx context.Context, ownerID string, campaignID int64, reportType domain.ReportType, sel domain.ScopeSelection, opts OrderOptions) (domain.CampaignReport, error) {
	c, err := domain.LoadOwnedCampaign(ctx, m.store, ownerID, campaignID)
	if err != nil {
		return domain.CampaignReport{}, err
	}
	if c.Status != domain.CampaignActive {
		return domain.CampaignReport{}, domain.InvalidStatef("campaign %d is %s", c.ID, c.Status)
	}
	scope, err := m.resolver.Resolve(ctx, campaignID, sel)
	if err != nil {
		return domain.CampaignReport{}, err
	}
	if scope.Empty() {
		return domain.CampaignReport{}, domain.NewValidationError("scope", "выберите хотя бы один законопроект или законодателя")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return domain.CampaignReport{}, fmt.Errorf("идентификатор отчёта: %w", err)
	}
	now := m.clock.Now()
	report := domain.CampaignReport{
		ID:          id.String(),
		CampaignID:  campaignID,
		Type:        reportType,
		Scope:       scope,
		Prompt:      opts.Prompt,
		Deadline:    opts.Deadline,
		Sensitivity: opts.Sensitivity,
		Status:      domain.ReportQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateReport(ctx, report); err != nil {
		return domain.CampaignReport{}, fmt.Errorf("сохранение отчёта: %w", err)
	}

	metrics.IncReportTransition(string(reportType), string(domain.ReportQueued))
	m.record(ctx, domain.BusinessMetricEventReportOrdered, ownerID, campaignID, map[string]any{
		"report_id": report.ID,
		"type":      string(reportType),
		"bills":     len(scope.BillIDs),
		"people":    len(scope.PeopleIDs),
	})
	m.publish(ctx, ownerID, report, false)

	j := job{reportID: report.ID, campaignID: campaignID, ownerID: ownerID, reportType: reportType, since: now}
	m.arm(j, 0, m.cfg.QueueDelay, m.advance)
	m.log.Info().Str("report_id", report.ID).Int64("campaign_id", campaignID).Str("type", string(reportType)).Msg("отчёт поставлен в очередь")
	return report, nil
}

// Retry возвращает отчёт из failed в очередь и запускает прогрессию заново.
func (m *Manager) Retry(ctx context.Context, ownerID, reportID string) (domain.CampaignReport, error) {
	r, err := m.loadOwned(ctx, ownerID, reportID)
	if err != nil {
		return domain.CampaignReport{}, err
	}
	if r.Status != domain.ReportFailed {
		return domain.CampaignReport{}, domain.InvalidStatef("report %s is %s", r.ID, r.Status)
	}
	now := m.clock.Now()
	updated, err := m.store.TransitionReport(ctx, domain.ReportTransition{
		ReportID: r.ID,
		From:     domain.ReportFailed,
		To:       domain.ReportQueued,
		At:       now,
	})
	if err != nil {
		return domain.CampaignReport{}, err
	}
	metrics.IncReportTransition(string(updated.Type), string(domain.ReportQueued))
	m.publish(ctx, ownerID, updated, false)
	j := job{reportID: r.ID, campaignID: r.CampaignID, ownerID: ownerID, reportType: r.Type, since: now}
	m.arm(j, 0, m.cfg.QueueDelay, m.advance)
	m.log.Info().Str("report_id", r.ID).Int("attempts", updated.Attempts).Msg("повтор отчёта")
	return updated, nil
}

// Cancel удаляет отчёт в статусе queued или processing и гасит его таймер.
func (m *Manager) Cancel(ctx context.Context, ownerID, reportID string) error {
	r, err := m.loadOwned(ctx, ownerID, reportID)
	if err != nil {
		return err
	}
	if !r.Status.Cancellable() {
		return domain.InvalidStatef("report %s is %s", r.ID, r.Status)
	}
	deleted, err := m.store.DeleteReport(ctx, r.ID, domain.ReportQueued, domain.ReportProcessing)
	if err != nil {
		return err
	}
	m.forget(r.ID)
	m.publish(ctx, ownerID, deleted, true)
	m.log.Info().Str("report_id", r.ID).Str("status", string(deleted.Status)).Msg("отчёт отменён")
	return nil
}

// View возвращает текущее состояние отчёта.
func (m *Manager) View(ctx context.Context, ownerID, reportID string) (domain.CampaignReport, error) {
	return m.loadOwned(ctx, ownerID, reportID)
}

// List возвращает отчёты кампании, новые первыми.
func (m *Manager) List(ctx context.Context, ownerID string, campaignID int64) ([]domain.CampaignReport, error) {
	if _, err := domain.LoadOwnedCampaign(ctx, m.store, ownerID, campaignID); err != nil {
		return nil, err
	}
	return m.store.ListReports(ctx, campaignID)
}

// Delete удаляет завершённый отчёт. Незавершённый нужно отменять через Cancel.
func (m *Manager) Delete(ctx context.Context, ownerID, reportID string) error {
	r, err := m.loadOwned(ctx, ownerID, reportID)
	if err != nil {
		return err
	}
	if !r.Status.Terminal() {
		return domain.InvalidStatef("report %s is %s", r.ID, r.Status)
	}
	deleted, err := m.store.DeleteReport(ctx, r.ID, domain.ReportReady, domain.ReportFailed)
	if err != nil {
		return err
	}
	m.publish(ctx, ownerID, deleted, true)
	return nil
}

// Export формирует Markdown готового отчёта.
func (m *Manager) Export(ctx context.Context, ownerID, reportID string) (string, error) {
	r, err := m.loadOwned(ctx, ownerID, reportID)
	if err != nil {
		return "", err
	}
	if r.Status != domain.ReportReady {
		return "", domain.InvalidStatef("report %s is %s", r.ID, r.Status)
	}
	in, err := m.generationInput(ctx, r)
	if err != nil {
		return "", err
	}
	return FormatMarkdown(in), nil
}

// Resume заново планирует незавершённые отчёты после перезапуска.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	pending, err := m.store.ListPendingReports(ctx)
	if err != nil {
		return 0, fmt.Errorf("незавершённые отчёты: %w", err)
	}
	now := m.clock.Now()
	owners := map[int64]string{}
	resumed := 0
	for _, r := range pending {
		ownerID, ok := owners[r.CampaignID]
		if !ok {
			c, err := m.store.GetCampaign(ctx, r.CampaignID)
			if err != nil {
				m.log.Warn().Err(err).Str("report_id", r.ID).Msg("кампания отчёта недоступна")
				continue
			}
			ownerID = c.OwnerID
			owners[r.CampaignID] = ownerID
		}
		elapsed := now.Sub(r.UpdatedAt)
		j := job{reportID: r.ID, campaignID: r.CampaignID, ownerID: ownerID, reportType: r.Type}
		switch r.Status {
		case domain.ReportQueued:
			j.since = r.UpdatedAt
			m.arm(j, 0, remaining(m.cfg.QueueDelay, elapsed), m.advance)
		case domain.ReportProcessing:
			j.since = r.UpdatedAt.Add(-m.cfg.QueueDelay)
			m.arm(j, 0, remaining(m.cfg.ReadyDelay-m.cfg.QueueDelay, elapsed), m.complete)
		default:
			continue
		}
		resumed++
	}
	if resumed > 0 {
		m.log.Info().Int("count", resumed).Msg("прогрессия отчётов восстановлена")
	}
	return resumed, nil
}

func remaining(total, elapsed time.Duration) time.Duration {
	if elapsed >= total {
		return 0
	}
	return total - elapsed
}

// DropCampaign гасит таймеры всех отчётов кампании.
func (m *Manager) DropCampaign(campaignID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.handles {
		if h.campaignID == campaignID {
			m.stopLocked(id, h)
		}
	}
}

// Pending возвращает число отчётов с активной прогрессией.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Close останавливает все таймеры и дожидается выполняющихся шагов.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, h := range m.handles {
		m.stopLocked(id, h)
	}
	m.mu.Unlock()
	m.stopAll()
	m.wg.Wait()
}

func (m *Manager) loadOwned(ctx context.Context, ownerID, reportID string) (domain.CampaignReport, error) {
	r, err := m.store.GetReport(ctx, reportID)
	if err != nil {
		return domain.CampaignReport{}, err
	}
	if _, err := domain.LoadOwnedCampaign(ctx, m.store, ownerID, r.CampaignID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.CampaignReport{}, domain.NotFoundf("report %s", reportID)
		}
		return domain.CampaignReport{}, err
	}
	return r, nil
}

func (m *Manager) publish(ctx context.Context, ownerID string, r domain.CampaignReport, deleted bool) {
	if m.publisher == nil {
		return
	}
	ev := domain.ReportEvent{
		ReportID:   r.ID,
		CampaignID: r.CampaignID,
		OwnerID:    ownerID,
		Type:       r.Type,
		Status:     r.Status,
		Deleted:    deleted,
		OccurredAt: m.clock.Now(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.publisher.Publish(pubCtx, ev); err != nil {
		m.log.Warn().Err(err).Str("report_id", r.ID).Str("status", string(r.Status)).Msg("не удалось опубликовать событие отчёта")
	}
}

func (m *Manager) record(ctx context.Context, event, ownerID string, campaignID int64, meta map[string]any) {
	err := m.store.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:      event,
		OwnerID:    ownerID,
		CampaignID: &campaignID,
		Metadata:   meta,
		OccurredAt: m.clock.Now(),
	})
	if err != nil {
		m.log.Warn().Err(err).Str("event", event).Msg("не удалось сохранить бизнес-метрику")
	}
}
