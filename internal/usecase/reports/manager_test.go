package reports

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"poliux/internal/adapters/generator"
	"poliux/internal/adapters/repo"
	"poliux/internal/domain"
	"poliux/internal/infra/cache"
	"poliux/internal/usecase/campaigns"
	"poliux/internal/usecase/membership"
	"poliux/internal/usecase/scope"
)

const owner = "owner-1"

type testEnv struct {
	m        *Manager
	store    *repo.Memory
	clock    *fakeClock
	events   <-chan domain.ReportEvent
	campaign domain.Campaign
}

type envOption func(*Deps, *Config)

func withGenerator(g domain.ReportGenerator) envOption {
	return func(d *Deps, _ *Config) { d.Generator = g }
}

func withCache(c domain.Cache) envOption {
	return func(d *Deps, _ *Config) { d.Cache = c }
}

func withConfig(cfg Config) envOption {
	return func(_ *Deps, c *Config) { *c = cfg }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := repo.NewMemory()
	if _, err := repo.LoadDemoCatalog(ctx, store); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	clock := newFakeClock()
	now := clock.Now()
	c, err := store.CreateCampaign(ctx, domain.Campaign{OwnerID: owner, Name: "Clean Energy Advocacy", Status: domain.CampaignActive, CreatedAt: now, UpdatedAt: now}, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := store.AddBillLinks(ctx, c.ID, []string{"hr1234-118", "s567-118"}, now); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := store.AddLegislatorLinks(ctx, c.ID, []string{"p001"}, now); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	events := NewBroadcaster(64, zerolog.Nop())
	ch, cancel := events.Subscribe(owner)
	t.Cleanup(cancel)

	deps := Deps{
		Store:     store,
		Catalog:   store,
		Resolver:  scope.NewResolver(store, zerolog.Nop()),
		Generator: generator.NewSimple(),
		Publisher: events,
		Clock:     clock,
	}
	var cfg Config
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	m := NewManager(deps, cfg, zerolog.Nop())
	t.Cleanup(m.Close)
	return &testEnv{m: m, store: store, clock: clock, events: ch, campaign: c}
}

func (e *testEnv) order(t *testing.T) domain.CampaignReport {
	t.Helper()
	r, err := e.m.Order(context.Background(), owner, e.campaign.ID, domain.ReportBillSummary, domain.SelectAll(), OrderOptions{})
	if err != nil {
		t.Fatalf("не ожидали ошибку заказа: %v", err)
	}
	return r
}

func (e *testEnv) status(t *testing.T, id string) domain.ReportStatus {
	t.Helper()
	r, err := e.store.GetReport(context.Background(), id)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return r.Status
}

// drain возвращает статусы опубликованных событий отчёта. Удаление помечается как "deleted".
func (e *testEnv) drain(reportID string) []string {
	var out []string
	for {
		select {
		case ev := <-e.events:
			if ev.ReportID != reportID {
				continue
			}
			if ev.Deleted {
				out = append(out, "deleted")
				continue
			}
			out = append(out, string(ev.Status))
		default:
			return out
		}
	}
}

func TestOrderProgressesOnSchedule(t *testing.T) {
	env := newTestEnv(t)
	r := env.order(t)

	if r.Status != domain.ReportQueued {
		t.Fatalf("ожидали queued, получили %s", r.Status)
	}
	if diff := cmp.Diff([]string{"hr1234-118", "s567-118"}, r.Scope.BillIDs); diff != "" {
		t.Fatalf("охват законопроектов (-want +got):\n%s", diff)
	}

	env.clock.Advance(999 * time.Millisecond)
	if got := env.status(t, r.ID); got != domain.ReportQueued {
		t.Fatalf("до 1с ожидали queued, получили %s", got)
	}
	env.clock.Advance(time.Millisecond)
	if got := env.status(t, r.ID); got != domain.ReportProcessing {
		t.Fatalf("через 1с ожидали processing, получили %s", got)
	}
	env.clock.Advance(1999 * time.Millisecond)
	if got := env.status(t, r.ID); got != domain.ReportProcessing {
		t.Fatalf("до 3с ожидали processing, получили %s", got)
	}
	env.clock.Advance(time.Millisecond)

	ready, err := env.m.View(context.Background(), owner, r.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ready.Status != domain.ReportReady {
		t.Fatalf("через 3с ожидали ready, получили %s", ready.Status)
	}
	if ready.Content == nil || len(ready.Content.Sections) != 3 {
		t.Fatalf("ожидали три раздела: %+v", ready.Content)
	}
	if env.m.Pending() != 0 || env.clock.Waiting() != 0 {
		t.Fatalf("после ready не должно оставаться таймеров")
	}
	if diff := cmp.Diff([]string{"queued", "processing", "ready"}, env.drain(r.ID)); diff != "" {
		t.Fatalf("последовательность статусов (-want +got):\n%s", diff)
	}
}

func TestOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.m.Order(ctx, owner, env.campaign.ID, "forecast", domain.SelectAll(), OrderOptions{})
	assertField(t, err, "type")

	_, err = env.m.Order(ctx, owner, env.campaign.ID, domain.ReportBillSummary, domain.SelectAll(), OrderOptions{Prompt: strings.Repeat("x", domain.ReportPromptMax+1)})
	assertField(t, err, "prompt")

	_, err = env.m.Order(ctx, owner, env.campaign.ID, domain.ReportBillSummary, domain.SelectAll(), OrderOptions{Sensitivity: "secret"})
	assertField(t, err, "sensitivity")

	_, err = env.m.Order(ctx, owner, env.campaign.ID, domain.ReportBillSummary, domain.SelectCustom([]string{"unlinked"}, nil), OrderOptions{})
	assertField(t, err, "scope")

	_, err = env.m.Order(ctx, owner, env.campaign.ID, domain.ReportBillSummary, domain.ScopeSelection{Mode: "some"}, OrderOptions{})
	assertField(t, err, "scope.mode")

	if _, err := env.m.Order(ctx, "stranger", env.campaign.ID, domain.ReportBillSummary, domain.SelectAll(), OrderOptions{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("чужая кампания: ожидали ErrNotFound, получили %v", err)
	}

	reports, err := env.m.List(ctx, owner, env.campaign.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("отклонённые заказы не должны сохраняться: %d", len(reports))
	}
}

func TestOrderRejectsEmptyCampaign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()
	empty, err := env.store.CreateCampaign(ctx, domain.Campaign{OwnerID: owner, Name: "Empty", Status: domain.CampaignActive, CreatedAt: now, UpdatedAt: now}, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	_, err = env.m.Order(ctx, owner, empty.ID, domain.ReportTalkingPoints, domain.SelectAll(), OrderOptions{})
	assertField(t, err, "scope")
}

func TestOrderRejectsArchivedCampaign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.store.SetCampaignStatus(ctx, env.campaign.ID, domain.CampaignArchived, 0, env.clock.Now()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := env.m.Order(ctx, owner, env.campaign.ID, domain.ReportBillSummary, domain.SelectAll(), OrderOptions{}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("ожидали ErrInvalidState, получили %v", err)
	}
}

func TestScopeIsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.order(t)

	if _, err := env.store.AddLegislatorLinks(ctx, env.campaign.ID, []string{"p002"}, env.clock.Now()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := env.store.RemoveLink(ctx, env.campaign.ID, domain.ItemBill, "s567-118"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	env.clock.Advance(3 * time.Second)

	got, err := env.m.View(ctx, owner, r.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := domain.ReportScope{Mode: domain.ScopeAll, BillIDs: []string{"hr1234-118", "s567-118"}, PeopleIDs: []string{"p001"}}
	if diff := cmp.Diff(want, got.Scope); diff != "" {
		t.Fatalf("охват изменился после заказа (-want +got):\n%s", diff)
	}
}

func TestCancelQueuedAndProcessing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	queued := env.order(t)
	if err := env.m.Cancel(ctx, owner, queued.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	processing := env.order(t)
	env.clock.Advance(time.Second)
	if got := env.status(t, processing.ID); got != domain.ReportProcessing {
		t.Fatalf("ожидали processing, получили %s", got)
	}
	if err := env.m.Cancel(ctx, owner, processing.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	env.clock.Advance(10 * time.Second)
	for _, id := range []string{queued.ID, processing.ID} {
		if _, err := env.store.GetReport(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("отменённый отчёт не должен существовать: %v", err)
		}
	}
	if env.m.Pending() != 0 {
		t.Fatalf("после отмены не должно оставаться таймеров, осталось %d", env.m.Pending())
	}
	if diff := cmp.Diff([]string{"queued", "deleted"}, env.drain(queued.ID)); diff != "" {
		t.Fatalf("события отменённого в очереди (-want +got):\n%s", diff)
	}
}

func TestCancelRejectsFinishedReport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := env.order(t)
	env.clock.Advance(3 * time.Second)

	if err := env.m.Cancel(ctx, owner, r.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("ожидали ErrInvalidState, получили %v", err)
	}
	if err := env.m.Cancel(ctx, owner, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if err := env.m.Delete(ctx, owner, r.ID); err != nil {
		t.Fatalf("готовый отчёт должен удаляться: %v", err)
	}
}

type blockingGenerator struct {
	started chan struct{}
}

func (g *blockingGenerator) Generate(ctx context.Context, _ domain.GenerationInput) (domain.ReportContent, error) {
	close(g.started)
	<-ctx.Done()
	return domain.ReportContent{}, ctx.Err()
}

func TestCancelDuringGenerationDiscardsResult(t *testing.T) {
	gen := &blockingGenerator{started: make(chan struct{})}
	env := newTestEnv(t, withGenerator(gen))
	ctx := context.Background()
	r := env.order(t)
	env.clock.Advance(time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.clock.Advance(2 * time.Second)
	}()
	<-gen.started
	if err := env.m.Cancel(ctx, owner, r.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	<-done

	if _, err := env.store.GetReport(ctx, r.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("отменённый отчёт не должен появиться снова: %v", err)
	}
	if diff := cmp.Diff([]string{"queued", "processing", "deleted"}, env.drain(r.ID)); diff != "" {
		t.Fatalf("последовательность событий (-want +got):\n%s", diff)
	}
}

type flakyGenerator struct {
	fail atomic.Bool
}

func (g *flakyGenerator) Generate(ctx context.Context, in domain.GenerationInput) (domain.ReportContent, error) {
	if g.fail.Load() {
		return domain.ReportContent{}, errors.New("upstream unavailable")
	}
	return generator.NewSimple().Generate(ctx, in)
}

func TestFailureThenRetry(t *testing.T) {
	gen := &flakyGenerator{}
	gen.fail.Store(true)
	env := newTestEnv(t, withGenerator(gen))
	ctx := context.Background()
	r := env.order(t)

	env.clock.Advance(3 * time.Second)
	failed, err := env.m.View(ctx, owner, r.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if failed.Status != domain.ReportFailed || failed.FailureReason != "upstream unavailable" {
		t.Fatalf("ожидали failed с причиной: %+v", failed)
	}
	if _, err := env.m.Export(ctx, owner, r.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("экспорт failed: ожидали ErrInvalidState, получили %v", err)
	}

	gen.fail.Store(false)
	retried, err := env.m.Retry(ctx, owner, r.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if retried.Status != domain.ReportQueued || retried.Attempts != 1 || retried.FailureReason != "" {
		t.Fatalf("неожиданный отчёт после повтора: %+v", retried)
	}
	env.clock.Advance(3 * time.Second)
	if got := env.status(t, r.ID); got != domain.ReportReady {
		t.Fatalf("после повтора ожидали ready, получили %s", got)
	}
	if _, err := env.m.Retry(ctx, owner, r.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("повтор ready: ожидали ErrInvalidState, получили %v", err)
	}
	want := []string{"queued", "processing", "failed", "queued", "processing", "ready"}
	if diff := cmp.Diff(want, env.drain(r.ID)); diff != "" {
		t.Fatalf("последовательность статусов (-want +got):\n%s", diff)
	}
}

type slowGenerator struct{}

func (slowGenerator) Generate(ctx context.Context, _ domain.GenerationInput) (domain.ReportContent, error) {
	<-ctx.Done()
	return domain.ReportContent{}, ctx.Err()
}

func TestGenerationTimeoutFailsReport(t *testing.T) {
	env := newTestEnv(t, withGenerator(slowGenerator{}), withConfig(Config{GenerationTimeout: 20 * time.Millisecond}))
	r := env.order(t)
	env.clock.Advance(3 * time.Second)

	got, err := env.store.GetReport(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Status != domain.ReportFailed || !strings.Contains(got.FailureReason, "не уложилась") {
		t.Fatalf("ожидали failed по таймауту: %+v", got)
	}
}

func TestIdempotentOrder(t *testing.T) {
	env := newTestEnv(t, withCache(cache.NewMemory()))
	ctx := context.Background()
	opts := OrderOptions{IdempotencyKey: "order-42"}

	first, err := env.m.Order(ctx, owner, env.campaign.ID, domain.ReportFiscalImpact, domain.SelectAll(), opts)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := env.m.Order(ctx, owner, env.campaign.ID, domain.ReportFiscalImpact, domain.SelectAll(), opts)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("повтор с тем же ключом создал новый отчёт: %s != %s", first.ID, second.ID)
	}
	reports, err := env.m.List(ctx, owner, env.campaign.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("ожидали один отчёт, получили %d", len(reports))
	}
}

// flakySetCache теряет запись id отчёта, но хранит заглушку Once.
type flakySetCache struct {
	domain.Cache
}

func (flakySetCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("redis: connection reset")
}

func TestIdempotentOrderSurvivesLostKeyWrite(t *testing.T) {
	env := newTestEnv(t, withCache(flakySetCache{Cache: cache.NewMemory()}))
	ctx := context.Background()
	opts := OrderOptions{IdempotencyKey: "order-43"}

	first, err := env.m.Order(ctx, owner, env.campaign.ID, domain.ReportBillSummary, domain.SelectAll(), opts)
	if err != nil || first.ID == "" {
		t.Fatalf("первый заказ должен пройти: %+v, %v", first, err)
	}
	if _, err := env.m.Order(ctx, owner, env.campaign.ID, domain.ReportBillSummary, domain.SelectAll(), opts); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("повтор без сохранённого id должен давать ErrInvalidState, получили %v", err)
	}
	reports, err := env.m.List(ctx, owner, env.campaign.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("повтор создал второй отчёт: %d", len(reports))
	}
}

func TestResumeAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	processing := env.order(t)
	env.clock.Advance(time.Second)
	queued := env.order(t)
	env.m.Close()

	restarted := NewManager(Deps{
		Store:     env.store,
		Catalog:   env.store,
		Resolver:  scope.NewResolver(env.store, zerolog.Nop()),
		Generator: generator.NewSimple(),
		Clock:     env.clock,
	}, Config{}, zerolog.Nop())
	defer restarted.Close()

	n, err := restarted.Resume(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n != 2 {
		t.Fatalf("ожидали восстановить 2 отчёта, получили %d", n)
	}
	env.clock.Advance(2 * time.Second)
	if got := env.status(t, processing.ID); got != domain.ReportReady {
		t.Fatalf("ожидали ready, получили %s", got)
	}
	if got := env.status(t, queued.ID); got != domain.ReportProcessing {
		t.Fatalf("ожидали processing, получили %s", got)
	}
	env.clock.Advance(time.Second)
	if got := env.status(t, queued.ID); got != domain.ReportReady {
		t.Fatalf("ожидали ready, получили %s", got)
	}
}

func TestDropCampaignStopsTimers(t *testing.T) {
	env := newTestEnv(t)
	r := env.order(t)
	env.m.DropCampaign(env.campaign.ID)
	if env.m.Pending() != 0 {
		t.Fatalf("ожидали пустой список таймеров, осталось %d", env.m.Pending())
	}
	env.clock.Advance(5 * time.Second)
	if got := env.status(t, r.ID); got != domain.ReportQueued {
		t.Fatalf("после сброса отчёт не должен продвигаться, статус %s", got)
	}
}

func TestCloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := repo.NewMemory()
	ctx := context.Background()
	if _, err := repo.LoadDemoCatalog(ctx, store); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	now := time.Now().UTC()
	c, err := store.CreateCampaign(ctx, domain.Campaign{OwnerID: owner, Name: "Real clock", Status: domain.CampaignActive, CreatedAt: now, UpdatedAt: now}, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := store.AddBillLinks(ctx, c.ID, []string{"hr1234-118"}, now); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	events := NewBroadcaster(16, zerolog.Nop())
	ch, unsubscribe := events.Subscribe(owner)
	defer unsubscribe()

	m := NewManager(Deps{
		Store:     store,
		Catalog:   store,
		Resolver:  scope.NewResolver(store, zerolog.Nop()),
		Generator: generator.NewSimple(),
		Publisher: events,
	}, Config{QueueDelay: 10 * time.Millisecond, ReadyDelay: 30 * time.Millisecond}, zerolog.Nop())

	ready, err := m.Order(ctx, owner, c.ID, domain.ReportBillSummary, domain.SelectAll(), OrderOptions{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	pending, err := m.Order(ctx, owner, c.ID, domain.ReportComplianceFlags, domain.SelectAll(), OrderOptions{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := m.Cancel(ctx, owner, pending.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-ch:
			done = ev.ReportID == ready.ID && ev.Status == domain.ReportReady
		case <-deadline:
			t.Fatalf("отчёт не стал ready вовремя")
		}
	}
	m.Close()
	m.Close()
}

func TestConcurrentOrdersAndCancels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := env.m.Order(ctx, owner, env.campaign.ID, domain.ReportStakeholderHeatmap, domain.SelectAll(), OrderOptions{})
			if err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
				return
			}
			ids <- r.ID
		}()
	}
	wg.Wait()
	close(ids)

	cancelled := map[string]bool{}
	i := 0
	for id := range ids {
		if i%2 == 0 {
			if err := env.m.Cancel(ctx, owner, id); err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			cancelled[id] = true
		}
		i++
	}
	env.clock.Advance(3 * time.Second)

	reports, err := env.m.List(ctx, owner, env.campaign.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(reports) != 8 {
		t.Fatalf("ожидали 8 оставшихся отчётов, получили %d", len(reports))
	}
	for _, r := range reports {
		if cancelled[r.ID] {
			t.Fatalf("отменённый отчёт %s вернулся", r.ID)
		}
		if r.Status != domain.ReportReady {
			t.Fatalf("ожидали ready, получили %s", r.Status)
		}
	}
}

func TestCleanEnergyAdvocacyScenario(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	if _, err := repo.LoadDemoCatalog(ctx, store); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	clock := newFakeClock()
	m := NewManager(Deps{
		Store:     store,
		Catalog:   store,
		Resolver:  scope.NewResolver(store, zerolog.Nop()),
		Generator: generator.NewSimple(),
		Clock:     clock,
	}, Config{}, zerolog.Nop())
	defer m.Close()
	svc := campaigns.NewService(store, m, campaigns.DefaultLimit, zerolog.Nop())
	links := membership.NewManager(store, store, zerolog.Nop())

	c, err := svc.Create(ctx, owner, "Clean Energy Advocacy", "Push renewable incentives through committee")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := links.LinkBills(ctx, owner, c.ID, []string{"hr1234-118"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := links.LinkLegislators(ctx, owner, c.ID, []string{"p001"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	r, err := m.Order(ctx, owner, c.ID, domain.ReportBillSummary, domain.SelectAll(), OrderOptions{Prompt: "Highlight committee timing"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	clock.Advance(time.Second)
	clock.Advance(2 * time.Second)

	got, err := m.View(ctx, owner, r.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.Status != domain.ReportReady {
		t.Fatalf("ожидали ready, получили %s", got.Status)
	}
	wantSummary := "This is a generated bill summary report for the selected items. The analysis covers key aspects and provides actionable insights."
	if got.Content.Sections[0].Content != wantSummary {
		t.Fatalf("неожиданное резюме: %q", got.Content.Sections[0].Content)
	}

	md, err := m.Export(ctx, owner, r.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, want := range []string{
		"# Bill Summary: Clean Energy Advocacy",
		"## Key Findings",
		"Clean Energy Advancement Act",
		"Jane Doe (Democrat, House, CA-12)",
		"- Request: Highlight committee timing",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("в экспорте нет %q:\n%s", want, md)
		}
	}

	if err := svc.Delete(ctx, owner, c.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := store.GetReport(ctx, r.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("отчёт должен удаляться вместе с кампанией: %v", err)
	}
}

func assertField(t *testing.T, err error, field string) {
	t.Helper()
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("ожидали ValidationError для %s, получили %v", field, err)
	}
	if ve.Field != field {
		t.Fatalf("ожидали поле %s, получили %s", field, ve.Field)
	}
}
