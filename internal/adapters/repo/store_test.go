package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgxpool"

	"poliux/internal/domain"
)

type storeUnderTest interface {
	domain.Store
	CatalogWriter
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) storeUnderTest {
		return NewMemory()
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN не задан")
	}
	runStoreContract(t, func(t *testing.T) storeUnderTest {
		ctx := context.Background()
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		t.Cleanup(pool.Close)
		store := NewPostgres(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if _, err := pool.Exec(ctx, `TRUNCATE bills, people, campaigns, campaign_bills, campaign_people, campaign_reports, tracked_items, notes, business_metrics RESTART IDENTITY CASCADE`); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		return store
	})
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) storeUnderTest) {
	t.Run("catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("quota", func(t *testing.T) { testQuota(t, newStore(t)) })
	t.Run("update", func(t *testing.T) { testUpdateCampaign(t, newStore(t)) })
	t.Run("links", func(t *testing.T) { testLinks(t, newStore(t)) })
	t.Run("concurrent links", func(t *testing.T) { testConcurrentLinks(t, newStore(t)) })
	t.Run("reports", func(t *testing.T) { testReports(t, newStore(t)) })
	t.Run("cascade", func(t *testing.T) { testCascade(t, newStore(t)) })
	t.Run("tracking", func(t *testing.T) { testTracking(t, newStore(t)) })
	t.Run("notes", func(t *testing.T) { testNotes(t, newStore(t)) })
}

func mustCampaign(t *testing.T, s storeUnderTest, owner, name string) domain.Campaign {
	t.Helper()
	c, err := s.CreateCampaign(context.Background(), domain.Campaign{
		OwnerID:   owner,
		Name:      name,
		Status:    domain.CampaignActive,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}, 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return c
}

func testCatalog(t *testing.T, s storeUnderTest) {
	ctx := context.Background()
	n, err := LoadDemoCatalog(ctx, s)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n != 4 {
		t.Fatalf("ожидали 4 записи каталога, получили %d", n)
	}
	b, err := s.GetBill(ctx, "hr1234-118")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if b.Committee != "House Committee on Energy and Commerce" {
		t.Fatalf("неожиданный комитет: %s", b.Committee)
	}
	l, err := s.GetLegislator(ctx, "p001")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if l.EffectivenessScore == nil || *l.EffectivenessScore != 0.68 {
		t.Fatalf("неожиданная эффективность: %v", l.EffectivenessScore)
	}
	if _, err := s.GetBill(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}

	found, err := s.SearchBills(ctx, "housing", 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(found) != 1 || found[0].ID != "s567-118" {
		t.Fatalf("неожиданный результат поиска: %+v", found)
	}
	people, err := s.SearchLegislators(ctx, "tx", 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(people) != 1 || people[0].ID != "p002" {
		t.Fatalf("неожиданный результат поиска: %+v", people)
	}
	all, err := s.SearchBills(ctx, "", 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("лимит не применён: %d", len(all))
	}
}

func testQuota(t *testing.T, s storeUnderTest) {
	ctx := context.Background()
	const limit = 25
	var first domain.Campaign
	for i := 0; i < limit; i++ {
		c, err := s.CreateCampaign(ctx, domain.Campaign{
			OwnerID:   "owner",
			Name:      fmt.Sprintf("Campaign %02d", i),
			Status:    domain.CampaignActive,
			CreatedAt: baseTime,
			UpdatedAt: baseTime.Add(time.Duration(i) * time.Second),
		}, limit)
		if err != nil {
			t.Fatalf("кампания %d: не ожидали ошибку: %v", i, err)
		}
		if i == 0 {
			first = c
		}
	}
	extra := domain.Campaign{OwnerID: "owner", Name: "Extra", Status: domain.CampaignActive, CreatedAt: baseTime, UpdatedAt: baseTime}
	if _, err := s.CreateCampaign(ctx, extra, limit); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("ожидали ErrQuotaExceeded, получили %v", err)
	}
	list, err := s.ListCampaignsByOwner(ctx, "owner")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(list) != limit {
		t.Fatalf("ожидали %d кампаний, получили %d", limit, len(list))
	}
	if list[0].Name != "Campaign 24" {
		t.Fatalf("ожидали сортировку по updated_at, первой идёт %s", list[0].Name)
	}

	other := domain.Campaign{OwnerID: "other", Name: "Other", Status: domain.CampaignActive, CreatedAt: baseTime, UpdatedAt: baseTime}
	if _, err := s.CreateCampaign(ctx, other, limit); err != nil {
		t.Fatalf("лимит другого владельца не должен влиять: %v", err)
	}

	if _, err := s.SetCampaignStatus(ctx, first.ID, domain.CampaignArchived, limit, baseTime.Add(time.Hour)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := s.CreateCampaign(ctx, extra, limit); err != nil {
		t.Fatalf("архивная кампания должна освобождать слот: %v", err)
	}
	if _, err := s.SetCampaignStatus(ctx, first.ID, domain.CampaignActive, limit, baseTime.Add(2*time.Hour)); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("ожидали ErrQuotaExceeded при разархивации, получили %v", err)
	}
	if _, err := s.SetCampaignStatus(ctx, 999999, domain.CampaignArchived, limit, baseTime); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func testUpdateCampaign(t *testing.T, s storeUnderTest) {
	ctx := context.Background()
	c := mustCampaign(t, s, "owner", "Original")
	name := "Renamed"
	updated, err := s.UpdateCampaign(ctx, c.ID, domain.CampaignPatch{Name: &name}, baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated.Name != "Renamed" || !updated.UpdatedAt.Equal(baseTime.Add(time.Minute)) {
		t.Fatalf("неожиданная кампания: %+v", updated)
	}
	if updated.Description != c.Description {
		t.Fatalf("описание не должно меняться")
	}
	if _, err := s.UpdateCampaign(ctx, 999999, domain.CampaignPatch{Name: &name}, baseTime); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func testLinks(t *testing.T, s storeUnderTest) {
	ctx := context.Background()
	c := mustCampaign(t, s, "owner", "Links")

	created, err := s.AddBillLinks(ctx, c.ID, []string{"b2", "b1"}, baseTime)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("ожидали 2 связи, получили %d", len(created))
	}
	created, err = s.AddBillLinks(ctx, c.ID, []string{"b1", "b3"}, baseTime.Add(time.Second))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(created) != 1 || created[0].BillID != "b3" {
		t.Fatalf("повторная связь должна пропускаться: %+v", created)
	}

	links, err := s.ListBillLinks(ctx, c.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.BillID)
	}
	if diff := cmp.Diff([]string{"b2", "b1", "b3"}, ids); diff != "" {
		t.Fatalf("порядок связей (-want +got):\n%s", diff)
	}

	if _, err := s.AddLegislatorLinks(ctx, c.ID, []string{"p1"}, baseTime); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	ok, err := s.HasLink(ctx, c.ID, domain.ItemLegislator, "p1")
	if err != nil || !ok {
		t.Fatalf("ожидали связь с p1: %v %v", ok, err)
	}
	if err := s.RemoveLink(ctx, c.ID, domain.ItemLegislator, "p1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.RemoveLink(ctx, c.ID, domain.ItemLegislator, "p1"); err != nil {
		t.Fatalf("повторное удаление должно быть no-op: %v", err)
	}
	ok, err = s.HasLink(ctx, c.ID, domain.ItemLegislator, "p1")
	if err != nil || ok {
		t.Fatalf("связь должна быть удалена: %v %v", ok, err)
	}

	second := mustCampaign(t, s, "owner", "Second")
	if _, err := s.AddBillLinks(ctx, second.ID, []string{"b1"}, baseTime); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	campaignIDs, err := s.ListCampaignIDsForItem(ctx, domain.ItemBill, "b1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if diff := cmp.Diff([]int64{c.ID, second.ID}, campaignIDs); diff != "" {
		t.Fatalf("кампании элемента (-want +got):\n%s", diff)
	}

	if _, err := s.AddBillLinks(ctx, 999999, []string{"b1"}, baseTime); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func testConcurrentLinks(t *testing.T, s storeUnderTest) {
	ctx := context.Background()
	c := mustCampaign(t, s, "owner", "Concurrent")
	ids := []string{"b1", "b2", "b3", "b4", "b5"}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.AddBillLinks(ctx, c.ID, ids, baseTime)
			if err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
				return
			}
			mu.Lock()
			total += len(created)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != len(ids) {
		t.Fatalf("ожидали %d созданных связей, получили %d", len(ids), total)
	}
	links, err := s.ListBillLinks(ctx, c.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(links) != len(ids) {
		t.Fatalf("ожидали %d связей, получили %d", len(ids), len(links))
	}
}

func newTestReport(id string, campaignID int64, created time.Time) domain.CampaignReport {
	return domain.CampaignReport{
		ID:          id,
		CampaignID:  campaignID,
		Type:        domain.ReportBillSummary,
		Scope:       domain.ReportScope{Mode: domain.ScopeAll, BillIDs: []string{"b1"}, PeopleIDs: []string{}},
		Sensitivity: domain.SensitivityInternal,
		Status:      domain.ReportQueued,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func testReports(t *testing.T, s storeUnderTest) {
	ctx := context.Background()
	c := mustCampaign(t, s, "owner", "Reports")
	if err := s.CreateReport(ctx, newTestReport("r1", c.ID, baseTime)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.CreateReport(ctx, newTestReport("r2", c.ID, baseTime.Add(time.Second))); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.CreateReport(ctx, newTestReport("orphan", 999999, baseTime)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}

	list, err := s.ListReports(ctx, c.ID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(list) != 2 || list[0].ID != "r2" {
		t.Fatalf("ожидали новые отчёты первыми: %+v", list)
	}

	skip := domain.ReportTransition{ReportID: "r2", From: domain.ReportQueued, To: domain.ReportReady, At: baseTime.Add(time.Minute)}
	if _, err := s.TransitionReport(ctx, skip); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("переход queued -> ready должен отклоняться, получили %v", err)
	}
	if r2, err := s.GetReport(ctx, "r2"); err != nil || r2.Status != domain.ReportQueued {
		t.Fatalf("отклонённый переход не должен менять отчёт: %+v, %v", r2, err)
	}

	step := func(from, to domain.ReportStatus, content *domain.ReportContent, reason string) (domain.CampaignReport, error) {
		return s.TransitionReport(ctx, domain.ReportTransition{ReportID: "r1", From: from, To: to, At: baseTime.Add(time.Minute), Content: content, FailureReason: reason})
	}
	if _, err := step(domain.ReportQueued, domain.ReportProcessing, nil, ""); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := step(domain.ReportQueued, domain.ReportProcessing, nil, ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("повторный переход должен отклоняться, получили %v", err)
	}
	if _, err := step(domain.ReportProcessing, domain.ReportFailed, nil, "generator down"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	failed, err := s.GetReport(ctx, "r1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if failed.FailureReason != "generator down" {
		t.Fatalf("ожидали причину сбоя, получили %q", failed.FailureReason)
	}

	requeued, err := step(domain.ReportFailed, domain.ReportQueued, nil, "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if requeued.Attempts != 1 || requeued.FailureReason != "" {
		t.Fatalf("повтор должен увеличить attempts и очистить причину: %+v", requeued)
	}

	pending, err := s.ListPendingReports(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("ожидали 2 незавершённых отчёта, получили %d", len(pending))
	}

	content := &domain.ReportContent{Sections: []domain.ReportSection{{Title: "Executive Summary", Content: "text"}}}
	if _, err := step(domain.ReportQueued, domain.ReportProcessing, nil, ""); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := step(domain.ReportProcessing, domain.ReportReady, content, ""); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	ready, err := s.GetReport(ctx, "r1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if diff := cmp.Diff(content, ready.Content); diff != "" {
		t.Fatalf("содержимое отчёта (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b1"}, ready.Scope.BillIDs); diff != "" {
		t.Fatalf("охват отчёта (-want +got):\n%s", diff)
	}

	if _, err := s.DeleteReport(ctx, "r1", domain.ReportQueued, domain.ReportProcessing); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("ожидали ErrInvalidState, получили %v", err)
	}
	if _, err := s.DeleteReport(ctx, "r2", domain.ReportQueued, domain.ReportProcessing); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := s.GetReport(ctx, "r2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if _, err := s.TransitionReport(ctx, domain.ReportTransition{ReportID: "r2", From: domain.ReportQueued, To: domain.ReportProcessing, At: baseTime}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("переход удалённого отчёта должен давать ErrNotFound, получили %v", err)
	}
}

func testCascade(t *testing.T, s storeUnderTest) {
	ctx := context.Background()
	c := mustCampaign(t, s, "owner", "Cascade")
	if _, err := s.AddBillLinks(ctx, c.ID, []string{"b1"}, baseTime); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.CreateReport(ctx, newTestReport("rc", c.ID, baseTime)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.DeleteCampaign(ctx, c.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := s.GetCampaign(ctx, c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if _, err := s.GetReport(ctx, "rc"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("отчёт должен удаляться вместе с кампанией, получили %v", err)
	}
	ids, err := s.ListCampaignIDsForItem(ctx, domain.ItemBill, "b1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("связи должны удаляться вместе с кампанией: %v", ids)
	}
	if err := s.DeleteCampaign(ctx, c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func testTracking(t *testing.T, s storeUnderTest) {
	ctx := context.Background()
	item := domain.TrackedItem{OwnerID: "owner", ItemType: domain.ItemBill, ItemID: "b1", TrackedAt: baseTime}
	created, err := s.Track(ctx, item)
	if err != nil || !created {
		t.Fatalf("ожидали новую запись: %v %v", created, err)
	}
	created, err = s.Track(ctx, item)
	if err != nil || created {
		t.Fatalf("повторное отслеживание не должно создавать запись: %v %v", created, err)
	}
	items, err := s.ListTracked(ctx, "owner", domain.ItemBill)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 1 || items[0].ItemID != "b1" {
		t.Fatalf("неожиданный список: %+v", items)
	}
	if err := s.Untrack(ctx, "owner", domain.ItemBill, "b1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	tracked, err := s.IsTracked(ctx, "owner", domain.ItemBill, "b1")
	if err != nil || tracked {
		t.Fatalf("элемент не должен отслеживаться: %v %v", tracked, err)
	}
}

func testNotes(t *testing.T, s storeUnderTest) {
	ctx := context.Background()
	first, err := s.CreateNote(ctx, domain.Note{OwnerID: "owner", EntityType: domain.ItemBill, EntityID: "b1", Title: "First", CreatedAt: baseTime, UpdatedAt: baseTime})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := s.CreateNote(ctx, domain.Note{OwnerID: "owner", EntityType: domain.ItemBill, EntityID: "b1", Title: "Second", CreatedAt: baseTime.Add(time.Second), UpdatedAt: baseTime.Add(time.Second)})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	notes, err := s.ListNotes(ctx, "owner", domain.ItemBill, "b1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(notes) != 2 || notes[0].ID != second.ID {
		t.Fatalf("ожидали новые заметки первыми: %+v", notes)
	}
	if _, err := s.CreateNote(ctx, domain.Note{OwnerID: "owner", EntityType: domain.ItemLegislator, EntityID: "p1", Title: "Third", CreatedAt: baseTime.Add(2 * time.Second), UpdatedAt: baseTime.Add(2 * time.Second)}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	all, err := s.ListNotes(ctx, "owner", "", "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(all) != 3 || all[0].Title != "Third" {
		t.Fatalf("без фильтра ожидали все заметки владельца: %+v", all)
	}
	if others, err := s.ListNotes(ctx, "stranger", "", ""); err != nil || len(others) != 0 {
		t.Fatalf("чужие заметки не должны попадать в список: %+v, %v", others, err)
	}
	updated, err := s.UpdateNote(ctx, first.ID, "Edited", "body", baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated.Title != "Edited" || updated.Content != "body" {
		t.Fatalf("неожиданная заметка: %+v", updated)
	}
	if err := s.DeleteNote(ctx, first.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := s.GetNote(ctx, first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}
