package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"poliux/internal/domain"
	"poliux/internal/infra/metrics"
)

// arm планирует шаг для отчёта. Если expectGen не ноль, шаг планируется,
// только пока текущий таймер отчёта принадлежит этому поколению.
func (m *Manager) arm(j job, expectGen uint64, delay time.Duration, next step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if h, ok := m.handles[j.reportID]; ok {
		if expectGen != 0 && h.gen != expectGen {
			return
		}
		if h.timer != nil {
			h.timer.Stop()
		}
	} else if expectGen != 0 {
		return
	}
	m.generation++
	gen := m.generation
	h := &handle{job: j, gen: gen}
	m.handles[j.reportID] = h
	h.timer = m.clock.AfterFunc(delay, func() { m.fire(j.reportID, gen, next) })
}

func (m *Manager) fire(reportID string, gen uint64, next step) {
	m.mu.Lock()
	h, ok := m.handles[reportID]
	if m.closed || !ok || h.gen != gen {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	h.cancel = cancel
	h.timer = nil
	j := h.job
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()
	defer cancel()
	next(ctx, j, gen)
}

// forget удаляет таймер отчёта и прерывает выполняющуюся генерацию.
func (m *Manager) forget(reportID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[reportID]; ok {
		m.stopLocked(reportID, h)
	}
}

func (m *Manager) stopLocked(reportID string, h *handle) {
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.cancel != nil {
		h.cancel()
	}
	delete(m.handles, reportID)
}

// release снимает таймер, если он всё ещё принадлежит поколению gen.
func (m *Manager) release(reportID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[reportID]; ok && h.gen == gen {
		delete(m.handles, reportID)
	}
}

// advance переводит queued в processing и планирует завершение.
func (m *Manager) advance(ctx context.Context, j job, gen uint64) {
	updated, err := m.store.TransitionReport(ctx, domain.ReportTransition{
		ReportID: j.reportID,
		From:     domain.ReportQueued,
		To:       domain.ReportProcessing,
		At:       m.clock.Now(),
	})
	if err != nil {
		m.drop(j, gen, domain.ReportProcessing, err)
		return
	}
	metrics.IncReportTransition(string(j.reportType), string(domain.ReportProcessing))
	m.publish(ctx, j.ownerID, updated, false)
	m.arm(j, gen, m.cfg.ReadyDelay-m.cfg.QueueDelay, m.complete)
}

// complete строит содержимое и переводит processing в ready или failed.
func (m *Manager) complete(ctx context.Context, j job, gen uint64) {
	defer m.release(j.reportID, gen)

	r, err := m.store.GetReport(ctx, j.reportID)
	if err != nil {
		m.drop(j, gen, domain.ReportReady, err)
		return
	}
	if r.Status != domain.ReportProcessing {
		m.drop(j, gen, domain.ReportReady, domain.InvalidStatef("report %s is %s", r.ID, r.Status))
		return
	}

	content, genErr := m.generate(ctx, r)
	if ctx.Err() != nil {
		// Отчёт отменён или менеджер остановлен: переход не применяем.
		m.log.Debug().Str("report_id", r.ID).Msg("генерация прервана")
		return
	}

	t := domain.ReportTransition{ReportID: r.ID, From: domain.ReportProcessing, At: m.clock.Now()}
	event := domain.BusinessMetricEventReportReady
	if genErr != nil {
		t.To = domain.ReportFailed
		t.FailureReason = genErr.Error()
		event = domain.BusinessMetricEventReportFailed
	} else {
		t.To = domain.ReportReady
		t.Content = &content
	}
	updated, err := m.store.TransitionReport(ctx, t)
	if err != nil {
		m.drop(j, gen, t.To, err)
		return
	}

	metrics.IncReportTransition(string(j.reportType), string(t.To))
	if !j.since.IsZero() {
		metrics.ObserveReportBuild(string(t.To), t.At.Sub(j.since))
	}
	meta := map[string]any{"report_id": r.ID, "type": string(r.Type), "attempts": updated.Attempts}
	if genErr != nil {
		meta["reason"] = t.FailureReason
		m.log.Warn().Err(genErr).Str("report_id", r.ID).Msg("генерация отчёта не удалась")
	} else {
		m.log.Info().Str("report_id", r.ID).Int("sections", len(content.Sections)).Msg("отчёт готов")
	}
	m.record(ctx, event, j.ownerID, j.campaignID, meta)
	m.publish(ctx, j.ownerID, updated, false)
}

// drop фиксирует отброшенный переход: отчёт удалён или уже в другом статусе.
func (m *Manager) drop(j job, gen uint64, to domain.ReportStatus, err error) {
	m.release(j.reportID, gen)
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidState) {
		metrics.ReportDroppedTransitions.Inc()
		m.log.Debug().Str("report_id", j.reportID).Str("to", string(to)).Err(err).Msg("переход отброшен")
		return
	}
	m.log.Error().Err(err).Str("report_id", j.reportID).Str("to", string(to)).Msg("ошибка перехода отчёта")
}

func (m *Manager) generate(ctx context.Context, r domain.CampaignReport) (domain.ReportContent, error) {
	genCtx, cancel := context.WithTimeout(ctx, m.cfg.GenerationTimeout)
	defer cancel()

	in, err := m.generationInput(genCtx, r)
	if err != nil {
		return domain.ReportContent{}, err
	}
	type result struct {
		content domain.ReportContent
		err     error
	}
	done := make(chan result, 1)
	go func() {
		content, err := m.generator.Generate(genCtx, in)
		done <- result{content: content, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return domain.ReportContent{}, fmt.Errorf("генерация не уложилась в %s", m.cfg.GenerationTimeout)
			}
			return domain.ReportContent{}, res.err
		}
		if len(res.content.Sections) == 0 {
			return domain.ReportContent{}, errors.New("генератор вернул пустой отчёт")
		}
		return res.content, nil
	case <-genCtx.Done():
		if ctx.Err() != nil {
			return domain.ReportContent{}, ctx.Err()
		}
		return domain.ReportContent{}, fmt.Errorf("генерация не уложилась в %s", m.cfg.GenerationTimeout)
	}
}

func (m *Manager) generationInput(ctx context.Context, r domain.CampaignReport) (domain.GenerationInput, error) {
	c, err := m.store.GetCampaign(ctx, r.CampaignID)
	if err != nil {
		return domain.GenerationInput{}, fmt.Errorf("кампания отчёта: %w", err)
	}
	in := domain.GenerationInput{Report: r, Campaign: c}
	for _, id := range r.Scope.BillIDs {
		b, err := m.catalog.GetBill(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			m.log.Debug().Str("bill_id", id).Msg("законопроект отсутствует в каталоге")
			continue
		}
		if err != nil {
			return domain.GenerationInput{}, fmt.Errorf("законопроект %s: %w", id, err)
		}
		in.Bills = append(in.Bills, b)
	}
	for _, id := range r.Scope.PeopleIDs {
		l, err := m.catalog.GetLegislator(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			m.log.Debug().Str("people_id", id).Msg("законодатель отсутствует в каталоге")
			continue
		}
		if err != nil {
			return domain.GenerationInput{}, fmt.Errorf("законодатель %s: %w", id, err)
		}
		in.Legislators = append(in.Legislators, l)
	}
	return in, nil
}
