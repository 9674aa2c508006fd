package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	OwnerID    string
	CampaignID *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventCampaignCreated фиксирует создание кампании.
	BusinessMetricEventCampaignCreated = "campaign_created"
	// BusinessMetricEventCampaignDeleted фиксирует удаление кампании.
	BusinessMetricEventCampaignDeleted = "campaign_deleted"
	// BusinessMetricEventReportOrdered фиксирует заказ отчёта.
	BusinessMetricEventReportOrdered = "report_ordered"
	// BusinessMetricEventReportReady фиксирует успешную генерацию отчёта.
	BusinessMetricEventReportReady = "report_ready"
	// BusinessMetricEventReportFailed фиксирует сбой генерации.
	BusinessMetricEventReportFailed = "report_failed"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
