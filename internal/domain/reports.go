package domain

import (
	"context"
	"time"
)

// ReportType определяет вид отчёта по кампании.
type ReportType string

const (
	ReportBillSummary        ReportType = "bill_summary"
	ReportFiscalImpact       ReportType = "fiscal_impact"
	ReportComplianceFlags    ReportType = "compliance_flags"
	ReportTalkingPoints      ReportType = "talking_points"
	ReportStakeholderHeatmap ReportType = "stakeholder_heatmap"
)

// ReportTypes перечисляет поддерживаемые типы в порядке отображения.
var ReportTypes = []ReportType{
	ReportBillSummary,
	ReportFiscalImpact,
	ReportComplianceFlags,
	ReportTalkingPoints,
	ReportStakeholderHeatmap,
}

// Valid сообщает, известен ли тип отчёта.
func (t ReportType) Valid() bool {
	for _, known := range ReportTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ReportStatus: статус отчёта в жизненном цикле.
type ReportStatus string

const (
	ReportQueued     ReportStatus = "queued"
	ReportProcessing ReportStatus = "processing"
	ReportReady      ReportStatus = "ready"
	ReportFailed     ReportStatus = "failed"
)

// Terminal сообщает, что отчёт больше не продвигается сам.
func (s ReportStatus) Terminal() bool {
	return s == ReportReady || s == ReportFailed
}

// Cancellable сообщает, можно ли отменить отчёт в этом статусе.
func (s ReportStatus) Cancellable() bool {
	return s == ReportQueued || s == ReportProcessing
}

// CanTransition проверяет допустимость перехода. Отмена не является переходом: отчёт удаляется.
func CanTransition(from, to ReportStatus) bool {
	switch {
	case from == ReportQueued && to == ReportProcessing:
		return true
	case from == ReportProcessing && (to == ReportReady || to == ReportFailed):
		return true
	case from == ReportFailed && to == ReportQueued:
		return true
	}
	return false
}

// Sensitivity ограничивает распространение отчёта.
type Sensitivity string

const (
	SensitivityInternal Sensitivity = "internal"
	SensitivityPublic   Sensitivity = "public"
)

// Valid сообщает, известен ли уровень.
func (s Sensitivity) Valid() bool {
	return s == SensitivityInternal || s == SensitivityPublic
}

// ScopeMode различает выбор всех элементов кампании и ручной выбор.
type ScopeMode string

const (
	ScopeAll    ScopeMode = "all"
	ScopeCustom ScopeMode = "custom"
)

// ScopeSelection: запрос пользователя на охват отчёта.
type ScopeSelection struct {
	Mode      ScopeMode `json:"mode"`
	BillIDs   []string  `json:"bill_ids,omitempty"`
	PeopleIDs []string  `json:"people_ids,omitempty"`
}

// SelectAll выбирает все элементы кампании на момент заказа.
func SelectAll() ScopeSelection {
	return ScopeSelection{Mode: ScopeAll}
}

// SelectCustom выбирает конкретные элементы кампании.
func SelectCustom(billIDs, peopleIDs []string) ScopeSelection {
	return ScopeSelection{Mode: ScopeCustom, BillIDs: billIDs, PeopleIDs: peopleIDs}
}

// ReportScope: зафиксированный снимок элементов, который покрывает отчёт.
type ReportScope struct {
	Mode      ScopeMode `json:"mode"`
	BillIDs   []string  `json:"bill_ids"`
	PeopleIDs []string  `json:"people_ids"`
}

// Empty сообщает, что в охвате нет ни одного элемента.
func (s ReportScope) Empty() bool {
	return len(s.BillIDs) == 0 && len(s.PeopleIDs) == 0
}

// Clone возвращает независимую копию.
func (s ReportScope) Clone() ReportScope {
	return ReportScope{
		Mode:      s.Mode,
		BillIDs:   append([]string{}, s.BillIDs...),
		PeopleIDs: append([]string{}, s.PeopleIDs...),
	}
}

// ReportSection: один раздел готового отчёта.
type ReportSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ReportContent: содержимое готового отчёта.
type ReportContent struct {
	Sections []ReportSection `json:"sections"`
}

// CampaignReport: отчёт, заказанный по кампании.
type CampaignReport struct {
	ID            string         `json:"report_id"`
	CampaignID    int64          `json:"campaign_id"`
	Type          ReportType     `json:"type"`
	Scope         ReportScope    `json:"scope"`
	Prompt        string         `json:"prompt,omitempty"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	Sensitivity   Sensitivity    `json:"sensitivity"`
	Status        ReportStatus   `json:"status"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Attempts      int            `json:"attempts"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Content       *ReportContent `json:"content,omitempty"`
}

// ReportTransition описывает условное изменение статуса: применяется, только если текущий статус равен From.
type ReportTransition struct {
	ReportID      string
	From          ReportStatus
	To            ReportStatus
	At            time.Time
	Content       *ReportContent
	FailureReason string
}

// ReportEvent публикуется при каждом изменении статуса отчёта.
type ReportEvent struct {
	ReportID   string       `json:"report_id"`
	CampaignID int64        `json:"campaign_id"`
	OwnerID    string       `json:"owner_id"`
	Type       ReportType   `json:"type"`
	Status     ReportStatus `json:"status"`
	Deleted    bool         `json:"deleted,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// ReportEventPublisher доставляет события отчётов потребителям.
type ReportEventPublisher interface {
	Publish(ctx context.Context, event ReportEvent) error
}

// GenerationInput: всё, что нужно генератору для построения отчёта.
type GenerationInput struct {
	Report      CampaignReport
	Campaign    Campaign
	Bills       []Bill
	Legislators []Legislator
}

// ReportGenerator строит содержимое отчёта. Ошибка переводит отчёт в failed.
type ReportGenerator interface {
	Generate(ctx context.Context, in GenerationInput) (ReportContent, error)
}
