package repo

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"poliux/internal/domain"
	"poliux/internal/infra/metrics"
)

//go:embed schema.sql
var schemaSQL string

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, schemaSQL)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "schema", start, err)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var ownerID sql.NullString
	if metric.OwnerID != "" {
		ownerID = sql.NullString{String: metric.OwnerID, Valid: true}
	}
	var campaignID sql.NullInt64
	if metric.CampaignID != nil {
		campaignID = sql.NullInt64{Int64: *metric.CampaignID, Valid: true}
	}
	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, owner_id, campaign_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, metric.Event, ownerID, campaignID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// UpsertBill добавляет или обновляет законопроект в каталоге.
func (p *Postgres) UpsertBill(ctx context.Context, b domain.Bill) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO bills (bill_id, bill_number, title, description, status, status_date, last_action, last_action_date, committee, session_id, url, full_text)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (bill_id) DO UPDATE SET bill_number=EXCLUDED.bill_number, title=EXCLUDED.title, description=EXCLUDED.description, status=EXCLUDED.status, status_date=EXCLUDED.status_date, last_action=EXCLUDED.last_action, last_action_date=EXCLUDED.last_action_date, committee=EXCLUDED.committee, session_id=EXCLUDED.session_id, url=EXCLUDED.url, full_text=EXCLUDED.full_text
`, b.ID, b.Number, b.Title, b.Description, b.Status, b.StatusDate, b.LastAction, b.LastActionDate, b.Committee, b.SessionID, b.URL, b.FullText)
	metrics.ObserveNetworkRequest("postgres", "bills_upsert", "bills", start, err)
	return err
}

// UpsertLegislator добавляет или обновляет законодателя в каталоге.
func (p *Postgres) UpsertLegislator(ctx context.Context, l domain.Legislator) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO people (people_id, name, party, chamber, state, district, phone, website, contact_form, twitter_account, facebook_account, youtube_account, instagram_account, participation_rate, primary_bills_sponsored, effectiveness_score)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (people_id) DO UPDATE SET name=EXCLUDED.name, party=EXCLUDED.party, chamber=EXCLUDED.chamber, state=EXCLUDED.state, district=EXCLUDED.district, phone=EXCLUDED.phone, website=EXCLUDED.website, contact_form=EXCLUDED.contact_form, twitter_account=EXCLUDED.twitter_account, facebook_account=EXCLUDED.facebook_account, youtube_account=EXCLUDED.youtube_account, instagram_account=EXCLUDED.instagram_account, participation_rate=EXCLUDED.participation_rate, primary_bills_sponsored=EXCLUDED.primary_bills_sponsored, effectiveness_score=EXCLUDED.effectiveness_score
`, l.ID, l.Name, l.Party, l.Chamber, l.State, l.District, l.Phone, l.Website, l.ContactForm, l.Twitter, l.Facebook, l.YouTube, l.Instagram, l.ParticipationRate, l.BillsSponsored, l.EffectivenessScore)
	metrics.ObserveNetworkRequest("postgres", "people_upsert", "people", start, err)
	return err
}

const billColumns = `bill_id, bill_number, title, description, status, status_date, last_action, last_action_date, committee, session_id, url, full_text`

func scanBill(row pgx.Row) (domain.Bill, error) {
	var b domain.Bill
	err := row.Scan(&b.ID, &b.Number, &b.Title, &b.Description, &b.Status, &b.StatusDate, &b.LastAction, &b.LastActionDate, &b.Committee, &b.SessionID, &b.URL, &b.FullText)
	return b, err
}

const legislatorColumns = `people_id, name, party, chamber, state, district, phone, website, contact_form, twitter_account, facebook_account, youtube_account, instagram_account, participation_rate, primary_bills_sponsored, effectiveness_score`

func scanLegislator(row pgx.Row) (domain.Legislator, error) {
	var l domain.Legislator
	err := row.Scan(&l.ID, &l.Name, &l.Party, &l.Chamber, &l.State, &l.District, &l.Phone, &l.Website, &l.ContactForm, &l.Twitter, &l.Facebook, &l.YouTube, &l.Instagram, &l.ParticipationRate, &l.BillsSponsored, &l.EffectivenessScore)
	return l, err
}

// GetBill реализует domain.CatalogRepo.
func (p *Postgres) GetBill(ctx context.Context, id string) (domain.Bill, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	b, err := scanBill(p.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE bill_id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "bills_get", "bills", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bill{}, domain.NotFoundf("bill %s", id)
	}
	return b, err
}

// GetLegislator реализует domain.CatalogRepo.
func (p *Postgres) GetLegislator(ctx context.Context, id string) (domain.Legislator, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	l, err := scanLegislator(p.pool.QueryRow(ctx, `SELECT `+legislatorColumns+` FROM people WHERE people_id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "people_get", "people", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Legislator{}, domain.NotFoundf("legislator %s", id)
	}
	return l, err
}

// SearchBills ищет по номеру и названию без учёта регистра.
func (p *Postgres) SearchBills(ctx context.Context, query string, limit int) ([]domain.Bill, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+billColumns+` FROM bills
WHERE $1 = '' OR bill_number ILIKE '%' || $1 || '%' OR title ILIKE '%' || $1 || '%'
ORDER BY bill_id
LIMIT $2
`, escapeLike(strings.TrimSpace(query)), searchLimit(limit))
	metrics.ObserveNetworkRequest("postgres", "bills_search", "bills", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Bill, 0)
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SearchLegislators ищет по имени и штату без учёта регистра.
func (p *Postgres) SearchLegislators(ctx context.Context, query string, limit int) ([]domain.Legislator, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	q := strings.TrimSpace(query)
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+legislatorColumns+` FROM people
WHERE $1 = '' OR name ILIKE '%' || $2 || '%' OR lower(state) = lower($1)
ORDER BY people_id
LIMIT $3
`, q, escapeLike(q), searchLimit(limit))
	metrics.ObserveNetworkRequest("postgres", "people_search", "people", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Legislator, 0)
	for rows.Next() {
		l, err := scanLegislator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const campaignColumns = `id, owner_id, name, description, status, created_at, updated_at`

func scanCampaign(row pgx.Row) (domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// CreateCampaign проверяет лимит под advisory-блокировкой владельца и вставляет кампанию.
func (p *Postgres) CreateCampaign(ctx context.Context, c domain.Campaign, limit int) (domain.Campaign, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "campaigns", start, err)
	if err != nil {
		return domain.Campaign{}, err
	}
	defer tx.Rollback(ctx)

	if limit > 0 && c.Status == domain.CampaignActive {
		if err := p.checkQuotaTx(ctx, tx, c.OwnerID, limit); err != nil {
			return domain.Campaign{}, err
		}
	}

	start = time.Now()
	created, err := scanCampaign(tx.QueryRow(ctx, `
INSERT INTO campaigns (owner_id, name, description, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+campaignColumns, c.OwnerID, c.Name, c.Description, c.Status, c.CreatedAt, c.UpdatedAt))
	metrics.ObserveNetworkRequest("postgres", "campaigns_insert", "campaigns", start, err)
	if err != nil {
		return domain.Campaign{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "campaigns", start, err)
	if err != nil {
		return domain.Campaign{}, err
	}
	return created, nil
}

func (p *Postgres) checkQuotaTx(ctx context.Context, tx pgx.Tx, ownerID string, limit int) error {
	start := time.Now()
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID)
	metrics.ObserveNetworkRequest("postgres", "advisory_lock", "campaigns", start, err)
	if err != nil {
		return err
	}

	var active int
	start = time.Now()
	err = tx.QueryRow(ctx, `SELECT count(*) FROM campaigns WHERE owner_id=$1 AND status='active'`, ownerID).Scan(&active)
	metrics.ObserveNetworkRequest("postgres", "campaigns_count_active", "campaigns", start, err)
	if err != nil {
		return err
	}
	if active >= limit {
		return domain.ErrQuotaExceeded
	}
	return nil
}

// GetCampaign реализует domain.CampaignRepo.
func (p *Postgres) GetCampaign(ctx context.Context, id int64) (domain.Campaign, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	c, err := scanCampaign(p.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "campaigns_get", "campaigns", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Campaign{}, domain.NotFoundf("campaign %d", id)
	}
	return c, err
}

// ListCampaignsByOwner реализует domain.CampaignRepo.
func (p *Postgres) ListCampaignsByOwner(ctx context.Context, ownerID string) ([]domain.Campaign, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE owner_id=$1 ORDER BY updated_at DESC, id DESC`, ownerID)
	metrics.ObserveNetworkRequest("postgres", "campaigns_list", "campaigns", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCampaign реализует domain.CampaignRepo.
func (p *Postgres) UpdateCampaign(ctx context.Context, id int64, patch domain.CampaignPatch, at time.Time) (domain.Campaign, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	c, err := scanCampaign(p.pool.QueryRow(ctx, `
UPDATE campaigns
SET name = COALESCE($2, name), description = COALESCE($3, description), updated_at = $4
WHERE id = $1
RETURNING `+campaignColumns, id, patch.Name, patch.Description, at))
	metrics.ObserveNetworkRequest("postgres", "campaigns_update", "campaigns", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Campaign{}, domain.NotFoundf("campaign %d", id)
	}
	return c, err
}

// SetCampaignStatus реализует domain.CampaignRepo.
func (p *Postgres) SetCampaignStatus(ctx context.Context, id int64, status domain.CampaignStatus, limit int, at time.Time) (domain.Campaign, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "campaigns", start, err)
	if err != nil {
		return domain.Campaign{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	current, err := scanCampaign(tx.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1 FOR UPDATE`, id))
	metrics.ObserveNetworkRequest("postgres", "campaigns_get_for_update", "campaigns", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Campaign{}, domain.NotFoundf("campaign %d", id)
	}
	if err != nil {
		return domain.Campaign{}, err
	}
	if current.Status == status {
		return current, nil
	}
	if status == domain.CampaignActive && limit > 0 {
		if err := p.checkQuotaTx(ctx, tx, current.OwnerID, limit); err != nil {
			return domain.Campaign{}, err
		}
	}

	start = time.Now()
	updated, err := scanCampaign(tx.QueryRow(ctx, `
UPDATE campaigns SET status=$2, updated_at=$3 WHERE id=$1
RETURNING `+campaignColumns, id, status, at))
	metrics.ObserveNetworkRequest("postgres", "campaigns_set_status", "campaigns", start, err)
	if err != nil {
		return domain.Campaign{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "campaigns", start, err)
	if err != nil {
		return domain.Campaign{}, err
	}
	return updated, nil
}

// DeleteCampaign удаляет кампанию; связи и отчёты удаляются каскадом.
func (p *Postgres) DeleteCampaign(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM campaigns WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "campaigns_delete", "campaigns", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("campaign %d", id)
	}
	return nil
}

// AddBillLinks реализует domain.LinkRepo.
func (p *Postgres) AddBillLinks(ctx context.Context, campaignID int64, billIDs []string, at time.Time) ([]domain.CampaignBillLink, error) {
	inserted, err := p.addLinks(ctx, "campaign_bills", "bill_id", campaignID, billIDs, at)
	if err != nil {
		return nil, err
	}
	created := make([]domain.CampaignBillLink, 0, len(inserted))
	for _, id := range inserted {
		created = append(created, domain.CampaignBillLink{CampaignID: campaignID, BillID: id, AddedAt: at})
	}
	return created, nil
}

// AddLegislatorLinks реализует domain.LinkRepo.
func (p *Postgres) AddLegislatorLinks(ctx context.Context, campaignID int64, peopleIDs []string, at time.Time) ([]domain.CampaignLegislatorLink, error) {
	inserted, err := p.addLinks(ctx, "campaign_people", "people_id", campaignID, peopleIDs, at)
	if err != nil {
		return nil, err
	}
	created := make([]domain.CampaignLegislatorLink, 0, len(inserted))
	for _, id := range inserted {
		created = append(created, domain.CampaignLegislatorLink{CampaignID: campaignID, PeopleID: id, AddedAt: at})
	}
	return created, nil
}

// addLinks вставляет связи по одной в транзакции, пропуская существующие.
func (p *Postgres) addLinks(ctx context.Context, table, column string, campaignID int64, ids []string, at time.Time) ([]string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", table, start, err)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`INSERT INTO %s (campaign_id, %s, added_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, table, column)
	inserted := make([]string, 0, len(ids))
	for _, id := range ids {
		start = time.Now()
		tag, err := tx.Exec(ctx, query, campaignID, id, at)
		metrics.ObserveNetworkRequest("postgres", "links_insert", table, start, err)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, domain.NotFoundf("campaign %d", campaignID)
			}
			return nil, err
		}
		if tag.RowsAffected() == 1 {
			inserted = append(inserted, id)
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", table, start, err)
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func linkTable(itemType domain.ItemType) (table, column string, ok bool) {
	switch itemType {
	case domain.ItemBill:
		return "campaign_bills", "bill_id", true
	case domain.ItemLegislator:
		return "campaign_people", "people_id", true
	}
	return "", "", false
}

// RemoveLink реализует domain.LinkRepo. Отсутствующая связь не является ошибкой.
func (p *Postgres) RemoveLink(ctx context.Context, campaignID int64, itemType domain.ItemType, itemID string) error {
	table, column, ok := linkTable(itemType)
	if !ok {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE campaign_id=$1 AND %s=$2`, table, column), campaignID, itemID)
	metrics.ObserveNetworkRequest("postgres", "links_delete", table, start, err)
	return err
}

// HasLink реализует domain.LinkRepo.
func (p *Postgres) HasLink(ctx context.Context, campaignID int64, itemType domain.ItemType, itemID string) (bool, error) {
	table, column, ok := linkTable(itemType)
	if !ok {
		return false, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE campaign_id=$1 AND %s=$2)`, table, column), campaignID, itemID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "links_exists", table, start, err)
	return exists, err
}

// ListBillLinks реализует domain.LinkRepo.
func (p *Postgres) ListBillLinks(ctx context.Context, campaignID int64) ([]domain.CampaignBillLink, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT campaign_id, bill_id, added_at FROM campaign_bills WHERE campaign_id=$1 ORDER BY seq`, campaignID)
	metrics.ObserveNetworkRequest("postgres", "links_list", "campaign_bills", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.CampaignBillLink, 0)
	for rows.Next() {
		var l domain.CampaignBillLink
		if err := rows.Scan(&l.CampaignID, &l.BillID, &l.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListLegislatorLinks реализует domain.LinkRepo.
func (p *Postgres) ListLegislatorLinks(ctx context.Context, campaignID int64) ([]domain.CampaignLegislatorLink, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT campaign_id, people_id, added_at FROM campaign_people WHERE campaign_id=$1 ORDER BY seq`, campaignID)
	metrics.ObserveNetworkRequest("postgres", "links_list", "campaign_people", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.CampaignLegislatorLink, 0)
	for rows.Next() {
		var l domain.CampaignLegislatorLink
		if err := rows.Scan(&l.CampaignID, &l.PeopleID, &l.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListCampaignIDsForItem реализует domain.LinkRepo.
func (p *Postgres) ListCampaignIDsForItem(ctx context.Context, itemType domain.ItemType, itemID string) ([]int64, error) {
	table, column, ok := linkTable(itemType)
	if !ok {
		return []int64{}, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT campaign_id FROM %s WHERE %s=$1 ORDER BY campaign_id`, table, column), itemID)
	metrics.ObserveNetworkRequest("postgres", "links_by_item", table, start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const reportColumns = `id, campaign_id, type, scope, prompt, deadline, sensitivity, status, failure_reason, attempts, content, created_at, updated_at`

func scanReport(row pgx.Row) (domain.CampaignReport, error) {
	var (
		r        domain.CampaignReport
		scope    []byte
		content  []byte
		deadline sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.CampaignID, &r.Type, &scope, &r.Prompt, &deadline, &r.Sensitivity, &r.Status, &r.FailureReason, &r.Attempts, &content, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.CampaignReport{}, err
	}
	if err := json.Unmarshal(scope, &r.Scope); err != nil {
		return domain.CampaignReport{}, fmt.Errorf("decode scope of report %s: %w", r.ID, err)
	}
	if len(content) > 0 {
		var c domain.ReportContent
		if err := json.Unmarshal(content, &c); err != nil {
			return domain.CampaignReport{}, fmt.Errorf("decode content of report %s: %w", r.ID, err)
		}
		r.Content = &c
	}
	if deadline.Valid {
		ts := deadline.Time
		r.Deadline = &ts
	}
	return r, nil
}

func contentArg(c *domain.ReportContent) (any, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// CreateReport реализует domain.ReportRepo.
func (p *Postgres) CreateReport(ctx context.Context, r domain.CampaignReport) error {
	scope, err := json.Marshal(r.Scope)
	if err != nil {
		return err
	}
	content, err := contentArg(r.Content)
	if err != nil {
		return err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO campaign_reports (id, campaign_id, type, scope, prompt, deadline, sensitivity, status, failure_reason, attempts, content, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`, r.ID, r.CampaignID, r.Type, scope, r.Prompt, r.Deadline, r.Sensitivity, r.Status, r.FailureReason, r.Attempts, content, r.CreatedAt, r.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "reports_insert", "campaign_reports", start, err)
	if isForeignKeyViolation(err) {
		return domain.NotFoundf("campaign %d", r.CampaignID)
	}
	return err
}

// GetReport реализует domain.ReportRepo.
func (p *Postgres) GetReport(ctx context.Context, id string) (domain.CampaignReport, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	r, err := scanReport(p.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM campaign_reports WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "reports_get", "campaign_reports", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CampaignReport{}, domain.NotFoundf("report %s", id)
	}
	return r, err
}

func (p *Postgres) queryReports(ctx context.Context, op, query string, args ...any) ([]domain.CampaignReport, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "campaign_reports", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.CampaignReport, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListReports реализует domain.ReportRepo.
func (p *Postgres) ListReports(ctx context.Context, campaignID int64) ([]domain.CampaignReport, error) {
	return p.queryReports(ctx, "reports_list", `SELECT `+reportColumns+` FROM campaign_reports WHERE campaign_id=$1 ORDER BY created_at DESC, id DESC`, campaignID)
}

// ListPendingReports реализует domain.ReportRepo.
func (p *Postgres) ListPendingReports(ctx context.Context) ([]domain.CampaignReport, error) {
	return p.queryReports(ctx, "reports_list_pending", `SELECT `+reportColumns+` FROM campaign_reports WHERE status IN ('queued', 'processing') ORDER BY created_at DESC, id DESC`)
}

// TransitionReport выполняет условный UPDATE по ожидаемому статусу.
func (p *Postgres) TransitionReport(ctx context.Context, t domain.ReportTransition) (domain.CampaignReport, error) {
	if !domain.CanTransition(t.From, t.To) {
		return domain.CampaignReport{}, domain.InvalidStatef("report %s: transition %s -> %s is not allowed", t.ReportID, t.From, t.To)
	}
	var (
		content any
		reason  string
		bump    int
		err     error
	)
	switch t.To {
	case domain.ReportQueued:
		bump = 1
	case domain.ReportReady:
		if content, err = contentArg(t.Content); err != nil {
			return domain.CampaignReport{}, err
		}
	case domain.ReportFailed:
		reason = t.FailureReason
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	r, err := scanReport(p.pool.QueryRow(ctx, `
UPDATE campaign_reports
SET status=$3, updated_at=$4, content=$5, failure_reason=$6, attempts=attempts+$7
WHERE id=$1 AND status=$2
RETURNING `+reportColumns, t.ReportID, t.From, t.To, t.At, content, reason, bump))
	metrics.ObserveNetworkRequest("postgres", "reports_transition", "campaign_reports", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CampaignReport{}, p.reportMismatch(ctx, t.ReportID, t.From)
	}
	return r, err
}

// reportMismatch различает удалённый отчёт и отчёт в другом статусе.
func (p *Postgres) reportMismatch(ctx context.Context, id string, expected ...domain.ReportStatus) error {
	var status domain.ReportStatus
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT status FROM campaign_reports WHERE id=$1`, id).Scan(&status)
	metrics.ObserveNetworkRequest("postgres", "reports_get_status", "campaign_reports", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFoundf("report %s", id)
	}
	if err != nil {
		return err
	}
	return domain.InvalidStatef("report %s is %s, expected %v", id, status, expected)
}

// DeleteReport реализует domain.ReportRepo.
func (p *Postgres) DeleteReport(ctx context.Context, id string, allowed ...domain.ReportStatus) (domain.CampaignReport, error) {
	statuses := make([]string, 0, len(allowed))
	for _, s := range allowed {
		statuses = append(statuses, string(s))
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	r, err := scanReport(p.pool.QueryRow(ctx, `
DELETE FROM campaign_reports WHERE id=$1 AND status = ANY($2)
RETURNING `+reportColumns, id, statuses))
	metrics.ObserveNetworkRequest("postgres", "reports_delete", "campaign_reports", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CampaignReport{}, p.reportMismatch(ctx, id, allowed...)
	}
	return r, err
}

// Track реализует domain.TrackingRepo.
func (p *Postgres) Track(ctx context.Context, item domain.TrackedItem) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO tracked_items (owner_id, item_type, item_id, tracked_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING
`, item.OwnerID, item.ItemType, item.ItemID, item.TrackedAt)
	metrics.ObserveNetworkRequest("postgres", "tracked_insert", "tracked_items", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Untrack реализует domain.TrackingRepo.
func (p *Postgres) Untrack(ctx context.Context, ownerID string, itemType domain.ItemType, itemID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM tracked_items WHERE owner_id=$1 AND item_type=$2 AND item_id=$3`, ownerID, itemType, itemID)
	metrics.ObserveNetworkRequest("postgres", "tracked_delete", "tracked_items", start, err)
	return err
}

// IsTracked реализует domain.TrackingRepo.
func (p *Postgres) IsTracked(ctx context.Context, ownerID string, itemType domain.ItemType, itemID string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tracked_items WHERE owner_id=$1 AND item_type=$2 AND item_id=$3)`, ownerID, itemType, itemID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "tracked_exists", "tracked_items", start, err)
	return exists, err
}

// ListTracked реализует domain.TrackingRepo.
func (p *Postgres) ListTracked(ctx context.Context, ownerID string, itemType domain.ItemType) ([]domain.TrackedItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT owner_id, item_type, item_id, tracked_at FROM tracked_items
WHERE owner_id=$1 AND item_type=$2
ORDER BY tracked_at, item_id
`, ownerID, itemType)
	metrics.ObserveNetworkRequest("postgres", "tracked_list", "tracked_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.TrackedItem, 0)
	for rows.Next() {
		var item domain.TrackedItem
		if err := rows.Scan(&item.OwnerID, &item.ItemType, &item.ItemID, &item.TrackedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

const noteColumns = `id, owner_id, entity_type, entity_id, title, content, created_at, updated_at`

func scanNote(row pgx.Row) (domain.Note, error) {
	var n domain.Note
	err := row.Scan(&n.ID, &n.OwnerID, &n.EntityType, &n.EntityID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

// CreateNote реализует domain.NoteRepo.
func (p *Postgres) CreateNote(ctx context.Context, n domain.Note) (domain.Note, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	created, err := scanNote(p.pool.QueryRow(ctx, `
INSERT INTO notes (owner_id, entity_type, entity_id, title, content, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+noteColumns, n.OwnerID, n.EntityType, n.EntityID, n.Title, n.Content, n.CreatedAt, n.UpdatedAt))
	metrics.ObserveNetworkRequest("postgres", "notes_insert", "notes", start, err)
	return created, err
}

// GetNote реализует domain.NoteRepo.
func (p *Postgres) GetNote(ctx context.Context, id int64) (domain.Note, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	n, err := scanNote(p.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "notes_get", "notes", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Note{}, domain.NotFoundf("note %d", id)
	}
	return n, err
}

// UpdateNote реализует domain.NoteRepo.
func (p *Postgres) UpdateNote(ctx context.Context, id int64, title, content string, at time.Time) (domain.Note, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	n, err := scanNote(p.pool.QueryRow(ctx, `
UPDATE notes SET title=$2, content=$3, updated_at=$4 WHERE id=$1
RETURNING `+noteColumns, id, title, content, at))
	metrics.ObserveNetworkRequest("postgres", "notes_update", "notes", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Note{}, domain.NotFoundf("note %d", id)
	}
	return n, err
}

// DeleteNote реализует domain.NoteRepo.
func (p *Postgres) DeleteNote(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM notes WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "notes_delete", "notes", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("note %d", id)
	}
	return nil
}

// ListNotes реализует domain.NoteRepo.
func (p *Postgres) ListNotes(ctx context.Context, ownerID string, entityType domain.ItemType, entityID string) ([]domain.Note, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+noteColumns+` FROM notes
WHERE owner_id=$1 AND ($2::text = '' OR entity_type=$2) AND ($3::text = '' OR entity_id=$3)
ORDER BY created_at DESC, id DESC
`, ownerID, string(entityType), entityID)
	metrics.ObserveNetworkRequest("postgres", "notes_list", "notes", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Note, 0)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
