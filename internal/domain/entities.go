package domain

import "time"

// Bill описывает законопроект из каталога. Ядро его только читает.
type Bill struct {
	ID             string     `json:"bill_id"`
	Number         string     `json:"bill_number"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	StatusDate     *time.Time `json:"status_date,omitempty"`
	LastAction     string     `json:"last_action"`
	LastActionDate *time.Time `json:"last_action_date,omitempty"`
	Committee      string     `json:"committee"`
	SessionID      string     `json:"session_id,omitempty"`
	URL            string     `json:"url,omitempty"`
	FullText       string     `json:"full_text,omitempty"`
}

// Legislator описывает законодателя (people в каталоге).
type Legislator struct {
	ID       string `json:"people_id"`
	Name     string `json:"name"`
	Party    string `json:"party"`
	Chamber  string `json:"chamber"`
	State    string `json:"state"`
	District string `json:"district"`

	Phone       string `json:"phone,omitempty"`
	Website     string `json:"website,omitempty"`
	ContactForm string `json:"contact_form,omitempty"`
	Twitter     string `json:"twitter_account,omitempty"`
	Facebook    string `json:"facebook_account,omitempty"`
	YouTube     string `json:"youtube_account,omitempty"`
	Instagram   string `json:"instagram_account,omitempty"`

	ParticipationRate  *float64 `json:"participation_rate,omitempty"`
	BillsSponsored     *int     `json:"primary_bills_sponsored,omitempty"`
	EffectivenessScore *float64 `json:"effectiveness_score,omitempty"`
}

// CampaignStatus описывает состояние кампании.
type CampaignStatus string

const (
	CampaignActive   CampaignStatus = "active"
	CampaignArchived CampaignStatus = "archived"
)

// Valid сообщает, известен ли статус.
func (s CampaignStatus) Valid() bool {
	return s == CampaignActive || s == CampaignArchived
}

// Campaign объединяет законопроекты и законодателей пользователя.
type Campaign struct {
	ID          int64          `json:"campaign_id"`
	OwnerID     string         `json:"owner_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      CampaignStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CampaignPatch содержит изменяемые поля кампании. nil означает «не менять».
type CampaignPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ItemType различает законопроекты и законодателей в связях, отслеживании и заметках.
type ItemType string

const (
	ItemBill       ItemType = "bill"
	ItemLegislator ItemType = "legislator"
)

// Valid сообщает, известен ли тип.
func (t ItemType) Valid() bool {
	return t == ItemBill || t == ItemLegislator
}

// CampaignBillLink связывает законопроект с кампанией.
type CampaignBillLink struct {
	CampaignID int64     `json:"campaign_id"`
	BillID     string    `json:"bill_id"`
	AddedAt    time.Time `json:"added_at"`
}

// CampaignLegislatorLink связывает законодателя с кампанией.
type CampaignLegislatorLink struct {
	CampaignID int64     `json:"campaign_id"`
	PeopleID   string    `json:"people_id"`
	AddedAt    time.Time `json:"added_at"`
}

// TrackedItem хранит факт отслеживания элемента пользователем.
type TrackedItem struct {
	OwnerID   string    `json:"owner_id"`
	ItemType  ItemType  `json:"item_type"`
	ItemID    string    `json:"item_id"`
	TrackedAt time.Time `json:"tracked_at"`
}

// Note: заметка пользователя к законопроекту или законодателю.
type Note struct {
	ID         int64     `json:"id"`
	OwnerID    string    `json:"owner_id"`
	EntityType ItemType  `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
