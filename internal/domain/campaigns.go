package domain

import (
	"context"
	"strings"
)

// OwnedBy сообщает, принадлежит ли кампания владельцу.
func (c Campaign) OwnedBy(ownerID string) bool {
	return c.OwnerID == ownerID
}

// LoadOwnedCampaign возвращает кампанию владельца. Чужая кампания неотличима от отсутствующей.
func LoadOwnedCampaign(ctx context.Context, repo CampaignRepo, ownerID string, id int64) (Campaign, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Campaign{}, NewValidationError("owner_id", "не указан владелец")
	}
	c, err := repo.GetCampaign(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if !c.OwnedBy(ownerID) {
		return Campaign{}, NotFoundf("campaign %d", id)
	}
	return c, nil
}
