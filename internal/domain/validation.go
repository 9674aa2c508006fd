package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	CampaignNameMin        = 3
	CampaignNameMax        = 120
	CampaignDescriptionMax = 2000
	ReportPromptMax        = 2000
	NoteTitleMax           = 200
	NoteContentMax         = 10000
)

// NormalizeCampaignName обрезает пробелы и проверяет длину имени.
func NormalizeCampaignName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < CampaignNameMin {
		return "", NewValidationError("name", "название должно содержать не менее 3 символов")
	}
	if n > CampaignNameMax {
		return "", NewValidationError("name", "название должно содержать не более 120 символов")
	}
	return trimmed, nil
}

// NormalizeCampaignDescription обрезает пробелы и проверяет длину описания.
func NormalizeCampaignDescription(description string) (string, error) {
	trimmed := strings.TrimSpace(description)
	if utf8.RuneCountInString(trimmed) > CampaignDescriptionMax {
		return "", NewValidationError("description", "описание должно содержать не более 2000 символов")
	}
	return trimmed, nil
}

// NormalizeIDs удаляет пустые и дублирующиеся идентификаторы, сохраняя порядок.
func NormalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}
