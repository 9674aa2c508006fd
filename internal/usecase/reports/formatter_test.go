package reports

import (
	"strings"
	"testing"
	"time"

	"poliux/internal/domain"
)

func TestTypeTitle(t *testing.T) {
	cases := map[domain.ReportType]string{
		domain.ReportBillSummary:        "Bill Summary",
		domain.ReportStakeholderHeatmap: "Stakeholder Heatmap",
		"single":                        "Single",
	}
	for in, want := range cases {
		if got := TypeTitle(in); got != want {
			t.Fatalf("TypeTitle(%s): ожидали %q, получили %q", in, want, got)
		}
	}
}

func TestFormatMarkdown(t *testing.T) {
	deadline := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	in := domain.GenerationInput{
		Campaign: domain.Campaign{Name: "Housing Now"},
		Report: domain.CampaignReport{
			ID:          "rep-1",
			Type:        domain.ReportTalkingPoints,
			Sensitivity: domain.SensitivityPublic,
			Deadline:    &deadline,
			UpdatedAt:   time.Date(2024, 5, 14, 9, 0, 3, 0, time.UTC),
			Content: &domain.ReportContent{Sections: []domain.ReportSection{
				{Title: "Executive Summary", Content: "Short."},
				{},
			}},
		},
		Bills:       []domain.Bill{{Number: "S.567", Title: "Affordable Housing Expansion Act", Status: "Passed Senate", URL: "https://example.org/s567"}},
		Legislators: []domain.Legislator{{Name: "John Smith", Party: "Republican", Chamber: "Senate", State: "TX"}},
	}
	md := FormatMarkdown(in)

	for _, want := range []string{
		"# Talking Points: Housing Now\n",
		"- Report ID: rep-1",
		"- Generated: 2024-05-14 09:00 UTC",
		"- Sensitivity: public",
		"- Deadline: 2024-06-01",
		"## Executive Summary\n\nShort.",
		"- [S.567 Affordable Housing Expansion Act (Passed Senate)](https://example.org/s567)",
		"- John Smith (Republican, Senate, TX)",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("в Markdown нет %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "Request:") {
		t.Fatalf("пустой запрос не должен выводиться:\n%s", md)
	}
	if strings.Count(md, "\n## ") != 2 {
		t.Fatalf("ожидали два раздела второго уровня:\n%s", md)
	}
}
