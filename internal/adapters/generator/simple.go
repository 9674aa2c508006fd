package generator

import (
	"context"
	"fmt"
	"strings"

	"poliux/internal/domain"
)

const (
	SectionExecutiveSummary = "Executive Summary"
	SectionKeyFindings      = "Key Findings"
	SectionRecommendations  = "Recommendations"
)

// Simple строит отчёт по шаблону без внешних вызовов.
type Simple struct{}

var _ domain.ReportGenerator = (*Simple)(nil)

// NewSimple создаёт шаблонный генератор.
func NewSimple() *Simple {
	return &Simple{}
}

// Generate реализует domain.ReportGenerator.
func (s *Simple) Generate(ctx context.Context, in domain.GenerationInput) (domain.ReportContent, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReportContent{}, err
	}
	kind := strings.ReplaceAll(string(in.Report.Type), "_", " ")

	findings := []string{"Based on the analysis of the selected bills and legislators, several important patterns and implications have been identified."}
	for _, b := range in.Bills {
		line := strings.TrimSpace(b.Number + " " + b.Title)
		if b.Status != "" {
			line += ": " + b.Status
		}
		if b.Committee != "" {
			line += " (" + b.Committee + ")"
		}
		findings = append(findings, "- "+line)
	}
	for _, l := range in.Legislators {
		line := l.Name
		if l.Party != "" || l.State != "" {
			line += fmt.Sprintf(" (%s)", strings.Trim(l.Party+", "+l.State, ", "))
		}
		if l.EffectivenessScore != nil {
			line += fmt.Sprintf(", effectiveness %.2f", *l.EffectivenessScore)
		}
		findings = append(findings, "- "+line)
	}

	recommendations := "Consider these strategic recommendations for your advocacy efforts and policy engagement."
	if prompt := strings.TrimSpace(in.Report.Prompt); prompt != "" {
		recommendations += "\n\nRequested focus: " + prompt
	}

	return domain.ReportContent{Sections: []domain.ReportSection{
		{
			Title:   SectionExecutiveSummary,
			Content: fmt.Sprintf("This is a generated %s report for the selected items. The analysis covers key aspects and provides actionable insights.", kind),
		},
		{
			Title:   SectionKeyFindings,
			Content: strings.Join(findings, "\n"),
		},
		{
			Title:   SectionRecommendations,
			Content: recommendations,
		},
	}}, nil
}
