package reports

import (
	"fmt"
	"strings"

	"poliux/internal/domain"
)

// TypeTitle возвращает читаемое название типа отчёта.
func TypeTitle(t domain.ReportType) string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// FormatMarkdown формирует Markdown готового отчёта вместе с охватом.
func FormatMarkdown(in domain.GenerationInput) string {
	r := in.Report
	var sections []string

	var header strings.Builder
	header.WriteString("# " + TypeTitle(r.Type) + ": " + strings.TrimSpace(in.Campaign.Name) + "\n")
	header.WriteString(fmt.Sprintf("\n- Report ID: %s", r.ID))
	header.WriteString(fmt.Sprintf("\n- Generated: %s", r.UpdatedAt.UTC().Format("2006-01-02 15:04 MST")))
	header.WriteString(fmt.Sprintf("\n- Sensitivity: %s", r.Sensitivity))
	if r.Deadline != nil {
		header.WriteString(fmt.Sprintf("\n- Deadline: %s", r.Deadline.UTC().Format("2006-01-02")))
	}
	if prompt := strings.TrimSpace(r.Prompt); prompt != "" {
		header.WriteString("\n- Request: " + prompt)
	}
	sections = append(sections, header.String())

	if r.Content != nil {
		for _, s := range r.Content.Sections {
			title := strings.TrimSpace(s.Title)
			body := strings.TrimSpace(s.Content)
			if title == "" && body == "" {
				continue
			}
			sections = append(sections, strings.TrimSpace("## "+title+"\n\n"+body))
		}
	}

	if scope := buildScopeSection(in); scope != "" {
		sections = append(sections, scope)
	}

	return strings.TrimSpace(strings.Join(sections, "\n\n")) + "\n"
}

func buildScopeSection(in domain.GenerationInput) string {
	if len(in.Bills) == 0 && len(in.Legislators) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Scope")
	if len(in.Bills) > 0 {
		b.WriteString("\n\n### Bills\n")
		for _, bill := range in.Bills {
			line := strings.TrimSpace(bill.Number + " " + bill.Title)
			if bill.Status != "" {
				line += " (" + bill.Status + ")"
			}
			if bill.URL != "" {
				line = fmt.Sprintf("[%s](%s)", line, bill.URL)
			}
			b.WriteString("\n- " + line)
		}
	}
	if len(in.Legislators) > 0 {
		b.WriteString("\n\n### Legislators\n")
		for _, l := range in.Legislators {
			b.WriteString("\n- " + legislatorLine(l))
		}
	}
	return b.String()
}

func legislatorLine(l domain.Legislator) string {
	var parts []string
	if l.Party != "" {
		parts = append(parts, l.Party)
	}
	if l.Chamber != "" {
		parts = append(parts, l.Chamber)
	}
	place := l.State
	if l.District != "" {
		place = strings.TrimSpace(place + "-" + l.District)
	}
	if place != "" {
		parts = append(parts, place)
	}
	if len(parts) == 0 {
		return l.Name
	}
	return l.Name + " (" + strings.Join(parts, ", ") + ")"
}
