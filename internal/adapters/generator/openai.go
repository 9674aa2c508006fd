package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"poliux/internal/domain"
	openai "poliux/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI строит отчёт через OpenAI Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

var _ domain.ReportGenerator = (*OpenAI)(nil)

// NewOpenAI создаёт генератор отчётов.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

type reportPayload struct {
	Sections []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"sections"`
}

var reportInstructions = map[domain.ReportType]string{
	domain.ReportBillSummary:        "Summarise each bill: purpose, key provisions, current status.",
	domain.ReportFiscalImpact:       "Estimate the fiscal impact of the bills and who bears the costs.",
	domain.ReportComplianceFlags:    "Flag compliance obligations and deadlines that the bills introduce.",
	domain.ReportTalkingPoints:      "Write persuasive talking points for meetings with the listed legislators.",
	domain.ReportStakeholderHeatmap: "Rank the legislators by likely support and influence on these bills.",
}

// Generate реализует domain.ReportGenerator.
func (g *OpenAI) Generate(ctx context.Context, in domain.GenerationInput) (domain.ReportContent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.3,
		MaxTokens:   1500,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You are a legislative analyst preparing reports for advocacy campaigns. Stick to the facts provided and never invent bill numbers or votes.",
			},
			{
				Role:    openai.RoleUser,
				Content: buildPrompt(in),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.ReportContent{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.ReportContent{}, errors.New("openai completion: пустой ответ")
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed reportPayload
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return domain.ReportContent{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	content := domain.ReportContent{Sections: make([]domain.ReportSection, 0, len(parsed.Sections))}
	for _, s := range parsed.Sections {
		title := strings.TrimSpace(s.Title)
		body := strings.TrimSpace(s.Content)
		if title == "" || body == "" {
			continue
		}
		content.Sections = append(content.Sections, domain.ReportSection{Title: title, Content: body})
	}
	if len(content.Sections) == 0 {
		return domain.ReportContent{}, errors.New("openai completion: в ответе нет разделов")
	}
	return content, nil
}

func buildPrompt(in domain.GenerationInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prepare a %s report for the advocacy campaign %q.\n", strings.ReplaceAll(string(in.Report.Type), "_", " "), in.Campaign.Name)
	if instruction := reportInstructions[in.Report.Type]; instruction != "" {
		b.WriteString(instruction + "\n")
	}
	if desc := strings.TrimSpace(in.Campaign.Description); desc != "" {
		b.WriteString("Campaign goal: " + clipRunes(desc, 1000) + "\n")
	}
	if prompt := strings.TrimSpace(in.Report.Prompt); prompt != "" {
		b.WriteString("Additional request: " + clipRunes(prompt, 2000) + "\n")
	}
	if in.Report.Sensitivity == domain.SensitivityPublic {
		b.WriteString("The report will be shared publicly.\n")
	}
	if len(in.Bills) > 0 {
		b.WriteString("\nBills:\n")
		for _, bill := range in.Bills {
			fmt.Fprintf(&b, "- %s %s. Status: %s. Last action: %s. %s\n", bill.Number, bill.Title, bill.Status, bill.LastAction, clipRunes(bill.Description, 400))
		}
	}
	if len(in.Legislators) > 0 {
		b.WriteString("\nLegislators:\n")
		for _, l := range in.Legislators {
			fmt.Fprintf(&b, "- %s, %s, %s %s", l.Name, l.Party, l.Chamber, l.State)
			if l.EffectivenessScore != nil {
				fmt.Fprintf(&b, ", effectiveness %.2f", *l.EffectivenessScore)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString(`
Return JSON {"sections":[{"title":"...","content":"..."}]} with at least the sections "Executive Summary", "Key Findings" and "Recommendations". No commentary outside JSON.`)
	return b.String()
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
