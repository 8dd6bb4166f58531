package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/Songmu/retry"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"sentinela/domain/entity"
)

var ErrSummarizationFailed = fmt.Errorf("summarization failed")

// Summarizer converts a session's free-form trace into the structured
// result record returned to the caller.
type Summarizer interface {
	Summarize(ctx context.Context, trace string) (*entity.EventResult, error)
	GenerateComment(ctx context.Context, payload map[string]any) (string, error)
}

type AIRepository struct {
	client    *openai.Client
	model     string
	tokenCalc *TokenCalculator
}

// NewAIRepository returns nil when no API key is configured; callers fall
// back to the rule-based summarizer.
func NewAIRepository() (*AIRepository, error) {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("AZURE_OPENAI_KEY") == "" {
		return nil, nil
	}

	var model = "gpt-4"
	if os.Getenv("OPENAI_MODEL") != "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	client, err := newOpenAIClient()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}

	tokenCalc, err := NewTokenCalculator()
	if err != nil {
		tokenCalc = nil
	}

	return &AIRepository{
		client:    client,
		model:     model,
		tokenCalc: tokenCalc,
	}, nil
}

func newOpenAIClient() (*openai.Client, error) {
	if os.Getenv("AZURE_OPENAI_ENDPOINT") != "" {
		return newAzureClient()
	}

	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	options := []option.RequestOption{
		option.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
	}

	c := openai.NewClient(options...)
	return &c, nil
}

func newAzureClient() (*openai.Client, error) {
	key := os.Getenv("AZURE_OPENAI_KEY")
	if key == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_KEY is not set")
	}
	var azureOpenAIEndpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")

	var azureOpenAIAPIVersion = "2025-01-01-preview"

	if os.Getenv("AZURE_OPENAI_API_VERSION") != "" {
		azureOpenAIAPIVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
	}

	c := openai.NewClient(
		azure.WithEndpoint(azureOpenAIEndpoint, azureOpenAIAPIVersion),
		azure.WithAPIKey(key),
	)
	return &c, nil
}

func (h *AIRepository) Summarize(ctx context.Context, trace string) (*entity.EventResult, error) {
	if h.tokenCalc != nil {
		trace = h.tokenCalc.TruncateToBudget(trace, GetMaxTraceTokens())
	}

	prompt := fmt.Sprintf(`Convert the incident handling trace below into a valid JSON object matching:

{
  "event_type": "string",
  "ticket_id": "string",
  "comment": "string",
  "thought_process": "string"
}

Rules:
- Output ONLY valid JSON.
- No markdown.
- No explanations.
- No additional fields.

Trace:
%s`, trace)

	raw, err := h.callOpenAIWithRetry(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize trace: %w", err)
	}

	result, err := ParseEventResult(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}
	return result, nil
}

func (h *AIRepository) GenerateComment(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	prompt := fmt.Sprintf(`Write a short, professional ticket comment (max 200 characters)
describing the monitoring event below. Return only the comment text,
no quotes and no structure.

Event:
%s`, string(body))

	return h.callOpenAIWithRetry(ctx, prompt)
}

func (h *AIRepository) callOpenAIWithRetry(ctx context.Context, prompt string) (string, error) {
	var result string
	err := retry.Retry(3, time.Second*3, func() error {
		resp, err := h.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model: h.model,
		})
		if err != nil {
			return err
		}

		if len(resp.Choices) == 0 {
			return fmt.Errorf("no response from OpenAI")
		}

		result = resp.Choices[0].Message.Content
		return nil
	})

	return result, err
}

// ParseEventResult validates the model output. Anything that is not a bare
// JSON object with the expected fields is a summarization failure, not
// something we pass through.
func ParseEventResult(raw string) (*entity.EventResult, error) {
	raw = strings.TrimSpace(raw)
	// models sometimes wrap output in a fenced block despite instructions
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var result entity.EventResult
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&result); err != nil {
		return nil, fmt.Errorf("malformed structured output: %v", err)
	}
	if result.EventType == "" {
		return nil, fmt.Errorf("structured output missing event_type")
	}
	return &result, nil
}

// RuleSummarizer is the deterministic fallback used when no model backend
// is configured. It extracts the result from the trace markers the engine
// writes for every step.
type RuleSummarizer struct{}

func NewRuleSummarizer() *RuleSummarizer {
	return &RuleSummarizer{}
}

var ticketIDPattern = regexp.MustCompile(`ticket_id=(\S+)`)

func (h *RuleSummarizer) Summarize(_ context.Context, trace string) (*entity.EventResult, error) {
	eventType := "no_action"
	switch {
	case strings.Contains(trace, "tool=resolve_ticket outcome=ok"):
		eventType = "ticket_resolved"
	case strings.Contains(trace, "tool=create_ticket outcome=ok"):
		eventType = "ticket_created"
	}

	var ticketID string
	if matches := ticketIDPattern.FindAllStringSubmatch(trace, -1); len(matches) > 0 {
		ticketID = matches[len(matches)-1][1]
	}

	var comment string
	for _, line := range strings.Split(trace, "\n") {
		if rest, ok := strings.CutPrefix(line, "comment: "); ok {
			comment = rest
		}
	}
	if comment == "" {
		comment = "Automated incident handling completed."
	}

	return &entity.EventResult{
		EventType:      eventType,
		TicketID:       ticketID,
		Comment:        comment,
		ThoughtProcess: trace,
	}, nil
}

func (h *RuleSummarizer) GenerateComment(_ context.Context, payload map[string]any) (string, error) {
	host, _ := payload["host"].(string)
	status, _ := payload["status"].(string)
	trigger, _ := payload["trigger"].(string)

	parts := []string{"Monitoring event"}
	if status != "" {
		parts = append(parts, fmt.Sprintf("status %s", status))
	}
	if host != "" {
		parts = append(parts, fmt.Sprintf("on host %s", host))
	}
	if trigger != "" {
		parts = append(parts, fmt.Sprintf("(%s)", trigger))
	}
	return strings.Join(parts, " "), nil
}
