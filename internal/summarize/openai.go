package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/abelbrown/heatline/internal/logging"
)

const systemPrompt = "You distill noisy trading chat into tradable topics. " +
	"Respond with JSON only: {\"items\": [{\"asset\", \"one_liner\", \"sentiment\", " +
	"\"trigger\", \"risk\", \"evidence_snippets\", \"related_assets\"}]}. " +
	"Sentiment is one of bullish, bearish, mixed, neutral. At most 10 items."

// OpenAISummarizer implements Summarizer over the OpenAI chat completions API.
type OpenAISummarizer struct {
	apiKey  string
	model   string
	client  openai.Client
	timeout time.Duration
}

// NewOpenAISummarizer creates an OpenAISummarizer with the given key and model.
func NewOpenAISummarizer(apiKey, model string) *OpenAISummarizer {
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAISummarizer{
		apiKey:  apiKey,
		model:   model,
		client:  client,
		timeout: 60 * time.Second,
	}
}

// Available returns true if the API key is configured.
func (s *OpenAISummarizer) Available() bool {
	return s.apiKey != ""
}

// Summarize sends the representative texts and decodes the strict
// {"items": [...]} shape. Any other shape is an error, never a partial result.
func (s *OpenAISummarizer) Summarize(ctx context.Context, texts []string) ([]RawTopic, error) {
	if !s.Available() {
		return nil, fmt.Errorf("summarize: provider not configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	var b strings.Builder
	for _, t := range texts {
		b.WriteString("- ")
		b.WriteString(t)
		b.WriteString("\n")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logging.Debug("Summarize request starting", "model", s.model, "texts", len(texts))

	resp, err := s.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(systemPrompt),
					},
				},
			},
			// User prompt carries the snippet list only; wording is a
			// collaborator detail, kept minimal.
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(b.String()),
					},
				},
			},
		},
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(2000),
	})
	if err != nil {
		return nil, fmt.Errorf("summarize: request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("summarize: empty response")
	}

	content := resp.Choices[0].Message.Content
	items, err := decodeItems(content)
	if err != nil {
		logging.Warn("Summarize response rejected", "error", err)
		return nil, err
	}
	return items, nil
}

// decodeItems parses the strict {"items": [...]} envelope. Code fences around
// the JSON are tolerated; anything else is a shape error.
func decodeItems(content string) ([]RawTopic, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var envelope struct {
		Items *[]RawTopic `json:"items"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, fmt.Errorf("summarize: parse response: %w", err)
	}
	if envelope.Items == nil {
		return nil, fmt.Errorf("summarize: response missing items list")
	}
	return *envelope.Items, nil
}

// Compile-time interface check.
var _ Summarizer = (*OpenAISummarizer)(nil)
