package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"go.uber.org/zap"
)

const DefaultOpenAIModel = "gpt-4o-mini"

type OpenAIConfig struct {
	APIKey          string
	Model           string
	MaxOutputTokens int64
	// Backoff holds the waits between attempts; its length plus one is the
	// attempt count.
	Backoff []time.Duration
}

type OpenAI struct {
	client  *openai.Client
	model   string
	maxOut  int64
	backoff []time.Duration
	logger  *zap.Logger
}

func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 600
	}
	if cfg.Backoff == nil {
		cfg.Backoff = []time.Duration{2 * time.Second, 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &OpenAI{client: &client, model: cfg.Model, maxOut: cfg.MaxOutputTokens, backoff: cfg.Backoff, logger: logger}, nil
}

func (o *OpenAI) Analyze(ctx context.Context, text string, history []Turn) (*Analysis, error) {
	input := make([]responses.ResponseInputItemUnionParam, 0, len(history)+1)
	for _, t := range history {
		role := responses.EasyInputMessageRoleUser
		if t.Role == RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		input = append(input, responses.ResponseInputItemParamOfMessage(t.Content, role))
	}
	input = append(input, responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser))

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(o.maxOut),
		Instructions:    openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: input,
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "EmotionAnalysis",
					Schema:      analysisSchema,
					Strict:      openai.Bool(true),
					Description: openai.String("Emotion analysis of a journal message"),
					Type:        "json_schema",
				},
			},
		},
	}

	resp, err := o.callWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}
	return DecodeAnalysis(resp.OutputText())
}

func (o *OpenAI) callWithRetry(ctx context.Context, params responses.ResponseNewParams) (*responses.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := o.client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		if !retryable(err) || attempt >= len(o.backoff) {
			return nil, fmt.Errorf("openai request failed after %d attempts: %w", attempt+1, err)
		}
		o.logger.Warn("retrying openai request", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.backoff[attempt]):
		}
	}
}

// retryable reports rate limits and server errors.
func retryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "too many requests", "500", "internal server error", "server_error"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
