package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-2.0-flash"

type GeminiConfig struct {
	APIKey     string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
}

type Gemini struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instructions)}}
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"success":         {Type: genai.TypeBoolean},
			"primary_emotion": {Type: genai.TypeString, Enum: []string{"joy", "sadness", "anger", "fear", "surprise", "disgust", "neutral"}},
			"intensity":       {Type: genai.TypeInteger},
			"reply":           {Type: genai.TypeString},
			"suggest_cbt":     {Type: genai.TypeBoolean},
			"care_level":      {Type: genai.TypeString, Enum: []string{"self_care", "monitor", "professional", "crisis"}},
		},
		Required: []string{"success", "primary_emotion", "intensity", "reply", "suggest_cbt", "care_level"},
	}
	model.GenerationConfig.Temperature = genai.Ptr[float32](0.4)
	model.GenerationConfig.MaxOutputTokens = genai.Ptr[int32](600)

	logger.Info("gemini client initialized", zap.String("model", cfg.Model))
	return &Gemini{client: client, model: model, maxRetries: cfg.MaxRetries, retryDelay: cfg.RetryDelay, logger: logger}, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

func (g *Gemini) Analyze(ctx context.Context, text string, history []Turn) (*Analysis, error) {
	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			g.logger.Warn("retrying gemini request", zap.Int("attempt", attempt+1), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.retryDelay):
			}
		}

		chat := g.model.StartChat()
		chat.History = geminiHistory(history)
		resp, err := chat.SendMessage(ctx, genai.Text(text))
		if err != nil {
			lastErr = fmt.Errorf("gemini API error: %w", err)
			continue
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = errors.New("empty response from gemini")
			continue
		}
		part, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
		if !ok {
			lastErr = errors.New("unexpected response type from gemini")
			continue
		}
		a, err := DecodeAnalysis(string(part))
		if err != nil {
			lastErr = err
			continue
		}
		return a, nil
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", g.maxRetries, lastErr)
}

func geminiHistory(turns []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}
	return out
}
