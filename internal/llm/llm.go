// Package llm talks to the remote text-analysis service. Providers return
// errors; Analyze turns every failure into the fixed fallback reply so
// callers always get a usable Analysis.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

type CareLevel string

const (
	CareSelf         CareLevel = "self_care"
	CareMonitor      CareLevel = "monitor"
	CareProfessional CareLevel = "professional"
	CareCrisis       CareLevel = "crisis"
)

func (c CareLevel) Valid() bool {
	switch c {
	case CareSelf, CareMonitor, CareProfessional, CareCrisis:
		return true
	}
	return false
}

// Analysis is the structured result of one text analysis.
type Analysis struct {
	Success        bool      `json:"success" jsonschema:"description=true when the text could be analysed"`
	PrimaryEmotion string    `json:"primary_emotion" jsonschema:"enum=joy,enum=sadness,enum=anger,enum=fear,enum=surprise,enum=disgust,enum=neutral"`
	Intensity      int       `json:"intensity" jsonschema:"description=strength of the primary emotion from 1 (mild) to 5 (overwhelming)"`
	Reply          string    `json:"reply" jsonschema:"description=short empathic reply addressed to the writer"`
	SuggestCBT     bool      `json:"suggest_cbt" jsonschema:"description=true when a guided thought record would help"`
	CareLevel      CareLevel `json:"care_level" jsonschema:"enum=self_care,enum=monitor,enum=professional,enum=crisis"`
}

// Turn is one message of a conversation, oldest first.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TextAnalyzer is implemented by each provider.
type TextAnalyzer interface {
	Analyze(ctx context.Context, text string, history []Turn) (*Analysis, error)
}

var ErrDisabled = errors.New("text analysis disabled")

// Disabled is used when no provider is configured.
type Disabled struct{}

func (Disabled) Analyze(context.Context, string, []Turn) (*Analysis, error) {
	return nil, ErrDisabled
}

const fallbackReply = "Thank you for sharing this with me. I can't reflect on it in depth right now, " +
	"but what you're feeling matters. Take a slow breath and try writing a little more when you're ready."

const crisisReply = "It sounds like you may be in a lot of pain right now. You don't have to go through this alone. " +
	"Please contact your local emergency number or a crisis line and talk to someone you trust."

var crisisPhrases = []string{
	"suicide", "suicidal", "kill myself", "end my life", "self-harm", "hurt myself", "don't want to live",
}

// Fallback is the fixed analysis returned when the service fails. Text that
// mentions self-harm is still escalated to the crisis care level.
func Fallback(text string) *Analysis {
	lower := strings.ToLower(text)
	for _, p := range crisisPhrases {
		if strings.Contains(lower, p) {
			return &Analysis{
				PrimaryEmotion: "sadness",
				Intensity:      5,
				Reply:          crisisReply,
				CareLevel:      CareCrisis,
			}
		}
	}
	return &Analysis{
		PrimaryEmotion: "neutral",
		Intensity:      1,
		Reply:          fallbackReply,
		CareLevel:      CareSelf,
	}
}

// Analyze calls p and substitutes Fallback on any error or on a payload
// without the success flag. Failures are logged, never returned.
func Analyze(ctx context.Context, p TextAnalyzer, logger *zap.Logger, text string, history []Turn) *Analysis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(text) == "" {
		return Fallback(text)
	}

	a, err := p.Analyze(ctx, text, history)
	switch {
	case errors.Is(err, ErrDisabled):
		return Fallback(text)
	case err != nil:
		logger.Warn("text analysis failed, using fallback", zap.Error(err))
		return Fallback(text)
	case a == nil || !a.Success:
		logger.Warn("text analysis returned no success flag, using fallback")
		return Fallback(text)
	}
	a.normalize()
	return a
}

func (a *Analysis) normalize() {
	if a.Intensity < 1 {
		a.Intensity = 1
	}
	if a.Intensity > 5 {
		a.Intensity = 5
	}
	a.PrimaryEmotion = strings.ToLower(strings.TrimSpace(a.PrimaryEmotion))
	if a.PrimaryEmotion == "" {
		a.PrimaryEmotion = "neutral"
	}
	if !a.CareLevel.Valid() {
		a.CareLevel = CareSelf
	}
	a.Reply = strings.TrimSpace(a.Reply)
}

// DecodeAnalysis parses model output, tolerating code fences and prose
// around a single JSON object.
func DecodeAnalysis(output string) (*Analysis, error) {
	s := strings.TrimSpace(output)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, io.ErrUnexpectedEOF
	}

	var a Analysis
	if err := json.Unmarshal([]byte(s), &a); err == nil {
		return &a, nil
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &a); err != nil {
		return nil, fmt.Errorf("decoding analysis: %w", err)
	}
	return &a, nil
}

const instructions = `You are a warm, careful journaling companion for a mental wellness app.
Read the user's message (and any earlier conversation) and respond with JSON only:
- success: true
- primary_emotion: one of joy, sadness, anger, fear, surprise, disgust, neutral
- intensity: integer 1 (mild) to 5 (overwhelming)
- reply: 2-4 sentences, empathic, no diagnosis, no medical advice
- suggest_cbt: true when the message shows a distorted or looping negative thought
- care_level: self_care, monitor, professional, or crisis (any risk of self-harm is crisis)`
