package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"mindjournal/internal/analyzer"
	"mindjournal/internal/llm"
	"mindjournal/internal/syncstore"
)

const (
	TableEntries       = "emotion_entries"
	TableCBTSessions   = "cbt_sessions"
	TableConversations = "conversations"
)

type EmotionEntry struct {
	ID             string          `json:"id,omitempty"`
	UserID         string          `json:"user_id"`
	CreatedAt      time.Time       `json:"created_at"`
	Text           string          `json:"text"`
	PrimaryEmotion string          `json:"primary_emotion"`
	Intensity      int             `json:"intensity"`
	Tags           []string        `json:"tags,omitempty"`
	Emotions       analyzer.Vector `json:"emotions"`
	Score          float64         `json:"score"`
	AIAnalysis     *llm.Analysis   `json:"ai_analysis,omitempty"`
}

type CBTStep string

const (
	StepSituation       CBTStep = "situation"
	StepThought         CBTStep = "thought"
	StepEmotion         CBTStep = "emotion"
	StepEvidenceFor     CBTStep = "evidence_for"
	StepEvidenceAgainst CBTStep = "evidence_against"
	StepReframe         CBTStep = "reframe"
	StepDone            CBTStep = "done"
)

// cbtSteps is the questionnaire order.
var cbtSteps = []CBTStep{StepSituation, StepThought, StepEmotion, StepEvidenceFor, StepEvidenceAgainst, StepReframe, StepDone}

var cbtPrompts = map[CBTStep]string{
	StepSituation:       "What happened? Describe the situation briefly.",
	StepThought:         "What thought went through your mind in that moment?",
	StepEmotion:         "What did you feel, and how strongly?",
	StepEvidenceFor:     "What evidence supports that thought?",
	StepEvidenceAgainst: "What evidence doesn't fit that thought?",
	StepReframe:         "Considering both sides, what is a more balanced way to see it?",
}

func (s CBTStep) Prompt() string { return cbtPrompts[s] }

func (s CBTStep) next() CBTStep {
	for i, step := range cbtSteps {
		if step == s && i+1 < len(cbtSteps) {
			return cbtSteps[i+1]
		}
	}
	return StepDone
}

type CBTSession struct {
	ID               string          `json:"id,omitempty"`
	UserID           string          `json:"user_id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Situation        string          `json:"situation,omitempty"`
	AutomaticThought string          `json:"automatic_thought,omitempty"`
	Emotions         string          `json:"emotions,omitempty"`
	EmotionScores    analyzer.Vector `json:"emotion_scores,omitempty"`
	EvidenceFor      string          `json:"evidence_for,omitempty"`
	EvidenceAgainst  string          `json:"evidence_against,omitempty"`
	BalancedThought  string          `json:"balanced_thought,omitempty"`
	Step             CBTStep         `json:"step"`
	Completed        bool            `json:"completed"`
}

type ConversationTurn struct {
	ID             string    `json:"id,omitempty"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	PrimaryEmotion string    `json:"primary_emotion,omitempty"`
}

func toRecord(v any) (syncstore.Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var rec syncstore.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func fromRecord(rec syncstore.Record, v any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding record %s: %w", rec.ID(), err)
	}
	return nil
}
