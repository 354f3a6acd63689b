package analyzer

import (
	"math"
	"testing"
)

const tolerance = 1e-9

func TestAnalyzeTextNoMatches(t *testing.T) {
	a := New(nil)
	v := a.AnalyzeText("The quarterly report lists twelve invoices.")

	if len(v) != len(Emotions) {
		t.Fatalf("expected %d keys, got %d", len(Emotions), len(v))
	}
	for _, e := range Emotions {
		if v[e] != 0 {
			t.Errorf("expected %s=0, got %v", e, v[e])
		}
	}
}

func TestAnalyzeTextEmpty(t *testing.T) {
	a := New(nil)
	v := a.AnalyzeText("")
	if v.Sum() != 0 {
		t.Errorf("expected zero vector for empty text, got sum %v", v.Sum())
	}
}

func TestAnalyzeTextNormalized(t *testing.T) {
	a := New(nil)
	texts := []string{
		"I am so happy and grateful today",
		"Feeling sad and lonely, also a bit anxious about work",
		"I was ANGRY, then surprised, then glad it was over",
		"Extremely worried and very scared",
	}
	for _, text := range texts {
		v := a.AnalyzeText(text)
		if math.Abs(v.Sum()-1) > tolerance {
			t.Errorf("%q: expected sum 1, got %v", text, v.Sum())
		}
		for e, w := range v {
			if w < 0 {
				t.Errorf("%q: negative weight for %s: %v", text, e, w)
			}
		}
	}
}

func TestAnalyzeTextCountsMatches(t *testing.T) {
	lex := &Lexicon{
		Keywords: map[Emotion][]string{
			Joy:     {"happy"},
			Sadness: {"sad"},
		},
	}
	a := New(lex)
	v := a.AnalyzeText("Happy, happy, HAPPY but a bit sad")

	if math.Abs(v[Joy]-0.75) > tolerance {
		t.Errorf("expected joy=0.75, got %v", v[Joy])
	}
	if math.Abs(v[Sadness]-0.25) > tolerance {
		t.Errorf("expected sadness=0.25, got %v", v[Sadness])
	}
}

func TestAnalyzeTextModifierScalesWholeVector(t *testing.T) {
	lex := &Lexicon{
		Keywords: map[Emotion][]string{
			Joy:  {"happy"},
			Fear: {"scared"},
		},
		Modifiers: map[string]float64{"very": 3},
	}
	a := New(lex)
	plain := a.AnalyzeText("happy and scared")
	modified := a.AnalyzeText("very happy and scared")

	for _, e := range Emotions {
		if math.Abs(plain[e]-modified[e]) > tolerance {
			t.Errorf("%s: uniform modifier changed the distribution: %v vs %v", e, plain[e], modified[e])
		}
	}
}

func TestAnalyzeTextZeroModifierSilences(t *testing.T) {
	lex := &Lexicon{
		Keywords:  map[Emotion][]string{Joy: {"happy"}},
		Modifiers: map[string]float64{"not": 0},
	}
	a := New(lex)
	v := a.AnalyzeText("not happy")
	if v.Sum() != 0 {
		t.Errorf("expected all-zero vector, got %v", v)
	}
}

func TestCalculateEmotionScore(t *testing.T) {
	v := Vector{Joy: 0.6, Sadness: 0.4, Anger: 0}
	weights := WeightTable{Joy: 1, Sadness: -1, Anger: -1}

	got := CalculateEmotionScore(v, weights)
	if math.Abs(got-0.2) > tolerance {
		t.Errorf("expected 0.2, got %v", got)
	}
}

func TestCalculateEmotionScoreUnclamped(t *testing.T) {
	got := CalculateEmotionScore(Vector{Joy: 1}, WeightTable{Joy: 5})
	if got != 5 {
		t.Errorf("expected 5, got %v", got)
	}
}

func TestCalculateAverageEmotions(t *testing.T) {
	entries := []HistoryEntry{
		{Emotions: Vector{Joy: 0.5, Sadness: 0.5}},
		{Emotions: Vector{Joy: 0.25, Sadness: 0.75}},
	}
	avg := CalculateAverageEmotions(entries)

	if math.Abs(avg[Joy]-0.375) > tolerance {
		t.Errorf("expected joy=0.375, got %v", avg[Joy])
	}
	if math.Abs(avg[Sadness]-0.625) > tolerance {
		t.Errorf("expected sadness=0.625, got %v", avg[Sadness])
	}
}

func TestCalculateAverageEmotionsMissingKeys(t *testing.T) {
	entries := []HistoryEntry{
		{Emotions: Vector{Fear: 0.8}},
		{Emotions: Vector{Joy: 1}},
	}
	avg := CalculateAverageEmotions(entries)
	if math.Abs(avg[Fear]-0.4) > tolerance {
		t.Errorf("expected fear=0.4, got %v", avg[Fear])
	}
	if math.Abs(avg[Joy]-0.5) > tolerance {
		t.Errorf("expected joy=0.5, got %v", avg[Joy])
	}
}

func TestCalculateTrend(t *testing.T) {
	if got := CalculateTrend([]float64{1, 2, 3, 4}); math.Abs(got-1) > tolerance {
		t.Errorf("expected slope 1, got %v", got)
	}
	if got := CalculateTrend([]float64{4, 3, 2, 1}); math.Abs(got+1) > tolerance {
		t.Errorf("expected slope -1, got %v", got)
	}
	if got := CalculateTrend([]float64{2, 2, 2}); got != 0 {
		t.Errorf("expected slope 0 for constant input, got %v", got)
	}
}

func TestCalculateTrendDegenerate(t *testing.T) {
	for _, values := range [][]float64{nil, {3}} {
		got := CalculateTrend(values)
		if !math.IsNaN(got) && !math.IsInf(got, 0) {
			t.Errorf("expected non-finite slope for %v, got %v", values, got)
		}
	}
}

func TestDominantTieBreaksByOrder(t *testing.T) {
	v := Vector{Fear: 0.4, Sadness: 0.4, Joy: 0.2}
	if got := v.Dominant(); got != Sadness {
		t.Errorf("expected sadness, got %s", got)
	}
}
