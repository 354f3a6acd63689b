// Package analyzer scores free text into an emotion distribution and derives
// wellbeing scores, trends and reports from a rolling per-day history.
package analyzer

import (
	"regexp"
	"strings"
)

type Emotion string

const (
	Joy      Emotion = "joy"
	Sadness  Emotion = "sadness"
	Anger    Emotion = "anger"
	Fear     Emotion = "fear"
	Surprise Emotion = "surprise"
	Disgust  Emotion = "disgust"
	Neutral  Emotion = "neutral"
)

// Emotions lists the closed emotion set in iteration order. Ties between
// emotions are always broken by this order.
var Emotions = []Emotion{Joy, Sadness, Anger, Fear, Surprise, Disgust, Neutral}

func (e Emotion) Valid() bool {
	for _, k := range Emotions {
		if k == e {
			return true
		}
	}
	return false
}

// Vector is a per-emotion weight distribution. Vectors produced by
// AnalyzeText sum to 1 or are all zero.
type Vector map[Emotion]float64

// Sum returns the total weight of the vector.
func (v Vector) Sum() float64 {
	var s float64
	for _, w := range v {
		s += w
	}
	return s
}

// Dominant returns the emotion with the highest weight.
func (v Vector) Dominant() Emotion {
	best := Emotions[0]
	for _, e := range Emotions[1:] {
		if v[e] > v[best] {
			best = e
		}
	}
	return best
}

// WeightTable folds a Vector into a signed wellbeing score.
type WeightTable map[Emotion]float64

// Analyzer scores text against a compiled lexicon. It holds no mutable state
// and is safe for concurrent use.
type Analyzer struct {
	lex      *Lexicon
	patterns map[Emotion][]*regexp.Regexp
}

// New compiles the lexicon keyword tables. A nil lexicon uses the embedded
// defaults.
func New(lex *Lexicon) *Analyzer {
	if lex == nil {
		lex = DefaultLexicon()
	}
	a := &Analyzer{lex: lex, patterns: make(map[Emotion][]*regexp.Regexp, len(Emotions))}
	for _, e := range Emotions {
		for _, kw := range lex.Keywords[e] {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			a.patterns[e] = append(a.patterns[e], regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
	}
	return a
}

func (a *Analyzer) Lexicon() *Lexicon { return a.lex }

// AnalyzeText counts keyword matches per emotion, scales the whole vector by
// every context modifier present in the text, and normalises the result.
// A text without any match yields an all-zero vector.
func (a *Analyzer) AnalyzeText(text string) Vector {
	v := make(Vector, len(Emotions))
	for _, e := range Emotions {
		var n int
		for _, re := range a.patterns[e] {
			n += len(re.FindAllStringIndex(text, -1))
		}
		v[e] = float64(n)
	}

	lower := strings.ToLower(text)
	for phrase, w := range a.lex.Modifiers {
		if phrase == "" || !strings.Contains(lower, strings.ToLower(phrase)) {
			continue
		}
		for _, e := range Emotions {
			v[e] *= w
		}
	}

	return normalize(v)
}

func normalize(v Vector) Vector {
	total := v.Sum()
	if total == 0 {
		for _, e := range Emotions {
			v[e] = 0
		}
		return v
	}
	for e := range v {
		v[e] /= total
	}
	return v
}

// Score computes the wellbeing score with the lexicon's weight table.
func (a *Analyzer) Score(v Vector) float64 {
	return CalculateEmotionScore(v, a.lex.Weights)
}

// CalculateEmotionScore is the dot product of the vector with the weights.
// The result is not clamped.
func CalculateEmotionScore(v Vector, weights WeightTable) float64 {
	var score float64
	for e, w := range v {
		score += w * weights[e]
	}
	return score
}

// CalculateAverageEmotions returns the per-emotion arithmetic mean across
// entries. An emotion missing from an entry counts as zero for it.
func CalculateAverageEmotions(entries []HistoryEntry) Vector {
	avg := make(Vector)
	if len(entries) == 0 {
		return avg
	}
	for _, entry := range entries {
		for e, w := range entry.Emotions {
			avg[e] += w
		}
	}
	n := float64(len(entries))
	for e := range avg {
		avg[e] /= n
	}
	return avg
}

// CalculateTrend returns the least-squares slope of values against their
// index. Fewer than two values give NaN or ±Inf.
func CalculateTrend(values []float64) float64 {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	return (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
}
