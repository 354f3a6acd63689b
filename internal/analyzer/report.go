package analyzer

import (
	"encoding/json"
	"math"
)

const (
	TrendRising  = "rising"
	TrendFalling = "falling"
)

type Report struct {
	Average         Vector              `json:"average"`
	Dominant        Emotion             `json:"dominant"`
	Score           float64             `json:"score"`
	Trends          map[Emotion]float64 `json:"trends"`
	Recommendations []string            `json:"recommendations"`
	Hints           []string            `json:"hints"`
	Days            int                 `json:"days"`
}

// GenerateEmotionReport summarises the last ReportWindow entries of h.
// It returns nil when the history is empty.
func (a *Analyzer) GenerateEmotionReport(h *History) *Report {
	recent := h.Recent(ReportWindow)
	if len(recent) == 0 {
		return nil
	}

	avg := CalculateAverageEmotions(recent)
	dominant := avg.Dominant()

	trends := make(map[Emotion]float64, len(Emotions))
	for _, e := range Emotions {
		values := make([]float64, len(recent))
		for i, entry := range recent {
			values[i] = entry.Emotions[e]
		}
		trends[e] = CalculateTrend(values)
	}

	recs := a.lex.Recommendations[dominant]
	if len(recs) == 0 {
		recs = a.lex.Recommendations[Neutral]
	}

	return &Report{
		Average:         avg,
		Dominant:        dominant,
		Score:           a.Score(avg),
		Trends:          trends,
		Recommendations: append([]string(nil), recs...),
		Hints:           a.PersonalityHints(avg, trends),
		Days:            len(recent),
	}
}

// PersonalityHints applies the lexicon's hint rules in order. A rule with a
// trend only matches a finite slope with the right sign.
func (a *Analyzer) PersonalityHints(avg Vector, trends map[Emotion]float64) []string {
	var hints []string
	for _, rule := range a.lex.Hints {
		if rule.MinAverage > 0 && avg[rule.Emotion] < rule.MinAverage {
			continue
		}
		if rule.Trend != "" {
			slope, ok := trends[rule.Emotion]
			if !ok || math.IsNaN(slope) || math.IsInf(slope, 0) {
				continue
			}
			if rule.Trend == TrendRising && slope <= 0 {
				continue
			}
			if rule.Trend == TrendFalling && slope >= 0 {
				continue
			}
		}
		hints = append(hints, rule.Text)
	}
	return hints
}

// MarshalJSON encodes non-finite trend slopes as null; encoding/json rejects
// NaN and Inf.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	trends := make(map[Emotion]*float64, len(r.Trends))
	for e, slope := range r.Trends {
		if math.IsNaN(slope) || math.IsInf(slope, 0) {
			trends[e] = nil
			continue
		}
		s := slope
		trends[e] = &s
	}
	return json.Marshal(struct {
		plain
		Trends map[Emotion]*float64 `json:"trends"`
	}{plain: plain(r), Trends: trends})
}
