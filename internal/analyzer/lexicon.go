package analyzer

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_lexicon.yaml
var DefaultLexiconYAML []byte

// Lexicon holds the static tables the analyzer scores against.
type Lexicon struct {
	Keywords        map[Emotion][]string `yaml:"keywords"`
	Modifiers       map[string]float64   `yaml:"modifiers"`
	Weights         WeightTable          `yaml:"weights"`
	Recommendations map[Emotion][]string `yaml:"recommendations"`
	Hints           []HintRule           `yaml:"hints"`
}

// HintRule maps an average level or a trend direction of one emotion to a
// personality hint.
type HintRule struct {
	Emotion    Emotion `yaml:"emotion"`
	MinAverage float64 `yaml:"min_average"`
	Trend      string  `yaml:"trend"` // "rising", "falling" or empty
	Text       string  `yaml:"text"`
}

// DefaultLexicon returns a fresh copy of the embedded lexicon.
func DefaultLexicon() *Lexicon {
	lex, err := ParseLexicon(nil)
	if err != nil {
		panic(fmt.Sprintf("embedded lexicon is invalid: %v", err))
	}
	return lex
}

// LoadLexicon reads a YAML override file and applies it on top of the
// embedded defaults.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon: %w", err)
	}
	return ParseLexicon(data)
}

// ParseLexicon parses override YAML over the embedded defaults. Keys present
// in the override replace the default entry for that key; hint rules are
// replaced as a whole when given.
func ParseLexicon(data []byte) (*Lexicon, error) {
	lex := &Lexicon{}
	if err := yaml.Unmarshal(DefaultLexiconYAML, lex); err != nil {
		return nil, fmt.Errorf("parsing default lexicon: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, lex); err != nil {
			return nil, fmt.Errorf("parsing lexicon: %w", err)
		}
	}
	if err := lex.validate(); err != nil {
		return nil, err
	}
	return lex, nil
}

func (l *Lexicon) validate() error {
	for e := range l.Keywords {
		if !e.Valid() {
			return fmt.Errorf("lexicon keywords: unknown emotion %q", e)
		}
	}
	for e := range l.Weights {
		if !e.Valid() {
			return fmt.Errorf("lexicon weights: unknown emotion %q", e)
		}
	}
	for e := range l.Recommendations {
		if !e.Valid() {
			return fmt.Errorf("lexicon recommendations: unknown emotion %q", e)
		}
	}
	for phrase, w := range l.Modifiers {
		if w < 0 {
			return fmt.Errorf("lexicon modifier %q: weight must be >= 0", phrase)
		}
	}
	for i, h := range l.Hints {
		if !h.Emotion.Valid() {
			return fmt.Errorf("lexicon hint %d: unknown emotion %q", i, h.Emotion)
		}
		switch h.Trend {
		case "", TrendRising, TrendFalling:
		default:
			return fmt.Errorf("lexicon hint %d: trend must be %q or %q", i, TrendRising, TrendFalling)
		}
	}
	return nil
}
