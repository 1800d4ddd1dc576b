package extractor

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"causal-insights-go/internal/types"
	"causal-insights-go/internal/vocab"
)

// Extractor detects behavioral signals in conversation turns by lexical
// matching against a fixed vocabulary. Extraction is a pure function of the
// turn text and the vocabulary: same input, same output, no corpus state.
type Extractor struct {
	vocab vocab.Vocabulary
	// names in sorted order so the returned signal slice is deterministic
	names []string
}

func New(v vocab.Vocabulary) *Extractor {
	names := make([]string, 0, len(v.Signals))
	for name := range v.Signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Extractor{vocab: v, names: names}
}

// Extract returns zero or more signals for one turn. Empty or malformed
// text degrades to an empty result, never an error.
func (e *Extractor) Extract(turn types.Turn) []types.Signal {
	text := strings.ToLower(strings.TrimSpace(turn.Text))
	if text == "" {
		return nil
	}

	tokens := tokenize(text)
	tokenSet := make(map[string]bool, len(tokens))
	informative := 0
	for _, tok := range tokens {
		tokenSet[tok] = true
		if len(tok) >= 3 && !stopwords[tok] {
			informative++
		}
	}

	// A single cue hit in a short turn lands around 1/3, not 1.0; longer
	// turns need proportionally more distinct hits to score high.
	norm := math.Max(3, float64(informative)/4)

	var out []types.Signal
	for _, name := range e.names {
		hits := 0
		for _, term := range e.vocab.Signals[name].Terms {
			if strings.ContainsRune(term, ' ') {
				if strings.Contains(text, term) {
					hits++
				}
			} else if tokenSet[term] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		conf := float64(hits) / norm
		if conf > 1 {
			conf = 1
		}
		out = append(out, types.Signal{
			Type:       name,
			TurnNumber: turn.TurnNumber,
			Confidence: conf,
		})
	}
	return out
}

// ExtractAll runs extraction over turns in order and also returns the
// transcript's instance sequence: each signal type once, in order of first
// occurrence.
func (e *Extractor) ExtractAll(turns []types.Turn) ([]types.Signal, []string) {
	var signals []types.Signal
	var sequence []string
	seen := map[string]bool{}
	for _, turn := range turns {
		for _, s := range e.Extract(turn) {
			signals = append(signals, s)
			if !seen[s.Type] {
				seen[s.Type] = true
				sequence = append(sequence, s.Type)
			}
		}
	}
	return signals, sequence
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// stopwords are excluded from the informative-token count used as the
// confidence normalizer. They are never cue terms.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "you": true, "your": true,
	"that": true, "this": true, "with": true, "have": true, "has": true,
	"was": true, "are": true, "but": true, "they": true, "its": true,
	"it's": true, "i'm": true, "just": true, "very": true, "really": true,
}
