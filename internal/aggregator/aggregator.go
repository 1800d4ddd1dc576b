package aggregator

import (
	"math"
	"sort"
	"strings"

	"causal-insights-go/internal/extractor"
	"causal-insights-go/internal/logger"
	"causal-insights-go/internal/types"
	"causal-insights-go/internal/vocab"
)

// z for a two-sided 95% Wilson score interval.
const z95 = 1.959963984540054

// ChainStats is the corpus-wide record for one chain key.
//
// Occurrences counts every transcript whose instance sequence equals or
// starts with the chain, UNKNOWN outcomes included. Confidence is the
// escalation ratio over KnownOutcomes only, so transcripts without a
// resolved outcome stay visible in Occurrences without skewing the ratio.
type ChainStats struct {
	Chain              []string   `json:"chain"`
	Occurrences        int        `json:"occurrences"`
	EscalatedCount     int        `json:"escalated_count"`
	ResolvedCount      int        `json:"resolved_count"`
	UnknownCount       int        `json:"unknown_count"`
	KnownOutcomes      int        `json:"known_outcomes"`
	Confidence         float64    `json:"confidence"`
	ConfidenceInterval [2]float64 `json:"confidence_interval"`

	// supporting transcript IDs in corpus order; feeds similarity lookups
	supporters []string
}

// ChainStatistics is the immutable result of one corpus pass. It is built
// once and read-only afterwards.
type ChainStatistics struct {
	stats map[string]*ChainStats

	Processed    int            `json:"processed"`
	Skipped      int            `json:"skipped"`
	SignalCounts map[string]int `json:"signal_counts"`
	TotalSignals int            `json:"total_signals"`
}

// Key encodes a chain as a stable map key.
func Key(chain []string) string {
	return strings.Join(chain, vocab.ChainSeparator)
}

// ComputeStatistics runs the extractor over every transcript and registers
// every non-empty prefix of each instance sequence, so short prefixes
// accumulate sample size even when full chains are rare. Malformed
// transcripts are skipped and counted, never fatal. An empty corpus yields
// empty statistics.
func ComputeStatistics(ext *extractor.Extractor, transcripts []types.Transcript) *ChainStatistics {
	log := logger.Component("aggregator")

	cs := &ChainStatistics{
		stats:        map[string]*ChainStats{},
		SignalCounts: map[string]int{},
	}

	for _, t := range transcripts {
		if t.TranscriptID == "" || len(t.Turns) == 0 || t.Outcome == "" {
			cs.Skipped++
			continue
		}
		cs.Processed++

		signals, sequence := ext.ExtractAll(t.Turns)
		for _, s := range signals {
			cs.SignalCounts[s.Type]++
			cs.TotalSignals++
		}
		// zero-signal transcripts contribute to no chain key
		for i := 1; i <= len(sequence); i++ {
			prefix := sequence[:i]
			key := Key(prefix)
			st, ok := cs.stats[key]
			if !ok {
				st = &ChainStats{Chain: append([]string(nil), prefix...)}
				cs.stats[key] = st
			}
			st.Occurrences++
			switch t.Outcome {
			case types.OutcomeEscalated:
				st.EscalatedCount++
			case types.OutcomeResolved:
				st.ResolvedCount++
			default:
				st.UnknownCount++
			}
			st.supporters = append(st.supporters, t.TranscriptID)
		}
	}

	for _, st := range cs.stats {
		st.KnownOutcomes = st.EscalatedCount + st.ResolvedCount
		st.Confidence, st.ConfidenceInterval = wilson(st.EscalatedCount, st.KnownOutcomes)
	}

	log.WithFields(map[string]interface{}{
		"processed": cs.Processed,
		"skipped":   cs.Skipped,
		"chains":    len(cs.stats),
		"signals":   cs.TotalSignals,
	}).Info("chain statistics computed")
	return cs
}

// Get returns the stats record for a chain, if registered.
func (cs *ChainStatistics) Get(chain []string) (*ChainStats, bool) {
	st, ok := cs.stats[Key(chain)]
	return st, ok
}

// Len is the number of distinct chain keys.
func (cs *ChainStatistics) Len() int {
	return len(cs.stats)
}

// Supporters returns the transcript IDs supporting a chain, in corpus order.
func (cs *ChainStatistics) Supporters(chain []string) []string {
	if st, ok := cs.stats[Key(chain)]; ok {
		return st.supporters
	}
	return nil
}

// Filtered returns chains with confidence >= minConfidence and occurrences
// >= minEvidence, sorted by confidence descending (ties: more occurrences,
// then key order). limit caps the result when > 0.
func (cs *ChainStatistics) Filtered(minConfidence float64, minEvidence int, limit int) []*ChainStats {
	var out []*ChainStats
	for _, st := range cs.stats {
		if st.Confidence >= minConfidence && st.Occurrences >= minEvidence {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return Key(out[i].Chain) < Key(out[j].Chain)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// wilson returns the sample proportion and its Wilson score interval at 95%
// coverage. The Wilson interval stays stable near 0/1 and for small n,
// unlike the normal approximation. Zero known outcomes yield the
// uninformative interval [0,1].
func wilson(successes, n int) (float64, [2]float64) {
	if n <= 0 {
		return 0, [2]float64{0, 1}
	}
	p := float64(successes) / float64(n)
	nf := float64(n)
	denom := 1 + z95*z95/nf
	center := (p + z95*z95/(2*nf)) / denom
	half := z95 * math.Sqrt(p*(1-p)/nf+z95*z95/(4*nf*nf)) / denom
	lo := math.Max(0, center-half)
	hi := math.Min(1, center+half)
	// rounding guard: the interval always contains the sample proportion
	if lo > p {
		lo = p
	}
	if hi < p {
		hi = p
	}
	return p, [2]float64{lo, hi}
}
