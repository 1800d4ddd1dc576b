package warning

import (
	"causal-insights-go/internal/extractor"
	"causal-insights-go/internal/types"
	"causal-insights-go/internal/vocab"
)

// DetectEarlyWarning fires when any single signal type repeats at or above
// its configured threshold within one conversation. Returns the warning
// flag and a confidence that grows with repetition.
func DetectEarlyWarning(signals []types.Signal, v vocab.Vocabulary) (bool, float64) {
	counts := map[string]int{}
	for _, s := range signals {
		counts[s.Type]++
	}
	best := 0.0
	fired := false
	for typ, n := range counts {
		thr := v.Threshold(typ)
		if n < thr {
			continue
		}
		fired = true
		conf := float64(n) / float64(thr+2)
		if conf > 1 {
			conf = 1
		}
		if conf > best {
			best = conf
		}
	}
	return fired, best
}

// DetectMultiSignalWarning fires when at least two distinct signal types
// co-occur in one conversation.
func DetectMultiSignalWarning(signals []types.Signal) (bool, float64) {
	distinct := map[string]bool{}
	for _, s := range signals {
		distinct[s.Type] = true
	}
	if len(distinct) < 2 {
		return false, 0
	}
	conf := float64(len(distinct)) / 3
	if conf > 1 {
		conf = 1
	}
	return true, conf
}

// AnalyzeEscalationRisk scores a conversation in [0,1]: signal density
// weighted 0.6, mean signal position weighted 0.4 (signals late in the
// conversation read as an escalation pattern).
func AnalyzeEscalationRisk(turns []types.Turn, signals []types.Signal) float64 {
	if len(turns) == 0 || len(signals) == 0 {
		return 0
	}

	density := float64(len(signals)) / float64(len(turns))
	if density > 1 {
		density = 1
	}

	seen := map[int]bool{}
	sum := 0
	for _, s := range signals {
		if !seen[s.TurnNumber] {
			seen[s.TurnNumber] = true
			sum += s.TurnNumber
		}
	}
	avgPos := float64(sum) / float64(len(seen))
	positionFactor := avgPos / float64(len(turns))

	risk := density*0.6 + positionFactor*0.4
	if risk > 1 {
		risk = 1
	}
	return risk
}

// Summary aggregates early-warning detection across a corpus.
type Summary struct {
	SingleSignalWarnings int            `json:"single_signal_warnings"`
	MultiSignalWarnings  int            `json:"multi_signal_warnings"`
	HighRisk             int            `json:"high_risk_conversations"`
	TotalAnalyzed        int            `json:"total_analyzed"`
	Thresholds           map[string]int `json:"thresholds"`
}

// Summarize runs the detectors over every transcript.
func Summarize(ext *extractor.Extractor, v vocab.Vocabulary, transcripts []types.Transcript) Summary {
	s := Summary{Thresholds: v.Warning.Thresholds}
	for _, t := range transcripts {
		if len(t.Turns) == 0 {
			continue
		}
		s.TotalAnalyzed++
		signals, _ := ext.ExtractAll(t.Turns)
		if fired, _ := DetectEarlyWarning(signals, v); fired {
			s.SingleSignalWarnings++
		}
		if fired, _ := DetectMultiSignalWarning(signals); fired {
			s.MultiSignalWarnings++
		}
		if AnalyzeEscalationRisk(t.Turns, signals) > v.Warning.RiskThreshold {
			s.HighRisk++
		}
	}
	return s
}
