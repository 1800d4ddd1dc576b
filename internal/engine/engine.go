package engine

import (
	"errors"

	"causal-insights-go/internal/aggregator"
	"causal-insights-go/internal/extractor"
	"causal-insights-go/internal/types"
	"causal-insights-go/internal/warning"
)

var (
	// ErrNotFound means the transcript id is unknown to the corpus.
	ErrNotFound = errors.New("transcript not found")
	// ErrNoCausalExplanation means the transcript produced no signal-backed
	// chain. Expected and common; callers branch on it, nothing logs loudly.
	ErrNoCausalExplanation = errors.New("no causal explanation available")
)

// maxAlternatives caps the alternative chains attached to an explanation.
const maxAlternatives = 5

// adHocChainCap limits the chain reported for user-submitted transcripts.
const adHocChainCap = 3

// Engine answers causal queries against statistics computed once at corpus
// load. All methods are read-only and safe for concurrent use.
type Engine struct {
	ext           *extractor.Extractor
	stats         *aggregator.ChainStatistics
	byID          map[string]types.Transcript
	order         []string
	riskThreshold float64
}

func New(ext *extractor.Extractor, stats *aggregator.ChainStatistics, transcripts []types.Transcript, riskThreshold float64) *Engine {
	e := &Engine{
		ext:           ext,
		stats:         stats,
		byID:          make(map[string]types.Transcript, len(transcripts)),
		riskThreshold: riskThreshold,
	}
	for _, t := range transcripts {
		if t.TranscriptID == "" {
			continue
		}
		if _, dup := e.byID[t.TranscriptID]; dup {
			continue
		}
		e.byID[t.TranscriptID] = t
		e.order = append(e.order, t.TranscriptID)
	}
	return e
}

// Stats exposes the chain statistics for read access.
func (e *Engine) Stats() *aggregator.ChainStatistics { return e.stats }

// Transcript resolves one transcript by id.
func (e *Engine) Transcript(id string) (types.Transcript, bool) {
	t, ok := e.byID[id]
	return t, ok
}

// Transcripts returns the corpus in load order.
func (e *Engine) Transcripts() []types.Transcript {
	out := make([]types.Transcript, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.byID[id])
	}
	return out
}

// ExplainEscalation answers "why did this transcript escalate": the matched
// chain with its interval, quoted evidence, and ranked alternatives.
func (e *Engine) ExplainEscalation(transcriptID string) (*types.Explanation, error) {
	t, ok := e.byID[transcriptID]
	if !ok {
		return nil, ErrNotFound
	}

	signals, sequence := e.ext.ExtractAll(t.Turns)
	chain, st := e.matchChain(sequence)
	if chain == nil {
		return nil, ErrNoCausalExplanation
	}

	expl := &types.Explanation{
		TranscriptID:       transcriptID,
		Outcome:            t.Outcome,
		CausalChain:        chain,
		Confidence:         st.Confidence,
		ConfidenceInterval: st.ConfidenceInterval,
		EvidenceQuotes:     e.evidence(t, signals),
		AlternativeChains:  e.alternatives(chain),
	}
	return expl, nil
}

// FindSimilarCases returns other transcripts supporting the reference's
// matched chain key, in corpus order, capped at topK. No chain match is not
// an error: the result is simply empty.
func (e *Engine) FindSimilarCases(transcriptID string, topK int) ([]string, error) {
	t, ok := e.byID[transcriptID]
	if !ok {
		return nil, ErrNotFound
	}
	_, sequence := e.ext.ExtractAll(t.Turns)
	chain, _ := e.matchChain(sequence)
	if chain == nil {
		return []string{}, nil
	}

	out := []string{}
	for _, id := range e.stats.Supporters(chain) {
		if id == transcriptID {
			continue
		}
		out = append(out, id)
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out, nil
}

// matchChain finds the chain key equal to the full instance sequence, or
// falls back to the longest registered prefix. Returns nil when not even a
// length-1 prefix is known.
func (e *Engine) matchChain(sequence []string) ([]string, *aggregator.ChainStats) {
	for i := len(sequence); i >= 1; i-- {
		if st, ok := e.stats.Get(sequence[:i]); ok {
			return st.Chain, st
		}
	}
	return nil, nil
}

// evidence quotes every turn where a signal fired, chronological order.
func (e *Engine) evidence(t types.Transcript, signals []types.Signal) []types.EvidenceQuote {
	turnByNumber := make(map[int]types.Turn, len(t.Turns))
	for _, turn := range t.Turns {
		turnByNumber[turn.TurnNumber] = turn
	}
	var quotes []types.EvidenceQuote
	for _, s := range signals {
		turn, ok := turnByNumber[s.TurnNumber]
		if !ok {
			continue
		}
		quotes = append(quotes, types.EvidenceQuote{
			TurnNumber: s.TurnNumber,
			Speaker:    turn.Speaker,
			Text:       turn.Text,
			Signal:     s.Type,
			Confidence: s.Confidence,
		})
	}
	return quotes
}

// alternatives lists other chains opening with the primary chain's first
// signal, confidence-descending.
func (e *Engine) alternatives(primary []string) []types.AlternativeChain {
	primaryKey := aggregator.Key(primary)
	var out []types.AlternativeChain
	for _, st := range e.stats.Filtered(0, 0, 0) {
		if len(st.Chain) == 0 || st.Chain[0] != primary[0] {
			continue
		}
		if aggregator.Key(st.Chain) == primaryKey {
			continue
		}
		out = append(out, types.AlternativeChain{
			Chain:       st.Chain,
			Confidence:  st.Confidence,
			Occurrences: st.Occurrences,
		})
		if len(out) >= maxAlternatives {
			break
		}
	}
	return out
}

// Analysis is the result of analyzing a user-submitted transcript that is
// not part of the loaded corpus.
type Analysis struct {
	RiskScore       float64               `json:"risk_score"`
	Escalated       bool                  `json:"escalated"`
	DetectedSignals []string              `json:"detected_signals"`
	CausalChain     []string              `json:"causal_chain"`
	Confidence      float64               `json:"confidence"`
	Evidence        []types.EvidenceQuote `json:"evidence"`
	TurnSignals     map[int][]string      `json:"turn_signals"`
	TurnCount       int                   `json:"turn_count"`
	SignalCount     int                   `json:"signal_count"`
}

// AnalyzeTranscript scores an ad-hoc transcript: per-turn signals, an
// escalation risk score, and a chain capped at the first three signal types.
func (e *Engine) AnalyzeTranscript(turns []types.Turn) *Analysis {
	signals, sequence := e.ext.ExtractAll(turns)

	turnSignals := map[int][]string{}
	for _, s := range signals {
		turnSignals[s.TurnNumber] = append(turnSignals[s.TurnNumber], s.Type)
	}

	chain := sequence
	if len(chain) > adHocChainCap {
		chain = chain[:adHocChainCap]
	}

	risk := warning.AnalyzeEscalationRisk(turns, signals)
	conf := 0.5 + float64(len(signals))/20
	if conf > 1 {
		conf = 1
	}
	if len(signals) == 0 {
		conf = 0
	}

	t := types.Transcript{Turns: turns}
	return &Analysis{
		RiskScore:       risk,
		Escalated:       risk > e.riskThreshold,
		DetectedSignals: sequence,
		CausalChain:     chain,
		Confidence:      conf,
		Evidence:        e.evidence(t, signals),
		TurnSignals:     turnSignals,
		TurnCount:       len(turns),
		SignalCount:     len(signals),
	}
}
