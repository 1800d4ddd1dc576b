package types

// Outcome is the final disposition assigned to a transcript during
// preprocessing. It is never mutated afterwards.
type Outcome string

const (
	OutcomeEscalated Outcome = "ESCALATED"
	OutcomeResolved  Outcome = "RESOLVED"
	OutcomeUnknown   Outcome = "UNKNOWN"
)

const (
	SpeakerCustomer = "CUSTOMER"
	SpeakerAgent    = "AGENT"
)

// Turn is one utterance within a transcript. TurnNumber is 1-based and
// sequential within the owning transcript.
type Turn struct {
	TranscriptID string `json:"transcript_id"`
	TurnNumber   int    `json:"turn_number"`
	Speaker      string `json:"speaker"`
	Text         string `json:"text"`
}

// Transcript is an ordered sequence of turns plus call metadata.
type Transcript struct {
	TranscriptID  string  `json:"transcript_id"`
	Domain        string  `json:"domain,omitempty"`
	Intent        string  `json:"intent,omitempty"`
	ReasonForCall string  `json:"reason_for_call,omitempty"`
	Outcome       Outcome `json:"outcome"`
	Turns         []Turn  `json:"turns"`
}

// Signal is a named behavioral indicator detected at a specific turn.
// Multiple signals may fire on the same turn.
type Signal struct {
	Type       string  `json:"type"`
	TurnNumber int     `json:"turn_number"`
	Confidence float64 `json:"confidence"`
}

// EvidenceQuote cites one turn as support for a detected signal.
type EvidenceQuote struct {
	TurnNumber int     `json:"turn_number"`
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
}

// AlternativeChain is a secondary chain consistent with the transcript's
// opening signal, ranked below the primary match.
type AlternativeChain struct {
	Chain       []string `json:"chain"`
	Confidence  float64  `json:"confidence"`
	Occurrences int      `json:"occurrences"`
}

// Explanation is the query engine's answer to "why did this escalate".
type Explanation struct {
	TranscriptID       string             `json:"transcript_id"`
	Outcome            Outcome            `json:"outcome"`
	CausalChain        []string           `json:"causal_chain"`
	ConfidenceInterval [2]float64         `json:"confidence_interval"`
	Confidence         float64            `json:"confidence"`
	EvidenceQuotes     []EvidenceQuote    `json:"evidence_quotes"`
	AlternativeChains  []AlternativeChain `json:"alternative_chains,omitempty"`
}
