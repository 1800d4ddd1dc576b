package corpus

import (
	"strings"

	"causal-insights-go/internal/types"
)

// Preprocess turns raw records into immutable transcripts: 1-based
// sequential turn numbers, normalized speakers, and an outcome resolved for
// every transcript (explicit label wins, lexical markers otherwise,
// UNKNOWN as the last resort).
func Preprocess(raws []rawTranscript) []types.Transcript {
	out := make([]types.Transcript, 0, len(raws))
	for _, raw := range raws {
		turns := raw.Conversation
		if len(turns) == 0 {
			turns = raw.Turns
		}

		t := types.Transcript{
			TranscriptID:  strings.TrimSpace(raw.TranscriptID),
			Domain:        raw.Domain,
			Intent:        raw.Intent,
			ReasonForCall: raw.ReasonForCall,
		}
		for i, rt := range turns {
			t.Turns = append(t.Turns, types.Turn{
				TranscriptID: t.TranscriptID,
				TurnNumber:   i + 1,
				Speaker:      NormalizeSpeaker(rt.Speaker),
				Text:         rt.Text,
			})
		}
		t.Outcome = labelOutcome(raw.Outcome, t.Turns)
		out = append(out, t)
	}
	return out
}

// Flatten concatenates all turns across the corpus, transcript order
// preserved.
func Flatten(transcripts []types.Transcript) []types.Turn {
	var out []types.Turn
	for _, t := range transcripts {
		out = append(out, t.Turns...)
	}
	return out
}

// NormalizeSpeaker maps loader- and caller-supplied speaker labels onto the
// canonical CUSTOMER/AGENT constants.
func NormalizeSpeaker(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CUSTOMER", "CLIENT", "CALLER", "USER":
		return types.SpeakerCustomer
	case "AGENT", "REP", "REPRESENTATIVE", "SUPPORT", "ASSISTANT":
		return types.SpeakerAgent
	default:
		return strings.ToUpper(strings.TrimSpace(s))
	}
}

var escalationMarkers = []string{
	"supervisor", "manager", "escalate", "escalation", "complaint",
	"lawyer", "legal action", "cancel my account",
}

var resolutionMarkers = []string{
	"resolved", "solved", "fixed", "that worked", "thank you", "thanks",
	"perfect", "great, that helps",
}

// labelOutcome prefers the explicit label; otherwise escalation markers
// anywhere in the conversation win over resolution markers in the closing
// turns.
func labelOutcome(explicit string, turns []types.Turn) types.Outcome {
	switch {
	case strings.Contains(strings.ToUpper(explicit), "ESCALAT"):
		return types.OutcomeEscalated
	case strings.Contains(strings.ToUpper(explicit), "RESOLV"):
		return types.OutcomeResolved
	}

	for _, turn := range turns {
		lower := strings.ToLower(turn.Text)
		for _, m := range escalationMarkers {
			if strings.Contains(lower, m) {
				return types.OutcomeEscalated
			}
		}
	}

	tail := turns
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	for _, turn := range tail {
		lower := strings.ToLower(turn.Text)
		for _, m := range resolutionMarkers {
			if strings.Contains(lower, m) {
				return types.OutcomeResolved
			}
		}
	}
	return types.OutcomeUnknown
}
