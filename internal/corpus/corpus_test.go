package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"causal-insights-go/internal/types"
)

func TestPreprocess_NumberingAndSpeakers(t *testing.T) {
	raws := []rawTranscript{
		{
			TranscriptID: "  T1 ",
			Domain:       "Billing",
			Outcome:      "RESOLVED",
			Conversation: []rawTurn{
				{Speaker: "customer", Text: "hello"},
				{Speaker: "Rep", Text: "hi"},
				{Speaker: "caller", Text: "ok"},
			},
		},
	}

	out := Preprocess(raws)
	if len(out) != 1 {
		t.Fatalf("transcripts = %d", len(out))
	}
	tr := out[0]
	if tr.TranscriptID != "T1" {
		t.Errorf("id = %q, want trimmed T1", tr.TranscriptID)
	}
	wantSpeakers := []string{types.SpeakerCustomer, types.SpeakerAgent, types.SpeakerCustomer}
	for i, turn := range tr.Turns {
		if turn.TurnNumber != i+1 {
			t.Errorf("turn %d numbered %d", i, turn.TurnNumber)
		}
		if turn.Speaker != wantSpeakers[i] {
			t.Errorf("turn %d speaker = %q, want %q", i, turn.Speaker, wantSpeakers[i])
		}
		if turn.TranscriptID != "T1" {
			t.Errorf("turn %d carries id %q", i, turn.TranscriptID)
		}
	}
}

func TestPreprocess_TurnsFieldFallback(t *testing.T) {
	out := Preprocess([]rawTranscript{
		{
			TranscriptID: "T2",
			Turns:        []rawTurn{{Speaker: "agent", Text: "with you shortly"}},
		},
	})
	if len(out[0].Turns) != 1 {
		t.Fatalf("turns = %d, want 1 from fallback field", len(out[0].Turns))
	}
}

func TestNormalizeSpeaker(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"customer", types.SpeakerCustomer},
		{" Client ", types.SpeakerCustomer},
		{"USER", types.SpeakerCustomer},
		{"agent", types.SpeakerAgent},
		{"Representative", types.SpeakerAgent},
		{"support", types.SpeakerAgent},
		{"supervisor", "SUPERVISOR"},
	}
	for _, tt := range tests {
		if got := NormalizeSpeaker(tt.in); got != tt.want {
			t.Errorf("NormalizeSpeaker(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLabelOutcome(t *testing.T) {
	turn := func(text string) types.Turn { return types.Turn{Text: text} }

	tests := []struct {
		name     string
		explicit string
		turns    []types.Turn
		want     types.Outcome
	}{
		{
			name:     "explicit escalated wins over resolution markers",
			explicit: "escalated",
			turns:    []types.Turn{turn("thank you, that worked")},
			want:     types.OutcomeEscalated,
		},
		{
			name:     "explicit resolved",
			explicit: "Resolved",
			want:     types.OutcomeResolved,
		},
		{
			name:  "escalation marker anywhere",
			turns: []types.Turn{turn("hi"), turn("let me speak to your manager"), turn("fine")},
			want:  types.OutcomeEscalated,
		},
		{
			name:  "resolution marker in closing turns",
			turns: []types.Turn{turn("hi"), turn("done"), turn("thanks, that fixed it")},
			want:  types.OutcomeResolved,
		},
		{
			name: "resolution marker too early does not count",
			turns: []types.Turn{
				turn("thanks for taking my call"),
				turn("a"), turn("b"), turn("c"), turn("d"),
			},
			want: types.OutcomeUnknown,
		},
		{
			name:  "no markers",
			turns: []types.Turn{turn("hello"), turn("goodbye")},
			want:  types.OutcomeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := labelOutcome(tt.explicit, tt.turns); got != tt.want {
				t.Errorf("labelOutcome = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.json")
	body := `[
		{
			"transcript_id": "A",
			"domain": "Telecom",
			"intent": "Complaint",
			"reason_for_call": "billing issue",
			"outcome": "ESCALATED",
			"conversation": [
				{"speaker": "customer", "text": "my bill is wrong"},
				{"speaker": "agent", "text": "let me check"}
			]
		},
		{
			"transcript_id": "B",
			"turns": [
				{"speaker": "customer", "text": "thanks, that worked"}
			]
		}
	]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("transcripts = %d, want 2", len(out))
	}
	if out[0].Outcome != types.OutcomeEscalated || out[0].Domain != "Telecom" {
		t.Errorf("first transcript wrong: %+v", out[0])
	}
	if out[1].Outcome != types.OutcomeResolved {
		t.Errorf("marker-labeled outcome = %s, want RESOLVED", out[1].Outcome)
	}
}

func TestLoad_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected read error")
	}
}

func TestFlatten(t *testing.T) {
	out := Preprocess([]rawTranscript{
		{TranscriptID: "A", Conversation: []rawTurn{{Speaker: "customer", Text: "a1"}, {Speaker: "agent", Text: "a2"}}},
		{TranscriptID: "B", Conversation: []rawTurn{{Speaker: "customer", Text: "b1"}}},
	})
	turns := Flatten(out)
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	if turns[0].TranscriptID != "A" || turns[2].TranscriptID != "B" {
		t.Error("corpus order not preserved")
	}
}
