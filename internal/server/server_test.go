package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"causal-insights-go/internal/aggregator"
	"causal-insights-go/internal/engine"
	"causal-insights-go/internal/extractor"
	"causal-insights-go/internal/session"
	"causal-insights-go/internal/store"
	"causal-insights-go/internal/types"
	"causal-insights-go/internal/vocab"
	"causal-insights-go/internal/warning"
)

func testTranscript(id string, outcome types.Outcome, domain, intent string, texts ...string) types.Transcript {
	t := types.Transcript{TranscriptID: id, Outcome: outcome, Domain: domain, Intent: intent}
	for i, text := range texts {
		speaker := types.SpeakerCustomer
		if i%2 == 1 {
			speaker = types.SpeakerAgent
		}
		t.Turns = append(t.Turns, types.Turn{
			TranscriptID: id,
			TurnNumber:   i + 1,
			Speaker:      speaker,
			Text:         text,
		})
	}
	return t
}

func testSnapshot() *store.Snapshot {
	v := vocab.Default()
	ext := extractor.New(v)
	transcripts := []types.Transcript{
		testTranscript("esc-1", types.OutcomeEscalated, "Billing", "Complaint",
			"I am frustrated with your service",
			"Please wait while I look into it",
			"I cannot change that, it is impossible",
		),
		testTranscript("esc-2", types.OutcomeEscalated, "Billing", "Complaint",
			"I am angry about my bill",
			"We cannot refund that",
		),
		testTranscript("quiet", types.OutcomeResolved, "Telecom", "Question",
			"Hello, where is my order",
			"It ships tomorrow",
		),
	}
	stats := aggregator.ComputeStatistics(ext, transcripts)
	return &store.Snapshot{
		Vocabulary:  v,
		Transcripts: transcripts,
		Stats:       stats,
		Engine:      engine.New(ext, stats, transcripts, v.Warning.RiskThreshold),
		Warnings:    warning.Summarize(ext, v, transcripts),
		BuiltAt:     time.Now(),
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	snap := testSnapshot()
	st := store.New(func() (*store.Snapshot, error) { return snap, nil })
	st.Trigger()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := st.Snapshot(); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("snapshot never became ready")
		case <-time.After(2 * time.Millisecond):
		}
	}

	ts := httptest.NewServer(NewServer(st, session.NewManager()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return body
}

func postJSON(t *testing.T, url, payload string, wantStatus int) map[string]interface{} {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s status = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return body
}

func data(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	if body["success"] != true {
		t.Fatalf("envelope not successful: %v", body)
	}
	d, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("data missing from envelope: %v", body)
	}
	return d
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	body := getJSON(t, ts.URL+"/api/health", http.StatusOK)
	if body["success"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	d := data(t, getJSON(t, ts.URL+"/api/stats", http.StatusOK))

	if d["total_transcripts"].(float64) != 3 {
		t.Errorf("total_transcripts = %v", d["total_transcripts"])
	}
	if d["escalated_conversations"].(float64) != 2 {
		t.Errorf("escalated = %v", d["escalated_conversations"])
	}
	if d["resolved_conversations"].(float64) != 1 {
		t.Errorf("resolved = %v", d["resolved_conversations"])
	}
	if d["escalation_rate"].(float64) != 66.67 {
		t.Errorf("escalation_rate = %v", d["escalation_rate"])
	}
}

func TestNotReady(t *testing.T) {
	release := make(chan struct{})
	st := store.New(func() (*store.Snapshot, error) {
		<-release
		return testSnapshot(), nil
	})
	t.Cleanup(func() { close(release) })

	ts := httptest.NewServer(NewServer(st, session.NewManager()).Handler())
	t.Cleanup(ts.Close)

	body := getJSON(t, ts.URL+"/api/stats", http.StatusServiceUnavailable)
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["error"].(string); !ok {
		t.Errorf("error message missing: %v", body)
	}
}

func TestExplain(t *testing.T) {
	ts := newTestServer(t)

	d := data(t, getJSON(t, ts.URL+"/api/explain/esc-1", http.StatusOK))
	if d["available"] != true {
		t.Fatalf("available = %v", d["available"])
	}
	if text, _ := d["text"].(string); text == "" {
		t.Error("narration text missing")
	}
	expl, ok := d["explanation"].(map[string]interface{})
	if !ok {
		t.Fatalf("explanation missing: %v", d)
	}
	if expl["transcript_id"] != "esc-1" {
		t.Errorf("transcript_id = %v", expl["transcript_id"])
	}
	if chain, _ := expl["causal_chain"].([]interface{}); len(chain) == 0 {
		t.Error("causal chain empty")
	}
}

func TestExplain_NoSignals(t *testing.T) {
	ts := newTestServer(t)
	d := data(t, getJSON(t, ts.URL+"/api/explain/quiet", http.StatusOK))
	if d["available"] != false {
		t.Errorf("available = %v, want false", d["available"])
	}
	if reason, _ := d["reason"].(string); reason == "" {
		t.Error("reason missing for unavailable explanation")
	}
}

func TestExplain_NotFound(t *testing.T) {
	ts := newTestServer(t)
	body := getJSON(t, ts.URL+"/api/explain/missing", http.StatusNotFound)
	if body["success"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestTranscript(t *testing.T) {
	ts := newTestServer(t)

	d := data(t, getJSON(t, ts.URL+"/api/transcript/esc-2", http.StatusOK))
	if _, ok := d["transcript"].(map[string]interface{}); !ok {
		t.Error("transcript missing")
	}
	if _, ok := d["analysis"].(map[string]interface{}); !ok {
		t.Error("analysis missing")
	}

	getJSON(t, ts.URL+"/api/transcript/missing", http.StatusNotFound)
}

func TestSimilar(t *testing.T) {
	ts := newTestServer(t)

	d := data(t, getJSON(t, ts.URL+"/api/similar/esc-2?k=5", http.StatusOK))
	if d["reference_transcript"] != "esc-2" {
		t.Errorf("reference = %v", d["reference_transcript"])
	}
	if _, ok := d["similar_cases"].([]interface{}); !ok {
		t.Errorf("similar_cases missing: %v", d)
	}

	getJSON(t, ts.URL+"/api/similar/missing", http.StatusNotFound)
}

func TestChainStats(t *testing.T) {
	ts := newTestServer(t)
	d := data(t, getJSON(t, ts.URL+"/api/chain-stats?min_confidence=0&min_evidence=0", http.StatusOK))

	if d["total_chains"].(float64) == 0 {
		t.Error("no chains registered")
	}
	chains, ok := d["chains"].([]interface{})
	if !ok || len(chains) == 0 {
		t.Fatalf("chains missing: %v", d)
	}
	first := chains[0].(map[string]interface{})
	for _, key := range []string{"chain", "chain_string", "confidence", "confidence_interval", "occurrences", "known_outcomes"} {
		if _, ok := first[key]; !ok {
			t.Errorf("chain entry missing %q", key)
		}
	}

	// default thresholds filter out the sparse corpus entirely
	strict := data(t, getJSON(t, ts.URL+"/api/chain-stats", http.StatusOK))
	if strict["filtered_chains"].(float64) != 0 {
		t.Errorf("filtered_chains = %v, want 0 under default min_evidence", strict["filtered_chains"])
	}
}

func TestAnalyze(t *testing.T) {
	ts := newTestServer(t)

	body := postJSON(t, ts.URL+"/api/analyze", `{
		"transcript": [
			{"speaker": "customer", "text": "I am frustrated and angry about this"},
			{"speaker": "agent", "text": "Please wait, we are busy"}
		]
	}`, http.StatusOK)
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}
	if sid, _ := body["session_id"].(string); sid == "" {
		t.Error("session_id missing")
	}
	d := body["data"].(map[string]interface{})
	if d["risk_score"].(float64) <= 0 {
		t.Errorf("risk_score = %v", d["risk_score"])
	}
	if _, ok := d["causal_explanation"].(string); !ok {
		t.Error("causal_explanation missing")
	}
	if d["turn_count"].(float64) != 2 {
		t.Errorf("turn_count = %v", d["turn_count"])
	}
}

func TestAnalyze_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	postJSON(t, ts.URL+"/api/analyze", `{not json`, http.StatusBadRequest)
	postJSON(t, ts.URL+"/api/analyze", `{"transcript": []}`, http.StatusBadRequest)
	postJSON(t, ts.URL+"/api/analyze", `{"transcript": [{"speaker": "", "text": "hi"}]}`, http.StatusBadRequest)
}

func TestQueryAndSession(t *testing.T) {
	ts := newTestServer(t)

	body := postJSON(t, ts.URL+"/api/query", `{"question": "Are there similar cases?"}`, http.StatusOK)
	sid, _ := body["session_id"].(string)
	if sid == "" {
		t.Fatal("session_id missing")
	}

	// same session id is reused on the follow-up question
	again := postJSON(t, ts.URL+"/api/query",
		`{"question": "What if the agent had been faster?", "session_id": "`+sid+`"}`, http.StatusOK)
	if again["session_id"] != sid {
		t.Errorf("session id changed: %v", again["session_id"])
	}

	d := data(t, getJSON(t, ts.URL+"/api/session/"+sid, http.StatusOK))
	if d["query_count"].(float64) != 2 {
		t.Errorf("query_count = %v, want 2", d["query_count"])
	}

	postJSON(t, ts.URL+"/api/query", `{"question": ""}`, http.StatusBadRequest)
	getJSON(t, ts.URL+"/api/session/none", http.StatusNotFound)
}
