package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"causal-insights-go/internal/aggregator"
	"causal-insights-go/internal/corpus"
	"causal-insights-go/internal/engine"
	"causal-insights-go/internal/explain"
	"causal-insights-go/internal/logger"
	"causal-insights-go/internal/session"
	"causal-insights-go/internal/store"
	"causal-insights-go/internal/types"
)

const (
	defaultMinConfidence = 0.3
	defaultMinEvidence   = 5
	chainStatsCap        = 50
	listingCap           = 100
	defaultSimilarK      = 10
)

// Server exposes the causal query core over HTTP with a uniform
// {success, data|error} JSON envelope.
type Server struct {
	store    *store.Store
	sessions *session.Manager
	mux      *http.ServeMux
}

func NewServer(st *store.Store, sessions *session.Manager) *Server {
	s := &Server{store: st, sessions: sessions, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.HandleFunc("GET /api/health", s.health)
	s.mux.HandleFunc("GET /api/stats", s.stats)
	s.mux.HandleFunc("GET /api/domains", s.domains)
	s.mux.HandleFunc("GET /api/intents", s.intents)
	s.mux.HandleFunc("GET /api/escalated", s.escalated)
	s.mux.HandleFunc("GET /api/resolved", s.resolved)
	s.mux.HandleFunc("GET /api/signals", s.signals)
	s.mux.HandleFunc("GET /api/warnings", s.warnings)
	s.mux.HandleFunc("GET /api/transcript/{id}", s.transcript)
	s.mux.HandleFunc("GET /api/explain/{id}", s.explainTranscript)
	s.mux.HandleFunc("GET /api/similar/{id}", s.similar)
	s.mux.HandleFunc("GET /api/chain-stats", s.chainStats)
	s.mux.HandleFunc("POST /api/query", s.query)
	s.mux.HandleFunc("GET /api/session/{id}", s.session)
	s.mux.HandleFunc("POST /api/analyze", s.analyze)

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) reqLog(r *http.Request, handler string) *logrus.Entry {
	return logger.New().WithRequest(r).WithField("handler", handler)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

// snapshot resolves the built snapshot or answers 503/500 itself.
func (s *Server) snapshot(w http.ResponseWriter) (*store.Snapshot, bool) {
	snap, err := s.store.Snapshot()
	if err != nil {
		if errors.Is(err, store.ErrNotReady) {
			writeError(w, http.StatusServiceUnavailable, "corpus statistics not ready, retry shortly")
		} else {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("corpus load failed: %v", err))
		}
		return nil, false
	}
	return snap, true
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "ok")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "API is running"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}

	escalated, resolved := 0, 0
	for _, t := range snap.Transcripts {
		switch t.Outcome {
		case types.OutcomeEscalated:
			escalated++
		case types.OutcomeResolved:
			resolved++
		}
	}
	total := len(snap.Transcripts)
	totalTurns := len(corpus.Flatten(snap.Transcripts))

	data := map[string]interface{}{
		"total_transcripts":          total,
		"total_turns":                totalTurns,
		"escalated_conversations":    escalated,
		"resolved_conversations":     resolved,
		"escalation_rate":            0.0,
		"avg_turns_per_conversation": 0.0,
		"skipped_records":            snap.Stats.Skipped,
		"total_chains":               snap.Stats.Len(),
	}
	if total > 0 {
		data["escalation_rate"] = round2(float64(escalated) / float64(total) * 100)
		data["avg_turns_per_conversation"] = round2(float64(totalTurns) / float64(total))
	}
	writeData(w, data)
}

func (s *Server) domains(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	counts := map[string]int{}
	for _, t := range snap.Transcripts {
		d := t.Domain
		if d == "" {
			d = "Unknown"
		}
		counts[d]++
	}
	writeData(w, map[string]interface{}{"domains": counts, "total_domains": len(counts)})
}

func (s *Server) intents(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	counts := map[string]int{}
	for _, t := range snap.Transcripts {
		i := t.Intent
		if i == "" {
			i = "Unknown"
		}
		counts[i]++
	}
	type pair struct {
		Intent string `json:"intent"`
		Count  int    `json:"count"`
	}
	top := make([]pair, 0, len(counts))
	for k, v := range counts {
		top = append(top, pair{k, v})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Intent < top[j].Intent
	})
	if len(top) > 10 {
		top = top[:10]
	}
	writeData(w, map[string]interface{}{"intents": top, "total_intents": len(counts)})
}

func (s *Server) escalated(w http.ResponseWriter, r *http.Request) {
	s.listing(w, types.OutcomeEscalated, "escalated")
}

func (s *Server) resolved(w http.ResponseWriter, r *http.Request) {
	s.listing(w, types.OutcomeResolved, "resolved")
}

func (s *Server) listing(w http.ResponseWriter, outcome types.Outcome, label string) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	type entry struct {
		TranscriptID       string `json:"transcript_id"`
		Domain             string `json:"domain"`
		Intent             string `json:"intent"`
		ReasonForCall      string `json:"reason_for_call"`
		ConversationLength int    `json:"conversation_length"`
	}
	var list []entry
	for _, t := range snap.Transcripts {
		if t.Outcome != outcome {
			continue
		}
		list = append(list, entry{
			TranscriptID:       t.TranscriptID,
			Domain:             t.Domain,
			Intent:             t.Intent,
			ReasonForCall:      t.ReasonForCall,
			ConversationLength: len(t.Turns),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TranscriptID < list[j].TranscriptID })
	total := len(list)
	if len(list) > listingCap {
		list = list[:listingCap]
	}
	writeData(w, map[string]interface{}{
		label + "_list":  list,
		"total_" + label: total,
		"sample_count":   len(list),
		"showing_sample": total > listingCap,
	})
}

func (s *Server) signals(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	keywords := map[string][]string{}
	for name, sv := range snap.Vocabulary.Signals {
		keywords[name] = sv.Terms
	}
	writeData(w, map[string]interface{}{
		"total_signals": snap.Stats.TotalSignals,
		"by_type":       snap.Stats.SignalCounts,
		"keywords":      keywords,
	})
}

func (s *Server) warnings(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeData(w, snap.Warnings)
}

func (s *Server) transcript(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	id := r.PathValue("id")
	t, found := snap.Engine.Transcript(id)
	if !found {
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	writeData(w, map[string]interface{}{
		"transcript": t,
		"analysis":   snap.Engine.AnalyzeTranscript(t.Turns),
	})
}

func (s *Server) explainTranscript(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "explain")
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	id := r.PathValue("id")

	expl, err := snap.Engine.ExplainEscalation(id)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	case errors.Is(err, engine.ErrNoCausalExplanation):
		// expected outcome, not a failure
		writeData(w, map[string]interface{}{
			"available": false,
			"reason":    "no escalation signals detected in this transcript",
		})
		return
	case err != nil:
		log.WithError(err).Error("explain failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	gen := explain.NewGenerator(snap.Vocabulary)
	writeData(w, map[string]interface{}{
		"available":   true,
		"explanation": expl,
		"text":        gen.Generate(expl),
	})
}

func (s *Server) similar(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	id := r.PathValue("id")
	k := queryInt(r, "k", defaultSimilarK)

	ids, err := snap.Engine.FindSimilarCases(id, k)
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	writeData(w, map[string]interface{}{
		"reference_transcript": id,
		"similar_cases":        ids,
		"count":                len(ids),
	})
}

func (s *Server) chainStats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	minConfidence := queryFloat(r, "min_confidence", defaultMinConfidence)
	minEvidence := queryInt(r, "min_evidence", defaultMinEvidence)

	filtered := snap.Stats.Filtered(minConfidence, minEvidence, 0)
	type chainEntry struct {
		Chain              []string   `json:"chain"`
		ChainString        string     `json:"chain_string"`
		Confidence         float64    `json:"confidence"`
		ConfidenceInterval [2]float64 `json:"confidence_interval"`
		Occurrences        int        `json:"occurrences"`
		EscalatedCount     int        `json:"escalated_count"`
		ResolvedCount      int        `json:"resolved_count"`
		KnownOutcomes      int        `json:"known_outcomes"`
	}
	chains := make([]chainEntry, 0, len(filtered))
	for _, st := range filtered {
		if len(chains) >= chainStatsCap {
			break
		}
		chains = append(chains, chainEntry{
			Chain:              st.Chain,
			ChainString:        aggregator.Key(st.Chain),
			Confidence:         round3(st.Confidence),
			ConfidenceInterval: [2]float64{round3(st.ConfidenceInterval[0]), round3(st.ConfidenceInterval[1])},
			Occurrences:        st.Occurrences,
			EscalatedCount:     st.EscalatedCount,
			ResolvedCount:      st.ResolvedCount,
			KnownOutcomes:      st.KnownOutcomes,
		})
	}
	writeData(w, map[string]interface{}{
		"total_chains":    snap.Stats.Len(),
		"filtered_chains": len(filtered),
		"filters_applied": map[string]interface{}{
			"min_confidence": minConfidence,
			"min_evidence":   minEvidence,
		},
		"chains": chains,
	})
}

type queryRequest struct {
	SessionID    string `json:"session_id"`
	Question     string `json:"question"`
	TranscriptID string `json:"transcript_id"`
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "query")

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "no question provided")
		return
	}

	sess, err := s.sessions.Get(req.SessionID)
	if req.SessionID == "" || err != nil {
		sess = s.sessions.Create(req.SessionID)
	}

	response := map[string]interface{}{
		"type":       "followup",
		"response":   explain.FollowUp(req.Question),
		"session_id": sess.ID(),
	}
	sess.AddQuery(req.Question, "followup", response, req.TranscriptID)
	log.WithField("session_id", sess.ID()).Info("follow-up answered")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"session_id": sess.ID(),
		"data":       response,
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeData(w, sess.Export())
}

type analyzeRequest struct {
	Transcript []struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
	} `json:"transcript"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	log := s.reqLog(r, "analyze")
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Transcript) == 0 {
		writeError(w, http.StatusBadRequest, "no transcript provided")
		return
	}
	turns := make([]types.Turn, 0, len(req.Transcript))
	for i, rt := range req.Transcript {
		if rt.Speaker == "" || rt.Text == "" {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("invalid transcript format at turn %d: need speaker and text", i+1))
			return
		}
		turns = append(turns, types.Turn{
			TurnNumber: i + 1,
			Speaker:    corpus.NormalizeSpeaker(rt.Speaker),
			Text:       rt.Text,
		})
	}
	log.WithField("turns", len(turns)).Info("analyzing submitted transcript")

	analysis := snap.Engine.AnalyzeTranscript(turns)
	gen := explain.NewGenerator(snap.Vocabulary)

	sess := s.sessions.Create("")
	sess.AddContext(map[string]interface{}{
		"transcript": turns,
		"analysis":   analysis,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"session_id": sess.ID(),
		"data": map[string]interface{}{
			"risk_score":         analysis.RiskScore,
			"escalated":          analysis.Escalated,
			"detected_signals":   analysis.DetectedSignals,
			"causal_chain":       analysis.CausalChain,
			"causal_explanation": gen.Narrate(analysis.CausalChain),
			"confidence":         analysis.Confidence,
			"evidence":           analysis.Evidence,
			"turn_signals":       analysis.TurnSignals,
			"turn_count":         analysis.TurnCount,
			"signal_count":       analysis.SignalCount,
		},
	})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round3(f float64) float64 { return math.Round(f*1000) / 1000 }
