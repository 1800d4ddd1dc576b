package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xuri/excelize/v2"

	"causal-insights-go/internal/logger"
	"causal-insights-go/internal/types"
)

var httpClient = &http.Client{Timeout: 20 * time.Second}

// rawTranscript is the on-disk JSON shape: transcript metadata plus the
// ordered conversation.
type rawTranscript struct {
	TranscriptID  string    `json:"transcript_id"`
	Domain        string    `json:"domain"`
	Intent        string    `json:"intent"`
	ReasonForCall string    `json:"reason_for_call"`
	Outcome       string    `json:"outcome"`
	Conversation  []rawTurn `json:"conversation"`
	Turns         []rawTurn `json:"turns"`
}

type rawTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Load reads a transcript corpus from a local file or an http(s) URL.
// .xlsx files go through excelize; everything else is parsed as a JSON
// array of transcripts. The result is preprocessed: numbered turns,
// normalized speakers, resolved outcomes.
func Load(path string) ([]types.Transcript, error) {
	log := logger.Component("corpus").WithField("path", path)
	log.Info("loading corpus")

	data, err := read(path)
	if err != nil {
		return nil, err
	}

	var raws []rawTranscript
	if strings.HasSuffix(strings.ToLower(strings.SplitN(path, "?", 2)[0]), ".xlsx") {
		raws, err = parseXLSX(data)
	} else {
		err = json.Unmarshal(data, &raws)
		if err != nil {
			err = fmt.Errorf("parse corpus json: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}

	out := Preprocess(raws)
	log.WithField("transcripts", len(out)).Info("corpus loaded")
	return out, nil
}

func read(path string) ([]byte, error) {
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return fetch(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return data, nil
}

// fetch downloads the corpus with exponential backoff. Server errors retry;
// client errors are permanent.
func fetch(url string) ([]byte, error) {
	log := logger.Component("corpus").WithField("url", url)

	var data []byte
	op := func() error {
		resp, err := httpClient.Get(url)
		if err != nil {
			log.WithError(err).Warn("corpus fetch failed")
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error: %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("corpus fetch: %d", resp.StatusCode))
		}
		data = body
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 45 * time.Second
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return data, nil
}

// parseXLSX reads one row per turn, auto-detecting columns by header
// heuristics. Rows without a transcript id or text are skipped.
func parseXLSX(data []byte) ([]rawTranscript, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	idIdx, speakerIdx, textIdx := -1, -1, -1
	domainIdx, intentIdx, reasonIdx, outcomeIdx := -1, -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case idIdx == -1 && (strings.Contains(l, "transcript") && strings.Contains(l, "id") || l == "id"):
			idIdx = i
		case speakerIdx == -1 && (strings.Contains(l, "speaker") || strings.Contains(l, "role")):
			speakerIdx = i
		case textIdx == -1 && (strings.Contains(l, "text") || strings.Contains(l, "utterance") || strings.Contains(l, "message")):
			textIdx = i
		case domainIdx == -1 && strings.Contains(l, "domain"):
			domainIdx = i
		case intentIdx == -1 && strings.Contains(l, "intent"):
			intentIdx = i
		case reasonIdx == -1 && strings.Contains(l, "reason"):
			reasonIdx = i
		case outcomeIdx == -1 && strings.Contains(l, "outcome"):
			outcomeIdx = i
		}
	}
	if idIdx == -1 || textIdx == -1 {
		return nil, fmt.Errorf("xlsx header missing transcript id or text column")
	}

	cell := func(r []string, idx int) string {
		if idx >= 0 && idx < len(r) {
			return strings.TrimSpace(r[idx])
		}
		return ""
	}

	byID := map[string]*rawTranscript{}
	var order []string
	for i, r := range rows {
		if i == 0 {
			continue
		}
		id := cell(r, idIdx)
		text := cell(r, textIdx)
		if id == "" || text == "" {
			continue
		}
		t, ok := byID[id]
		if !ok {
			t = &rawTranscript{
				TranscriptID:  id,
				Domain:        cell(r, domainIdx),
				Intent:        cell(r, intentIdx),
				ReasonForCall: cell(r, reasonIdx),
				Outcome:       cell(r, outcomeIdx),
			}
			byID[id] = t
			order = append(order, id)
		}
		if t.Outcome == "" {
			t.Outcome = cell(r, outcomeIdx)
		}
		t.Conversation = append(t.Conversation, rawTurn{
			Speaker: cell(r, speakerIdx),
			Text:    text,
		})
	}

	out := make([]rawTranscript, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}
