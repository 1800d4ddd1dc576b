package store

import (
	"errors"
	"sync"
	"time"

	"causal-insights-go/internal/aggregator"
	"causal-insights-go/internal/corpus"
	"causal-insights-go/internal/engine"
	"causal-insights-go/internal/extractor"
	"causal-insights-go/internal/logger"
	"causal-insights-go/internal/types"
	"causal-insights-go/internal/vocab"
	"causal-insights-go/internal/warning"
)

// ErrNotReady is returned while the one-time corpus build is still in
// flight (or has not been triggered). Callers back off and retry; they
// never trigger a duplicate build.
var ErrNotReady = errors.New("corpus statistics not ready")

// Snapshot is the immutable result of the corpus build. After Build
// completes nothing mutates it, so reads need no locking.
type Snapshot struct {
	Vocabulary  vocab.Vocabulary
	Transcripts []types.Transcript
	Stats       *aggregator.ChainStatistics
	Engine      *engine.Engine
	Warnings    warning.Summary
	BuiltAt     time.Time
}

// BuildSnapshot loads the vocabulary and corpus and computes everything
// derived from them. An empty corpus degrades to empty statistics.
func BuildSnapshot(corpusPath, vocabPath string) (*Snapshot, error) {
	v, err := vocab.Load(vocabPath)
	if err != nil {
		return nil, err
	}

	var transcripts []types.Transcript
	if corpusPath != "" {
		transcripts, err = corpus.Load(corpusPath)
		if err != nil {
			return nil, err
		}
	}
	if len(transcripts) == 0 {
		logger.Component("store").Warn("empty corpus: serving empty statistics")
	}

	ext := extractor.New(v)
	stats := aggregator.ComputeStatistics(ext, transcripts)
	return &Snapshot{
		Vocabulary:  v,
		Transcripts: transcripts,
		Stats:       stats,
		Engine:      engine.New(ext, stats, transcripts, v.Warning.RiskThreshold),
		Warnings:    warning.Summarize(ext, v, transcripts),
		BuiltAt:     time.Now().UTC(),
	}, nil
}

type state int

const (
	stateIdle state = iota
	stateBuilding
	stateReady
	stateFailed
)

// Store guards the one-shot snapshot build. Concurrent triggers collapse
// into a single in-flight build; callers arriving meanwhile get
// ErrNotReady instead of blocking.
type Store struct {
	build func() (*Snapshot, error)

	mu    sync.Mutex
	state state
	snap  *Snapshot
	err   error
}

func New(build func() (*Snapshot, error)) *Store {
	return &Store{build: build}
}

// Trigger starts the build in the background if it has not run yet.
func (s *Store) Trigger() {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return
	}
	s.state = stateBuilding
	s.mu.Unlock()

	go s.run()
}

func (s *Store) run() {
	log := logger.Component("store")
	start := time.Now()
	snap, err := s.build()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = stateFailed
		s.err = err
		log.WithError(err).Error("snapshot build failed")
		return
	}
	s.state = stateReady
	s.snap = snap
	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("snapshot ready")
}

// Snapshot returns the ready snapshot, the build error if the build failed,
// or ErrNotReady while the build is idle or in flight (triggering it lazily
// in the idle case).
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	st, snap, err := s.state, s.snap, s.err
	s.mu.Unlock()

	switch st {
	case stateReady:
		return snap, nil
	case stateFailed:
		return nil, err
	case stateIdle:
		s.Trigger()
		return nil, ErrNotReady
	default:
		return nil, ErrNotReady
	}
}
