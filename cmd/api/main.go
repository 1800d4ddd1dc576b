package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"causal-insights-go/internal/logger"
	"causal-insights-go/internal/server"
	"causal-insights-go/internal/session"
	"causal-insights-go/internal/store"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "causal-insights-go").Info("starting service")

	corpusPath := os.Getenv("CORPUS_PATH")
	vocabPath := os.Getenv("VOCAB_PATH")
	log.WithField("corpus_path", corpusPath).WithField("vocab_path", vocabPath).Info("configuration")

	st := store.New(func() (*store.Snapshot, error) {
		return store.BuildSnapshot(corpusPath, vocabPath)
	})
	// Build in the background so startup never blocks on corpus size;
	// handlers answer 503 until the snapshot is ready.
	st.Trigger()

	srv := server.NewServer(st, session.NewManager())

	addr := fmt.Sprintf(":%s", envOr("PORT", "8080"))
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", addr).Info("listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
