package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ndenisov/scribeflow/internal/audio"
	"github.com/ndenisov/scribeflow/internal/metrics"
	"github.com/ndenisov/scribeflow/internal/model"
	"github.com/ndenisov/scribeflow/internal/pipeline"
	"github.com/ndenisov/scribeflow/internal/quota"
	"github.com/ndenisov/scribeflow/internal/store"
	"github.com/ndenisov/scribeflow/internal/transcribe"
	"github.com/ndenisov/scribeflow/internal/whisper"
)

// buildPipeline assembles the full stack from configuration. The
// returned teardown stops the metrics listener, if one was started.
func (a *appState) buildPipeline() (*pipeline.Pipeline, func(), error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	teardown := func() {}

	if a.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: a.metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log().Warn("metrics listener stopped", zap.Error(err))
			}
		}()
		teardown = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		teardown()
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	tracker, err := quota.Open(cfg.DBPath, a.log())
	if err != nil {
		teardown()
		return nil, nil, err
	}

	st, err := store.New(cfg.TempDir, cfg.TranscriptDir, a.log())
	if err != nil {
		teardown()
		return nil, nil, err
	}

	fetcher := &model.ArtifactFetcher{
		Retries:    cfg.RetryAttempts,
		NoProgress: a.noProgress,
		Logger:     a.log(),
	}
	cache := model.NewCache(cfg.ModelDir, cfg.ModelBudgetMB, fetcher, a.log(), m)

	var local transcribe.Backend
	if cfg.Backend != "remote" {
		engine, err := whisper.NewCLIEngine(cfg.WhisperPath, a.log())
		switch {
		case err == nil:
			local = &transcribe.LocalBackend{
				Cache:    cache,
				Engine:   engine,
				Model:    cfg.Model,
				Language: cfg.Language,
				BudgetMB: cfg.ModelBudgetMB,
				Log:      a.log(),
			}
		case cfg.Backend == "local":
			teardown()
			return nil, nil, err
		default:
			a.log().Warn("local whisper engine unavailable", zap.Error(err))
		}
	}

	var remote transcribe.Backend
	if cfg.Backend != "local" {
		if cfg.OpenAIKey == "" {
			if cfg.Backend == "remote" {
				teardown()
				return nil, nil, errors.New("remote backend requires OPENAI_API_KEY")
			}
		} else {
			rb, err := transcribe.NewRemoteBackend(cfg.OpenAIKey, "", cfg.RemoteCeiling, cfg.Language, a.log())
			if err != nil {
				teardown()
				return nil, nil, fmt.Errorf("configure remote backend: %w", err)
			}
			remote = rb
		}
	}

	dispatcher := &transcribe.Dispatcher{
		Mode:          cfg.Backend,
		Local:         local,
		Remote:        remote,
		Chunker:       audio.NewChunker(a.log()),
		MaxSegments:   cfg.MaxSegments,
		LocalWorkers:  cfg.LocalWorkers,
		RemoteWorkers: cfg.RemoteWorkers,
		RetryAttempts: cfg.RetryAttempts,
		Log:           a.log(),
		Metrics:       m,
	}

	p := pipeline.New(cfg, tracker, st, dispatcher, a.log(), m)

	if removed, err := p.Sweep(); err != nil {
		a.log().Warn("temp sweep failed", zap.Error(err))
	} else if removed > 0 {
		a.log().Info("removed stale job directories", zap.Int("count", removed))
	}

	return p, teardown, nil
}
