package model

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/ndenisov/scribeflow/internal/download"
)

// Fetcher makes a model's weight file available on disk and returns its
// path. Implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, spec Spec, dir string) (string, error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, spec Spec, dir string) (string, error)

func (f FetchFunc) Fetch(ctx context.Context, spec Spec, dir string) (string, error) {
	return f(ctx, spec, dir)
}

// ArtifactFetcher downloads model files with checksum verification. A
// file already present on disk is trusted; its digest was verified when
// it was written, so restarts reuse it without rehashing gigabytes.
type ArtifactFetcher struct {
	HTTPClient *http.Client
	Retries    int
	NoProgress bool
	Logger     *zap.Logger
}

func (a *ArtifactFetcher) Fetch(ctx context.Context, spec Spec, dir string) (string, error) {
	path := spec.Path(dir)

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat model file: %w", err)
	}

	log := a.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("downloading model", zap.String("model", spec.Name), zap.String("url", spec.URL))

	err := download.DownloadFile(ctx, download.Options{
		URL:            spec.URL,
		Destination:    path,
		ExpectedSHA256: spec.SHA256,
		Retries:        a.Retries,
		NoProgress:     a.NoProgress,
		HTTPClient:     a.HTTPClient,
		Logger:         log,
	})
	if err != nil {
		return "", fmt.Errorf("download model %s: %w", spec.Name, err)
	}
	return path, nil
}
