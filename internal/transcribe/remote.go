package transcribe

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// RemoteBackend sends audio to the hosted whisper-1 endpoint. The
// provider enforces a hard per-file size ceiling, so oversized audio is
// segmented before it ever reaches this backend.
type RemoteBackend struct {
	client     *openai.Client
	maxPayload int64
	language   string
	log        *zap.Logger
}

// NewRemoteBackend builds the API-backed backend. baseURL overrides the
// endpoint and exists for tests; leave it empty in production.
func NewRemoteBackend(apiKey, baseURL string, maxPayload int64, language string, log *zap.Logger) (*RemoteBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("remote backend requires an API key")
	}
	if log == nil {
		log = zap.NewNop()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &RemoteBackend{
		client:     openai.NewClientWithConfig(cfg),
		maxPayload: maxPayload,
		language:   language,
		log:        log,
	}, nil
}

func (r *RemoteBackend) Name() string { return "remote" }

func (r *RemoteBackend) MaxPayloadBytes() int64 { return r.maxPayload }

func (r *RemoteBackend) Transcribe(ctx context.Context, audioPath string) (string, error) {
	req := openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
	}
	if r.language != "" && r.language != "auto" {
		req.Language = r.language
	}

	resp, err := r.client.CreateTranscription(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", newError(classifyRemote(err), r.Name(), err)
	}
	return resp.Text, nil
}
