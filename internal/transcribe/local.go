package transcribe

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ndenisov/scribeflow/internal/model"
	"github.com/ndenisov/scribeflow/internal/whisper"
)

// LocalBackend runs whisper-cli against models pinned in the shared
// cache. When the preferred model plus the decoded audio would not fit
// the RAM budget, it silently steps down the model ladder.
type LocalBackend struct {
	Cache    *model.Cache
	Engine   whisper.Engine
	Model    string
	Language string
	BudgetMB int64
	Log      *zap.Logger
}

func (l *LocalBackend) Name() string { return "local" }

// MaxPayloadBytes is unbounded: local files never leave the disk.
func (l *LocalBackend) MaxPayloadBytes() int64 { return 0 }

func (l *LocalBackend) Transcribe(ctx context.Context, audioPath string) (string, error) {
	spec, err := l.pickModel(audioPath)
	if err != nil {
		return "", err
	}

	handle, err := l.Cache.Acquire(ctx, spec.Name)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", newError(KindModelUnavailable, l.Name(), err)
	}
	defer handle.Release()

	text, err := l.Engine.Transcribe(ctx, whisper.Request{
		AudioPath: audioPath,
		ModelPath: handle.Path,
		Language:  l.Language,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", newError(KindPermanent, l.Name(), err)
	}
	return text, nil
}

// pickModel subtracts the audio's own resident cost from the budget
// before fitting, so a huge recording downgrades the model instead of
// blowing past the budget.
func (l *LocalBackend) pickModel(audioPath string) (model.Spec, error) {
	budget := l.BudgetMB
	if budget > 0 {
		if fi, err := os.Stat(audioPath); err == nil {
			budget -= fi.Size() >> 20
			if budget <= 0 {
				budget = 1
			}
		}
	}

	spec, ok := model.FitWithinBudget(l.Model, budget)
	if !ok {
		return model.Spec{}, newError(KindModelUnavailable, l.Name(),
			fmt.Errorf("no model fits within %d MB alongside this audio", l.BudgetMB))
	}
	if spec.Name != l.Model && l.Log != nil {
		l.Log.Info("downsized model for large audio",
			zap.String("preferred", l.Model),
			zap.String("chosen", spec.Name))
	}
	return spec, nil
}
