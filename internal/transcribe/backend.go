package transcribe

import "context"

// Backend turns one audio file into text. MaxPayloadBytes is the
// largest file a single call accepts; zero means unbounded.
type Backend interface {
	Name() string
	MaxPayloadBytes() int64
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
