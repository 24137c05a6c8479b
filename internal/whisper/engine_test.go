package whisper

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewCLIEngineUsesConfiguredPath(t *testing.T) {
	fake := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755))

	engine, err := NewCLIEngine(fake, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, fake, engine.Executable)
}

func TestNewCLIEngineRejectsNonExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bits are not a thing on windows")
	}

	fake := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o644))

	_, err := NewCLIEngine(fake, zap.NewNop())
	require.Error(t, err)
}

func TestTranscribeValidatesInputs(t *testing.T) {
	t.Parallel()

	engine := &CLIEngine{Executable: "/nonexistent", Logger: zap.NewNop()}

	_, err := engine.Transcribe(context.Background(), Request{ModelPath: "m.bin"})
	require.ErrorContains(t, err, "audio path is required")

	_, err = engine.Transcribe(context.Background(), Request{AudioPath: "a.wav"})
	require.ErrorContains(t, err, "model path is required")
}

func TestTranscribeRunsFakeEngine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake engine is a shell script")
	}

	script := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-of" ]; then out="$2"; fi
  shift
done
printf '  hello from fake whisper \n' > "$out.txt"
`
	fake := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(fake, []byte(script), 0o755))

	engine := &CLIEngine{Executable: fake, Logger: zap.NewNop()}
	text, err := engine.Transcribe(context.Background(), Request{
		AudioPath: "segment_000.wav",
		ModelPath: "ggml-tiny.bin",
		Language:  "auto",
	})
	require.NoError(t, err)
	require.Equal(t, "hello from fake whisper", text)
}

func TestClassifyEngineStderr(t *testing.T) {
	t.Parallel()

	require.True(t, isMissingSharedLibraryError("error while loading shared libraries: libggml.so"))
	require.True(t, isMissingSharedLibraryError("dyld: Library not loaded: @rpath/libwhisper.dylib"))
	require.False(t, isMissingSharedLibraryError(""))
	require.False(t, isMissingSharedLibraryError("some other failure"))

	require.True(t, isIllegalInstructionError("SIGILL: illegal instruction"))
	require.False(t, isIllegalInstructionError("segmentation fault"))
}
