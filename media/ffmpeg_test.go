package media

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper-darkly/sticky-watch/logger"
)

// fakeFFmpeg writes a shell script that mimics the ffmpeg invocations used
// here: it records its arguments and copies -i input (stdin for pipe:0) to
// the last argument.
func fakeFFmpeg(t *testing.T, body string) (path, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a unix shell")
	}
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	path = filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, argsFile
}

const copyScript = `
src=""
while [ $# -gt 1 ]; do
  if [ "$1" = "-i" ]; then src="$2"; fi
  shift
done
if [ "$src" = "pipe:0" ]; then cat > "$1"; else cp "$src" "$1"; fi
`

func TestMuxer(t *testing.T) {
	assert.Equal(t, "mpegts", Muxer("ts"))
	assert.Equal(t, "mpegts", Muxer(".TS"))
	assert.Equal(t, "matroska", Muxer("mkv"))
	assert.Equal(t, "mp4", Muxer("mp4"))
}

func TestCapture_WritesStdinToFile(t *testing.T) {
	bin, argsFile := fakeFFmpeg(t, copyScript)
	f := &FFmpeg{Path: bin, Log: logger.Nop()}

	dest := filepath.Join(t.TempDir(), "out.ts")
	s, err := f.Capture(context.Background(), dest, "ts")
	require.NoError(t, err)

	_, err = s.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = s.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.NoError(t, s.Wait())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-i pipe:0 -c copy -f mpegts")
}

func TestCapture_TerminatesStuckProcess(t *testing.T) {
	bin, _ := fakeFFmpeg(t, "exec sleep 30\n")
	f := &FFmpeg{Path: bin, Log: logger.Nop(), Finalize: 50 * time.Millisecond, Grace: 200 * time.Millisecond}

	s, err := f.Capture(context.Background(), filepath.Join(t.TempDir(), "out.ts"), "ts")
	require.NoError(t, err)

	start := time.Now()
	err = s.Wait()
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCapture_CancelledContext(t *testing.T) {
	f := &FFmpeg{Path: "/nonexistent", Log: logger.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Capture(ctx, "x.ts", "ts")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemux(t *testing.T) {
	bin, argsFile := fakeFFmpeg(t, copyScript)
	f := &FFmpeg{Path: bin, Log: logger.Nop()}

	dir := t.TempDir()
	src := filepath.Join(dir, "in.ts")
	dst := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	require.NoError(t, f.Remux(context.Background(), src, dst, "mp4"))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(args), "-c copy -map_metadata -1 -movflags +faststart"), string(args))
}

func TestRemux_NonZeroExit(t *testing.T) {
	bin, _ := fakeFFmpeg(t, "exit 1\n")
	f := &FFmpeg{Path: bin, Log: logger.Nop()}

	err := f.Remux(context.Background(), "a.ts", "a.mp4", "mp4")
	assert.Error(t, err)
}
