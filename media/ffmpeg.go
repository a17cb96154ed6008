// Package media wraps the external media tool (ffmpeg) used to write
// captured streams to disk and to remux finished recordings.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper-darkly/sticky-watch/logger"
	"github.com/whisper-darkly/sticky-watch/metrics"
)

// Sink is the writable end of a running capture process.
type Sink interface {
	io.WriteCloser
	// Wait closes the input if needed and blocks until the output file is
	// finalized. It returns the process exit error.
	Wait() error
}

// Tool writes stream bytes to a container file and remuxes files.
type Tool interface {
	// Capture starts a process that reads raw stream bytes from the returned
	// sink and writes them to dest in the given container format.
	Capture(ctx context.Context, dest, format string) (Sink, error)
	// Remux stream-copies src into dst, stripping global metadata. A non-zero
	// exit is an error.
	Remux(ctx context.Context, src, dst, format string) error
}

// FFmpeg implements Tool with the ffmpeg binary.
type FFmpeg struct {
	Path     string        // binary, default "ffmpeg"
	Finalize time.Duration // wait after stdin is closed before SIGTERM (default 30s)
	Grace    time.Duration // wait after SIGTERM before SIGKILL (default 2s)
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
}

func (f *FFmpeg) path() string {
	if f.Path == "" {
		return "ffmpeg"
	}
	return f.Path
}

func (f *FFmpeg) grace() time.Duration {
	if f.Grace <= 0 {
		return 2 * time.Second
	}
	return f.Grace
}

func (f *FFmpeg) finalize() time.Duration {
	if f.Finalize <= 0 {
		return 30 * time.Second
	}
	return f.Finalize
}

// Muxer maps a file extension to the ffmpeg muxer name.
func Muxer(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "ts", "mpegts":
		return "mpegts"
	case "mkv":
		return "matroska"
	case "m4a", "mov":
		return "mov"
	default:
		return strings.ToLower(strings.TrimPrefix(format, "."))
	}
}

// Capture runs `ffmpeg -i pipe:0 -c copy -f <muxer> dest`. The process is not
// bound to ctx: it ends when the sink is closed so the file is always
// finalized.
func (f *FFmpeg) Capture(ctx context.Context, dest, format string) (Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := []string{
		"-hide_banner", "-loglevel", "warning", "-y",
		"-i", "pipe:0",
		"-c", "copy",
		"-f", Muxer(format),
		dest,
	}
	f.Log.Debug().Str("cmd", f.path()+" "+strings.Join(args, " ")).Msg("start capture")

	cmd := exec.Command(f.path(), args...)
	setProcessGroup(cmd)
	cmd.Stderr = logger.Writer(f.Log, zerolog.DebugLevel)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	return &sink{f: f, cmd: cmd, stdin: stdin, waitCh: waitCh}, nil
}

type sink struct {
	f      *FFmpeg
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	waitCh chan error

	closeOnce sync.Once
	closeErr  error
	waitOnce  sync.Once
	waitErr   error
}

func (s *sink) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *sink) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stdin.Close()
		if errors.Is(s.closeErr, syscall.EPIPE) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

func (s *sink) Wait() error {
	s.waitOnce.Do(func() {
		_ = s.Close()
		select {
		case err := <-s.waitCh:
			s.waitErr = err
		case <-time.After(s.f.finalize()):
			s.f.Log.Warn().Msg("ffmpeg did not exit after input closed, terminating")
			s.waitErr = terminate(s.cmd, s.waitCh, s.f.grace(), s.f.Metrics)
		}
		if s.waitErr != nil {
			s.waitErr = fmt.Errorf("ffmpeg capture: %w", s.waitErr)
		}
	})
	return s.waitErr
}

// Remux runs `ffmpeg -i src -c copy -map_metadata -1 -movflags +faststart dst`.
// Cancelling ctx terminates the process group.
func (f *FFmpeg) Remux(ctx context.Context, src, dst, format string) error {
	args := []string{
		"-hide_banner", "-loglevel", "warning", "-y",
		"-i", src,
		"-c", "copy",
		"-map_metadata", "-1",
		"-movflags", "+faststart",
		"-f", Muxer(format),
		dst,
	}
	f.Log.Debug().Str("cmd", f.path()+" "+strings.Join(args, " ")).Msg("start remux")

	cmd := exec.CommandContext(ctx, f.path(), args...)
	setProcessGroup(cmd)
	cmd.Stderr = logger.Writer(f.Log, zerolog.WarnLevel)
	cmd.Cancel = func() error {
		f.Metrics.IncProcTerminate("SIGTERM", "sent")
		return killGroup(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = f.grace()

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg remux: %w", err)
	}
	return nil
}
