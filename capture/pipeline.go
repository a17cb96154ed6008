// Package capture copies a live stream into the media tool, remuxes the
// result when another container was requested, and discards output too
// small to be a real recording.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper-darkly/sticky-watch/hls"
	"github.com/whisper-darkly/sticky-watch/logger"
	"github.com/whisper-darkly/sticky-watch/media"
	"github.com/whisper-darkly/sticky-watch/metrics"
	"github.com/whisper-darkly/sticky-watch/platform"
	"github.com/whisper-darkly/sticky-watch/registry"
	"github.com/whisper-darkly/sticky-watch/units"
)

const (
	// MinSize is the smallest output kept. Anything below it is an aborted
	// attempt.
	MinSize = 1048576

	bufferSize = 32 * units.KiB
)

// ErrRemuxFailed is reported when the media tool could not remux a capture.
// The original capture file is kept.
var ErrRemuxFailed = errors.New("remux failed")

// Outcome is the final state of one capture.
type Outcome int

const (
	Kept Outcome = iota
	Discarded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Kept:
		return "kept"
	case Discarded:
		return "discarded"
	default:
		return "failed"
	}
}

// Request describes one capture attempt.
type Request struct {
	Platform string
	Handle   *registry.Handle
	Stream   *platform.StreamDescriptor
	Path     string // destination, extension matching Stream.Format
	Format   string // desired container; empty keeps the native one
}

// Result reports what a capture produced.
type Result struct {
	Outcome  Outcome
	Path     string // final file; empty when discarded
	Bytes    int64  // stream bytes copied
	Size     int64  // final file size
	Duration time.Duration
	Trigger  string // stream_end, cancelled or error
	Err      error
	Kind     Kind
}

// Success reports whether the capture did not fail. Cancellation and
// discarded output are not failures.
func (r Result) Success() bool { return r.Outcome != Failed }

// Pipeline runs captures. It releases the registry key of every request it
// is handed, whatever the outcome.
type Pipeline struct {
	Registry *registry.Registry
	Tool     media.Tool
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
	MinSize  int64 // default MinSize
}

func (p *Pipeline) minSize() int64 {
	if p.MinSize <= 0 {
		return MinSize
	}
	return p.MinSize
}

// Capture streams req.Stream into req.Path and post-processes the file.
func (p *Pipeline) Capture(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	log := p.Log.With().
		Str(logger.FieldKey, req.Handle.Key).
		Str(logger.FieldRecordingID, req.Handle.ID).
		Str(logger.FieldFile, filepath.Base(req.Path)).
		Logger()

	defer func() {
		p.Registry.Release(req.Handle.Key)
		req.Handle.Close()
		p.Metrics.SetActiveRecordings(p.Registry.Len())
		res.Duration = time.Since(start)
		p.Metrics.ObserveRecording(req.Platform, res.Outcome.String(), res.Bytes)

		logger.Event(&log, "RECORDING END").
			Str(logger.FieldFile, res.Path).
			Str(logger.FieldSize, units.FormatSize(res.Size)).
			Str(logger.FieldDuration, units.FormatDuration(res.Duration)).
			Str(logger.FieldTrigger, res.Trigger).
			Str("outcome", res.Outcome.String()).
			Send()
	}()

	res.Path = req.Path
	native := req.Stream.Format
	if native == "" {
		native = strings.TrimPrefix(filepath.Ext(req.Path), ".")
	}

	if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		res = p.fail(res, fmt.Errorf("create output directory: %w", err))
		res.Path = ""
		return res
	}

	src, err := req.Stream.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome, res.Trigger, res.Path = Discarded, "cancelled", ""
			return res
		}
		res = p.fail(res, err)
		p.logStreamError(log, res)
		res.Path = ""
		return res
	}

	sink, err := p.Tool.Capture(ctx, req.Path, native)
	if err != nil {
		src.Close()
		res = p.fail(res, err)
		log.Error().Err(err).Msg("start media tool")
		res.Path = ""
		return res
	}
	if err := req.Handle.Attach(src, sink); err != nil {
		// Shut down between acquire and attach; both are closed already.
		_ = sink.Wait()
		res.Trigger = "cancelled"
		return p.finish(ctx, log, req, native, res)
	}
	p.Metrics.SetActiveRecordings(p.Registry.Len())

	logger.Event(&log, "RECORDING START").Str(logger.FieldTitle, req.Stream.Title).Send()

	buf := make([]byte, bufferSize)
	n, copyErr := io.CopyBuffer(sink, src, buf)
	res.Bytes = n
	interrupted := req.Handle.Closed()
	req.Handle.Close()
	waitErr := sink.Wait()

	switch {
	case ctx.Err() != nil || interrupted:
		res.Trigger = "cancelled"
	case copyErr == nil || errors.Is(copyErr, hls.ErrStalled):
		res.Trigger = "stream_end"
		if copyErr != nil {
			log.Info().Err(copyErr).Msg("stream stopped producing segments")
		}
	default:
		res = p.fail(res, copyErr)
		p.logStreamError(log, res)
	}
	if waitErr != nil && res.Outcome != Failed && res.Trigger != "cancelled" {
		res = p.fail(res, waitErr)
		log.Error().Err(waitErr).Msg("media tool exited with error")
	}
	return p.finish(ctx, log, req, native, res)
}

// finish remuxes a successful capture when needed and applies the size
// policy to the final file.
func (p *Pipeline) finish(ctx context.Context, log zerolog.Logger, req Request, native string, res Result) Result {
	if p.discardSmall(log, &res) {
		return res
	}

	if res.Outcome != Failed && req.Format != "" && !strings.EqualFold(req.Format, native) {
		dst := strings.TrimSuffix(res.Path, filepath.Ext(res.Path)) + "." + req.Format
		logger.Event(&log, "REMUX").Str(logger.FieldFile, dst).Send()

		// Remux runs to completion even during shutdown.
		if err := p.Tool.Remux(context.WithoutCancel(ctx), res.Path, dst, req.Format); err != nil {
			p.Metrics.IncRemux("failed")
			_ = os.Remove(dst)
			log.Error().Err(err).Msg("remux failed, keeping original")
			res.Outcome = Failed
			res.Err = fmt.Errorf("%w: %w", ErrRemuxFailed, err)
		} else {
			p.Metrics.IncRemux("ok")
			if err := os.Remove(res.Path); err != nil {
				log.Warn().Err(err).Msg("remove original after remux")
			}
			res.Path = dst
		}
		if p.discardSmall(log, &res) {
			return res
		}
	}
	return res
}

// discardSmall deletes the output when it is missing or below the minimum
// size. It reports whether the result is final.
func (p *Pipeline) discardSmall(log zerolog.Logger, res *Result) bool {
	fi, err := os.Stat(res.Path)
	if err != nil {
		res.Size = 0
		res.Path = ""
		if res.Outcome == Kept {
			res.Outcome = Discarded
		}
		return true
	}
	res.Size = fi.Size()
	if res.Size >= p.minSize() {
		return false
	}

	if err := os.Remove(res.Path); err != nil {
		log.Warn().Err(err).Msg("remove small output")
	} else {
		log.Info().Str(logger.FieldSize, units.FormatSize(res.Size)).Msg("output below minimum size, deleted")
	}
	res.Path = ""
	if res.Outcome == Kept {
		res.Outcome = Discarded
	}
	return true
}

func (p *Pipeline) fail(res Result, err error) Result {
	res.Outcome = Failed
	res.Trigger = "error"
	res.Err = err
	res.Kind = Classify(err)
	return res
}

func (p *Pipeline) logStreamError(log zerolog.Logger, res Result) {
	switch res.Kind {
	case KindTimeout:
		log.Warn().Err(res.Err).Msg("recording timed out; check that the channel is live and the network is stable")
	case KindStreamUnavailable:
		log.Warn().Err(res.Err).Msg("could not open the live stream; check that the channel is live")
	default:
		log.Error().Err(res.Err).Msg("recording failed")
	}
}
