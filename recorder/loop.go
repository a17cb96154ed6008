// Package recorder runs one poll loop per channel and supervises them.
package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/whisper-darkly/sticky-watch/capture"
	"github.com/whisper-darkly/sticky-watch/config"
	"github.com/whisper-darkly/sticky-watch/cookies"
	"github.com/whisper-darkly/sticky-watch/logger"
	"github.com/whisper-darkly/sticky-watch/metrics"
	"github.com/whisper-darkly/sticky-watch/platform"
	"github.com/whisper-darkly/sticky-watch/registry"
	"github.com/whisper-darkly/sticky-watch/units"
)

// State is a poll loop state.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateOffline
	StateLive
	StateErrorBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateOffline:
		return "offline"
	case StateLive:
		return "live"
	case StateErrorBackoff:
		return "error_backoff"
	default:
		return "stopped"
	}
}

// LoopConfig wires a poll loop.
type LoopConfig struct {
	Channel  config.Channel
	Factory  platform.Factory
	Registry *registry.Registry
	Pipeline *capture.Pipeline
	Log      zerolog.Logger
	Metrics  *metrics.Metrics

	// NewClient creates the loop's HTTP client. Defaults to platform.NewClient.
	NewClient func(platform.ClientOptions) (*platform.Client, error)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Loop polls one channel and captures it while it is live. The loop owns its
// HTTP client and adapter exclusively.
type Loop struct {
	cfg  LoopConfig
	ch   config.Channel
	log  zerolog.Logger
	pool *cookies.Pool
	out  *template.Template

	state atomic.Int32
	polls atomic.Int64

	mu      sync.Mutex
	id      string
	name    string
	key     string
	client  *platform.Client
	adapter platform.Adapter
	cookie  string
}

// NewLoop returns a loop in the Idle state.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.NewClient == nil {
		cfg.NewClient = platform.NewClient
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := &Loop{
		cfg:  cfg,
		ch:   cfg.Channel,
		pool: cookies.NewPool(cfg.Channel.Cookies),
		log: logger.WithComponent(cfg.Log, "loop").With().
			Str(logger.FieldPlatform, cfg.Channel.Platform).
			Str(logger.FieldChannel, cfg.Channel.ID).
			Logger(),
	}
	if tpl, err := ParseOutput(cfg.Channel.Output); err == nil {
		l.out = tpl
	} else {
		l.log.Warn().Err(err).Msg("output template invalid, using it as a literal path")
	}
	return l
}

// Channel returns the loop's configuration.
func (l *Loop) Channel() config.Channel { return l.ch }

// State returns the current state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Polls returns how many status polls the loop has made.
func (l *Loop) Polls() int64 { return l.polls.Load() }

// Key returns the registry key once the channel identity is resolved.
func (l *Loop) Key() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.key
}

// Run polls until ctx is cancelled or a fatal error occurs. Cancellation
// returns nil; a fatal adapter error or an unknown channel is returned.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.setState(StateStopped)
		l.closeClient()
	}()

	if err := l.connect(); err != nil {
		return platform.FatalError("client", err)
	}
	if err := l.resolve(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	l.log.Info().
		Str(logger.FieldName, l.name).
		Str(logger.FieldKey, l.key).
		Str(logger.FieldInterval, units.FormatDuration(l.ch.Interval)).
		Str("format", l.ch.Format).
		Str("output", l.ch.Output).
		Bool("proxy", l.ch.Proxy != "").
		Int("cookie_sets", l.pool.Len()).
		Msg("watching channel")

	for {
		l.setState(StatePolling)
		l.polls.Add(1)

		wait, err := l.poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if platform.IsFatal(err) {
				l.log.Error().Err(err).Msg("fatal error, channel stopped")
				l.cfg.Metrics.IncFatal(l.ch.Platform)
				return err
			}
			l.backoff(err)
			wait = true
		}
		if wait && !l.sleep(ctx) {
			return nil
		}
	}
}

// resolve maps the configured identifier to the platform ID and display name.
// Transient failures are retried every interval.
func (l *Loop) resolve(ctx context.Context) error {
	for {
		id, err := l.adapter.ResolveIdentity(ctx, l.ch.ID)
		if err == nil {
			l.mu.Lock()
			l.id = id
			l.key = l.adapter.ChannelURL(id)
			l.mu.Unlock()
			l.name = l.displayName(ctx, id)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, platform.ErrChannelNotFound) || platform.IsFatal(err) {
			l.log.Error().Err(err).Msg("cannot resolve channel")
			return err
		}
		l.backoff(err)
		if !l.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (l *Loop) displayName(ctx context.Context, id string) string {
	switch {
	case l.ch.Name != "":
		return l.ch.Name
	case id != l.ch.ID:
		return l.ch.ID
	}
	if n, ok := l.adapter.(platform.Namer); ok {
		name, err := n.ChannelName(ctx, id)
		if err == nil && name != "" {
			return name
		}
		l.log.Debug().Err(err).Msg("channel name lookup failed, using id")
	}
	return id
}

// poll runs one Polling step. It reports whether the loop should sleep
// before the next poll.
func (l *Loop) poll(ctx context.Context) (bool, error) {
	status, err := l.adapter.Status(ctx, l.id)
	if err != nil {
		l.cfg.Metrics.IncPoll(l.ch.Platform, "error")
		return true, err
	}
	if status != platform.StatusLive {
		l.cfg.Metrics.IncPoll(l.ch.Platform, "offline")
		l.setState(StateOffline)
		l.log.Info().Msg("channel is offline")
		return true, nil
	}

	l.cfg.Metrics.IncPoll(l.ch.Platform, "live")
	l.setState(StateLive)
	l.log.Info().Msg("channel is on air")

	title, err := l.adapter.Title(ctx, l.id)
	if err != nil {
		return true, err
	}
	desc, err := l.adapter.Stream(ctx, l.id)
	if err != nil {
		return true, err
	}
	if desc == nil {
		l.log.Info().Msg("no playable stream found, retrying next interval")
		return true, nil
	}

	h, err := l.cfg.Registry.TryAcquire(l.key)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRecording) {
			l.log.Debug().Str(logger.FieldKey, l.key).Msg("already recording, skipping cycle")
		}
		return true, nil
	}

	format := desc.Format
	if format == "" {
		format = l.adapter.NativeFormat()
	}
	now := l.cfg.Now()
	path := filepath.Join(l.outputDir(now), FormatFilename(Flag(l.ch.Platform, l.name), title, now, format))
	l.log.Debug().
		Str(logger.FieldTitle, title).
		Bool("adult", desc.Adult).
		Str(logger.FieldFile, path).
		Msg("starting capture")

	res := l.cfg.Pipeline.Capture(ctx, capture.Request{
		Platform: l.ch.Platform,
		Handle:   h,
		Stream:   desc,
		Path:     path,
		Format:   l.ch.Format,
	})

	// A capture that produced nothing usually means the stream is not really
	// up yet; wait before asking again.
	return !res.Success() || res.Bytes == 0, nil
}

func (l *Loop) outputDir(now time.Time) string {
	if l.out == nil {
		return l.ch.Output
	}
	dir, err := RenderOutput(l.out, OutputData{
		Platform: l.ch.Platform,
		ID:       l.id,
		Name:     l.name,
		Started:  NewTimestamp(now),
	})
	if err != nil || dir == "" {
		l.log.Warn().Err(err).Msg("render output directory, using it as a literal path")
		return l.ch.Output
	}
	return dir
}

// backoff discards the HTTP client after a transient error so pooled
// connections from a failing provider are not reused.
func (l *Loop) backoff(err error) {
	l.setState(StateErrorBackoff)
	l.log.Warn().Err(err).Msg("transient error, recreating http client")
	l.cfg.Metrics.IncClientRecreate(l.ch.Platform)

	l.pool.Penalize(l.cookie)
	l.closeClient()
	if cerr := l.connect(); cerr != nil {
		l.log.Error().Err(cerr).Msg("recreate http client")
	}
}

func (l *Loop) connect() error {
	cookie := l.pool.Select()
	c, err := l.cfg.NewClient(platform.ClientOptions{
		Headers: l.ch.Headers,
		Cookies: cookie,
		Proxy:   l.ch.Proxy,
		Timeout: max(l.ch.Interval, 10*time.Second),
	})
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.client, l.adapter, l.cookie = c, l.cfg.Factory(c), cookie
	l.mu.Unlock()
	return nil
}

func (l *Loop) closeClient() {
	l.mu.Lock()
	c := l.client
	l.client = nil
	l.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

func (l *Loop) sleep(ctx context.Context) bool {
	l.log.Debug().
		Str(logger.FieldEvent, "SLEEP").
		Str(logger.FieldInterval, units.FormatDuration(l.ch.Interval)).
		Send()

	t := time.NewTimer(l.ch.Interval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Loop) setState(s State) {
	old := State(l.state.Swap(int32(s)))
	if old == s {
		return
	}
	l.cfg.Metrics.IncTransition(old.String(), s.String())
	l.log.Debug().
		Str(logger.FieldOldState, old.String()).
		Str(logger.FieldNewState, s.String()).
		Msg("state transition")
}
