package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/whisper-darkly/sticky-watch/capture"
	"github.com/whisper-darkly/sticky-watch/config"
	"github.com/whisper-darkly/sticky-watch/logger"
	"github.com/whisper-darkly/sticky-watch/metrics"
	"github.com/whisper-darkly/sticky-watch/platform"
	"github.com/whisper-darkly/sticky-watch/registry"
)

// FatalEvent records a channel stopped by a fatal error.
type FatalEvent struct {
	Channel config.Channel
	Err     error
}

// SupervisorConfig wires a Supervisor.
type SupervisorConfig struct {
	Channels []config.Channel
	Registry *registry.Registry
	Pipeline *capture.Pipeline
	Log      zerolog.Logger
	Metrics  *metrics.Metrics

	// Lookup resolves platform factories. Defaults to platform.Lookup.
	Lookup func(name string) (platform.Factory, error)
	// NewClient is passed to every loop.
	NewClient func(platform.ClientOptions) (*platform.Client, error)
}

// Supervisor runs one Loop per channel. A fatal error stops only its own
// channel; cancellation stops all of them and interrupts active captures.
type Supervisor struct {
	reg   *registry.Registry
	log   zerolog.Logger
	loops []*Loop

	shutdownOnce sync.Once

	mu    sync.Mutex
	fatal []FatalEvent
}

// NewSupervisor builds the loops. An unknown platform is an error.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Lookup == nil {
		cfg.Lookup = platform.Lookup
	}
	if cfg.Registry == nil {
		return nil, errors.New("supervisor: registry is required")
	}

	s := &Supervisor{reg: cfg.Registry, log: logger.WithComponent(cfg.Log, "supervisor")}
	for _, ch := range cfg.Channels {
		f, err := cfg.Lookup(ch.Platform)
		if err != nil {
			return nil, fmt.Errorf("channel %s/%s: %w", ch.Platform, ch.ID, err)
		}
		if _, err := ParseOutput(ch.Output); err != nil {
			return nil, fmt.Errorf("channel %s/%s: output: %w", ch.Platform, ch.ID, err)
		}
		s.loops = append(s.loops, NewLoop(LoopConfig{
			Channel:   ch,
			Factory:   f,
			Registry:  cfg.Registry,
			Pipeline:  cfg.Pipeline,
			Log:       cfg.Log,
			Metrics:   cfg.Metrics,
			NewClient: cfg.NewClient,
		}))
	}
	return s, nil
}

// Loops returns the supervised loops.
func (s *Supervisor) Loops() []*Loop { return s.loops }

// Fatal returns the channels stopped by fatal errors so far.
func (s *Supervisor) Fatal() []FatalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FatalEvent(nil), s.fatal...)
}

// Shutdown interrupts every active capture. Only the first call has an
// effect.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.log.Info().Int("active", s.reg.Len()).Msg("shutting down active recordings")
		s.reg.ShutdownAll()
	})
}

// Run blocks until every loop has exited. It returns nil after
// cancellation and an error when every channel stopped on its own.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.loops {
		g.Go(func() error {
			if err := l.Run(gctx); err != nil {
				s.recordFatal(l, err)
			}
			return nil
		})
	}

	done := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-done:
		}
	}()

	_ = g.Wait()
	close(done)
	<-watcher

	if ctx.Err() != nil {
		s.Shutdown()
		return nil
	}
	fatal := s.Fatal()
	errs := make([]error, 0, len(fatal))
	for _, f := range fatal {
		errs = append(errs, fmt.Errorf("%s/%s: %w", f.Channel.Platform, f.Channel.ID, f.Err))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("all channels stopped: %w", errors.Join(errs...))
}

func (s *Supervisor) recordFatal(l *Loop, err error) {
	ch := l.Channel()
	s.log.Error().
		Err(err).
		Str(logger.FieldPlatform, ch.Platform).
		Str(logger.FieldChannel, ch.ID).
		Msg("channel removed from active set")

	s.mu.Lock()
	s.fatal = append(s.fatal, FatalEvent{Channel: ch, Err: err})
	s.mu.Unlock()
}
