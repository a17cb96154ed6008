package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/whisper-darkly/sticky-watch/capture"
	"github.com/whisper-darkly/sticky-watch/config"
	"github.com/whisper-darkly/sticky-watch/logger"
	"github.com/whisper-darkly/sticky-watch/platform"
	"github.com/whisper-darkly/sticky-watch/registry"
)

func newSupervisor(t *testing.T, reg *registry.Registry, scripts map[string]*script, channels ...config.Channel) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(SupervisorConfig{
		Channels: channels,
		Registry: reg,
		Pipeline: &capture.Pipeline{Registry: reg, Tool: discardTool{}, Log: logger.Nop()},
		Log:      logger.Nop(),
		Lookup: func(name string) (platform.Factory, error) {
			sc, ok := scripts[name]
			if !ok {
				return nil, fmt.Errorf("unknown platform %q", name)
			}
			return sc.factory, nil
		},
	})
	require.NoError(t, err)
	return s
}

func channelOn(t *testing.T, plat, id string) config.Channel {
	ch := testChannel(t, id)
	ch.Platform = plat
	return ch
}

func TestSupervisor_FatalIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	scripts := map[string]*script{
		"banned": {status: func(int) (platform.LiveStatus, error) {
			return platform.StatusUnknown, platform.FatalError("live-detail", errors.New("banned"))
		}},
		"quiet": {},
	}
	reg := registry.New()
	s := newSupervisor(t, reg, scripts, channelOn(t, "banned", "a"), channelOn(t, "quiet", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(s.Fatal()) == 1 }, 2*time.Second, time.Millisecond)
	quiet := s.Loops()[1]
	before := quiet.Polls()
	require.Eventually(t, func() bool { return quiet.Polls() >= before+3 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-errc)

	fatal := s.Fatal()
	require.Len(t, fatal, 1)
	assert.Equal(t, "a", fatal[0].Channel.ID)
	assert.True(t, platform.IsFatal(fatal[0].Err))
}

func TestSupervisor_AllFatalReturnsError(t *testing.T) {
	defer goleak.VerifyNone(t)

	scripts := map[string]*script{"gone": {resolveErr: platform.ErrChannelNotFound}}
	reg := registry.New()
	s := newSupervisor(t, reg, scripts, channelOn(t, "gone", "x"), channelOn(t, "gone", "y"))

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, platform.ErrChannelNotFound)
	assert.Len(t, s.Fatal(), 2)
}

func TestSupervisor_ShutdownDuringCapture(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu      sync.Mutex
		writers []*io.PipeWriter
	)
	scripts := map[string]*script{
		"live": {
			status: func(int) (platform.LiveStatus, error) { return platform.StatusLive, nil },
			stream: func() *platform.StreamDescriptor {
				return &platform.StreamDescriptor{Format: "ts", Opener: platform.OpenerFunc(func(context.Context) (io.ReadCloser, error) {
					pr, pw := io.Pipe()
					mu.Lock()
					writers = append(writers, pw)
					mu.Unlock()
					return pr, nil
				})}
			},
		},
	}
	reg := registry.New()
	s := newSupervisor(t, reg, scripts, channelOn(t, "live", "a"), channelOn(t, "live", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return reg.Len() == 2 }, 2*time.Second, time.Millisecond)

	// Concurrent shutdown requests collapse into one.
	go s.Shutdown()
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, 0, reg.Len())

	_, err := reg.TryAcquire("https://fake.example/a")
	assert.ErrorIs(t, err, registry.ErrShuttingDown)

	mu.Lock()
	for _, w := range writers {
		w.Close()
	}
	mu.Unlock()
}

func TestNewSupervisor_UnknownPlatform(t *testing.T) {
	_, err := NewSupervisor(SupervisorConfig{
		Channels: []config.Channel{{Platform: "nope", ID: "x"}},
		Registry: registry.New(),
		Lookup:   func(string) (platform.Factory, error) { return nil, errors.New("unknown") },
	})
	assert.Error(t, err)
}
