package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/whisper-darkly/sticky-watch/capture"
	"github.com/whisper-darkly/sticky-watch/config"
	_ "github.com/whisper-darkly/sticky-watch/driver" // register platforms
	"github.com/whisper-darkly/sticky-watch/logger"
	"github.com/whisper-darkly/sticky-watch/media"
	"github.com/whisper-darkly/sticky-watch/metrics"
	"github.com/whisper-darkly/sticky-watch/platform"
	"github.com/whisper-darkly/sticky-watch/recorder"
	"github.com/whisper-darkly/sticky-watch/registry"
)

// Set via ldflags at build time: -ldflags "-X main.version=..."
var version = "dev"

const (
	exitOK      = 0
	exitError   = 1
	exitStopped = 3 // every channel stopped on a fatal error
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	name := flag.StringP("name", "n", "", "Display name used in file names (default: resolved from the platform)")
	interval := flag.StringP("interval", "i", "", "Poll interval (e.g. 10, 10s, 00:00:10)")
	format := flag.StringP("format", "f", "", "Output container: ts, mp4, flv, mkv")
	output := flag.StringP("output", "o", "", "Output directory; may be a template such as rec/{{.Platform}}/{{.Name}}")
	proxy := flag.StringP("proxy", "p", "", "HTTP or SOCKS5 proxy URL")
	cookieSets := flag.StringArrayP("cookies", "c", nil, "Cookie set \"k=v; k2=v2\", file path or JSON; repeat for a pool")
	headers := flag.StringArrayP("header", "H", nil, "Extra header \"Key: Value\" or a JSON object; repeatable")
	configFile := flag.String("config", "", "YAML configuration file with defaults and a channel list")
	envFile := flag.String("env-file", ".env", "Dotenv file loaded before reading STICKY_* variables")
	logLevel := flag.StringP("log-level", "l", "", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: normal, json")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics, /healthz, /recordings and /channels on this address")
	ffmpegPath := flag.String("ffmpeg", "", "Path to the ffmpeg binary")
	showVersion := flag.BoolP("version", "V", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sticky-watch %s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <platform> <id>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s --config channels.yaml\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Watch live channels and record them while they are on air.\n")
		fmt.Fprintf(os.Stderr, "Platforms: %v\n\n", platform.Names())
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nDurations: hh:mm:ss | 1h30m | plain seconds.\n")
		fmt.Fprintf(os.Stderr, "Exit codes: 0=ok  1=error  3=all channels stopped\n")
	}

	if len(os.Args) == 1 {
		flag.Usage()
		return exitOK
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("sticky-watch", version)
		return exitOK
	}

	boot := logger.New(logger.Config{Level: "info"})

	if err := config.LoadDotEnv(*envFile); err != nil {
		boot.Error().Err(err).Str(logger.FieldFile, *envFile).Msg("load env file")
		return exitError
	}
	env, err := config.FromEnv()
	if err != nil {
		boot.Error().Err(err).Msg("read environment")
		return exitError
	}

	flags := config.Settings{
		Name:     *name,
		Interval: *interval,
		Format:   *format,
		Output:   *output,
		Proxy:    *proxy,
		Cookies:  config.StringList(*cookieSets),
	}
	for _, h := range *headers {
		parsed, err := config.ParseHeaders(h)
		if err != nil {
			boot.Error().Err(err).Str("header", h).Msg("invalid header")
			return exitError
		}
		flags = flags.Merge(config.Settings{Headers: parsed})
	}

	single := flag.NArg() > 0
	switch {
	case single && flag.NArg() != 2:
		flag.Usage()
		return exitError
	case single:
		flags.Platform, flags.ID = flag.Arg(0), flag.Arg(1)
	case *configFile == "":
		boot.Error().Msg("either <platform> <id> or --config is required")
		return exitError
	}

	cfg, err := config.Load(config.Options{
		File:  *configFile,
		Env:   env,
		Flags: flags,
		Global: config.Global{
			LogLevel:    *logLevel,
			LogFormat:   *logFormat,
			MetricsAddr: *metricsAddr,
			FFmpeg:      *ffmpegPath,
		},
		Channel: single,
	})
	if err != nil {
		boot.Error().Err(err).Msg("invalid configuration")
		return exitError
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: logger.ParseFormat(cfg.LogFormat)})
	log.Info().Str("version", version).Int("channels", len(cfg.Channels)).Msg("sticky-watch starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	reg := registry.New()
	tool := &media.FFmpeg{
		Path:    cfg.FFmpeg,
		Log:     logger.WithComponent(log, "ffmpeg"),
		Metrics: met,
	}
	sup, err := recorder.NewSupervisor(recorder.SupervisorConfig{
		Channels: cfg.Channels,
		Registry: reg,
		Pipeline: &capture.Pipeline{Registry: reg, Tool: tool, Log: log, Metrics: met},
		Log:      log,
		Metrics:  met,
	})
	if err != nil {
		log.Error().Err(err).Msg("build supervisor")
		return exitError
	}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		srv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newStatusRouter(reg, sup, met, logger.WithComponent(log, "status")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("status server")
			}
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("status server listening")
	}

	runErr := sup.Run(ctx)
	if ctx.Err() != nil {
		log.Warn().Msg("signal received, recordings finalized")
	}

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("status server shutdown")
		}
		cancel()
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("stopped")
		return exitStopped
	}
	log.Info().Msg("stopped")
	return exitOK
}
