package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Env is the environment layer.
type Env struct {
	Settings Settings
	Global   Global
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// FromEnv reads the STICKY_* variables.
func FromEnv() (Env, error) {
	e := Env{
		Settings: Settings{
			Interval: os.Getenv("STICKY_INTERVAL"),
			Proxy:    os.Getenv("STICKY_PROXY"),
			Format:   os.Getenv("STICKY_FORMAT"),
			Output:   os.Getenv("STICKY_OUTPUT"),
		},
		Global: Global{
			LogLevel:    os.Getenv("STICKY_LOG_LEVEL"),
			LogFormat:   os.Getenv("STICKY_LOG_FORMAT"),
			MetricsAddr: os.Getenv("STICKY_METRICS_ADDR"),
			FFmpeg:      os.Getenv("STICKY_FFMPEG"),
		},
	}
	if v := os.Getenv("STICKY_COOKIES"); v != "" {
		e.Settings.Cookies = StringList{v}
	}
	if v := os.Getenv("STICKY_HEADERS"); v != "" {
		h, err := ParseHeaders(v)
		if err != nil {
			return Env{}, err
		}
		e.Settings.Headers = h
	}
	return e, nil
}
