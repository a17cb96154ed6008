package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the YAML configuration file.
//
//	log_level: info
//	metrics_addr: 127.0.0.1:9090
//	defaults:
//	  interval: 30s
//	  format: mp4
//	channels:
//	  - platform: chzzk
//	    id: some-streamer
//	    cookies: cookies.txt
type File struct {
	LogLevel    string     `yaml:"log_level"`
	LogFormat   string     `yaml:"log_format"`
	MetricsAddr string     `yaml:"metrics_addr"`
	FFmpeg      string     `yaml:"ffmpeg"`
	Defaults    Settings   `yaml:"defaults"`
	Channels    []Settings `yaml:"channels"`
}

// Global returns the process-wide part of the file.
func (f File) Global() Global {
	return Global{LogLevel: f.LogLevel, LogFormat: f.LogFormat, MetricsAddr: f.MetricsAddr, FFmpeg: f.FFmpeg}
}

// LoadFile reads a YAML file strictly: unknown keys and trailing documents
// are errors.
func LoadFile(path string) (*File, error) {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config %s contains multiple documents or trailing content", path)
	}
	return &f, nil
}

// StringList accepts either a single string or a sequence of strings.
type StringList []string

func (l *StringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return err
		}
		if s != "" {
			*l = StringList{s}
		}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := n.Decode(&ss); err != nil {
			return err
		}
		*l = ss
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", n.Line)
	}
}
