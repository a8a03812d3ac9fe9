// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

// Package config loads Scriptorium configuration with Koanf v2 from layered
// sources: built-in defaults, an optional YAML config file, and environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Scriptorium server.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Stream  StreamConfig  `koanf:"stream"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port is the HTTP listen port.
	Port int `koanf:"port"`

	// Host is the HTTP listen address.
	Host string `koanf:"host"`

	// Timeout bounds how long the server waits to read request headers
	// (http.Server.ReadHeaderTimeout).
	Timeout time.Duration `koanf:"timeout"`
}

// StreamConfig holds the streaming engine's process-level settings.
// Core constants (chunk size, word length bounds, flush intervals, the
// generator seed) are compiled in; only deployment-specific knobs live here.
type StreamConfig struct {
	// DataPath is the directory for the BadgerDB document store.
	DataPath string `koanf:"data_path"`

	// DictionaryPath is the newline-delimited word list loaded at startup.
	// Startup fails if the file cannot be read.
	DictionaryPath string `koanf:"dictionary_path"`

	// TestMode adds a simulated baseline audience (plus jitter) to the
	// subscriber count so the stream keeps moving without real viewers.
	TestMode bool `koanf:"test_mode"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    5500,
			Host:    "0.0.0.0",
			Timeout: 30 * time.Second,
		},
		Stream: StreamConfig{
			DataPath:       "/data/scriptorium",
			DictionaryPath: "/data/dictionary.txt",
			TestMode:       true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Stream.DataPath == "" {
		return fmt.Errorf("stream data_path must not be empty")
	}
	if c.Stream.DictionaryPath == "" {
		return fmt.Errorf("stream dictionary_path must not be empty")
	}
	return nil
}
