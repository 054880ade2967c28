/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logging builds the zap loggers used across sentry-shm.
//
// The level defaults to warn and can be changed with the SHM_LOG_LEVEL
// environment variable ("debug", "info", "warn", "error"). SHM_LOG_DEV
// switches to colored console output.
package logging

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLevel       = "SHM_LOG_LEVEL"
	EnvDevelopment = "SHM_LOG_DEV"
)

// Config defines logger configuration.
type Config struct {
	Level       string   `envconfig:"LEVEL" default:"warn"`
	Development bool     `envconfig:"DEV" default:"false"`
	OutputPaths []string `envconfig:"OUTPUT" default:"stdout"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Level:       "warn",
		OutputPaths: []string{"stdout"},
	}
}

// FromEnv returns DefaultConfig overridden by SHM_LOG_LEVEL and SHM_LOG_DEV.
func FromEnv() Config {
	cfg := DefaultConfig()
	if level := os.Getenv(EnvLevel); level != "" {
		cfg.Level = level
	}
	if dev := os.Getenv(EnvDevelopment); dev != "" {
		if on, err := strconv.ParseBool(dev); err == nil {
			cfg.Development = on
		}
	}
	return cfg
}

// New creates a logger with the provided configuration.
func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          "json",
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}
	if cfg.Development {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapCfg.Build()
}

// NewDefault creates a logger from the environment, falling back to a no-op logger.
func NewDefault() *zap.Logger {
	logger, err := New(FromEnv())
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
