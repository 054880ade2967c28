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

// Package config loads the sentry-shm daemon configuration from the
// environment and the region manifest from YAML.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/srediag/sentry-shm/api"
	"github.com/srediag/sentry-shm/internal/logging"
)

// Prefix is prepended to every environment variable, e.g. SHM_ADMIN_ADDR.
const Prefix = "SHM"

var ErrInvalidConfig = errors.New("invalid config")

// Config holds all daemon configuration.
type Config struct {
	Log      logging.Config
	Admin    AdminConfig
	Kernel   KernelConfig
	Retry    RetryConfig
	Manifest ManifestConfig
	Health   HealthConfig
}

// AdminConfig holds the health and metrics listener.
type AdminConfig struct {
	Addr string `default:":9464"`
}

// KernelConfig holds the task the daemon runs as and its provisioning pool size.
type KernelConfig struct {
	Task    api.TaskHandle `default:"1"`
	Workers int            `default:"4"`
}

// RetryConfig bounds the retries of transient map failures.
type RetryConfig struct {
	MaxRetries uint64        `split_words:"true" default:"5"`
	Interval   time.Duration `default:"50ms"`
}

// ManifestConfig locates the region manifest.
type ManifestConfig struct {
	Path string
}

// HealthConfig holds readiness and liveness thresholds.
type HealthConfig struct {
	ShmPath       string `split_words:"true" default:"/dev/shm"`
	MinFreeBytes  uint64 `split_words:"true" default:"1048576"`
	MaxGoroutines int    `split_words:"true" default:"1000"`
}

// Load loads configuration from SHM_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Log: logging.DefaultConfig(),
		Admin: AdminConfig{
			Addr: ":9464",
		},
		Kernel: KernelConfig{
			Task:    1,
			Workers: 4,
		},
		Retry: RetryConfig{
			MaxRetries: 5,
			Interval:   50 * time.Millisecond,
		},
		Health: HealthConfig{
			ShmPath:       "/dev/shm",
			MinFreeBytes:  1 << 20,
			MaxGoroutines: 1000,
		},
	}
}

// Validate checks the values Load cannot reject on type alone.
func (c *Config) Validate() error {
	switch {
	case c.Admin.Addr == "":
		return fmt.Errorf("%w: empty admin address", ErrInvalidConfig)
	case c.Kernel.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Kernel.Workers)
	case c.Retry.Interval <= 0:
		return fmt.Errorf("%w: retry interval must be positive, got %s", ErrInvalidConfig, c.Retry.Interval)
	case c.Health.MaxGoroutines <= 0:
		return fmt.Errorf("%w: max goroutines must be positive, got %d", ErrInvalidConfig, c.Health.MaxGoroutines)
	}
	return nil
}
