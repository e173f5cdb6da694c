/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables (and a .env file in the working directory) are read-only overrides.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type BackendConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type GeneralConfig struct {
	TelemetryOptIn  bool   `yaml:"telemetry_opt_in"`
	DownloadsDir    string `yaml:"downloads_dir"`
	DefaultTemplate string `yaml:"default_template"`
}

type StorageConfig struct {
	// HistoryDSN is a sqlite file path or a postgres:// URL. Empty means
	// history.sqlite next to the config file.
	HistoryDSN string `yaml:"history_dsn"`
}

type PollConfig struct {
	IntervalMs  int `yaml:"interval_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Backend       BackendConfig `yaml:"backend"`
	Storage       StorageConfig `yaml:"storage"`
	Poll          PollConfig    `yaml:"poll"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false, DefaultTemplate: "clean"},
		Backend:       BackendConfig{BaseURL: "http://localhost:8000", TimeoutMs: 60000, TLSInsecure: false},
		Poll:          PollConfig{IntervalMs: 2000, MaxAttempts: 10},
		Logging:       LoggingConfig{Level: "warn", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvBackendURL       = "MW_API_URL"
	EnvBackendTimeoutMs = "MW_API_TIMEOUT_MS"
	EnvBackendTLSInsec  = "MW_TLS_INSECURE"
	EnvTelemetryOptIn   = "MW_TELEMETRY_OPT_IN"
	EnvTemplate         = "MW_TEMPLATE"
	EnvDownloadsDir     = "MW_DOWNLOADS_DIR"
	EnvHistoryDSN       = "MW_HISTORY_DSN"
	EnvConfigDir        = "MW_CONFIG_DIR"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "MW_LOG_LEVEL"
	EnvLogFormat = "MW_LOG_FORMAT"
	EnvLogSource = "MW_LOG_SOURCE"
	EnvLogFile   = "MW_LOG_FILE"
)

// DotEnvFile is read from the working directory by Load. Real environment
// variables always win.
var DotEnvFile = ".env"

// Service/keys for OS keyring.
const (
	keyringService = "MenuWizard"
	keyringToken   = "backend_token"
)

// Dir returns the per-user config directory. MW_CONFIG_DIR overrides it.
func Dir() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvConfigDir)); v != "" {
		return v, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "MenuWizard")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "MenuWizard")
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "menuwizard")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "menuwizard")
		}
	}
	if base == "" || base == filepath.Join(".config", "menuwizard") {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the .env file and the user config file (both optional), applies
// defaults and merges environment overrides. The backend token comes from the
// keyring and is returned separately; a missing keyring entry is not an error.
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	loadDotEnv()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, "", fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, "", err
	}
	applyEnvOverrides(&cfg)
	tok, _ := GetToken()
	return cfg, tok, nil
}

func loadDotEnv() {
	if DotEnvFile == "" {
		return
	}
	if _, err := os.Stat(DotEnvFile); err != nil {
		return
	}
	// godotenv.Load never overrides variables that are already set.
	_ = godotenv.Load(DotEnvFile)
}

// Save writes the user config YAML and persists the token into OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		if err := SetToken(token); err != nil {
			return err
		}
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	if v := strings.TrimSpace(src.General.DownloadsDir); v != "" {
		dst.General.DownloadsDir = v
	}
	if v := strings.TrimSpace(src.General.DefaultTemplate); v != "" {
		dst.General.DefaultTemplate = strings.ToLower(v)
	}
	if src.Backend.BaseURL != "" {
		dst.Backend.BaseURL = src.Backend.BaseURL
	}
	if src.Backend.TimeoutMs != 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}
	dst.Backend.TLSInsecure = src.Backend.TLSInsecure
	if v := strings.TrimSpace(src.Storage.HistoryDSN); v != "" {
		dst.Storage.HistoryDSN = v
	}
	if src.Poll.IntervalMs > 0 {
		dst.Poll.IntervalMs = src.Poll.IntervalMs
	}
	if src.Poll.MaxAttempts > 0 {
		dst.Poll.MaxAttempts = src.Poll.MaxAttempts
	}
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func truthy(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendTimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendTLSInsec)); v != "" {
		cfg.Backend.TLSInsecure = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTemplate)); v != "" {
		cfg.General.DefaultTemplate = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvDownloadsDir)); v != "" {
		cfg.General.DownloadsDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvHistoryDSN)); v != "" {
		cfg.Storage.HistoryDSN = v
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	names := map[string]string{
		"backend.base_url":         EnvBackendURL,
		"backend.timeout_ms":       EnvBackendTimeoutMs,
		"backend.tls_insecure":     EnvBackendTLSInsec,
		"general.telemetry_opt_in": EnvTelemetryOptIn,
		"general.default_template": EnvTemplate,
		"general.downloads_dir":    EnvDownloadsDir,
		"storage.history_dsn":      EnvHistoryDSN,
		"logging.level":            EnvLogLevel,
		"logging.format":           EnvLogFormat,
		"logging.source":           EnvLogSource,
		"logging.file":             EnvLogFile,
	}
	env, ok := names[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// Timeout returns the backend timeout, falling back to the default.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// Interval returns the payment poll interval, falling back to the default.
func (p PollConfig) Interval() time.Duration {
	if p.IntervalMs <= 0 {
		return time.Duration(Defaults().Poll.IntervalMs) * time.Millisecond
	}
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// Attempts returns the payment poll attempt cap, falling back to the default.
func (p PollConfig) Attempts() int {
	if p.MaxAttempts <= 0 {
		return Defaults().Poll.MaxAttempts
	}
	return p.MaxAttempts
}

// HistoryDSN resolves the published-menu history location.
func (c AppConfig) HistoryDSN() (string, error) {
	if c.Storage.HistoryDSN != "" {
		return c.Storage.HistoryDSN, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.sqlite"), nil
}

// DownloadsDir resolves where downloaded files go: the configured directory,
// ~/Downloads when it exists, else the working directory.
func (c AppConfig) DownloadsDir() string {
	if c.General.DownloadsDir != "" {
		return c.General.DownloadsDir
	}
	if home, err := os.UserHomeDir(); err == nil {
		d := filepath.Join(home, "Downloads")
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			return d
		}
	}
	return "."
}
