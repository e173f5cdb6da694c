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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

type memTokens map[string]string

func (m memTokens) Get(service, key string) (string, error) {
	v, ok := m[service+"/"+key]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

func (m memTokens) Set(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}

func (m memTokens) Delete(service, key string) error {
	if _, ok := m[service+"/"+key]; !ok {
		return keyring.ErrNotFound
	}
	delete(m, service+"/"+key)
	return nil
}

// isolate points the config dir at a temp dir, disables .env and stubs the keyring.
func isolate(t *testing.T) (string, memTokens) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)
	oldEnv, oldStore := DotEnvFile, tokenStore
	DotEnvFile = ""
	tokens := memTokens{}
	tokenStore = tokens
	t.Cleanup(func() { DotEnvFile, tokenStore = oldEnv, oldStore })
	return dir, tokens
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if tok != "" {
		t.Fatalf("token = %q, want empty", tok)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" || cfg.Backend.Timeout() != time.Minute {
		t.Fatalf("backend defaults: %#v", cfg.Backend)
	}
	if cfg.Poll.Interval() != 2*time.Second || cfg.Poll.Attempts() != 10 {
		t.Fatalf("poll defaults: %#v", cfg.Poll)
	}
	if cfg.General.DefaultTemplate != "clean" {
		t.Fatalf("template default = %q", cfg.General.DefaultTemplate)
	}
}

func TestEnvOverridesBackendURL(t *testing.T) {
	isolate(t)
	t.Setenv(EnvBackendURL, "https://example.test:8443")
	t.Setenv(EnvBackendTimeoutMs, "1500")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got, want := cfg.Backend.BaseURL, "https://example.test:8443"; got != want {
		t.Fatalf("Backend.BaseURL = %q, want %q", got, want)
	}
	if cfg.Backend.Timeout() != 1500*time.Millisecond {
		t.Fatalf("timeout = %v", cfg.Backend.Timeout())
	}
	if env, ok := EnvOverrideFor("backend.base_url"); !ok || env != EnvBackendURL {
		t.Fatalf("EnvOverrideFor = %q %v", env, ok)
	}
	if _, ok := EnvOverrideFor("logging.level"); ok {
		t.Fatal("logging.level is not overridden")
	}
}

func TestEnvOverridesTelemetryAndStorage(t *testing.T) {
	isolate(t)
	t.Setenv(EnvTelemetryOptIn, "true")
	t.Setenv(EnvTemplate, "NEON")
	t.Setenv(EnvHistoryDSN, "postgres://u@localhost/menus")
	t.Setenv(EnvDownloadsDir, "/tmp/dl")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.General.TelemetryOptIn {
		t.Fatalf("General.TelemetryOptIn expected true from env override")
	}
	if cfg.General.DefaultTemplate != "neon" || cfg.DownloadsDir() != "/tmp/dl" {
		t.Fatalf("general = %#v", cfg.General)
	}
	if dsn, _ := cfg.HistoryDSN(); dsn != "postgres://u@localhost/menus" {
		t.Fatalf("dsn = %q", dsn)
	}
}

func TestHistoryDSNDefaultsToConfigDir(t *testing.T) {
	dir, _ := isolate(t)
	cfg, _, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	dsn, err := cfg.HistoryDSN()
	if err != nil || dsn != filepath.Join(dir, "history.sqlite") {
		t.Fatalf("dsn = %q err=%v", dsn, err)
	}
}

func TestDotEnvDoesNotOverrideRealEnv(t *testing.T) {
	isolate(t)
	env := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(env, []byte("MW_LOG_FILE=/tmp/from-dotenv.log\nMW_API_URL=http://dotenv:1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	DotEnvFile = env
	t.Setenv(EnvBackendURL, "http://real:2")
	// Register for cleanup; godotenv sets it via os.Setenv.
	t.Setenv(EnvLogFile, "")
	if err := os.Unsetenv(EnvLogFile); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.BaseURL != "http://real:2" {
		t.Fatalf("real env lost: %q", cfg.Backend.BaseURL)
	}
	if cfg.Logging.File != "/tmp/from-dotenv.log" {
		t.Fatalf(".env not applied: %q", cfg.Logging.File)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	_, tokens := isolate(t)
	cfg := Defaults()
	cfg.Backend.BaseURL = "https://api.menu.example"
	cfg.Poll.MaxAttempts = 3
	cfg.Storage.HistoryDSN = "/var/lib/mw/history.sqlite"
	if err := Save(cfg, "s3cret"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if tokens["MenuWizard/backend_token"] != "s3cret" {
		t.Fatalf("token not stored in keyring: %v", tokens)
	}
	path, _ := ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) == "" || strings.Contains(string(data), "s3cret") {
		t.Fatalf("config file must not hold the token:\n%s", data)
	}
	got, tok, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if tok != "s3cret" || got.Backend.BaseURL != cfg.Backend.BaseURL || got.Poll.Attempts() != 3 {
		t.Fatalf("round trip: %#v tok=%q", got, tok)
	}
	if err := DeleteToken(); err != nil {
		t.Fatal(err)
	}
	if err := DeleteToken(); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	dir, _ := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("backend: [oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMergeIncludesLogging(t *testing.T) {
	dst := Defaults()
	src := Defaults()
	src.Logging.Level = "debug"
	src.Logging.Format = "json"
	src.Logging.Source = true
	src.Logging.File = "C:/tmp/mw.log"
	mergeInto(&dst, &src)
	if dst.Logging.Level != "debug" || dst.Logging.Format != "json" || !dst.Logging.Source || dst.Logging.File != "C:/tmp/mw.log" {
		t.Fatalf("logging fields not merged correctly: %#v", dst.Logging)
	}
}

func TestEnvOverridesLogging(t *testing.T) {
	isolate(t)
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogSource, "1")
	t.Setenv(EnvLogFile, "X:/mw.log")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" || !cfg.Logging.Source || cfg.Logging.File != "X:/mw.log" {
		t.Fatalf("env overrides not applied to logging: %#v", cfg.Logging)
	}
}
