package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if *cfg != want {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "wind.json")
	content := `{
		"port": 9000,
		"host": "127.0.0.1",
		"idle": {"timeout": "5s"},
		"max.body.bytes": 1024,
		"reuse": {"port": true}
	}`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("WIND_PORT", "9100")
	t.Setenv("WIND_LOG_LEVEL", "debug")
	t.Setenv("WIND_HANDLER_TIMEOUT", "2")

	cfg, err := Load([]string{"-config", file, "-port", "9200"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9200 {
		t.Errorf("flag must win, got port %d", cfg.Port)
	}
	if cfg.Host != "127.0.0.1" || cfg.IdleTimeout != 5*time.Second || cfg.MaxBodyBytes != 1024 || !cfg.ReusePort {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.LogLevel != "debug" || cfg.HandlerTimeout != 2*time.Second {
		t.Errorf("env values not applied: %+v", cfg)
	}
	if cfg.ConfigFile != file {
		t.Errorf("expected config file %q, got %q", file, cfg.ConfigFile)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load([]string{"-no-such-flag"}); err == nil {
		t.Error("expected unknown flag error")
	}
	if _, err := Load([]string{"-config", filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Error("expected missing file error")
	}

	t.Setenv("WIND_PORT", "eighty")
	if _, err := Load(nil); err == nil || !strings.Contains(err.Error(), "port") {
		t.Errorf("expected bad env value error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative port", func(c *Config) { c.Port = -1 }},
		{"zero idle", func(c *Config) { c.IdleTimeout = 0 }},
		{"zero chunk", func(c *Config) { c.ReadChunk = 0 }},
		{"input below chunk", func(c *Config) { c.MaxInputBuffer = c.ReadChunk - 1 }},
		{"header line over block", func(c *Config) { c.MaxHeaderLine = c.MaxHeaderBytes + 1 }},
		{"zero body", func(c *Config) { c.MaxBodyBytes = 0 }},
		{"inverted water marks", func(c *Config) { c.OutputLowWater = c.OutputHighWater }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", tt.name, err)
		}
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Env = "production"
	cfg.LogLevel = "warn"

	logger := cfg.Logger(&buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("unexpected log output %q", out)
	}
	if !strings.Contains(out, `"service":"wind"`) {
		t.Errorf("expected service field in %q", out)
	}
}

func TestManagerUnmarshal(t *testing.T) {
	m := NewManager()
	m.Set("server.name", "edge")
	m.Set("server.retries", 3.0)
	m.Set("server.enabled", "yes")
	m.Set("server.wait", "150ms")

	var target struct {
		Name    string
		Retries int
		Enabled bool
		Wait    time.Duration
		Skipped string `config:"-"`
	}
	if err := m.Unmarshal("server", &target); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if target.Name != "edge" || target.Retries != 3 || !target.Enabled || target.Wait != 150*time.Millisecond {
		t.Errorf("unexpected result %+v", target)
	}

	if err := m.Unmarshal("", target); err == nil {
		t.Error("expected error for non-pointer target")
	}
	if m.GetInt("server.retries") != 3 || m.GetDuration("missing", time.Second) != time.Second || !m.GetBool("server.enabled") {
		t.Error("unexpected typed getters")
	}
}
