package app

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/searchktools/wind/config"
)

func TestNewUsesConfiguredLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Env = "production"
	cfg.LogLevel = "warn"

	a := New(&cfg)
	a.Logger().Debug().Msg("below the configured level")
	if a.Server() == nil {
		t.Fatal("expected a server")
	}
	if lvl := a.Logger().GetLevel(); lvl != zerolog.WarnLevel {
		t.Errorf("expected warn level, got %s", lvl)
	}

	// the logger is shared, so level changes are seen by later callers
	*a.Logger() = a.Logger().Level(zerolog.ErrorLevel)
	if lvl := a.Logger().GetLevel(); lvl != zerolog.ErrorLevel {
		t.Errorf("expected error level after update, got %s", lvl)
	}
}
