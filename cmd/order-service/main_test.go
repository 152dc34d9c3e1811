package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	cases := map[string]log.Level{
		"debug": log.DebugLevel,
		"INFO":  log.InfoLevel,
		"warn":  log.WarnLevel,
		"error": log.ErrorLevel,
	}
	for level, want := range cases {
		if err := setupLogger(level); err != nil {
			t.Fatalf("setupLogger(%q): %v", level, err)
		}
		if got := log.GetLevel(); got != want {
			t.Fatalf("setupLogger(%q): expected %s, got %s", level, want, got)
		}
	}
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	if err := setupLogger("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
