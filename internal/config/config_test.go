package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "3001" {
		t.Errorf("expected default port 3001, got %q", cfg.Port)
	}
	if cfg.QCLI.Timeout != 60*time.Second {
		t.Errorf("expected 60s invoke timeout, got %v", cfg.QCLI.Timeout)
	}
	if cfg.QCLI.ProbeTimeout != 5*time.Second {
		t.Errorf("expected 5s probe timeout, got %v", cfg.QCLI.ProbeTimeout)
	}
	if cfg.Sessions.SweepSchedule != "@every 1m" {
		t.Errorf("unexpected sweep schedule %q", cfg.Sessions.SweepSchedule)
	}
}

func TestLoadDurationFormats(t *testing.T) {
	t.Setenv("Q_TIMEOUT", "90s")
	t.Setenv("Q_PROBE_TIMEOUT", "2500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.QCLI.Timeout != 90*time.Second {
		t.Errorf("expected 90s, got %v", cfg.QCLI.Timeout)
	}
	if cfg.QCLI.ProbeTimeout != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %v", cfg.QCLI.ProbeTimeout)
	}
}

func TestValidateDockerBackendNeedsContainer(t *testing.T) {
	t.Setenv("Q_BACKEND", "docker")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when Q_CONTAINER is missing")
	}

	t.Setenv("Q_CONTAINER", "qcli")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("Q_BACKEND", "ssh")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestTranscriptPath(t *testing.T) {
	cfg := &Config{NotesDir: "notes", TranscriptFile: "record.md"}
	if got := cfg.TranscriptPath(); got != "notes/record.md" {
		t.Errorf("unexpected transcript path %q", got)
	}
	cfg.TranscriptFile = "/var/lib/record.md"
	if got := cfg.TranscriptPath(); got != "/var/lib/record.md" {
		t.Errorf("absolute path should be kept, got %q", got)
	}
}
