package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/archivebot/pkg/archivebot/config"
	"github.com/jholhewres/archivebot/pkg/archivebot/journal"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"24h", 24 * time.Hour, true},
		{"90m", 90 * time.Minute, true},
		{"7d", 7 * 24 * time.Hour, true},
		{"0d", 0, false},
		{"-1h", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, err := parseSince(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parseSince(%q) = %s, %v", tt.in, got, err)
		}
	}
}

func TestFormatCounts(t *testing.T) {
	got := formatCounts(map[string]int{"send-failed": 1, "generator-silence": 4, "no-history": 1})
	if want := "generator-silence 4, no-history 1, send-failed 1"; got != want {
		t.Errorf("formatCounts = %q, want %q", got, want)
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret("sk-1234567890abcd"); got != "********abcd" {
		t.Errorf("maskSecret = %q", got)
	}
	if got := maskSecret("short"); got != "********" {
		t.Errorf("maskSecret = %q", got)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "init", "-c", path)
	if err != nil {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "config", "init", "-c", path); err == nil {
		t.Error("init over an existing file should fail without --force")
	}

	out, err = execute(t, "config", "validate", "-c", path)
	if err != nil {
		t.Fatalf("config validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "OK") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "loop:\n  active_hours: \"not cron\"\nnotify:\n  discord_webhook_url: https://example.com/x\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "config", "validate", "-c", path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"active hours", "notify"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestJournalStats(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	store, err := journal.Open(dbPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.BeginRun(context.Background(), journal.RunInfo{ID: "run-1"}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("journal:\n  path: journal.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "journal", "stats", "--since", "1h", "-c", cfgPath)
	if err != nil {
		t.Fatalf("journal stats: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Runs:        1") {
		t.Errorf("output:\n%s", out)
	}
}

func TestJournalStats_Missing(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("journal:\n  path: nothing-here.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "journal", "stats", "-c", cfgPath); err == nil {
		t.Error("expected an error for a missing journal")
	}
	if _, err := os.Stat(filepath.Join(dir, "nothing-here.db")); err == nil {
		t.Error("stats created a journal file")
	}
}

func TestNewLogger_FileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "archivebot.log")
	var console bytes.Buffer

	logger, closeLog, err := newLogger(config.LoggingConfig{Level: "info", File: path}, false, &console)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("waiting for authentication", "waited", "10s")
	logger.Debug("hidden at info level")
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for name, out := range map[string]string{"console": console.String(), "file": string(data)} {
		if !strings.Contains(out, "waiting for authentication") {
			t.Errorf("%s output missing status line: %q", name, out)
		}
		if strings.Contains(out, "hidden at info level") {
			t.Errorf("%s output has a debug line", name)
		}
	}
}

func TestNewLogger_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger, closeLog, err := newLogger(config.LoggingConfig{Format: "json"}, true, &console)
	if err != nil {
		t.Fatal(err)
	}
	defer closeLog()

	logger.Debug("scan finished")
	if !strings.Contains(console.String(), `"msg":"scan finished"`) {
		t.Errorf("console = %q", console.String())
	}
}

func TestRunFlags(t *testing.T) {
	cmd := newRunCmd()
	if err := cmd.ParseFlags([]string{"--headless", "--auth-timeout", "2m", "--no-journal"}); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	if err := applyRunFlags(cmd, cfg); err != nil {
		t.Fatal(err)
	}
	if !cfg.Browser.Headless || cfg.Loop.AuthTimeoutSeconds != 120 || cfg.Journal.Enabled {
		t.Errorf("config after flags: headless %v auth %d journal %v",
			cfg.Browser.Headless, cfg.Loop.AuthTimeoutSeconds, cfg.Journal.Enabled)
	}

	cmd = newRunCmd()
	if err := cmd.ParseFlags([]string{"--auth-timeout", "10ms"}); err != nil {
		t.Fatal(err)
	}
	if err := applyRunFlags(cmd, config.DefaultConfig()); err == nil {
		t.Error("expected error for a sub-second auth timeout")
	}
}
