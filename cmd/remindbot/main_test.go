package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExtractCommand(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "missing.env")
	out, err := execute(t, "extract", "--env-file", envFile, "--now", "2026-03-10T14:30:00Z", "--tz", "UTC", "remind me to call mom tomorrow")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(out, "2026-03-11 14:30\tcall mom\t(remind me to)") {
		t.Fatalf("output = %q", out)
	}

	out, err = execute(t, "extract", "--env-file", envFile, "hello there")
	if err != nil || !strings.Contains(out, "no reminders found") {
		t.Fatalf("no-match output = %q, %v", out, err)
	}

	if _, err := execute(t, "extract", "--env-file", envFile, "--now", "yesterday", "x"); err == nil {
		t.Fatal("expected --now parse error")
	}
}

func TestListCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "r.db")
	cfgPath := filepath.Join(dir, "config.json")
	body := `{"storage": {"driver": "sqlite", "path": "` + filepath.ToSlash(dbPath) + `"}, "scheduler": {"timezone": "UTC"}}`
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	st, err := storage.Open(storage.Config{Driver: storage.DriverSQLite, Path: dbPath}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	due := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if _, err := st.Insert(context.Background(), 42, "water plants", due, due.Add(-time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = st.Close()

	envFile := filepath.Join(dir, "none.env")
	out, err := execute(t, "list", "--env-file", envFile, "--config", cfgPath, "--owner", "42")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := "ID #1: 2026-03-11 09:00 - water plants"; !strings.Contains(out, want) {
		t.Fatalf("output = %q, want %q", out, want)
	}

	out, err = execute(t, "list", "--env-file", envFile, "--config", cfgPath, "--owner", "7")
	if err != nil || !strings.Contains(out, "no reminders") {
		t.Fatalf("empty list = %q, %v", out, err)
	}

	if _, err := execute(t, "list", "--env-file", envFile, "--config", cfgPath); err == nil {
		t.Fatal("expected error without --owner")
	}
}
