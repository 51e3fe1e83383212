package logging_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelvault/internal/config"
	"reelvault/internal/logging"
)

func logPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".log")
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(data)
}

func TestNewFromConfigWritesDailyFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from config")

	content := readLog(t, logging.LogFilePath(cfg.Paths.LogDir, time.Now()))
	if !strings.Contains(content, "hello from config") {
		t.Fatalf("expected message in daily log, got %q", content)
	}
}

func TestConsoleLoggerFormatsComponentAndProject(t *testing.T) {
	path := logPath(t, "console")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	component := logging.NewComponentLogger(logger, "assets")
	component.Info("asset imported",
		logging.Project("/videos/My Film"),
		logging.Asset("abc"),
		logging.String("mode", "copy"),
		logging.String("note", "two words"),
	)

	line := strings.TrimSpace(readLog(t, path))
	for _, want := range []string{
		"INFO  assets: asset imported [My Film]",
		"asset_uuid=abc",
		"mode=copy",
		`note="two words"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", line)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	path := logPath(t, "console")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("with caller")

	if content := readLog(t, path); !strings.Contains(content, "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerGroups(t *testing.T) {
	path := logPath(t, "console")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.WithGroup("job").Info("progress", logging.Int("percent", 40))

	if content := readLog(t, path); !strings.Contains(content, "job.percent=40") {
		t.Fatalf("expected grouped key, got %q", content)
	}
}

func TestJSONLoggerFields(t *testing.T) {
	path := logPath(t, "json")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "proxy").Warn("proxy failed", logging.Error(errors.New("boom")))

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record["level"] != "warn" {
		t.Fatalf("level = %v, want warn", record["level"])
	}
	if record["component"] != "proxy" {
		t.Fatalf("component = %v, want proxy", record["component"])
	}
	if record["error"] != "boom" {
		t.Fatalf("error = %v, want boom", record["error"])
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", record)
	}
}

func TestLevelFiltering(t *testing.T) {
	path := logPath(t, "console")
	logger, err := logging.New(logging.Options{Format: "console", Level: "warn", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	content := readLog(t, path)
	if strings.Contains(content, "hidden") || !strings.Contains(content, "shown") {
		t.Fatalf("unexpected filtering result %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	path := logPath(t, "json")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "lock purged", "lock_stale",
		logging.String(logging.FieldImpact, "previous session lost"))

	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record[logging.FieldEventType] != "lock_stale" {
		t.Fatalf("event_type = %v", record[logging.FieldEventType])
	}
	if record[logging.FieldErrorHint] == nil {
		t.Fatal("expected default error_hint")
	}
	if record[logging.FieldImpact] != "previous session lost" {
		t.Fatalf("impact overridden: %v", record[logging.FieldImpact])
	}
}

func TestNilLoggerHelpers(t *testing.T) {
	logging.WarnWithContext(nil, "ignored", "noop")
	logging.ErrorWithContext(nil, "ignored", "noop")
	logging.NewComponentLogger(nil, "x").Info("discarded")
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "reelvault-2020-01-01.log")
	current := logging.LogFilePath(dir, time.Now())
	recent := logging.LogFilePath(dir, time.Now().AddDate(0, 0, -2))
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, current, recent, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().AddDate(0, 0, -40)
	for _, path := range []string{old, recent, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatal(err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 30, logging.RetentionTarget{
		Dir:     dir,
		Pattern: logging.LogFilePattern,
		Exclude: []string{current},
	})
	if removed != 1 {
		t.Fatalf("expected one file removed, got %d", removed)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	// recent has an old mtime but its name dates it within retention.
	for _, path := range []string{current, recent, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}
