package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIngestThenReport(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dataDir, "store_status.csv"), "store_id,status,timestamp_utc\n"+
		"s1,active,2023-01-24 09:00:00.000000 UTC\n"+
		"s1,inactive,2023-01-25 18:00:00.000000 UTC\n")
	writeFile(t, filepath.Join(dataDir, "menu_hours.csv"), "store_id,dayOfWeek,start_time_local,end_time_local\n")
	writeFile(t, filepath.Join(dataDir, "timezones.csv"), "store_id,timezone_str\ns1,America/New_York\n")

	cfgPath := filepath.Join(dir, "storemon.yaml")
	writeFile(t, cfgPath, strings.Join([]string{
		"log_level: error",
		"storage:",
		"  driver: sqlite",
		"  dsn: file:" + filepath.Join(dir, "storemon.db") + "?_pragma=busy_timeout(5000)",
		"report:",
		"  dir: " + filepath.Join(dir, "reports"),
		"  max_workers: 2",
		"ingest:",
		"  data_dir: " + dataDir,
		"",
	}, "\n"))

	if _, err := run(t, "ingest", "--config", cfgPath); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	out, err := run(t, "report", "--config", cfgPath)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	path := strings.TrimSpace(out)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %q: %v", path, err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "s1,60,24.00,") {
		t.Fatalf("report:\n%s", data)
	}
}

func TestIngestMissingDataDir(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "storemon.yaml")
	writeFile(t, cfgPath, "storage:\n  dsn: file:"+filepath.Join(dir, "s.db")+"\n")
	if _, err := run(t, "ingest", "--config", cfgPath, "--data-dir", filepath.Join(dir, "nope")); err == nil {
		t.Fatalf("expected error")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
