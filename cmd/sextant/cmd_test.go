package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/sextant/pkg/cli"
	"mercator-hq/sextant/pkg/retrieval/shard"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--env-file", "")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "Sextant "+Version) {
		t.Errorf("Expected version line, got %q", out)
	}
	if !strings.Contains(out, "Go Version:") {
		t.Errorf("Expected Go version line, got %q", out)
	}
}

func TestVersionCommand_JSON(t *testing.T) {
	t.Cleanup(func() { versionOutput = "text" })

	out, err := execute(t, "version", "--env-file", "", "--output", "json")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	var info buildInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", out, err)
	}
	if info.Version != Version {
		t.Errorf("Expected version %q, got %q", Version, info.Version)
	}
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sextant.yaml")
	content := `
modes:
  deep:
    fan_out: 1
retention:
  prune_schedule: "0 4 * * *"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "validate", "--config", path, "--env-file", "")
	if err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}
	for _, want := range []string{"✓ Configuration valid", "auto", "workflow", "synthesize"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad schedule", "retention:\n  prune_schedule: \"every day\"\n"},
		{"bad mode", "modes:\n  auto:\n    top_k: 500\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sextant.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := execute(t, "validate", "--config", path, "--env-file", "")
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if cli.ExitCode(err) != cli.ExitConfig {
				t.Errorf("Expected config exit code, got %d (%v)", cli.ExitCode(err), err)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("Expected missing file ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SEXTANT_CMD_TEST_VALUE=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("SEXTANT_CMD_TEST_VALUE") })

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile() error = %v", err)
	}
	if got := os.Getenv("SEXTANT_CMD_TEST_VALUE"); got != "from-file" {
		t.Errorf("Expected from-file, got %q", got)
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := shard.Open(shard.StoreConfig{ShardID: "ca-on", Path: filepath.Join(dir, "ca-on.db"), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	a := filepath.Join(dir, "a.jsonl")
	b := filepath.Join(dir, "b.jsonl")
	os.WriteFile(a, []byte(`{"document_id":"esa","text":"one"}`+"\n"+`{"document_id":"esa","text":"two"}`+"\n"), 0o644)
	os.WriteFile(b, []byte(`{"document_id":"ohsa","text":"three"}`+"\n"), 0o644)

	var progress bytes.Buffer
	total, err := loadFiles(t.Context(), store, []string{a, b}, cli.NewProgress(&progress, "ca-on"))
	if err != nil {
		t.Fatalf("loadFiles() error = %v", err)
	}
	if total.Documents != 2 || total.Chunks != 3 {
		t.Errorf("Expected 2 documents and 3 chunks, got %+v", total)
	}
	if !strings.Contains(progress.String(), "2/2") {
		t.Errorf("Expected finished progress, got %q", progress.String())
	}

	count, err := store.Count(t.Context())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 stored chunks, got %d", count)
	}
}

func TestLoadFiles_MissingFile(t *testing.T) {
	store, err := shard.Open(shard.StoreConfig{ShardID: "x", Path: filepath.Join(t.TempDir(), "x.db"), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	var progress bytes.Buffer
	if _, err := loadFiles(t.Context(), store, []string{"/nonexistent.jsonl"}, cli.NewProgress(&progress, "x")); err == nil {
		t.Error("Expected error for missing file")
	}
}
