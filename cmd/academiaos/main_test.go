package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/academiaos/academiaos/internal/config"
	"github.com/academiaos/academiaos/internal/session"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		bools    []string
		expected []string
	}{
		{
			name:     "flags after positional are moved first",
			args:     []string{"codes", "--remarks", "nurses"},
			expected: []string{"--remarks", "nurses", "codes"},
		},
		{
			name:     "boolean flag does not take a value",
			args:     []string{"codes", "--restart", "--session", "s.json"},
			bools:    []string{"restart"},
			expected: []string{"--restart", "--session", "s.json", "codes"},
		},
		{
			name:     "flag with equals keeps its value",
			args:     []string{"a.pdf", "-session=s.json", "b.pdf"},
			expected: []string{"-session=s.json", "a.pdf", "b.pdf"},
		},
		{
			name:     "double dash ends flags",
			args:     []string{"--session", "s.json", "--", "-odd-name.pdf"},
			expected: []string{"--session", "s.json", "--", "-odd-name.pdf"},
		},
		{
			name:     "empty args",
			args:     []string{},
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args, tt.bools...)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_defaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists")
	}
	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want empty", resolved)
	}
	if cfg.Pipeline.Concurrency != 8 || cfg.Server.Port != 8080 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

// writeConfig writes a config that needs no credentials and keeps all state in dir.
func writeConfig(t *testing.T, dir, provider string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := "llm:\n  provider: " + provider + "\nembedding:\n  provider: mock\n  dimensions: 32\ntelemetry:\n  enabled: false\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCommands_InitImportShowExport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "fake")
	sessPath := filepath.Join(dir, "study.json")
	papersDir := filepath.Join(dir, "papers")
	if err := os.MkdirAll(papersDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(papersDir, "trust.txt"), []byte("Trust at Work\n\nLeaders who trust their teams grant autonomy."), 0600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runInit([]string{"--session", sessPath, "--query", "trust"}, &out); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := runInit([]string{"--session", sessPath}, &out); err == nil {
		t.Error("init should refuse to overwrite without --force")
	}

	out.Reset()
	if err := runImport([]string{papersDir, "--config", cfgPath, "--session", sessPath}, &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out.String(), "Imported 1 papers") {
		t.Errorf("import output = %q", out.String())
	}

	data, err := session.LoadFile(sessPath)
	if err != nil {
		t.Fatal(err)
	}
	if data.Query != "trust" || len(data.Papers) != 1 || data.Papers[0].Title != "Trust at Work" {
		t.Errorf("session = %+v", data)
	}

	out.Reset()
	if err := runShow([]string{"--session", sessPath}, &out); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out.String(), "Trust at Work (uncoded)") {
		t.Errorf("show output = %q", out.String())
	}

	out.Reset()
	xlsx := filepath.Join(dir, "out.xlsx")
	if err := runExport([]string{"--session", sessPath, "--out", xlsx}, &out); err != nil {
		t.Fatalf("export: %v", err)
	}
	if info, err := os.Stat(xlsx); err != nil || info.Size() == 0 {
		t.Errorf("workbook not written: %v", err)
	}
}

func TestRunPhase_ConfigurationMissing(t *testing.T) {
	t.Setenv(config.EnvOpenAIKey, "")
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "openai")
	sessPath := filepath.Join(dir, "session.json")
	var out bytes.Buffer
	if err := runInit([]string{"--session", sessPath}, &out); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(sessPath)

	err := runPhase([]string{"codes", "--config", cfgPath, "--session", sessPath}, &out)
	if !errors.Is(err, config.ErrConfigurationMissing) {
		t.Fatalf("err = %v, want ErrConfigurationMissing", err)
	}
	after, _ := os.ReadFile(sessPath)
	if !bytes.Equal(before, after) {
		t.Error("session document changed although no phase ran")
	}
}

func TestRunPhase_UnknownPhase(t *testing.T) {
	var out bytes.Buffer
	if err := runPhase([]string{"bogus"}, &out); err == nil {
		t.Error("expected error for unknown phase")
	}
}
