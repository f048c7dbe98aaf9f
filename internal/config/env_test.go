package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestApplyEnvOverridesOnlySetVariables checks prefix handling and untouched fields.
func TestApplyEnvOverridesOnlySetVariables(t *testing.T) {
	base := DefaultSettings()
	got, err := ApplyEnv(base, []string{
		"LIPSYNC_PYTHON=/opt/venv/bin/python",
		"LIPSYNC_FORCE_CPU=false",
		"LIPSYNC_PADS=0 20 0 0",
		"PYTHON=ignored",
	})
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if got.PythonBinary != "/opt/venv/bin/python" {
		t.Fatalf("python = %q", got.PythonBinary)
	}
	if got.ForceCPU {
		t.Fatal("expected ForceCPU override to false")
	}
	if got.Pads != "0 20 0 0" {
		t.Fatalf("pads = %q", got.Pads)
	}
	if got.CodeDir != base.CodeDir {
		t.Fatalf("code dir changed to %q", got.CodeDir)
	}
}

// TestApplyEnvRejectsMalformedBool surfaces parse failures.
func TestApplyEnvRejectsMalformedBool(t *testing.T) {
	if _, err := ApplyEnv(DefaultSettings(), []string{"LIPSYNC_STATIC_IMAGE=maybe"}); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestLoadLayersStoreAndEnvironment checks file then env precedence.
func TestLoadLayersStoreAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"pythonBinary":"python3","ttsLanguage":"fr"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Load(NewJSONStore(path), []string{"LIPSYNC_TTS_LANGUAGE=es"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.PythonBinary != "python3" {
		t.Fatalf("python = %q", got.PythonBinary)
	}
	if got.TTSLanguage != "es" {
		t.Fatalf("tts language = %q, want es", got.TTSLanguage)
	}
}

// TestLoadDotEnvIgnoresMissingFiles keeps optional .env files optional.
func TestLoadDotEnvIgnoresMissingFiles(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
}

// TestLoadDotEnvSetsVariables reads KEY=VALUE pairs into the environment.
func TestLoadDotEnvSetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("LIPSYNC_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LIPSYNC_TEST_DOTENV", "")
	os.Unsetenv("LIPSYNC_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("LIPSYNC_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("env = %q, want from-file", got)
	}
}
