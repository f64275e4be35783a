package cli

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvLoaderLoadsRequestedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.env")
	if err := os.WriteFile(path, []byte("STORYMERGE_TEST_VALUE=loaded\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("STORYMERGE_ENV_FILE", "")
	t.Setenv("STORYMERGE_TEST_VALUE", "")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	loader := AddEnvFlag(fs, filepath.Join(dir, "missing.env"), "")
	if err := fs.Parse([]string{"--env", path}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	got, err := loader.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != path {
		t.Fatalf("unexpected loaded path: got %q want %q", got, path)
	}
	if v := os.Getenv("STORYMERGE_TEST_VALUE"); v != "loaded" {
		t.Fatalf("unexpected env value: got %q want %q", v, "loaded")
	}
}

func TestEnvLoaderOptionalMissingDefault(t *testing.T) {
	t.Setenv("STORYMERGE_ENV_FILE", "")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	missing := filepath.Join(t.TempDir(), "nope.env")

	strict := AddEnvFlag(fs, missing, "")
	if _, err := strict.Load(); err == nil {
		t.Fatalf("expected error for missing default env file")
	}
	if got, err := strict.Optional().Load(); err != nil || got != "" {
		t.Fatalf("optional loader should skip missing default, got %q err=%v", got, err)
	}
}
