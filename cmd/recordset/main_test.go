package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCommand executes one CLI invocation against a config pointing at the
// given database file and returns the combined output.
func runCommand(t *testing.T, dbPath string, args ...string) string {
	t.Helper()

	cfgPath := filepath.Join(t.TempDir(), "recordset.yaml")
	cfg := fmt.Sprintf("app:\n  name: cli-test\ndatabase:\n  path: %s\nlogging:\n  level: error\n", dbPath)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("writing config failed: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", cfgPath))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("command %v failed: %v\noutput: %s", args, err, out.String())
	}
	return out.String()
}

func TestBuildRegistry(t *testing.T) {
	reg, err := buildRegistry()
	if err != nil {
		t.Fatalf("buildRegistry failed: %v", err)
	}

	models := reg.Models()
	if len(models) != 3 {
		t.Fatalf("expected 3 models, got %d", len(models))
	}
	for i, want := range []string{"Author", "Post", "Tag"} {
		if models[i].Name != want {
			t.Errorf("model %d: expected %s, got %s", i, want, models[i].Name)
		}
	}
}

func TestGenerateMigrateShowmigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	out := runCommand(t, dbPath, "generate")
	for _, want := range []string{"create_author", "create_post", "create_tag", "create_post_tag", "CREATE TABLE"} {
		if !strings.Contains(out, want) {
			t.Errorf("generate output missing %q:\n%s", want, out)
		}
	}

	out = runCommand(t, dbPath, "migrate")
	if !strings.Contains(out, "Applied create_author") {
		t.Errorf("migrate output missing applied step:\n%s", out)
	}

	out = runCommand(t, dbPath, "migrate")
	if !strings.Contains(out, "Nothing to apply.") {
		t.Errorf("second migrate should be a no-op:\n%s", out)
	}

	out = runCommand(t, dbPath, "generate")
	if !strings.Contains(out, "No changes detected.") {
		t.Errorf("generate after migrate should report no changes:\n%s", out)
	}

	out = runCommand(t, dbPath, "showmigrations")
	if !strings.Contains(out, "[X] create_author") {
		t.Errorf("showmigrations missing applied marker:\n%s", out)
	}
	if strings.Contains(out, "[ ]") {
		t.Errorf("showmigrations should list nothing pending:\n%s", out)
	}
}

func TestShowmigrationsBeforeMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	out := runCommand(t, dbPath, "showmigrations")
	if !strings.Contains(out, "[ ] create_author") {
		t.Errorf("expected pending marker:\n%s", out)
	}
	if strings.Contains(out, "[X]") {
		t.Errorf("nothing should be applied yet:\n%s", out)
	}
}
