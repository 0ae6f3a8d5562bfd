package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ascend-academy/ascend/internal/daemon"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("ASCEND_HOME", home)
	return home
}

func TestLevels(t *testing.T) {
	setHome(t)
	out, err := runCLI(t, "levels", "--limit", "3")
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	for _, want := range []string{"LEVEL", "+120", "100 levels total"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCommissionPreview(t *testing.T) {
	setHome(t)
	out, err := runCLI(t, "commission", "preview", "--event", "course_purchase", "--value", "12500", "--depth", "3")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	for _, want := range []string{"6.25", "3.75", "2.50", "12.50"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := runCLI(t, "commission", "preview", "--event", "nope", "--value", "100", "--depth", "3"); err == nil {
		t.Error("unknown event should fail")
	}
}

func TestCommissionRules(t *testing.T) {
	setHome(t)
	out, err := runCLI(t, "commission", "rules")
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if !strings.Contains(out, "registration") || !strings.Contains(out, "25.00%") {
		t.Errorf("unexpected rules output:\n%s", out)
	}
}

func TestConfigInit(t *testing.T) {
	home := setHome(t)
	configForce = false

	out, err := runCLI(t, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	path := filepath.Join(home, "config.toml")
	if !strings.Contains(out, path) {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := daemon.LoadConfigFile(path); err != nil {
		t.Errorf("written config does not load: %v", err)
	}

	if _, err := runCLI(t, "config", "init"); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := runCLI(t, "config", "init", "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
	configForce = false
}

func TestConfigShow(t *testing.T) {
	setHome(t)
	out, err := runCLI(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "[api]") || !strings.Contains(out, "8420") {
		t.Errorf("unexpected config output:\n%s", out)
	}
}

func TestProgress_NewUser(t *testing.T) {
	setHome(t)
	out, err := runCLI(t, "progress", "u1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	for _, want := range []string{"User:         u1", "Level:        1", "Coins:        0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{625, "6.25"},
		{-150, "-1.50"},
	}
	for _, tt := range tests {
		if got := formatCents(tt.in); got != tt.want {
			t.Errorf("formatCents(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := formatBP(2500); got != "25.00%" {
		t.Errorf("formatBP(2500) = %q", got)
	}
}
