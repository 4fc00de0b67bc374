package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Addr        string        `split_words:"true" default:":8080"`
	TurnTimeout time.Duration `split_words:"true" default:"60s"`
	APIKey      string        `split_words:"true" required:"true"`
}

// Not parallel: the loader writes process environment and package state.
func TestNewReadsEnvFileWithoutOverridingEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	body := "DSPTEST_API_KEY=from-file\nDSPTEST_TURN_TIMEOUT=5s\nDSPTEST_ADDR=:9000\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("DSPTEST_ADDR", ":7000")
	t.Cleanup(func() {
		os.Unsetenv("DSPTEST_API_KEY")
		os.Unsetenv("DSPTEST_TURN_TIMEOUT")
		SetEnvFile("")
	})

	SetEnvFile(path)
	conf, err := New[sampleConfig]("DSPTEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.APIKey != "from-file" || conf.TurnTimeout != 5*time.Second {
		t.Fatalf("unexpected config: %#v", conf)
	}
	if conf.Addr != ":7000" {
		t.Fatalf("environment must win over the file, got %q", conf.Addr)
	}
}

func TestNewMissingRequired(t *testing.T) {
	SetEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	t.Cleanup(func() { SetEnvFile("") })

	if _, err := New[sampleConfig]("DSPTEST_NONE"); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
