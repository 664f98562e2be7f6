package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestWriteDefaultConfigSkipsBoundValues(t *testing.T) {
	viper.Set("labelcraft.username", "alice")
	viper.Set("labelcraft.password", "hunter2")
	t.Cleanup(viper.Reset)
	t.Setenv("LABELBOT_SERVER_PASSWORD", "s3cret")

	path := filepath.Join(t.TempDir(), ".labelbot.yaml")
	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written config: %v", err)
	}
	body := string(data)
	for _, leaked := range []string{"alice", "hunter2", "s3cret"} {
		if strings.Contains(body, leaked) {
			t.Fatalf("default config contains %q:\n%s", leaked, body)
		}
	}
	for _, want := range []string{"labelcraft:", "reviewStart", "queue: 45"} {
		if !strings.Contains(body, want) {
			t.Fatalf("default config is missing %q:\n%s", want, body)
		}
	}

	if err := writeDefaultConfig(path); err == nil {
		t.Fatalf("expected an error when the file already exists")
	}
}
