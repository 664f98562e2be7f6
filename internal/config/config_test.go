package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/labelbot/labelbot/pkg/taskloop"
	"github.com/spf13/viper"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	if yaml != "" {
		v.SetConfigType("yaml")
		if err := v.ReadConfig(strings.NewReader(yaml)); err != nil {
			t.Fatalf("read config: %v", err)
		}
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(newViper(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LabelCraft.Queue != 45 || cfg.LabelCraft.BaseURL != "http://label-craft.is.kakaocorp.com" {
		t.Fatalf("unexpected labelcraft defaults %#v", cfg.LabelCraft)
	}
	if cfg.LabelCraft.Selectors.ReviewStart != "#reviewStart" || cfg.LabelCraft.Selectors.ApproveKey != "e" {
		t.Fatalf("unexpected selectors %#v", cfg.LabelCraft.Selectors)
	}
	if cfg.Patterns.Sheet != "패턴단어" || cfg.Patterns.Column != "C" || !cfg.Patterns.SkipHeader {
		t.Fatalf("unexpected pattern defaults %#v", cfg.Patterns)
	}
	if !reflect.DeepEqual(cfg.Classifier.Suffixes, []string{"tistory.com"}) {
		t.Fatalf("unexpected suffixes %#v", cfg.Classifier.Suffixes)
	}

	loop := cfg.LoopConfig()
	if loop.Strategy != taskloop.StrategyStay || loop.NextItemPause != 2*time.Second || loop.RecoveryPause != 5*time.Second {
		t.Fatalf("unexpected loop config %#v", loop)
	}
	if cfg.Processor.Settle != time.Second || cfg.Browser.NavigationTimeout != 30*time.Second {
		t.Fatalf("durations not decoded: %#v %#v", cfg.Processor, cfg.Browser)
	}
	if cfg.Output.Dir != "save" {
		t.Fatalf("unexpected output dir %q", cfg.Output.Dir)
	}
}

func TestFileOverrides(t *testing.T) {
	cfg, err := Load(newViper(t, `
labelcraft:
  queue: 12
  selectors:
    link: "div.post a"
loop:
  strategy: reopen
  max_items: 10
processor:
  settle: 500ms
patterns:
  source: csv
  path: patterns.csv
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LabelCraft.Queue != 12 || cfg.LabelCraft.Selectors.Link != "div.post a" {
		t.Fatalf("overrides lost: %#v", cfg.LabelCraft)
	}
	if cfg.LabelCraft.Selectors.Defer == "" {
		t.Fatalf("sibling selector defaults lost")
	}
	if cfg.LoopConfig().Strategy != taskloop.StrategyReopen || cfg.Loop.MaxItems != 10 {
		t.Fatalf("unexpected loop %#v", cfg.Loop)
	}
	if cfg.Processor.Settle != 500*time.Millisecond {
		t.Fatalf("unexpected settle %v", cfg.Processor.Settle)
	}
	if cfg.Patterns.Kind != "csv" || cfg.Patterns.Path != "patterns.csv" {
		t.Fatalf("unexpected patterns %#v", cfg.Patterns)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LABELBOT_LABELCRAFT_USERNAME", "op@example.com")
	t.Setenv("LABELBOT_LABELCRAFT_PASSWORD", "secret")
	t.Setenv("LABELBOT_BROWSER_HEADLESS", "true")

	cfg, err := Load(newViper(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	auth := cfg.Auth()
	if auth.Username != "op@example.com" || auth.Password != "secret" {
		t.Fatalf("env credentials not applied: %#v", auth)
	}
	if !cfg.Browser.Headless {
		t.Fatalf("env headless not applied")
	}
}

func TestInvalid(t *testing.T) {
	if _, err := Load(newViper(t, "loop:\n  strategy: teleport\n")); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
	if _, err := Load(newViper(t, "loop:\n  max_items: -1\n")); err == nil {
		t.Fatalf("expected error for negative limit")
	}
}
