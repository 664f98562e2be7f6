// Package config maps the labelbot viper configuration onto typed structs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/labelbot/labelbot/pkg/browser"
	"github.com/labelbot/labelbot/pkg/classifier"
	"github.com/labelbot/labelbot/pkg/patterns"
	"github.com/labelbot/labelbot/pkg/platforms"
	"github.com/labelbot/labelbot/pkg/platforms/labelcraft"
	"github.com/labelbot/labelbot/pkg/processor"
	"github.com/labelbot/labelbot/pkg/taskloop"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "LABELBOT"
	FileName  = ".labelbot"

	DefaultSheetID = "1FrJNlluakEjYkoqpvaftM056YLbR1gw9u3XvtRlSLXY"
)

type LabelCraft struct {
	BaseURL   string              `mapstructure:"base_url"`
	Username  string              `mapstructure:"username"`
	Password  string              `mapstructure:"password"`
	Queue     int                 `mapstructure:"queue"`
	Selectors platforms.Selectors `mapstructure:"selectors"`
}

type Classifier struct {
	Suffixes []string `mapstructure:"suffixes"`
}

type Loop struct {
	Strategy               string        `mapstructure:"strategy"`
	StartTimeout           time.Duration `mapstructure:"start_timeout"`
	WindowTimeout          time.Duration `mapstructure:"window_timeout"`
	NextItemPause          time.Duration `mapstructure:"next_item_pause"`
	RecoveryPause          time.Duration `mapstructure:"recovery_pause"`
	RetryPause             time.Duration `mapstructure:"retry_pause"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	MaxItems               int           `mapstructure:"max_items"`
}

type Output struct {
	Dir       string `mapstructure:"dir"`
	HistoryDB string `mapstructure:"history_db"`
}

type Server struct {
	Listen   string `mapstructure:"listen"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Config is the whole configuration file.
type Config struct {
	LabelCraft LabelCraft       `mapstructure:"labelcraft"`
	Patterns   patterns.Config  `mapstructure:"patterns"`
	Classifier Classifier       `mapstructure:"classifier"`
	Browser    browser.Config   `mapstructure:"browser"`
	Processor  processor.Config `mapstructure:"processor"`
	Loop       Loop             `mapstructure:"loop"`
	Output     Output           `mapstructure:"output"`
	Server     Server           `mapstructure:"server"`
	Proxy      string           `mapstructure:"proxy"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for LABELBOT_* environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	sel := labelcraft.DefaultSelectors()
	proc := processor.DefaultConfig()
	loop := taskloop.DefaultConfig()
	br := browser.DefaultConfig()

	v.SetDefault("labelcraft.base_url", labelcraft.DefaultBaseURL)
	v.SetDefault("labelcraft.username", "")
	v.SetDefault("labelcraft.password", "")
	v.SetDefault("labelcraft.queue", labelcraft.DefaultQueue)
	v.SetDefault("labelcraft.selectors.login_user", sel.LoginUser)
	v.SetDefault("labelcraft.selectors.login_password", sel.LoginPassword)
	v.SetDefault("labelcraft.selectors.login_success", sel.LoginSuccess)
	v.SetDefault("labelcraft.selectors.review_start", sel.ReviewStart)
	v.SetDefault("labelcraft.selectors.link", sel.Link)
	v.SetDefault("labelcraft.selectors.defer", sel.Defer)
	v.SetDefault("labelcraft.selectors.assign_anyone", sel.AssignAnyone)
	v.SetDefault("labelcraft.selectors.approve_key", sel.ApproveKey)

	v.SetDefault("patterns.source", "gviz")
	v.SetDefault("patterns.sheet_id", DefaultSheetID)
	v.SetDefault("patterns.sheet", patterns.DefaultSheet)
	v.SetDefault("patterns.gid", "")
	v.SetDefault("patterns.column", patterns.DefaultColumn)
	v.SetDefault("patterns.path", "")
	v.SetDefault("patterns.skip_header", true)

	v.SetDefault("classifier.suffixes", classifier.DefaultSuffixes)

	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.headless", br.Headless)
	v.SetDefault("browser.viewport_width", br.ViewportWidth)
	v.SetDefault("browser.viewport_height", br.ViewportHeight)
	v.SetDefault("browser.navigation_timeout", br.NavigationTimeout.String())
	v.SetDefault("browser.flags", []string{})

	v.SetDefault("processor.link_timeout", proc.LinkTimeout.String())
	v.SetDefault("processor.defer_timeout", proc.DeferTimeout.String())
	v.SetDefault("processor.assign_timeout", proc.AssignTimeout.String())
	v.SetDefault("processor.settle", proc.Settle.String())

	v.SetDefault("loop.strategy", string(loop.Strategy))
	v.SetDefault("loop.start_timeout", loop.StartTimeout.String())
	v.SetDefault("loop.window_timeout", loop.WindowTimeout.String())
	v.SetDefault("loop.next_item_pause", loop.NextItemPause.String())
	v.SetDefault("loop.recovery_pause", loop.RecoveryPause.String())
	v.SetDefault("loop.retry_pause", loop.RetryPause.String())
	v.SetDefault("loop.max_consecutive_failures", 0)
	v.SetDefault("loop.max_items", 0)

	v.SetDefault("output.dir", "save")
	v.SetDefault("output.history_db", "labelbot.sqlite")

	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")

	v.SetDefault("proxy", "")
}

// BindEnv makes LABELBOT_LABELCRAFT_USERNAME override labelcraft.username
// and so on for every key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load unmarshals v and validates the result.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if _, err := taskloop.ParseStrategy(cfg.Loop.Strategy); err != nil {
		return Config{}, err
	}
	if cfg.LabelCraft.Queue < 0 {
		return Config{}, fmt.Errorf("labelcraft.queue must be positive, got %d", cfg.LabelCraft.Queue)
	}
	if cfg.Loop.MaxConsecutiveFailures < 0 || cfg.Loop.MaxItems < 0 {
		return Config{}, fmt.Errorf("loop limits must not be negative")
	}
	return cfg, nil
}

// LoopConfig converts the loop section. QueueURL and ReviewStart are left
// to the caller.
func (c Config) LoopConfig() taskloop.Config {
	strategy, _ := taskloop.ParseStrategy(c.Loop.Strategy)
	def := taskloop.DefaultConfig()
	return taskloop.Config{
		Strategy:               strategy,
		StartTimeout:           c.Loop.StartTimeout,
		WindowTimeout:          c.Loop.WindowTimeout,
		WindowPoll:             def.WindowPoll,
		NextItemPause:          c.Loop.NextItemPause,
		RecoveryPause:          c.Loop.RecoveryPause,
		RetryPause:             c.Loop.RetryPause,
		MaxConsecutiveFailures: c.Loop.MaxConsecutiveFailures,
		MaxItems:               c.Loop.MaxItems,
	}
}

// Auth returns the LabelCraft credentials.
func (c Config) Auth() platforms.AuthConfig {
	return platforms.AuthConfig{Username: c.LabelCraft.Username, Password: c.LabelCraft.Password}
}
