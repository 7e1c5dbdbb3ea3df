package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mmcdole/verdad/internal/adapter"
	"github.com/mmcdole/verdad/internal/app"
	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/mutation"
)

var errNotConfigured = errors.New("backend is not configured; run `verdad login` first")

type commandContext struct {
	langFlag *string

	// Swapped in tests
	load        func() (*adapter.Config, error)
	saveConfig  func(*adapter.Config) error
	saveSession func(adapter.SessionConfig) error

	configOnce sync.Once
	config     *adapter.Config
	configErr  error
	logger     *slog.Logger
	logCloser  io.Closer
}

func newCommandContext(langFlag *string) *commandContext {
	return &commandContext{
		langFlag:    langFlag,
		load:        adapter.LoadConfig,
		saveConfig:  adapter.SaveConfig,
		saveSession: adapter.SaveSession,
	}
}

func (c *commandContext) ensureConfig() (*adapter.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := c.load()
		if err != nil {
			c.configErr = fmt.Errorf("failed to load config: %w", err)
			return
		}
		if c.langFlag != nil && strings.TrimSpace(*c.langFlag) != "" {
			cfg.UI.Language = string(domain.ParseLanguage(strings.ToLower(*c.langFlag)))
		}

		logger, closer, err := adapter.SetupLogger(&cfg.Logging)
		if err != nil {
			// Fall back to null logger if file logging fails
			logger, closer = adapter.NullLogger(), io.NopCloser(nil)
		}
		slog.SetDefault(logger)
		c.config, c.logger, c.logCloser = cfg, logger, closer
	})
	return c.config, c.configErr
}

// withApp builds the runtime for one command and releases it afterwards
func (c *commandContext) withApp(notifier mutation.Notifier, fn func(*app.App) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if !cfg.IsConfigured() {
		return errNotConfigured
	}

	a, err := app.New(cfg, c.logger, app.Options{
		Notifier:    notifier,
		SaveSession: c.saveSession,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func (c *commandContext) close() {
	if c.logCloser != nil {
		c.logCloser.Close()
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
