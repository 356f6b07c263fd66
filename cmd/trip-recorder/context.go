package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"go-trip-recorder/config"
	"go-trip-recorder/logging"
	"go-trip-recorder/store"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// commandContext lazily builds the config, logger and store shared by
// subcommands.
type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce  sync.Once
	logger      *slog.Logger
	closeLogger func() error

	st store.Store
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, err := config.Load(strings.TrimSpace(c.flags.configPath))
		if err != nil {
			c.configErr = err
			return
		}
		if v := strings.TrimSpace(c.flags.logLevel); v != "" {
			cfg.Log.Level = v
		}
		if v := strings.TrimSpace(c.flags.logFormat); v != "" {
			cfg.Log.Format = v
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// loggerFor returns the process logger, writing to the command's error
// stream unless a log file is configured.
func (c *commandContext) loggerFor(cmd *cobra.Command) *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.Discard()
			return
		}
		logger, closeFn, err := logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: cmd.ErrOrStderr(),
			Path:   cfg.Log.Path,
		})
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "logging disabled: %v\n", err)
			c.logger = logging.Discard()
			return
		}
		c.logger = logger
		c.closeLogger = closeFn
	})
	return c.logger
}

// store opens the configured backing once per process.
func (c *commandContext) store(cmd *cobra.Command) (store.Store, error) {
	if c.st != nil {
		return c.st, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.StoreConfig(), cfg.Recording.EarthRadiusMeters, c.loggerFor(cmd))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c.st = st
	return st, nil
}

func (c *commandContext) close() error {
	var errs []error
	if c.st != nil {
		errs = append(errs, c.st.Close())
		c.st = nil
	}
	if c.closeLogger != nil {
		errs = append(errs, c.closeLogger())
		c.closeLogger = nil
	}
	return errors.Join(errs...)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
