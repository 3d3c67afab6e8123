package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/arnavsurve/pcminfo"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *pcminfo.Config
	configErr  error
	logger     *slog.Logger
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*pcminfo.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := pcminfo.LoadConfig(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		level := cfg.LogLevel
		if flag := strings.TrimSpace(*c.logLevelFlag); flag != "" {
			level = flag
		}
		c.config = cfg
		c.logger = pcminfo.NewLogger(os.Stderr, level)
	})
	return c.config, c.configErr
}

// sessionOptions must only be called after ensureConfig succeeded.
func (c *commandContext) sessionOptions() pcminfo.SessionOptions {
	return c.config.SessionOptions(c.logger)
}
