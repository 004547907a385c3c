package main

import (
	"strings"
	"sync"
	"time"

	"glossa/internal/cache"
	"glossa/internal/config"
	"glossa/internal/corpus"
	"glossa/internal/jobs"
	"glossa/internal/killswitch"
	"glossa/internal/lexicon"
	"glossa/internal/logging"
	"glossa/internal/workflow"
)

// commandContext shares lazily-loaded configuration and store handles across
// subcommands. The CLI talks to the same sqlite database as the daemon; the
// stores tolerate concurrent access through WAL and busy retries.
type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) withJobs(fn func(*config.Config, *jobs.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := jobs.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func (c *commandContext) withCache(fn func(*config.Config, *cache.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := cache.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func (c *commandContext) withCorpora(fn func(*config.Config, *corpus.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := corpus.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func (c *commandContext) withLexicon(fn func(*config.Config, *lexicon.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := lexicon.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func (c *commandContext) withOrchestrator(fn func(*config.Config, *workflow.Orchestrator, *jobs.Store) error) error {
	return c.withJobs(func(cfg *config.Config, store *jobs.Store) error {
		corpora, err := corpus.Open(cfg)
		if err != nil {
			return err
		}
		defer corpora.Close()
		cacheStore, err := cache.Open(cfg)
		if err != nil {
			return err
		}
		defer cacheStore.Close()
		stop, err := c.killSwitch(cfg, store)
		if err != nil {
			return err
		}
		orchestrator := workflow.NewOrchestrator(cfg, store, corpora, cacheStore, stop, logging.NewNop())
		return fn(cfg, orchestrator, store)
	})
}

func (c *commandContext) killSwitch(cfg *config.Config, store *jobs.Store) (*killswitch.Switch, error) {
	flags, err := killswitch.NewFlagStore(
		cfg.Paths.FlagPath,
		time.Duration(cfg.KillSwitch.TTLMinutes)*time.Minute,
		time.Duration(cfg.KillSwitch.CooldownMinutes)*time.Minute,
	)
	if err != nil {
		return nil, err
	}
	return killswitch.NewSwitch(flags, store,
		time.Duration(cfg.KillSwitch.CancelTimeoutSeconds)*time.Second, logging.NewNop()), nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
