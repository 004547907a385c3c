package config

import (
	"os"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.FlagPath, err = expandPath(c.Paths.FlagPath); err != nil {
		return err
	}

	c.AI.APIKey = strings.TrimSpace(c.AI.APIKey)
	if c.AI.APIKey == "" {
		if value, ok := os.LookupEnv("GLOSSA_API_KEY"); ok {
			c.AI.APIKey = strings.TrimSpace(value)
		}
	}
	c.AI.BaseURL = strings.TrimSpace(c.AI.BaseURL)
	c.AI.Model = strings.TrimSpace(c.AI.Model)
	c.AI.SecondaryModel = strings.TrimSpace(c.AI.SecondaryModel)
	c.AI.TaxonomyVersion = strings.TrimSpace(c.AI.TaxonomyVersion)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	if c.Workflow.ChunkSize <= 0 {
		c.Workflow.ChunkSize = defaultChunkSize
	}
	if c.Workflow.WorkerCount <= 0 {
		c.Workflow.WorkerCount = defaultWorkerCount
	}
	if c.Workflow.PollInterval <= 0 {
		c.Workflow.PollInterval = defaultPollInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Workflow.MaxChunkFailures <= 0 {
		c.Workflow.MaxChunkFailures = defaultMaxChunkFailures
	}
	if c.Workflow.DeferredWaitAttempts <= 0 {
		c.Workflow.DeferredWaitAttempts = defaultDeferredWaitAttempts
	}
	if c.KillSwitch.TTLMinutes <= 0 {
		c.KillSwitch.TTLMinutes = defaultKillSwitchTTLMinutes
	}
	if c.KillSwitch.CooldownMinutes <= 0 {
		c.KillSwitch.CooldownMinutes = defaultKillSwitchCooldownMinutes
	}
	if c.KillSwitch.CancelTimeoutSeconds <= 0 {
		c.KillSwitch.CancelTimeoutSeconds = defaultCancelTimeoutSeconds
	}
	return nil
}
