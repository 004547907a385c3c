package config

const (
	defaultDataDir  = "~/.local/share/glossa"
	defaultLogDir   = "~/.local/share/glossa/logs"
	defaultFlagPath = "~/.local/share/glossa/killswitch.flag"

	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	defaultAIBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultAIModel          = "google/gemini-3-flash-preview"
	defaultAISecondaryModel = "anthropic/claude-sonnet-4.5"
	defaultAIReferer        = "https://github.com/glossa/glossa"
	defaultAITitle          = "Glossa Word Classifier"
	defaultAITimeoutSeconds = 30
	defaultTaxonomyVersion  = "v1"

	// Hand-tuned confidence defaults carried over from curation experience,
	// not derived values.
	defaultInheritanceConfidence = 0.70
	defaultPrefixConfidence      = 0.65
	defaultDictionaryConfidence  = 0.95

	defaultRateLimitMaxRequests = 10
	defaultRateLimitWindowMs    = 60000
	defaultRateLimitMinDelayMs  = 500

	defaultChunkSize            = 50
	defaultWorkerCount          = 4
	defaultPollInterval         = 5
	defaultHeartbeatInterval    = 15
	defaultHeartbeatTimeout     = 120
	defaultMaxChunkFailures     = 3
	defaultDeferredWaitAttempts = 3

	defaultKillSwitchTTLMinutes      = 30
	defaultKillSwitchCooldownMinutes = 10
	defaultCancelTimeoutSeconds      = 5
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			FlagPath: defaultFlagPath,
		},
		AI: AI{
			BaseURL:         defaultAIBaseURL,
			Model:           defaultAIModel,
			SecondaryModel:  defaultAISecondaryModel,
			Referer:         defaultAIReferer,
			Title:           defaultAITitle,
			TimeoutSeconds:  defaultAITimeoutSeconds,
			TaxonomyVersion: defaultTaxonomyVersion,
		},
		Rules: Rules{
			InheritanceConfidence: defaultInheritanceConfidence,
			PrefixConfidence:      defaultPrefixConfidence,
			DictionaryConfidence:  defaultDictionaryConfidence,
		},
		RateLimit: RateLimit{
			MaxRequests: defaultRateLimitMaxRequests,
			WindowMs:    defaultRateLimitWindowMs,
			MinDelayMs:  defaultRateLimitMinDelayMs,
		},
		Workflow: Workflow{
			ChunkSize:            defaultChunkSize,
			WorkerCount:          defaultWorkerCount,
			PollInterval:         defaultPollInterval,
			HeartbeatInterval:    defaultHeartbeatInterval,
			HeartbeatTimeout:     defaultHeartbeatTimeout,
			MaxChunkFailures:     defaultMaxChunkFailures,
			DeferredWaitAttempts: defaultDeferredWaitAttempts,
		},
		KillSwitch: KillSwitch{
			TTLMinutes:           defaultKillSwitchTTLMinutes,
			CooldownMinutes:      defaultKillSwitchCooldownMinutes,
			CancelTimeoutSeconds: defaultCancelTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
