package config

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Operation: OperationConfig{
			Category: "ip",
			Agents:   1,
		},
		Oracle: OracleConfig{
			Model:       "deepseek/deepseek-chat",
			APIKeyEnv:   "OPENROUTER_API_KEY",
			Timeout:     "120s",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Agent: AgentConfig{
			MaxIterations:    50,
			DelayMin:         "1s",
			DelayMax:         "3s",
			ErrorBackoff:     "3s",
			EstimatedTokens:  2000,
			HistoryLimit:     100,
			ContextExchanges: 10,
			MailboxCap:       100,
			TaskRetention:    5000,
		},
		Throttle: ThrottleConfig{
			Light:           60,
			Moderate:        75,
			Heavy:           90,
			EscalateAfter:   2,
			DeescalateAfter: 1,
			Pause:           "30s",
			SampleInterval:  "2s",
		},
		RateLimit: RateLimitConfig{
			Window:            "1m",
			RequestsPerWindow: 20,
			TokensPerWindow:   100000,
			BaseCooldown:      "5s",
			MaxCooldown:       "5m",
		},
		Sandbox: SandboxConfig{
			Timeout: "10m",
		},
		Storage: StorageConfig{
			Database:    "swarm.db",
			EventsDir:   "events",
			QueueSize:   1024,
			RedisStream: "swarm.messages",
			StreamMax:   10000,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8420",
		},
		Daemon: DaemonConfig{
			SyncInterval:      "2s",
			PatrolInterval:    "1m",
			StuckTimeout:      "10m",
			BroadcastInterval: "2s",
		},
		Notifications: NotificationsConfig{
			Terminal:        true,
			MinSeverity:     "High",
			SummaryInterval: "1h",
		},
	}
}
