// Package config loads the swarm TOML configuration
package config

// Config holds the main swarm configuration
type Config struct {
	Operation     OperationConfig     `toml:"operation"`
	Oracle        OracleConfig        `toml:"oracle"`
	Agent         AgentConfig         `toml:"agent"`
	Throttle      ThrottleConfig      `toml:"throttle"`
	RateLimit     RateLimitConfig     `toml:"rate_limit"`
	Sandbox       SandboxConfig       `toml:"sandbox"`
	Safety        SafetyConfig        `toml:"safety"`
	Storage       StorageConfig       `toml:"storage"`
	API           APIConfig           `toml:"api"`
	Daemon        DaemonConfig        `toml:"daemon"`
	Notifications NotificationsConfig `toml:"notifications"`
	Logging       LoggingConfig       `toml:"logging"`
}

// OperationConfig is what the daemon works on at start
type OperationConfig struct {
	Target            string `toml:"target"`
	Category          string `toml:"category"`
	Agents            int    `toml:"agents"`
	CustomInstruction string `toml:"custom_instruction"`
	Stealth           bool   `toml:"stealth"`
	Aggressive        bool   `toml:"aggressive"`
}

type OracleConfig struct {
	Model       string  `toml:"model"`
	Endpoint    string  `toml:"endpoint"`
	APIKeyEnv   string  `toml:"api_key_env"`
	Timeout     string  `toml:"timeout"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

type AgentConfig struct {
	MaxIterations    int    `toml:"max_iterations"`
	DelayMin         string `toml:"delay_min"`
	DelayMax         string `toml:"delay_max"`
	ErrorBackoff     string `toml:"error_backoff"`
	EstimatedTokens  int    `toml:"estimated_tokens"`
	HistoryLimit     int    `toml:"history_limit"`
	ContextExchanges int    `toml:"context_exchanges"`
	MailboxCap       int    `toml:"mailbox_cap"`
	TaskRetention    int    `toml:"task_retention"`
	RerunAfter       string `toml:"rerun_after"`
}

type ThrottleConfig struct {
	Light           float64 `toml:"light"`
	Moderate        float64 `toml:"moderate"`
	Heavy           float64 `toml:"heavy"`
	EscalateAfter   int     `toml:"escalate_after"`
	DeescalateAfter int     `toml:"deescalate_after"`
	Pause           string  `toml:"pause"`
	SampleInterval  string  `toml:"sample_interval"`
}

type RateLimitConfig struct {
	Window            string `toml:"window"`
	RequestsPerWindow int    `toml:"requests_per_window"`
	TokensPerWindow   int    `toml:"tokens_per_window"`
	BaseCooldown      string `toml:"base_cooldown"`
	MaxCooldown       string `toml:"max_cooldown"`
}

type SandboxConfig struct {
	Timeout string `toml:"timeout"`
	WorkDir string `toml:"work_dir"`
}

type SafetyConfig struct {
	ExtraTools       []string `toml:"extra_tools"`
	CommandBlacklist []string `toml:"command_blacklist"`
}

type StorageConfig struct {
	Database    string `toml:"database"`
	EventsDir   string `toml:"events_dir"`
	QueueSize   int    `toml:"queue_size"`
	RedisURL    string `toml:"redis_url"`
	RedisStream string `toml:"redis_stream"`
	StreamMax   int64  `toml:"stream_max_len"`
}

type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type DaemonConfig struct {
	SyncInterval      string `toml:"sync_interval"`
	PatrolInterval    string `toml:"patrol_interval"`
	StuckTimeout      string `toml:"stuck_timeout"`
	BroadcastInterval string `toml:"broadcast_interval"`
}

type NotificationsConfig struct {
	Terminal        bool   `toml:"terminal"`
	MinSeverity     string `toml:"min_severity"`
	SummaryInterval string `toml:"summary_interval"`
}

type LoggingConfig struct {
	Debug bool `toml:"debug"`
}
