package config

// Config is the process configuration, loaded from a JSON or YAML file.
//
// All duration fields are Go duration strings (e.g. "500ms", "10s", "1m") and
// are parsed when the owning component maps its section.
type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Upstream UpstreamConfig `json:"upstream"`
	Poller   PollerConfig   `json:"poller"`
	Queues   *QueuesConfig  `json:"queues,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

type DiscordConfig struct {
	Token string `json:"token"`

	// OwnerUserIDs may use privileged commands (interval changes, manual polls).
	OwnerUserIDs []string `json:"owner_user_ids,omitempty"`

	// SendDelay is the fixed pause between announcement sends.
	// Default "1s"; keeps the bot under Discord's own rate limits.
	SendDelay string `json:"send_delay,omitempty"`
}

type UpstreamConfig struct {
	// Login/Password are the long-lived dedicated-account credentials used
	// for the first step of the ticket exchange.
	Login    string `json:"login"`
	Password string `json:"password"`

	AuthBaseURL string `json:"auth_base_url,omitempty"`
	CoreBaseURL string `json:"core_base_url,omitempty"`
	LiveBaseURL string `json:"live_base_url,omitempty"`

	// MinRequestInterval spaces upstream calls process-wide. Default "500ms".
	MinRequestInterval string `json:"min_request_interval,omitempty"`

	// MaxLeaderboardOffset bounds paginated position lookups. Default 10000.
	MaxLeaderboardOffset int `json:"max_leaderboard_offset,omitempty"`
}

// PollerConfig controls the two polling cycles. Intervals are minutes and can
// be adjusted at runtime by owners (the new value is applied live, not
// persisted back to the file).
type PollerConfig struct {
	TimeIntervalMinutes int `json:"time_interval_minutes"`
	RankIntervalMinutes int `json:"rank_interval_minutes"`

	// BootDelay delays the first one-shot poll after process start so a
	// crash-looping process does not hammer the upstream service. Default "1m".
	BootDelay string `json:"boot_delay,omitempty"`
}

// QueuesConfig sizes the three task queues. Zero values take defaults:
// api backlog 64, command workers 4 / backlog 32, background backlog 8.
type QueuesConfig struct {
	APIBacklog        int `json:"api_backlog,omitempty"`
	CommandWorkers    int `json:"command_workers,omitempty"`
	CommandBacklog    int `json:"command_backlog,omitempty"`
	BackgroundBacklog int `json:"background_backlog,omitempty"`
}

const (
	defaultAPIBacklog        = 64
	defaultCommandWorkers    = 4
	defaultCommandBacklog    = 32
	defaultBackgroundBacklog = 8
)

// Effective returns the sizing with zero values replaced by the documented
// defaults. Safe on a nil receiver (absent queues section).
func (q *QueuesConfig) Effective() QueuesConfig {
	out := QueuesConfig{
		APIBacklog:        defaultAPIBacklog,
		CommandWorkers:    defaultCommandWorkers,
		CommandBacklog:    defaultCommandBacklog,
		BackgroundBacklog: defaultBackgroundBacklog,
	}
	if q == nil {
		return out
	}
	if q.APIBacklog > 0 {
		out.APIBacklog = q.APIBacklog
	}
	if q.CommandWorkers > 0 {
		out.CommandWorkers = q.CommandWorkers
	}
	if q.CommandBacklog > 0 {
		out.CommandBacklog = q.CommandBacklog
	}
	if q.BackgroundBacklog > 0 {
		out.BackgroundBacklog = q.BackgroundBacklog
	}
	return out
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}
