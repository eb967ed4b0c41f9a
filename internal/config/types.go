package config

// Config is the whole file. Durations are Go duration strings ("5s",
// "2m"); empty means the component default.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	MTProto    MTProtoConfig    `json:"mtproto"`
	Accounts   []AccountConfig  `json:"accounts" validate:"min=1,unique=Name,dive"`
	Forwarding ForwardingConfig `json:"forwarding"`
	Targets    TargetsConfig    `json:"targets"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
}

// TelegramConfig is the control bot. Only ControlChatID may talk to it.
type TelegramConfig struct {
	Token         string `json:"token" validate:"required"`
	ControlChatID int64  `json:"control_chat_id" validate:"required"`
	PollTimeout   string `json:"poll_timeout,omitempty"`
	SendPerSecond int    `json:"send_per_second,omitempty" validate:"gte=0"`
	Workers       int    `json:"workers,omitempty" validate:"gte=0"`
}

// MTProtoConfig identifies the application registered at my.telegram.org.
type MTProtoConfig struct {
	AppID      int    `json:"app_id" validate:"required"`
	AppHash    string `json:"app_hash" validate:"required"`
	SessionDir string `json:"session_dir,omitempty"`
}

type AccountConfig struct {
	Name  string `json:"name" validate:"required,max=64,excludes=/"`
	Phone string `json:"phone,omitempty" validate:"omitempty,e164"`
	// Session overrides <session_dir>/<name>.session.
	Session  string `json:"session,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

type ForwardingConfig struct {
	SendInterval     string `json:"send_interval,omitempty"`
	SendJitter       string `json:"send_jitter,omitempty"`
	ReportEvery      int    `json:"report_every,omitempty" validate:"gte=0"`
	RateLimitCeiling string `json:"rate_limit_ceiling,omitempty"`
	JoinDelay        string `json:"join_delay,omitempty"`
	// LoopSchedule enables "send and repeat": a duration ("30m"), an HH:MM
	// interval or a cron expression.
	LoopSchedule    string `json:"loop_schedule,omitempty"`
	DuplicateWindow string `json:"duplicate_window,omitempty"`
}

type TargetsConfig struct {
	Path string `json:"path,omitempty"`
}

type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingTelegram mirrors log lines at or above MinLevel into the control
// chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

const (
	DefaultTargetsPath = "groups.txt"
	DefaultSessionDir  = "sessions"
)

// applyDefaults fills the paths every deployment needs.
func (c *Config) applyDefaults() {
	if c.Targets.Path == "" {
		c.Targets.Path = DefaultTargetsPath
	}
	if c.MTProto.SessionDir == "" {
		c.MTProto.SessionDir = DefaultSessionDir
	}
}
