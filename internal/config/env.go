package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// overrides are read from the environment after the file so secrets can
// stay out of it.
type overrides struct {
	BotToken      string `env:"TELEADS_BOT_TOKEN"`
	ControlChatID string `env:"TELEADS_CONTROL_CHAT_ID"`
	AppID         string `env:"TELEADS_API_ID"`
	AppHash       string `env:"TELEADS_API_HASH"`
	LogLevel      string `env:"TELEADS_LOG_LEVEL"`
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return fmt.Errorf("dotenv %s: %w", f, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var o overrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	if v := strings.TrimSpace(o.BotToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(o.ControlChatID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEADS_CONTROL_CHAT_ID: %w", err)
		}
		cfg.Telegram.ControlChatID = id
	}
	if v := strings.TrimSpace(o.AppID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TELEADS_API_ID: %w", err)
		}
		cfg.MTProto.AppID = id
	}
	if v := strings.TrimSpace(o.AppHash); v != "" {
		cfg.MTProto.AppHash = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

func isNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }
