package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultUserTable   = "user_info"
	defaultTalkTable   = "talk_history"
	defaultRecipeTable = "recipe_info"
	defaultModel       = "gpt-4o-mini"
	defaultDailyLimit  = 12
	defaultTimezone    = "Asia/Tokyo"
)

// Config is the process configuration. It is built once at startup and never
// mutated afterwards.
type Config struct {
	ChannelAccessToken string
	ChannelSecret      string
	OpenAIAPIKey       string

	UserTable   string
	TalkTable   string
	RecipeTable string

	OpenAIModel   string
	OpenAIBaseURL string
	LineBaseURL   string
	ParamPrefix   string

	DailyLimit int
	Location   *time.Location
}

// Load reads the configuration through getenv (os.Getenv in production).
// A missing secret is an error; everything else has a default.
func Load(getenv func(string) string) (Config, error) {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg := Config{
		ChannelAccessToken: get("LINE_CHANNEL_ACCESS_TOKEN"),
		ChannelSecret:      get("LINE_CHANNEL_SECRET"),
		OpenAIAPIKey:       get("OPENAI_API_KEY"),
		UserTable:          envOr(get, "USER_TABLE", defaultUserTable),
		TalkTable:          envOr(get, "TALK_TABLE", defaultTalkTable),
		RecipeTable:        envOr(get, "RECIPE_TABLE", defaultRecipeTable),
		OpenAIModel:        envOr(get, "OPENAI_MODEL", defaultModel),
		OpenAIBaseURL:      get("OPENAI_BASE_URL"),
		LineBaseURL:        get("LINE_API_BASE_URL"),
		ParamPrefix:        strings.TrimRight(get("PARAM_PREFIX"), "/"),
		DailyLimit:         defaultDailyLimit,
	}

	for _, req := range []struct {
		name, val string
	}{
		{"LINE_CHANNEL_ACCESS_TOKEN", cfg.ChannelAccessToken},
		{"LINE_CHANNEL_SECRET", cfg.ChannelSecret},
		{"OPENAI_API_KEY", cfg.OpenAIAPIKey},
	} {
		if req.val == "" {
			return Config{}, fmt.Errorf("config: required env var %s is not set", req.name)
		}
	}

	if v := get("DAILY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: DAILY_LIMIT must be a positive integer, got %q", v)
		}
		cfg.DailyLimit = n
	}

	loc, err := time.LoadLocation(envOr(get, "TIMEZONE", defaultTimezone))
	if err != nil {
		return Config{}, fmt.Errorf("config: load TIMEZONE: %w", err)
	}
	cfg.Location = loc

	return cfg, nil
}

func envOr(get func(string) string, key, def string) string {
	if v := get(key); v != "" {
		return v
	}
	return def
}
