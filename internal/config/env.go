package config

import (
	"fmt"
	"os"
)

// Env holds credentials and paths read from the environment. Config files
// never carry secrets directly; ${VAR} references resolve against these.
type Env struct {
	// PlaneAPIKey authenticates tracker requests. Required.
	PlaneAPIKey string
	// AnthropicAPIKey is passed through to the agent subprocess. Required.
	AnthropicAPIKey string
	// GitHubToken lets implementation agents push branches. Required.
	GitHubToken string
	// TelegramBotToken enables the notifier when set together with
	// TelegramChatID.
	TelegramBotToken string
	// TelegramChatID is the chat notifications are delivered to.
	TelegramChatID string
	// StatePath overrides the default state file location.
	StatePath string
}

// LoadEnv reads the process environment and verifies required variables.
func LoadEnv() (*Env, error) {
	env := &Env{
		PlaneAPIKey:      os.Getenv("PLANE_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		StatePath:        os.Getenv("STATE_PATH"),
	}

	missing := []string{}
	if env.PlaneAPIKey == "" {
		missing = append(missing, "PLANE_API_KEY")
	}
	if env.AnthropicAPIKey == "" {
		missing = append(missing, "ANTHROPIC_API_KEY")
	}
	if env.GitHubToken == "" {
		missing = append(missing, "GITHUB_TOKEN")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return env, nil
}

// NotifierConfigured reports whether Telegram credentials are present.
func (e *Env) NotifierConfigured() bool {
	return e.TelegramBotToken != "" && e.TelegramChatID != ""
}
