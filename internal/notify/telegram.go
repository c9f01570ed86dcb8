package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/pkg/models"
)

// Telegram sends notifications through the Telegram Bot API.
type Telegram struct {
	baseURL string
	chatID  string
	http    *http.Client
	log     *logger.Logger
}

// Verify Telegram implements Notifier at compile time.
var _ Notifier = (*Telegram)(nil)

// Option configures a Telegram notifier.
type Option func(*Telegram)

// WithBaseURL overrides the bot API endpoint, used by tests.
func WithBaseURL(baseURL string) Option {
	return func(t *Telegram) { t.baseURL = baseURL }
}

// NewTelegram creates a Telegram notifier for the given bot token and chat.
func NewTelegram(botToken, chatID string, log *logger.Logger, opts ...Option) *Telegram {
	t := &Telegram{
		baseURL: "https://api.telegram.org/bot" + botToken,
		chatID:  chatID,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.Named("telegram"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send delivers a message to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send message: status %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

// send logs a delivery failure instead of propagating it.
func (t *Telegram) send(ctx context.Context, text string) {
	if err := t.Send(ctx, text); err != nil {
		t.log.Warn("notification failed", zap.Error(err))
	}
}

func (t *Telegram) AgentStarted(ctx context.Context, task models.Task, phase models.Phase) {
	t.send(ctx, startedText(task, phase))
}

func (t *Telegram) AgentCompleted(ctx context.Context, task models.Task, phase models.Phase, costUSD float64) {
	t.send(ctx, completedText(task, phase, costUSD))
}

func (t *Telegram) AgentErrored(ctx context.Context, task models.Task, phase models.Phase, reason string) {
	t.send(ctx, erroredText(task, phase, reason))
}

func (t *Telegram) BudgetBlocked(ctx context.Context, task models.Task, spendUSD, dailyBudgetUSD float64) {
	t.send(ctx, budgetText(task, spendUSD, dailyBudgetUSD))
}

func (t *Telegram) AgentStale(ctx context.Context, task models.Task, hours float64) {
	t.send(ctx, staleText(task, hours))
}
