package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/planepilot/planepilot/internal/logger"
	"github.com/planepilot/planepilot/pkg/models"
)

func TestTelegramSendPostsToChat(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("bot-token", "chat-7", logger.Nop(), WithBaseURL(srv.URL))
	if err := tg.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/sendMessage" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody["chat_id"] != "chat-7" || gotBody["text"] != "hello" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestTelegramSendSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	tg := NewTelegram("bad", "chat-7", logger.Nop(), WithBaseURL(srv.URL))
	err := tg.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want 401", err)
	}
}

func TestLifecycleMessagesSwallowFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat", logger.Nop(), WithBaseURL(srv.URL))
	task := models.Task{IssueID: "i1", ProjectIdentifier: "HQ", SequenceID: 3, Title: "t"}

	// None of these may panic or propagate the 500.
	tg.AgentStarted(context.Background(), task, models.PhasePlanning)
	tg.AgentCompleted(context.Background(), task, models.PhaseImplementation, 1.2)
	tg.AgentErrored(context.Background(), task, models.PhasePlanning, "rate_limited")
	tg.BudgetBlocked(context.Background(), task, 18, 20)
	tg.AgentStale(context.Background(), task, 6.5)
}

func TestBudgetMessageNamesLimit(t *testing.T) {
	task := models.Task{ProjectIdentifier: "HQ", SequenceID: 42}
	text := budgetText(task, 16, 20)
	for _, want := range []string{"Budget limit reached", "HQ-42", "$16.00", "$20.00"} {
		if !strings.Contains(text, want) {
			t.Errorf("budget text %q missing %q", text, want)
		}
	}
}
