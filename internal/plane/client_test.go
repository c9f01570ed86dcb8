package plane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "acme", "test-key")
}

func TestListIssuesFiltersAndAuth(t *testing.T) {
	var gotPath, gotKey, gotState string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		gotState = r.URL.Query().Get("state")
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": "i1", "name": "Fix login", "sequence_id": 42, "state": "s-todo", "labels": []string{"l1"}},
			},
		})
	})

	issues, err := client.ListIssues(context.Background(), "p1", "s-todo")
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if gotPath != "/api/v1/workspaces/acme/projects/p1/issues/" {
		t.Errorf("path = %s", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotState != "s-todo" {
		t.Errorf("state filter = %q", gotState)
	}
	if len(issues) != 1 || issues[0].SequenceID != 42 || !issues[0].HasLabel("l1") {
		t.Fatalf("issues = %+v", issues)
	}
}

func TestListIssuesRejectsMissingID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"name": "no id"}},
		})
	})

	if _, err := client.ListIssues(context.Background(), "p1", ""); err == nil {
		t.Fatal("expected boundary validation error for issue without id")
	}
}

func TestUpdateIssuePatchesOnlySetFields(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	state := "s-progress"
	if err := client.UpdateIssue(context.Background(), "p1", "i1", IssuePatch{State: &state}); err != nil {
		t.Fatalf("UpdateIssue: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method = %s, want PATCH", gotMethod)
	}
	if gotBody["state"] != "s-progress" {
		t.Errorf("body state = %v", gotBody["state"])
	}
	if _, ok := gotBody["labels"]; ok {
		t.Error("unset labels field should be omitted from patch")
	}
}

func TestErrorIncludesStatusAndBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"bad key"}`))
	})

	_, err := client.ListProjects(context.Background())
	if err == nil {
		t.Fatal("expected error on 403")
	}
	for _, want := range []string{"403", "bad key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestCreateCommentPostsHTML(t *testing.T) {
	var gotBody map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	})

	if err := client.CreateComment(context.Background(), "p1", "i1", "<p>hi</p>"); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if gotBody["comment_html"] != "<p>hi</p>" {
		t.Errorf("comment body = %v", gotBody)
	}
}
