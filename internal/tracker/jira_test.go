package tracker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"ticketbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testClient(t *testing.T, handler http.Handler) *JiraClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewJiraClient(JiraConfig{
		BaseURL:    srv.URL,
		Email:      "dev@example.com",
		APIToken:   "tok",
		ProjectKey: "KAN",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewJiraClient: %v", err)
	}
	return c
}

func TestCreateIssue(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/api/3/issue" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "10001", "key": "KAN-42"})
	}))

	key, err := c.CreateIssue(context.Background(), domain.DraftFields{
		Summary:     "Fix export crash",
		Description: "Export button crashes the app",
		Priority:    "High",
		IssueType:   "Bug",
	})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if key != "KAN-42" {
		t.Errorf("key = %q", key)
	}

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("dev@example.com:tok"))
	if gotAuth != wantAuth {
		t.Errorf("auth header = %q", gotAuth)
	}

	fields := gotBody["fields"].(map[string]any)
	if fields["summary"] != "Fix export crash" {
		t.Errorf("summary = %v", fields["summary"])
	}
	if proj := fields["project"].(map[string]any); proj["key"] != "KAN" {
		t.Errorf("project = %v", proj)
	}
	if it := fields["issuetype"].(map[string]any); it["name"] != "Bug" {
		t.Errorf("issuetype = %v", it)
	}
	if pr := fields["priority"].(map[string]any); pr["name"] != "High" {
		t.Errorf("priority = %v", pr)
	}

	desc := fields["description"].(map[string]any)
	if desc["type"] != "doc" || desc["version"] != float64(1) {
		t.Errorf("description is not an ADF doc: %v", desc)
	}
	para := desc["content"].([]any)[0].(map[string]any)
	text := para["content"].([]any)[0].(map[string]any)
	if text["text"] != "Export button crashes the app" {
		t.Errorf("description text = %v", text["text"])
	}
}

func TestCreateIssueOmitsEmptyPriority(t *testing.T) {
	var gotBody map[string]any
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"key": "KAN-1"})
	}))

	_, err := c.CreateIssue(context.Background(), domain.DraftFields{
		Summary:     "s",
		Description: "d",
		IssueType:   "Task",
	})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	fields := gotBody["fields"].(map[string]any)
	if _, ok := fields["priority"]; ok {
		t.Error("priority should be omitted when empty")
	}
}

func TestCreateIssueAPIError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": map[string]string{"issuetype": "The issue type selected is invalid."},
		})
	}))

	_, err := c.CreateIssue(context.Background(), domain.DraftFields{
		Summary: "s", Description: "d", IssueType: "Nope",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "issuetype") || !strings.Contains(err.Error(), "400") {
		t.Errorf("error lacks detail: %v", err)
	}
}

func TestAttachFile(t *testing.T) {
	var gotToken, gotFilename string
	var gotContent []byte

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/issue/KAN-42/attachments" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotToken = r.Header.Get("X-Atlassian-Token")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		gotFilename = hdr.Filename
		gotContent, _ = io.ReadAll(f)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("[]"))
	}))

	err := c.AttachFile(context.Background(), "KAN-42", "photo.jpeg", strings.NewReader("jpegbytes"))
	if err != nil {
		t.Fatalf("AttachFile: %v", err)
	}
	if gotToken != "no-check" {
		t.Errorf("X-Atlassian-Token = %q", gotToken)
	}
	if gotFilename != "photo.jpeg" || string(gotContent) != "jpegbytes" {
		t.Errorf("upload = %q %q", gotFilename, gotContent)
	}
}

func TestNewJiraClientValidation(t *testing.T) {
	if _, err := NewJiraClient(JiraConfig{Email: "a", APIToken: "b"}, testLogger()); err == nil {
		t.Error("expected error for missing base url")
	}
	if _, err := NewJiraClient(JiraConfig{BaseURL: "https://x.atlassian.net"}, testLogger()); err == nil {
		t.Error("expected error for missing credentials")
	}
}
