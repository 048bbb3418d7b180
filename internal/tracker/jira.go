package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"ticketbridge/internal/domain"
)

// JiraConfig holds the Jira Cloud connection settings.
type JiraConfig struct {
	BaseURL    string
	Email      string
	APIToken   string
	ProjectKey string
}

// JiraClient talks to the Jira Cloud REST v3 API with basic auth.
type JiraClient struct {
	baseURL    string
	auth       string
	projectKey string
	httpc      *http.Client
	logger     *slog.Logger
}

func NewJiraClient(cfg JiraConfig, logger *slog.Logger) (*JiraClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira base url is required")
	}
	if cfg.Email == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("jira email and api token are required")
	}
	projectKey := cfg.ProjectKey
	if projectKey == "" {
		projectKey = "KAN"
	}
	return &JiraClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		auth:       base64.StdEncoding.EncodeToString([]byte(cfg.Email + ":" + cfg.APIToken)),
		projectKey: projectKey,
		httpc:      &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// adfDocument wraps plain text into the Atlassian Document Format body
// required by the v3 issue API.
func adfDocument(text string) map[string]any {
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": []any{
			map[string]any{
				"type":    "paragraph",
				"content": []any{map[string]any{"type": "text", "text": text}},
			},
		},
	}
}

func (c *JiraClient) CreateIssue(ctx context.Context, fields domain.DraftFields) (string, error) {
	issueFields := map[string]any{
		"project":     map[string]any{"key": c.projectKey},
		"summary":     fields.Summary,
		"description": adfDocument(fields.Description),
		"issuetype":   map[string]any{"name": fields.IssueType},
	}
	if fields.Priority != "" {
		issueFields["priority"] = map[string]any{"name": fields.Priority}
	}

	body, err := json.Marshal(map[string]any{"fields": issueFields})
	if err != nil {
		return "", fmt.Errorf("marshal issue payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/api/3/issue", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.apiError("create issue", resp)
	}

	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	if created.Key == "" {
		return "", fmt.Errorf("create issue: response missing key")
	}

	c.logger.Info("jira issue created", "key", created.Key, "issueType", fields.IssueType)
	return created.Key, nil
}

func (c *JiraClient) AttachFile(ctx context.Context, key, filename string, r io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/rest/api/3/issue/%s/attachments", c.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	// Required by Jira to bypass XSRF checks on multipart uploads.
	req.Header.Set("X-Atlassian-Token", "no-check")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("attach file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError("attach file", resp)
	}

	c.logger.Info("attachment uploaded", "key", key, "filename", filename)
	return nil
}

func (c *JiraClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Basic "+c.auth)
	req.Header.Set("Accept", "application/json")
}

// apiError surfaces Jira's structured errors when present, otherwise the
// status line and a body excerpt.
func (c *JiraClient) apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Errors) > 0 {
			detail, _ := json.Marshal(parsed.Errors)
			return fmt.Errorf("%s: jira %d: %s", op, resp.StatusCode, detail)
		}
		if len(parsed.ErrorMessages) > 0 {
			return fmt.Errorf("%s: jira %d: %s", op, resp.StatusCode, strings.Join(parsed.ErrorMessages, "; "))
		}
	}
	return fmt.Errorf("%s: jira %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
