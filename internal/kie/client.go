package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/SoraVideoBot/internal/config"
	"github.com/digkill/SoraVideoBot/internal/models"
)

// Status classifies a submission attempt.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusProviderRejected Status = "provider_rejected"
	StatusNetworkError     Status = "network_error"
	StatusMisconfigured    Status = "misconfigured"
)

// maxDownloadBytes caps a fetched artifact; Telegram bots cannot upload more.
const maxDownloadBytes = 50 << 20

type Client struct {
	apiKey      string
	baseURL     string
	model       string
	callbackURL string
	httpClient  *http.Client
	log         *slog.Logger
}

type SubmitRequest struct {
	Prompt      string
	Orientation models.Orientation
	// Param is the correlation token echoed back on the callback.
	Param string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.GenerationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	return &Client{
		apiKey:      cfg.KIEAPIKey,
		baseURL:     strings.TrimRight(cfg.KIEBaseURL, "/"),
		model:       cfg.KIEModel,
		callbackURL: cfg.CallbackURL(),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Submit creates a text-to-video task. It never returns an error: every
// failure is folded into a Status.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, Status) {
	if c.apiKey == "" {
		c.log.Warn("kie submit skipped: api key not configured")
		return "", StatusMisconfigured
	}
	if c.callbackURL == "" {
		c.log.Error("kie submit skipped: public url not configured for callback")
		return "", StatusMisconfigured
	}

	payload := map[string]any{
		"model":       c.model,
		"callBackUrl": c.callbackURL,
		"param":       req.Param,
		"input": map[string]any{
			"prompt":           req.Prompt,
			"aspect_ratio":     req.Orientation.AspectRatio(),
			"remove_watermark": true,
		},
	}

	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		c.log.Error("kie endpoint", "err", err)
		return "", StatusMisconfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("marshal kie payload", "err", err)
		return "", StatusProviderRejected
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		c.log.Error("new kie request", "err", err)
		return "", StatusMisconfigured
	}
	c.authorize(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	c.log.Info("creating kie task", "url", fullURL, "model", c.model, "aspect_ratio", req.Orientation.AspectRatio())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Error("kie transport error", "err", err)
		return "", StatusNetworkError
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Error("read kie response", "err", err)
		return "", StatusNetworkError
	}

	if resp.StatusCode >= 300 {
		c.log.Error("kie create task failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return "", StatusProviderRejected
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		c.log.Error("decode kie create response", "err", err, "body", truncateBody(rawBody))
		return "", StatusProviderRejected
	}
	if createResp.Code != http.StatusOK {
		c.log.Error("kie rejected task", "code", createResp.Code, "msg", createResp.Msg)
		return "", StatusProviderRejected
	}
	if createResp.Data.TaskID == "" {
		c.log.Error("kie returned empty taskId", "body", truncateBody(rawBody))
		return "", StatusProviderRejected
	}

	c.log.Info("kie task created", "task_id", createResp.Data.TaskID)
	return createResp.Data.TaskID, StatusSuccess
}

// TaskInfo is the provider-side view of a task.
type TaskInfo struct {
	TaskID     string   `json:"taskId"`
	State      string   `json:"state"`
	ResultURLs []string `json:"resultUrls,omitempty"`
	FailCode   string   `json:"failCode,omitempty"`
	FailMsg    string   `json:"failMsg,omitempty"`
}

// RecordInfo asks the provider for the current state of a task. Operators use
// it to reconcile tasks whose callback never arrived.
func (c *Client) RecordInfo(ctx context.Context, taskID string) (*TaskInfo, error) {
	if c.apiKey == "" {
		return nil, errors.New("kie api key not configured")
	}
	params := url.Values{}
	params.Set("taskId", taskID)
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get task status: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var envelope struct {
		Code int      `json:"code"`
		Msg  string   `json:"msg"`
		Data taskData `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if envelope.Code != http.StatusOK {
		return nil, fmt.Errorf("get task status failed: code=%d msg=%s", envelope.Code, envelope.Msg)
	}

	info := &TaskInfo{
		TaskID:   envelope.Data.TaskID,
		State:    envelope.Data.State,
		FailCode: envelope.Data.FailCode.String(),
		FailMsg:  envelope.Data.FailMsg,
	}
	info.ResultURLs, _ = parseResultURLs(envelope.Data.ResultJSON)
	return info, nil
}

// Download fetches a finished artifact so it can be uploaded directly.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download artifact: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("artifact exceeds %d bytes", maxDownloadBytes)
	}
	return data, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) endpoint(path string, params url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if params != nil {
		ref.RawQuery = params.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
