package kie

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	StateSuccess = "success"
	StateFail    = "fail"
)

// Callback is the completion notice posted to the callback URL.
type Callback struct {
	Code int      `json:"code"`
	Msg  string   `json:"msg"`
	Data taskData `json:"data"`

	ResultURLs []string `json:"-"`
}

type taskData struct {
	TaskID     string          `json:"taskId"`
	State      string          `json:"state"`
	ResultJSON json.RawMessage `json:"resultJson"`
	FailCode   flexCode        `json:"failCode"`
	FailMsg    string          `json:"failMsg"`
}

// flexCode accepts fail codes sent either as strings or numbers.
type flexCode string

func (f *flexCode) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		*f = flexCode(unquoted)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("fail code: %w", err)
	}
	*f = flexCode(n.String())
	return nil
}

func (f flexCode) String() string { return string(f) }

// ParseCallback decodes a callback body. The result URLs are only populated
// for successful tasks.
func ParseCallback(raw []byte) (*Callback, error) {
	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	if cb.Data.State == StateSuccess {
		urls, err := parseResultURLs(cb.Data.ResultJSON)
		if err != nil {
			return &cb, err
		}
		cb.ResultURLs = urls
	}
	return &cb, nil
}

func (c *Callback) TaskID() string   { return c.Data.TaskID }
func (c *Callback) State() string    { return c.Data.State }
func (c *Callback) FailCode() string { return c.Data.FailCode.String() }
func (c *Callback) FailMsg() string  { return c.Data.FailMsg }

// Succeeded reports a finished task with at least one artifact.
func (c *Callback) Succeeded() bool {
	return c.Code == 200 && c.Data.State == StateSuccess && len(c.ResultURLs) > 0
}

// VideoURL is the first artifact of a successful task.
func (c *Callback) VideoURL() string {
	if len(c.ResultURLs) == 0 {
		return ""
	}
	return c.ResultURLs[0]
}

// ContentPolicy reports whether the provider refused the prompt itself.
func (c *Callback) ContentPolicy() bool {
	text := strings.ToLower(c.Data.FailMsg + " " + c.Data.FailCode.String() + " " + c.Msg)
	for _, marker := range []string{"policy", "moderation", "safety", "nsfw"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// parseResultURLs accepts resultJson as an encoded string or a nested object.
func parseResultURLs(resultJSON json.RawMessage) ([]string, error) {
	raw := []byte(strings.TrimSpace(string(resultJSON)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.New("empty resultJson")
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("parse resultJson: %w", err)
		}
		raw = []byte(strings.TrimSpace(encoded))
		if len(raw) == 0 {
			return nil, errors.New("empty resultJson")
		}
	}
	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse resultJson: %w", err)
	}
	return result.ResultURLs, nil
}
