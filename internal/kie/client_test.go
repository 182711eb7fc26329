package kie

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SoraVideoBot/internal/config"
	"github.com/digkill/SoraVideoBot/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		KIEAPIKey:         "secret",
		KIEBaseURL:        baseURL,
		KIEModel:          "sora-2-text-to-video",
		PublicURL:         "https://bot.example.com",
		GenerationTimeout: 2 * time.Second,
	}
}

func TestSubmit_Success(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/createTask", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"code":200,"msg":"ok","data":{"taskId":"task-1"}}`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), discardLogger())
	taskID, status := client.Submit(context.Background(), SubmitRequest{
		Prompt:      "a cat surfing",
		Orientation: models.OrientationHorizontal,
		Param:       `{"input":{"user_id":"5"}}`,
	})

	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, "task-1", taskID)
	assert.Equal(t, "sora-2-text-to-video", got["model"])
	assert.Equal(t, "https://bot.example.com/sora_callback", got["callBackUrl"])
	assert.Equal(t, `{"input":{"user_id":"5"}}`, got["param"])
	input := got["input"].(map[string]any)
	assert.Equal(t, "landscape", input["aspect_ratio"])
	assert.Equal(t, true, input["remove_watermark"])
	assert.Equal(t, "a cat surfing", input["prompt"])
}

func TestSubmit_Rejections(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"http error":     {http.StatusInternalServerError, `oops`},
		"envelope code":  {http.StatusOK, `{"code":402,"msg":"insufficient balance"}`},
		"empty task id":  {http.StatusOK, `{"code":200,"data":{"taskId":""}}`},
		"malformed body": {http.StatusOK, `not json`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			taskID, status := NewClient(testConfig(srv.URL), discardLogger()).Submit(context.Background(), SubmitRequest{Prompt: "x", Orientation: models.OrientationVertical})
			assert.Equal(t, StatusProviderRejected, status)
			assert.Empty(t, taskID)
		})
	}
}

func TestSubmit_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, status := NewClient(testConfig(url), discardLogger()).Submit(context.Background(), SubmitRequest{Prompt: "x", Orientation: models.OrientationVertical})
	assert.Equal(t, StatusNetworkError, status)
}

func TestSubmit_TimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.GenerationTimeout = 50 * time.Millisecond
	_, status := NewClient(cfg, discardLogger()).Submit(context.Background(), SubmitRequest{Prompt: "x", Orientation: models.OrientationVertical})
	assert.Equal(t, StatusNetworkError, status)
}

func TestSubmit_Misconfigured(t *testing.T) {
	noKey := testConfig("https://api.kie.ai")
	noKey.KIEAPIKey = ""
	_, status := NewClient(noKey, discardLogger()).Submit(context.Background(), SubmitRequest{Prompt: "x"})
	assert.Equal(t, StatusMisconfigured, status)

	noCallback := testConfig("https://api.kie.ai")
	noCallback.PublicURL = ""
	_, status = NewClient(noCallback, discardLogger()).Submit(context.Background(), SubmitRequest{Prompt: "x"})
	assert.Equal(t, StatusMisconfigured, status)
}

func TestRecordInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/recordInfo", r.URL.Path)
		assert.Equal(t, "task-9", r.URL.Query().Get("taskId"))
		_, _ = io.WriteString(w, `{"code":200,"data":{"taskId":"task-9","state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/v.mp4\"]}"}}`)
	}))
	defer srv.Close()

	info, err := NewClient(testConfig(srv.URL), discardLogger()).RecordInfo(context.Background(), "task-9")
	require.NoError(t, err)
	assert.Equal(t, "success", info.State)
	assert.Equal(t, []string{"https://cdn/v.mp4"}, info.ResultURLs)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), discardLogger())
	data, err := client.Download(context.Background(), srv.URL+"/video.mp4")
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(data))

	_, err = client.Download(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}
