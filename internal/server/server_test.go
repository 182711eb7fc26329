package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SoraVideoBot/internal/config"
	"github.com/digkill/SoraVideoBot/internal/correlation"
	"github.com/digkill/SoraVideoBot/internal/kie"
	"github.com/digkill/SoraVideoBot/internal/metrics"
	"github.com/digkill/SoraVideoBot/internal/models"
	"github.com/digkill/SoraVideoBot/internal/pending"
	"github.com/digkill/SoraVideoBot/internal/repository"
	"github.com/digkill/SoraVideoBot/internal/repository/repotest"
	"github.com/digkill/SoraVideoBot/internal/service"
)

type recorder struct {
	mu    sync.Mutex
	texts map[int64][]string
}

func (r *recorder) SendText(_ context.Context, chatID int64, text string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.texts == nil {
		r.texts = make(map[int64][]string)
	}
	r.texts[chatID] = append(r.texts[chatID], text)
	return len(r.texts[chatID]), nil
}

func (r *recorder) SendVideoURL(context.Context, int64, string, string) error { return nil }

func (r *recorder) SendVideoBytes(context.Context, int64, string, []byte, string) error { return nil }

func (r *recorder) DeleteMessage(context.Context, int64, int) error { return nil }

type provider struct{}

func (provider) Submit(context.Context, kie.SubmitRequest) (string, kie.Status) {
	return "task-1", kie.StatusSuccess
}

func (provider) Download(context.Context, string) ([]byte, error) { return nil, errors.New("no") }

type dispatcher struct {
	updates []tgbotapi.Update
}

func (d *dispatcher) Dispatch(_ context.Context, u tgbotapi.Update) {
	d.updates = append(d.updates, u)
}

type tasks struct{}

func (tasks) RecordInfo(_ context.Context, taskID string) (*kie.TaskInfo, error) {
	if taskID == "missing" {
		return nil, errors.New("record not found")
	}
	return &kie.TaskInfo{TaskID: taskID, State: "success", ResultURLs: []string{"https://cdn/v.mp4"}}, nil
}

type fixture struct {
	srv        *httptest.Server
	payments   *repository.PaymentRepository
	ledger     *service.LedgerService
	generation *service.GenerationService
	messenger  *recorder
	updates    *dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := repotest.Open(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	yookassa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/yk-1" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":"yk-1","status":"succeeded","amount":{"value":"390.00","currency":"RUB"}}`))
	}))
	t.Cleanup(yookassa.Close)
	cfg := config.Config{
		AdminUsername: "admin", AdminPassword: "pw", PaymentCurrency: "RUB", TributeAPIKey: "tk",
		YooKassaShopID: "shop", YooKassaSecretKey: "secret", YooKassaAPIURL: yookassa.URL,
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	users := repository.NewUserRepository(db)
	ledger := service.NewLedgerService(log, users, "en")
	plans := service.NewPlanService(cfg, repository.NewPlanRepository(db))
	require.NoError(t, plans.EnsureDefaultPlans(context.Background()))
	generation := service.NewGenerationService(log, ledger, pending.NewMemoryStore(time.Hour), provider{}, repository.NewGenerationRepository(db), m)
	paymentRepo := repository.NewPaymentRepository(db)
	payments := service.NewPaymentService(cfg, log, paymentRepo, ledger, plans, m)
	rec := &recorder{}
	generation.SetMessenger(rec)
	payments.SetNotifier(rec)
	d := &dispatcher{}

	s := New(cfg, log, Deps{
		Generation: generation,
		Payments:   payments,
		Plans:      plans,
		Ledger:     ledger,
		Users:      service.NewUserService(users),
		Messenger:  rec,
		Updates:    d,
		Tasks:      tasks{},
		Gatherer:   reg,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, payments: paymentRepo, ledger: ledger, generation: generation, messenger: rec, updates: d}
}

func (f *fixture) do(t *testing.T, method, path, body string, auth bool) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if auth {
		req.SetBasicAuth("admin", "pw")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, string(raw)
}

func (f *fixture) credits(t *testing.T, userID int64) int {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b.CreditsRemaining
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestGenerationCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.TopUp(ctx, service.Grant{UserID: 3, PlanCode: "basic", Credits: 2}))
	_, err := f.generation.Begin(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, f.generation.ChooseOrientation(ctx, 3, models.OrientationVertical))
	_, err = f.generation.Submit(ctx, service.SubmitInput{UserID: 3, Description: "waves"})
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"code": 501,
		"data": map[string]any{"taskId": "task-1", "state": "fail", "failMsg": "boom", "param": correlation.Encode(3)},
	})
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, "/sora_callback", string(payload), false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"result":"provider_failed"`)
	assert.Equal(t, 2, f.credits(t, 3))

	resp, body = f.do(t, http.MethodPost, "/sora_callback", "garbage", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"result":"unresolved"`)
}

func TestPaymentWebhooksAlwaysAnswerOK(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.payments.Create(context.Background(), &models.Payment{
		TelegramID: 4, PlanCode: "trial", Provider: service.ProviderYooKassa, ProviderPaymentID: "yk-1",
		Currency: "RUB", Amount: 39000, Credits: 3, Status: models.PaymentStatusPending,
	}))

	yoo := `{"event":"payment.succeeded","object":{"id":"yk-1","status":"succeeded","amount":{"value":"390.00","currency":"RUB"},"metadata":{"user_id":"4","plan":"trial"}}}`
	resp, _ := f.do(t, http.MethodPost, "/webhook/yookassa", yoo, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, f.credits(t, 4))

	unknown := `{"event":"payment.succeeded","object":{"id":"yk-x","status":"succeeded","amount":{"value":"0.01","currency":"RUB"},"metadata":{"user_id":"5","plan":"maximum","credits":"1000"}}}`
	resp, _ = f.do(t, http.MethodPost, "/webhook/yookassa", unknown, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, f.credits(t, 5))

	resp, _ = f.do(t, http.MethodPost, "/webhook/yookassa", "not json", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	tribute := `{"name":"new_subscription","payload":{"subscription_id":1,"metadata":{"user_id":"4","tariff":"basic"}}}`
	resp, _ = f.do(t, http.MethodPost, "/webhook/tribute", tribute, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, f.credits(t, 4), "unsigned tribute event is rejected")
}

func TestTelegramWebhook(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/telegram/webhook", `{"update_id":7,"message":{"message_id":1,"text":"hi","chat":{"id":5}}}`, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, f.updates.updates, 1)
	assert.Equal(t, 7, f.updates.updates[0].UpdateID)

	resp, _ = f.do(t, http.MethodPost, "/telegram/webhook", "{", false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/sora_callback", "garbage", false)

	resp, body := f.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `sora_callbacks_total{result="unresolved"} 1`)
}

func TestAdminRequiresAuth(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/plans", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminPlans(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/plans", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var plans []models.Plan
	require.NoError(t, json.Unmarshal([]byte(body), &plans))
	assert.Len(t, plans, 3)

	resp, body = f.do(t, http.MethodPut, "/plans/basic", `{"credits":12}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var plan models.Plan
	require.NoError(t, json.Unmarshal([]byte(body), &plan))
	assert.Equal(t, 12, plan.Credits)

	resp, _ = f.do(t, http.MethodPut, "/plans/gold", `{"credits":12}`, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		_, _, err := f.ledger.GetOrCreate(ctx, repository.Profile{TelegramID: id})
		require.NoError(t, err)
	}

	resp, body := f.do(t, http.MethodPost, "/broadcast", `{"message":"new styles!"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"sent":2,"total":2}`, body)
	assert.Equal(t, []string{"new styles!"}, f.messenger.texts[1])

	resp, _ = f.do(t, http.MethodPost, "/broadcast", `{"message":" "}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminTaskInfo(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/tasks/abc", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"taskId":"abc"`)

	resp, _ = f.do(t, http.MethodGet, "/tasks/missing", "", true)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestAdminGrant(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/users/8/grant", `{"plan":"maximum"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"user_id":8,"plan":"maximum","credits_remaining":30}`, body)

	resp, body = f.do(t, http.MethodPost, "/users/8/grant", `{"credits":2}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"user_id":8,"plan":"maximum","credits_remaining":32}`, body)

	resp, _ = f.do(t, http.MethodPost, "/users/x/grant", `{"credits":2}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/users/8/grant", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
