package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SoraVideoBot/internal/config"
	"github.com/digkill/SoraVideoBot/internal/correlation"
	"github.com/digkill/SoraVideoBot/internal/kie"
	"github.com/digkill/SoraVideoBot/internal/metrics"
	"github.com/digkill/SoraVideoBot/internal/models"
	"github.com/digkill/SoraVideoBot/internal/pending"
	"github.com/digkill/SoraVideoBot/internal/repository"
	"github.com/digkill/SoraVideoBot/internal/repository/repotest"
)

type fakeProvider struct {
	mu          sync.Mutex
	status      kie.Status
	nextID      int
	submits     []kie.SubmitRequest
	data        []byte
	downloadErr error
}

func (p *fakeProvider) Submit(_ context.Context, req kie.SubmitRequest) (string, kie.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, req)
	if p.status != kie.StatusSuccess {
		return "", p.status
	}
	p.nextID++
	return fmt.Sprintf("task-%d", p.nextID), kie.StatusSuccess
}

func (p *fakeProvider) Download(_ context.Context, _ string) ([]byte, error) {
	if p.downloadErr != nil {
		return nil, p.downloadErr
	}
	return p.data, nil
}

type sentText struct {
	ChatID int64
	Text   string
}

type fakeMessenger struct {
	mu         sync.Mutex
	nextID     int
	texts      []sentText
	videoURLs  []string
	uploads    int
	deleted    []int
	failURL    bool
	failUpload bool
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.texts = append(m.texts, sentText{ChatID: chatID, Text: text})
	return m.nextID, nil
}

func (m *fakeMessenger) SendVideoURL(_ context.Context, _ int64, url, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failURL {
		return errors.New("wrong file identifier/http url specified")
	}
	m.videoURLs = append(m.videoURLs, url)
	return nil
}

func (m *fakeMessenger) SendVideoBytes(_ context.Context, _ int64, _ string, _ []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpload {
		return errors.New("request entity too large")
	}
	m.uploads++
	return nil
}

func (m *fakeMessenger) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *fakeMessenger) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1].Text
}

type fakeArchive struct{ url string }

func (a fakeArchive) UploadVideo(context.Context, int64, []byte) (string, error) {
	return a.url, nil
}

type harness struct {
	db         *sql.DB
	cfg        config.Config
	users      *repository.UserRepository
	payRepo    *repository.PaymentRepository
	gens       *repository.GenerationRepository
	ledger     *LedgerService
	plans      *PlanService
	store      *pending.MemoryStore
	provider   *fakeProvider
	messenger  *fakeMessenger
	metrics    *metrics.Metrics
	generation *GenerationService
	payments   *PaymentService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := repotest.Open(t)
	log := discardLogger()

	h := &harness{
		db:        db,
		cfg:       config.Config{PaymentCurrency: "RUB", PaymentTimeout: 2 * time.Second},
		users:     repository.NewUserRepository(db),
		payRepo:   repository.NewPaymentRepository(db),
		gens:      repository.NewGenerationRepository(db),
		store:     pending.NewMemoryStore(time.Hour),
		provider:  &fakeProvider{status: kie.StatusSuccess, data: []byte("mp4")},
		messenger: &fakeMessenger{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	h.ledger = NewLedgerService(log, h.users, "en")
	h.plans = NewPlanService(h.cfg, repository.NewPlanRepository(db))
	require.NoError(t, h.plans.EnsureDefaultPlans(context.Background()))

	h.generation = NewGenerationService(log, h.ledger, h.store, h.provider, h.gens, h.metrics)
	h.generation.SetMessenger(h.messenger)
	h.payments = h.newPayments(h.cfg)
	return h
}

func (h *harness) newPayments(cfg config.Config) *PaymentService {
	p := NewPaymentService(cfg, discardLogger(), h.payRepo, h.ledger, h.plans, h.metrics)
	p.SetNotifier(h.messenger)
	return p
}

func (h *harness) deadLetters(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM callback_dead_letters`).Scan(&n))
	return n
}

func profile(id int64) repository.Profile {
	return repository.Profile{TelegramID: id}
}

func (h *harness) fund(t *testing.T, userID int64, credits int) {
	t.Helper()
	_, _, err := h.ledger.GetOrCreate(context.Background(), profile(userID))
	require.NoError(t, err)
	require.NoError(t, h.ledger.TopUp(context.Background(), Grant{UserID: userID, PlanCode: "basic", Credits: credits}))
}

func (h *harness) credits(t *testing.T, userID int64) int {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b.CreditsRemaining
}

// submitted drives a user through the chat flow up to a submitted task.
func (h *harness) submitted(t *testing.T, userID int64, messageID int) *Outcome {
	t.Helper()
	ctx := context.Background()
	_, err := h.generation.Begin(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, h.generation.ChooseOrientation(ctx, userID, models.OrientationVertical))
	out, err := h.generation.Submit(ctx, SubmitInput{UserID: userID, Description: "a fox in the snow", MessageID: messageID})
	require.NoError(t, err)
	return out
}

func callbackBody(t *testing.T, userID int64, taskID, state string, extra map[string]any) []byte {
	t.Helper()
	data := map[string]any{
		"taskId": taskID,
		"state":  state,
		"param":  correlation.Encode(userID),
	}
	for k, v := range extra {
		data[k] = v
	}
	code := 200
	if state != kie.StateSuccess {
		code = 501
	}
	raw, err := json.Marshal(map[string]any{"code": code, "msg": "done", "data": data})
	require.NoError(t, err)
	return raw
}

func successBody(t *testing.T, userID int64, taskID string) []byte {
	return callbackBody(t, userID, taskID, kie.StateSuccess, map[string]any{
		"resultJson": `{"resultUrls":["https://cdn.example.com/video.mp4"]}`,
	})
}
