package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digkill/SoraVideoBot/internal/config"
	"github.com/digkill/SoraVideoBot/internal/kie"
	"github.com/digkill/SoraVideoBot/internal/service"
)

const (
	maxBodyBytes    = 1 << 20
	callbackTimeout = 3 * time.Minute
)

// Dispatcher accepts chat updates delivered by webhook.
type Dispatcher interface {
	Dispatch(ctx context.Context, update tgbotapi.Update)
}

// TaskInspector looks up a generation task at the provider.
type TaskInspector interface {
	RecordInfo(ctx context.Context, taskID string) (*kie.TaskInfo, error)
}

type Deps struct {
	Generation *service.GenerationService
	Payments   *service.PaymentService
	Plans      *service.PlanService
	Ledger     *service.LedgerService
	Users      *service.UserService
	Messenger  service.Messenger
	Updates    Dispatcher
	Tasks      TaskInspector
	Gatherer   prometheus.Gatherer
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	deps     Deps
	router   *chi.Mux
}

func New(cfg config.Config, log *slog.Logger, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		addr:     cfg.HTTPListenAddr,
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
		log:      log,
		deps:     deps,
		router:   r,
	}

	r.Get("/health", s.handleHealth)
	r.Post("/sora_callback", s.handleGenerationCallback)
	r.Post("/webhook/yookassa", s.handleYooKassaWebhook)
	r.Post("/webhook/tribute", s.handleTributeWebhook)
	r.Post("/telegram/webhook", s.handleTelegramWebhook)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Route("/plans", func(r chi.Router) {
			r.Get("/", s.handleListPlans)
			r.Put("/{code}", s.handleUpdatePlan)
		})
		protected.Get("/tasks/{taskID}", s.handleTaskInfo)
		protected.Post("/users/{id}/grant", s.handleGrant)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: callbackTimeout + 15*time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleGenerationCallback settles a finished task. The provider gets 200
// whatever happened; a dropped connection does not abort delivery.
func (s *Server) handleGenerationCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.log.Error("read generation callback", "err", err)
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), callbackTimeout)
	defer cancel()
	result := s.deps.Generation.HandleCallback(ctx, body)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "result": string(result)})
}

func (s *Server) handleYooKassaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.log.Error("read yookassa webhook", "err", err)
	} else if _, err := s.deps.Payments.HandleYooKassaWebhook(context.WithoutCancel(r.Context()), body); err != nil {
		s.log.Error("yookassa webhook", "err", err, "body", string(body))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleTributeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.log.Error("read tribute webhook", "err", err)
	} else if _, err := s.deps.Payments.HandleTributeWebhook(context.WithoutCancel(r.Context()), body, r.Header.Get("trbt-signature")); err != nil {
		s.log.Error("tribute webhook", "err", err, "body", string(body))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Updates == nil {
		http.NotFound(w, r)
		return
	}
	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&update); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.deps.Updates.Dispatch(context.WithoutCancel(r.Context()), update)
	w.WriteHeader(http.StatusOK)
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}
	if s.deps.Messenger == nil {
		http.Error(w, "messenger not configured", http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	ids, err := s.deps.Users.ListTelegramIDs(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}

	count := 0
	for _, id := range ids {
		if _, err := s.deps.Messenger.SendText(ctx, id, req.Message); err != nil {
			s.log.Error("send broadcast", "user_id", id, "err", err)
			continue
		}
		count++
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  count,
		"total": len(ids),
	})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Plans.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var input service.UpdatePlanInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	plan, err := s.deps.Plans.Update(r.Context(), chi.URLParam(r, "code"), input)
	if err != nil {
		if errors.Is(err, service.ErrUnknownPlan) {
			http.Error(w, "plan not found", http.StatusNotFound)
			return
		}
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleTaskInfo(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		http.Error(w, "provider not configured", http.StatusServiceUnavailable)
		return
	}
	info, err := s.deps.Tasks.RecordInfo(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.log.Error("task info", "task_id", chi.URLParam(r, "taskID"), "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

type grantRequest struct {
	Plan    string `json:"plan"`
	Credits int    `json:"credits"`
}

// handleGrant tops up an account by hand, e.g. after a payment that never
// reached the webhook.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil || userID <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	plan, credits, err := s.deps.Plans.Resolve(ctx, req.Plan, req.Credits)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	grant := service.Grant{UserID: userID, PlanCode: req.Plan, Credits: credits}
	if plan == nil && req.Plan == "" {
		balance, err := s.deps.Ledger.Balance(ctx, userID)
		if err != nil {
			s.internalError(w, err)
			return
		}
		grant.PlanCode = balance.Plan
	}
	if err := s.deps.Ledger.TopUp(ctx, grant); err != nil {
		s.badRequest(w, err)
		return
	}
	balance, err := s.deps.Ledger.Balance(ctx, userID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.log.Info("manual grant", "user_id", userID, "plan", grant.PlanCode, "credits", credits)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":           userID,
		"plan":              balance.Plan,
		"credits_remaining": balance.CreditsRemaining,
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="sorabot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("http handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
