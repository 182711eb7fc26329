package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/digkill/SoraVideoBot/internal/models"
)

// Tribute events that grant videos.
var tributeActivating = map[string]bool{
	"new_subscription":     true,
	"new_donation":         true,
	"renewed_subscription": true,
}

func (s *PaymentService) createTributeSubscription(ctx context.Context, user *models.User, plan *models.Plan) (*Checkout, error) {
	priceRub := plan.PriceMinorUnits / 100
	payload := map[string]any{
		"subscription_name": plan.Title + " - SORA 2 Bot",
		"amount":            plan.PriceMinorUnits,
		"currency":          strings.ToLower(plan.Currency),
		"period":            "monthly",
		"description":       fmt.Sprintf("%s: %d videos per month", plan.Title, plan.Credits),
		"metadata": map[string]string{
			"user_id":      strconv.FormatInt(user.TelegramID, 10),
			"tariff":       plan.Code,
			"videos_count": strconv.Itoa(plan.Credits),
			"price_rub":    strconv.Itoa(priceRub),
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TributeAPIURL+"/subscriptions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tribute request: %w", err)
	}
	req.Header.Set("Api-Key", s.cfg.TributeAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tribute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tribute response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tribute error: status=%d body=%s", resp.StatusCode, truncate(raw, 512))
	}

	var parsed struct {
		ID         json.Number `json:"id"`
		WebAppLink string      `json:"web_app_link"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode tribute response: %w", err)
	}
	if parsed.WebAppLink == "" {
		return nil, fmt.Errorf("tribute response missing web_app_link")
	}
	return &Checkout{Provider: ProviderTribute, PaymentID: parsed.ID.String(), URL: parsed.WebAppLink, Plan: *plan}, nil
}

// VerifyTributeSignature checks the trbt-signature header: a hex HMAC-SHA256
// of the body keyed with the API key. Without a configured key nothing verifies.
func (s *PaymentService) VerifyTributeSignature(body []byte, signature string) bool {
	if s.cfg.TributeAPIKey == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.TributeAPIKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

func (s *PaymentService) HandleTributeWebhook(ctx context.Context, body []byte, signature string) (*Activation, error) {
	if s.cfg.TributeAPIKey == "" {
		s.metrics.Payments.WithLabelValues(ProviderTribute, "error").Inc()
		return nil, ErrPaymentsDisabled
	}
	if !s.VerifyTributeSignature(body, signature) {
		s.metrics.Payments.WithLabelValues(ProviderTribute, "bad_signature").Inc()
		return nil, ErrInvalidSignature
	}

	var evt struct {
		Name    string         `json:"name"`
		SentAt  string         `json:"sent_at"`
		Payload map[string]any `json:"payload"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&evt); err != nil {
		return nil, fmt.Errorf("parse tribute webhook: %w", err)
	}
	if !tributeActivating[evt.Name] {
		s.log.Info("tribute event ignored", "name", evt.Name)
		return s.ignored(ProviderTribute), nil
	}

	payload := evt.Payload
	meta, _ := payload["metadata"].(map[string]any)

	grant := Grant{
		UserID:     metaInt(meta, "user_id"),
		PlanCode:   metaString(meta, "tariff"),
		Provider:   ProviderTribute,
		RawPayload: string(body),
	}
	if grant.UserID == 0 {
		grant.UserID = metaInt(payload, "telegram_user_id")
	}
	if grant.PlanCode == "" {
		grant.PlanCode = metaString(meta, "plan")
	}
	grant.ProviderPaymentID = tributePaymentID(evt.Name, payload, body)

	plan, credits, err := s.plans.Resolve(ctx, grant.PlanCode, int(metaInt(meta, "videos_count")))
	if err != nil {
		s.metrics.Payments.WithLabelValues(ProviderTribute, "error").Inc()
		return nil, err
	}
	grant.Credits = credits

	switch priceRub := metaInt(meta, "price_rub"); {
	case priceRub > 0:
		grant.AmountPaid, grant.Currency = priceRub*100, "RUB"
	case plan != nil:
		grant.AmountPaid, grant.Currency = int64(plan.PriceMinorUnits), plan.Currency
	default:
		grant.AmountPaid = metaInt(payload, "amount")
		grant.Currency = strings.ToUpper(metaString(payload, "currency"))
	}

	return s.Activate(ctx, grant)
}

// tributePaymentID derives a stable id for an event so repeated deliveries
// collapse. Renewals of one subscription differ by their period end.
func tributePaymentID(name string, payload map[string]any, body []byte) string {
	for _, key := range []string{"payment_id", "transaction_id"} {
		if id := metaString(payload, key); id != "" {
			return id
		}
	}
	var parts []string
	for _, key := range []string{"subscription_id", "donation_request_id", "period_id", "expires_at", "created_at"} {
		if v := metaString(payload, key); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		return name + ":" + strings.Join(parts, ":")
	}
	sum := sha256.Sum256(body)
	return name + ":" + hex.EncodeToString(sum[:16])
}

func truncate(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
