package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/digkill/SoraVideoBot/internal/models"
)

type yooPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

func (s *PaymentService) createYooKassaPayment(ctx context.Context, user *models.User, plan *models.Plan) (*Checkout, error) {
	returnURL := s.cfg.YooKassaReturnURL
	if returnURL == "" {
		returnURL = "https://t.me"
	}

	payload := map[string]any{
		"amount": map[string]string{
			"value":    fmt.Sprintf("%d.%02d", plan.PriceMinorUnits/100, plan.PriceMinorUnits%100),
			"currency": plan.Currency,
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"capture":     true,
		"description": fmt.Sprintf("%s (%d videos)", plan.Title, plan.Credits),
		"metadata": map[string]string{
			"user_id": strconv.FormatInt(user.TelegramID, 10),
			"plan":    plan.Code,
			"credits": strconv.Itoa(plan.Credits),
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.YooKassaAPIURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("yookassa error: status=%d body=%s", resp.StatusCode, raw)
	}

	var parsed yooPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID == "" || parsed.Confirmation.URL == "" {
		return nil, fmt.Errorf("invalid yookassa response (missing id or confirmation url)")
	}

	record := &models.Payment{
		TelegramID:        user.TelegramID,
		PlanCode:          plan.Code,
		Provider:          ProviderYooKassa,
		ProviderPaymentID: parsed.ID,
		Currency:          plan.Currency,
		Amount:            int64(plan.PriceMinorUnits),
		Credits:           plan.Credits,
		Status:            models.PaymentStatusPending,
		RawPayload:        string(jsonMustMarshal(parsed)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	return &Checkout{Provider: ProviderYooKassa, PaymentID: parsed.ID, URL: parsed.Confirmation.URL, Plan: *plan}, nil
}

// HandleYooKassaWebhook activates a succeeded payment. Only payments created by
// CreatePayment are credited, with the user, plan and credits recorded then,
// after YooKassa itself confirms the payment and its amount. Other events only
// update the stored status.
func (s *PaymentService) HandleYooKassaWebhook(ctx context.Context, payload []byte) (*Activation, error) {
	var evt struct {
		Event  string `json:"event"`
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("parse webhook: %w", err)
	}
	if evt.Object.ID == "" {
		return nil, fmt.Errorf("webhook missing payment id")
	}

	if evt.Event != "payment.succeeded" {
		if evt.Object.Status != "" {
			if err := s.payments.UpdateStatus(ctx, ProviderYooKassa, evt.Object.ID, evt.Object.Status, string(payload)); err != nil {
				return nil, err
			}
		}
		return s.ignored(ProviderYooKassa), nil
	}

	record, err := s.payments.FindByProviderPayment(ctx, ProviderYooKassa, evt.Object.ID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		s.metrics.Payments.WithLabelValues(ProviderYooKassa, "error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownPayment, evt.Object.ID)
	}

	if err := s.confirmYooKassaPayment(ctx, record); err != nil {
		s.metrics.Payments.WithLabelValues(ProviderYooKassa, "error").Inc()
		return nil, err
	}

	return s.Activate(ctx, Grant{
		UserID:            record.TelegramID,
		PlanCode:          record.PlanCode,
		Credits:           record.Credits,
		Provider:          ProviderYooKassa,
		ProviderPaymentID: record.ProviderPaymentID,
		Currency:          record.Currency,
		AmountPaid:        record.Amount,
		RawPayload:        string(payload),
	})
}

// confirmYooKassaPayment asks YooKassa for the payment and checks it succeeded
// for the recorded amount.
func (s *PaymentService) confirmYooKassaPayment(ctx context.Context, record *models.Payment) error {
	if !s.cfg.YooKassaEnabled() {
		return ErrPaymentsDisabled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.YooKassaAPIURL+"/payments/"+url.PathEscape(record.ProviderPaymentID), nil)
	if err != nil {
		return fmt.Errorf("build yookassa request: %w", err)
	}
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("yookassa error: status=%d body=%s", resp.StatusCode, raw)
	}

	var remote yooPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		return fmt.Errorf("decode yookassa response: %w", err)
	}
	if remote.Status != "succeeded" {
		return fmt.Errorf("%w: %s is %q at yookassa", ErrPaymentMismatch, record.ProviderPaymentID, remote.Status)
	}
	if parseMinorUnits(remote.Amount.Value) != record.Amount || !strings.EqualFold(remote.Amount.Currency, record.Currency) {
		return fmt.Errorf("%w: %s paid %s %s, expected %d %s", ErrPaymentMismatch, record.ProviderPaymentID,
			remote.Amount.Value, remote.Amount.Currency, record.Amount, record.Currency)
	}
	return nil
}
