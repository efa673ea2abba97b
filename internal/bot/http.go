package bot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"storefront/internal/delivery"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/purchase"
)

const maxWebhookBody = 1 << 20

// HTTPServer handles inbound webhooks from Telegram and the payment gateway
type HTTPServer struct {
	bot *Bot
}

// NewHTTPServer creates the webhook handlers
func NewHTTPServer(bot *Bot) *HTTPServer {
	return &HTTPServer{bot: bot}
}

// RegisterRoutes registers webhook routes on the provided router
func (hs *HTTPServer) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/exnode", hs.handleGatewayWebhook)
	r.Post("/telegram-webhook", hs.handleTelegramWebhook)
}

// handleTelegramWebhook accepts an update and processes it in the background
func (hs *HTTPServer) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&update); err != nil {
		hs.bot.logger.Warn("Error decoding webhook update", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Process update in background to respond quickly to Telegram
	go hs.bot.HandleWebhookUpdate(context.WithoutCancel(r.Context()), update)

	w.WriteHeader(http.StatusOK)
}

// handleGatewayWebhook confirms payments pushed by the gateway
func (hs *HTTPServer) handleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	logger := hs.bot.logger

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if hs.bot.webhookSecret != "" {
		ts := r.Header.Get("Timestamp")
		sig := r.Header.Get("Signature")
		if ts == "" || sig == "" || !gateway.Verify(hs.bot.webhookSecret, ts, body, sig) {
			logger.Warn("Rejected gateway webhook with bad signature", zap.String("remote_addr", r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
	}

	var event gateway.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.ClientTransactionID == "" {
		logger.Warn("Invalid gateway webhook payload", zap.ByteString("body", body))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	logger.Info("Gateway webhook received",
		zap.String("tracking_id", event.ClientTransactionID),
		zap.String("status", event.Status),
	)

	// delivery must finish even if the gateway hangs up after the claim
	ctx := context.WithoutCancel(r.Context())
	res, err := hs.bot.purchases.ConfirmFromWebhook(ctx, event)
	if err != nil {
		logger.Error("Failed to process gateway webhook", zap.Error(err), zap.String("tracking_id", event.ClientTransactionID))
		status := http.StatusInternalServerError
		if _, _, parseErr := models.ParseTrackingID(event.ClientTransactionID); parseErr != nil {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": "processing failed"})
		return
	}

	if res.Outcome == purchase.OutcomeDelivered && res.DeliveryErr != nil && !errors.Is(res.DeliveryErr, delivery.ErrAssetMissing) {
		hs.bot.out.SendText(ctx, res.Transaction.RequesterID,
			"✅ Payment confirmed, but delivery failed. Please contact "+hs.bot.supportContact+
				" with tracking ID "+res.Transaction.TrackingID+".")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": res.Outcome.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
