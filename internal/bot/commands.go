package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"storefront/internal/catalog"
	"storefront/internal/models"
	"storefront/internal/relay"
)

const welcomeText = `Welcome to the store! 🛒

Browse our software products and pay with crypto.
Purchases are delivered right here in the chat.

Commands:
/start - Show this menu
/lookup Name, State[, City] - Run a records lookup`

func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛍 Browse products", "browse"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💬 Support", "support"),
		),
	)
}

// handleStart shows welcome message and the main menu
func (b *Bot) handleStart(message *tgbotapi.Message) {
	msg := tgbotapi.NewMessage(message.Chat.ID, welcomeText)
	msg.ReplyMarkup = mainMenuKeyboard()
	b.sendMessage(msg)
}

// handleLookup runs a lookup from inline arguments or starts the lookup conversation
func (b *Bot) handleLookup(ctx context.Context, message *tgbotapi.Message) {
	if b.relay == nil {
		b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, "Lookups are currently unavailable."))
		return
	}

	if q, ok := parseLookupArgs(message.CommandArguments()); ok {
		b.runLookup(ctx, message.Chat.ID, message.From.ID, q)
		return
	}

	b.setState(message.From.ID, &ConversationState{
		Command: "lookup",
		Step:    1,
		Data:    make(map[string]string),
	})
	b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, "🔎 Please enter the full name to look up:"))
}

// parseLookupArgs parses "Name, State[, City]"
func parseLookupArgs(args string) (models.RelayQuery, bool) {
	parts := strings.Split(args, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return models.RelayQuery{}, false
	}

	q := models.RelayQuery{Name: parts[0], State: parts[1]}
	if len(parts) > 2 {
		q.City = parts[2]
	}
	return q, true
}

// runLookup enforces the free quota and relays the query.
// Quota and entitlement are keyed by chat id, the requester id orders are stored under.
func (b *Bot) runLookup(ctx context.Context, chatID, userID int64, q models.RelayQuery) {
	logger := b.logger.With(zap.Int64("chat_id", chatID), zap.Int64("user_id", userID))

	entitled, err := b.entitlements.HasEntitlement(ctx, chatID)
	if err != nil {
		logger.Error("Failed to check entitlement", zap.Error(err))
		b.sendMessage(tgbotapi.NewMessage(chatID, "Something went wrong. Please try again later."))
		return
	}

	consumed := false
	if !entitled {
		used, ok, err := b.usage.Consume(ctx, chatID, b.freeLookups)
		if err != nil {
			logger.Error("Failed to consume lookup", zap.Error(err))
			b.sendMessage(tgbotapi.NewMessage(chatID, "Something went wrong. Please try again later."))
			return
		}
		if !ok {
			b.sendUpsell(chatID)
			return
		}
		consumed = true
		logger.Info("Free lookup consumed", zap.Int("used", used), zap.Int("limit", b.freeLookups))
	}

	b.sendMessage(tgbotapi.NewMessage(chatID, "⏳ Searching, this can take up to 30 seconds..."))

	res, err := b.relay.Query(ctx, q)
	if err != nil {
		if consumed {
			if refundErr := b.usage.Refund(ctx, chatID); refundErr != nil {
				logger.Warn("Failed to refund lookup", zap.Error(refundErr))
			}
		}

		text := "❌ Lookup failed. Please try again later."
		switch {
		case errors.Is(err, relay.ErrTimeout):
			text = "❌ No response from the lookup service. Please try again later."
		case errors.Is(err, relay.ErrBusy):
			text = "⏳ Another lookup is in progress. Please try again in a minute."
		case errors.Is(err, relay.ErrUnavailable):
			text = "Lookups are currently unavailable. Please try again later."
		}
		logger.Warn("Lookup failed", zap.Error(err))
		b.sendMessage(tgbotapi.NewMessage(chatID, text))
		return
	}

	b.out.SendText(ctx, chatID, res.Text)
	if res.HasFile() {
		if err := b.out.SendBytes(ctx, chatID, res.FileName, res.File, "📎 Full results"); err != nil {
			logger.Error("Failed to send lookup file", zap.Error(err))
		}
	}
}

func (b *Bot) sendUpsell(chatID int64) {
	text := fmt.Sprintf("You've used your %d free lookup(s).", b.freeLookups)
	msg := tgbotapi.NewMessage(chatID, text)

	if p, ok := b.catalog.Product(catalog.EntitlementProductID); ok {
		msg.Text += fmt.Sprintf("\n\nGet %s for %s.", p.Name, p.PriceLabel)
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔓 "+p.Name, "product_"+p.ID),
			),
		)
	}
	b.sendMessage(msg)
}

// handleAudit shows the last 10 audit events to operators
func (b *Bot) handleAudit(ctx context.Context, message *tgbotapi.Message) {
	if !b.admins[message.From.ID] {
		b.logger.Warn("Unauthorized audit attempt",
			zap.Int64("user_id", message.From.ID),
			zap.String("username", message.From.UserName),
		)
		b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, "Unknown command. Use /start to see the menu."))
		return
	}

	events, err := b.auditLog.Recent(ctx, 10)
	if err != nil {
		b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, fmt.Sprintf("Error: %v", err)))
		return
	}

	if len(events) == 0 {
		b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, "No audit events recorded yet."))
		return
	}

	var text strings.Builder
	text.WriteString("Last audit events:\n\n")
	for i, event := range events {
		text.WriteString(fmt.Sprintf("%d. %s %s - %s (%d) %s\n",
			i+1,
			event.CreatedAt.Format("2006-01-02 15:04"),
			event.Kind,
			event.ProductID,
			event.RequesterID,
			event.GatewayTrackerID))
	}

	b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, text.String()))
}
