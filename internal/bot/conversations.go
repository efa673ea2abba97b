package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"storefront/internal/models"
)

// handleConversation processes multi-step conversations
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	userID := message.From.ID

	switch state.Command {
	case "lookup":
		b.handleLookupConversation(ctx, message, state)
	}

	// Clean up completed conversations
	if state.Step == -1 {
		b.clearState(userID)
	}
}

// handleLookupConversation collects name, state and an optional city
func (b *Bot) handleLookupConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	text := strings.TrimSpace(message.Text)

	switch state.Step {
	case 1: // Waiting for name
		if text == "" {
			b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, "Please enter a name:"))
			return
		}
		state.Data["name"] = text
		state.Step = 2
		b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, "📍 Enter the state (e.g. CA):"))

	case 2: // Waiting for state
		if text == "" {
			b.sendMessage(tgbotapi.NewMessage(message.Chat.ID, "Please enter a state:"))
			return
		}
		state.Data["state"] = text
		state.Step = 3

		msg := tgbotapi.NewMessage(message.Chat.ID, "🏙 Enter the city, or send \"skip\":")
		b.sendMessage(msg)

	case 3: // Waiting for optional city
		city := text
		if strings.EqualFold(city, "skip") || city == "-" {
			city = ""
		}
		state.Step = -1 // Mark conversation as complete

		b.runLookup(ctx, message.Chat.ID, message.From.ID, models.RelayQuery{
			Name:  state.Data["name"],
			State: state.Data["state"],
			City:  city,
		})
	}
}
