package bot

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage",
				zap.Any("panic", r),
				zap.Int64("chat_id", message.Chat.ID),
			)
			msg := tgbotapi.NewMessage(message.Chat.ID, "An error occurred while processing your request. Please try again.")
			b.sendMessage(msg)
		}
	}()

	if message.From == nil {
		return
	}
	userID := message.From.ID

	unlock := b.lockUser(userID)
	defer unlock()

	// Check if user is in a conversation
	if state, ok := b.getState(userID); ok {
		// If conversation is already complete (Step == -1), clean it up and process as new command
		if state.Step == -1 {
			b.clearState(userID)
		} else if message.IsCommand() {
			// Allow any command to interrupt/cancel an ongoing conversation
			b.clearState(userID)
		} else {
			b.handleConversation(ctx, message, state)
			return
		}
	}

	if !message.IsCommand() {
		return
	}

	switch message.Command() {
	case "start", "menu":
		b.handleStart(message)
	case "lookup":
		b.handleLookup(ctx, message)
	case "audit":
		b.handleAudit(ctx, message)
	default:
		msg := tgbotapi.NewMessage(message.Chat.ID, "Unknown command. Use /start to see the menu.")
		b.sendMessage(msg)
	}
}

// handleCallbackQuery processes inline keyboard button clicks.
// Payloads follow action[_argument[|argument2]].
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery",
				zap.Any("panic", r),
				zap.String("callback_data", query.Data),
			)
		}
	}()

	// Answer the callback query to remove loading state
	b.out.AnswerCallback(query.ID, "")

	if query.Message == nil {
		return
	}

	action, args := parseCallback(query.Data)
	switch action {
	case "menu":
		b.handleMenuCallback(query)
	case "browse":
		b.handleBrowseCallback(query)
	case "support":
		b.handleSupportCallback(query)
	case "product":
		b.handleProductCallback(query, args)
	case "purchase":
		b.handlePurchaseCallback(query, args)
	case "currency":
		b.handleCurrencyCallback(ctx, query, args)
	case "verify":
		b.handleVerifyCallback(ctx, query, args)
	case "cancel":
		b.handleCancelCallback(ctx, query, args)
	case "copy":
		b.handleCopyCallback(ctx, query, args)
	default:
		b.logger.Warn("Unknown callback", zap.String("callback_data", query.Data))
	}
}

// parseCallback splits a payload at the first underscore; the remainder is split on '|'
func parseCallback(data string) (string, []string) {
	action, rest, found := strings.Cut(data, "_")
	if !found || rest == "" {
		return action, nil
	}
	return action, strings.Split(rest, "|")
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// lockUser serializes handling for one user; the returned func releases it
func (b *Bot) lockUser(userID int64) func() {
	b.locksMu.Lock()
	l, ok := b.userLocks[userID]
	if !ok {
		l = &userLock{}
		b.userLocks[userID] = l
	}
	l.refs++
	b.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		b.locksMu.Lock()
		defer b.locksMu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(b.userLocks, userID)
		}
	}
}

func (b *Bot) getState(userID int64) (*ConversationState, bool) {
	b.statesMu.RLock()
	defer b.statesMu.RUnlock()
	state, ok := b.states[userID]
	return state, ok
}

func (b *Bot) setState(userID int64, state *ConversationState) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	b.states[userID] = state
}

func (b *Bot) clearState(userID int64) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	delete(b.states, userID)
}
