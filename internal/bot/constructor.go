package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// NewAPI connects to the Bot API with the given token
func NewAPI(token string, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))
	return api, nil
}

// NewBot creates a new Telegram bot. client may be nil when updates are fed
// through HandleWebhookUpdate only.
func NewBot(client *tgbotapi.BotAPI, out *Messenger, deps Deps, opts Options, logger *zap.Logger) *Bot {
	admins := make(map[int64]bool)
	for _, id := range opts.AdminUserIDs {
		admins[id] = true
	}

	return &Bot{
		client:         client,
		out:            out,
		catalog:        deps.Catalog,
		purchases:      deps.Purchases,
		relay:          deps.Relay,
		usage:          deps.Usage,
		entitlements:   deps.Entitlements,
		auditLog:       deps.AuditLog,
		admins:         admins,
		supportContact: opts.SupportContact,
		freeLookups:    opts.FreeLookups,
		webhookSecret:  opts.WebhookSecret,
		states:         make(map[int64]*ConversationState),
		userLocks:      make(map[int64]*userLock),
		logger:         logger,
	}
}
