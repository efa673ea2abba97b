package bot

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"storefront/internal/catalog"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/purchase"
	"storefront/internal/storage"
)

// API is the part of tgbotapi.BotAPI used to talk to Telegram
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Purchases drives orders on behalf of chat users
type Purchases interface {
	CreateOrder(ctx context.Context, in purchase.OrderInput) (models.PendingTransaction, error)
	Verify(ctx context.Context, trackingID string) (purchase.VerifyResult, error)
	Cancel(ctx context.Context, trackingID string) error
	PaymentAddress(ctx context.Context, trackingID string) (string, models.PendingTransaction, error)
	ConfirmFromWebhook(ctx context.Context, event gateway.WebhookEvent) (purchase.VerifyResult, error)
}

// Relay answers lookup queries
type Relay interface {
	Query(ctx context.Context, q models.RelayQuery) (models.RelayResult, error)
}

// Options holds bot settings that do not come from collaborators
type Options struct {
	AdminUserIDs   []int64
	SupportContact string
	FreeLookups    int
	// WebhookSecret enables signature checks on gateway webhooks when not empty
	WebhookSecret string
}

// Deps are the services the bot dispatches to
type Deps struct {
	Catalog      *catalog.Catalog
	Purchases    Purchases
	Relay        Relay // nil disables /lookup
	Usage        storage.UsageCounter
	Entitlements storage.EntitlementStore
	AuditLog     storage.AuditLog
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	client *tgbotapi.BotAPI // nil in tests
	out    *Messenger

	catalog      *catalog.Catalog
	purchases    Purchases
	relay        Relay
	usage        storage.UsageCounter
	entitlements storage.EntitlementStore
	auditLog     storage.AuditLog

	admins         map[int64]bool
	supportContact string
	freeLookups    int
	webhookSecret  string

	states   map[int64]*ConversationState
	statesMu sync.RWMutex

	// updates from one user are handled one at a time
	userLocks map[int64]*userLock
	locksMu   sync.Mutex
	logger   *zap.Logger
}

// ConversationState tracks the state of multi-step commands
type ConversationState struct {
	Command string
	Step    int
	Data    map[string]string
}
