package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/catalog"
	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/purchase"
	"storefront/internal/relay"
	"storefront/internal/storage/memory"
)

// Note: tgbotapi.BotAPI is replaced by a recording fake, so tests inspect
// what would have been sent to Telegram

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) lastText() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type fakePurchases struct {
	mu        sync.Mutex
	order     models.PendingTransaction
	orderErr  error
	verify    purchase.VerifyResult
	verifyErr error
	cancelErr error
	addr      string
	addrErr   error
	webhook   purchase.VerifyResult
	events    []gateway.WebhookEvent
	eventErrs []error
	inputs    []purchase.OrderInput
}

func (f *fakePurchases) CreateOrder(_ context.Context, in purchase.OrderInput) (models.PendingTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return f.order, f.orderErr
}

func (f *fakePurchases) Verify(context.Context, string) (purchase.VerifyResult, error) {
	return f.verify, f.verifyErr
}

func (f *fakePurchases) Cancel(context.Context, string) error { return f.cancelErr }

func (f *fakePurchases) PaymentAddress(context.Context, string) (string, models.PendingTransaction, error) {
	return f.addr, models.PendingTransaction{Currency: "USDTTRC"}, f.addrErr
}

func (f *fakePurchases) ConfirmFromWebhook(ctx context.Context, event gateway.WebhookEvent) (purchase.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.eventErrs = append(f.eventErrs, ctx.Err())
	return f.webhook, nil
}

type fakeRelay struct {
	mu      sync.Mutex
	queries []models.RelayQuery
	result  models.RelayResult
	err     error
}

func (f *fakeRelay) Query(_ context.Context, q models.RelayQuery) (models.RelayResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.result, f.err
}

type fixture struct {
	bot       *Bot
	api       *fakeAPI
	purchases *fakePurchases
	relay     *fakeRelay
	store     *memory.Store
	audit     *memory.AuditLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := &fakeAPI{}
	purchases := &fakePurchases{}
	rel := &fakeRelay{result: models.RelayResult{Text: "Found 1 record"}}
	store := memory.New()
	log := memory.NewAuditLog(10)

	b := NewBot(nil, NewMessenger(api, zap.NewNop()), Deps{
		Catalog:      catalog.Default(),
		Purchases:    purchases,
		Relay:        rel,
		Usage:        store,
		Entitlements: store,
		AuditLog:     log,
	}, Options{
		AdminUserIDs:   []int64{1},
		SupportContact: "@help",
		FreeLookups:    1,
	}, zap.NewNop())

	return &fixture{bot: b, api: api, purchases: purchases, relay: rel, store: store, audit: log}
}

func commandMessage(userID int64, text string) *tgbotapi.Message {
	cmd, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: userID, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func textMessage(userID int64, body string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: body,
	}
}

func callback(userID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: userID, UserName: "alice"},
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 77, Chat: &tgbotapi.Chat{ID: userID}},
	}
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data   string
		action string
		args   []string
	}{
		{"browse", "browse", nil},
		{"product_starter_bundle", "product", []string{"starter_bundle"}},
		{"currency_api_toolkit|USDTTRC", "currency", []string{"api_toolkit", "USDTTRC"}},
		{"verify_starter_bundle_1700000000000_42", "verify", []string{"starter_bundle_1700000000000_42"}},
		{"cancel_", "cancel", nil},
	}
	for _, tt := range tests {
		action, args := parseCallback(tt.data)
		assert.Equal(t, tt.action, action, tt.data)
		assert.Equal(t, tt.args, args, tt.data)
	}
}

func TestParseLookupArgs(t *testing.T) {
	q, ok := parseLookupArgs("Jane Doe, OR, Portland")
	require.True(t, ok)
	assert.Equal(t, models.RelayQuery{Name: "Jane Doe", State: "OR", City: "Portland"}, q)

	q, ok = parseLookupArgs(" Jane Doe ,CA")
	require.True(t, ok)
	assert.Equal(t, models.RelayQuery{Name: "Jane Doe", State: "CA"}, q)

	_, ok = parseLookupArgs("Jane Doe")
	assert.False(t, ok)
	_, ok = parseLookupArgs("")
	assert.False(t, ok)
}

func TestBot_Start(t *testing.T) {
	f := newFixture(t)
	f.bot.handleMessage(context.Background(), commandMessage(5, "/start"))

	require.Len(t, f.api.sent, 1)
	msg := f.api.sent[0].(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "Welcome")
	markup := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	assert.Equal(t, "browse", *markup.InlineKeyboard[0][0].CallbackData)
}

func TestBot_PurchaseShowsAllCurrencies(t *testing.T) {
	f := newFixture(t)
	f.bot.handleCallbackQuery(context.Background(), callback(5, "purchase_starter_bundle"))

	edit := f.api.sent[0].(tgbotapi.EditMessageTextConfig)
	var buttons []string
	for _, row := range edit.ReplyMarkup.InlineKeyboard {
		for _, btn := range row {
			buttons = append(buttons, *btn.CallbackData)
		}
	}
	assert.Contains(t, buttons, "currency_starter_bundle|USDTTRC")
	assert.Contains(t, buttons, "currency_starter_bundle|LTC")
	assert.Len(t, buttons, len(catalog.Currencies())+1)
}

func TestBot_CurrencyCreatesOrder(t *testing.T) {
	f := newFixture(t)
	f.purchases.order = models.PendingTransaction{
		TrackingID: "starter_bundle_1700000000000_5",
		ProductID:  "starter_bundle",
		Amount:     decimal.RequireFromString("150"),
		Currency:   "BTC",
		PaymentURL: "https://pay.example/x",
		Status:     models.StatusPending,
	}

	f.bot.handleCallbackQuery(context.Background(), callback(5, "currency_starter_bundle|BTC"))

	require.Len(t, f.purchases.inputs, 1)
	assert.Equal(t, purchase.OrderInput{ProductID: "starter_bundle", Currency: "BTC", RequesterID: 5, Username: "alice"}, f.purchases.inputs[0])

	last := f.api.sent[len(f.api.sent)-1].(tgbotapi.EditMessageTextConfig)
	assert.Contains(t, last.Text, "starter_bundle_1700000000000_5")
	assert.Contains(t, last.Text, "$150.00")
	assert.Equal(t, "https://pay.example/x", *last.ReplyMarkup.InlineKeyboard[0][0].URL)
	assert.Equal(t, "verify_starter_bundle_1700000000000_5", *last.ReplyMarkup.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "cancel_starter_bundle_1700000000000_5", *last.ReplyMarkup.InlineKeyboard[2][0].CallbackData)
}

func TestBot_CurrencyOrderFailure(t *testing.T) {
	f := newFixture(t)
	f.purchases.orderErr = &gateway.APIError{StatusCode: 401, Body: "bad key"}

	f.bot.handleCallbackQuery(context.Background(), callback(5, "currency_starter_bundle|BTC"))

	assert.Contains(t, f.api.lastText(), "@help")
	assert.NotContains(t, f.api.lastText(), "bad key")
}

func TestBot_VerifyOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result purchase.VerifyResult
		err    error
		want   string
	}{
		{"not found", purchase.VerifyResult{}, purchase.ErrNotFound, "Order not found"},
		{"pending", purchase.VerifyResult{Outcome: purchase.OutcomePending}, nil, "not received yet"},
		{"completed", purchase.VerifyResult{Outcome: purchase.OutcomeAlreadyCompleted}, nil, "already been completed"},
		{"unrecognized", purchase.VerifyResult{Outcome: purchase.OutcomeUnrecognized, GatewayStatus: "EXPIRED"}, nil, "EXPIRED"},
		{"gateway down", purchase.VerifyResult{}, gateway.ErrNetwork, "try again"},
		{"delivery failed", purchase.VerifyResult{Outcome: purchase.OutcomeDelivered, DeliveryErr: errors.New("send failed")}, nil, "delivery failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.purchases.verify, f.purchases.verifyErr = tt.result, tt.err

			f.bot.handleCallbackQuery(context.Background(), callback(5, "verify_starter_bundle_1_5"))
			assert.Contains(t, f.api.lastText(), tt.want)
		})
	}
}

func TestBot_VerifyDeliveredSendsNothingExtra(t *testing.T) {
	f := newFixture(t)
	f.purchases.verify = purchase.VerifyResult{Outcome: purchase.OutcomeDelivered}

	f.bot.handleCallbackQuery(context.Background(), callback(5, "verify_starter_bundle_1_5"))
	assert.Empty(t, f.api.sent)
}

func TestBot_CancelDeletesOrderMessage(t *testing.T) {
	f := newFixture(t)
	f.bot.handleCallbackQuery(context.Background(), callback(5, "cancel_starter_bundle_1_5"))

	var deleted bool
	for _, r := range f.api.requests {
		if d, ok := r.(tgbotapi.DeleteMessageConfig); ok {
			deleted = true
			assert.Equal(t, 77, d.MessageID)
		}
	}
	assert.True(t, deleted)
	assert.Contains(t, f.api.lastText(), "Order cancelled")
}

func TestBot_CancelCompleted(t *testing.T) {
	f := newFixture(t)
	f.purchases.cancelErr = purchase.ErrAlreadyCompleted
	f.bot.handleCallbackQuery(context.Background(), callback(5, "cancel_starter_bundle_1_5"))
	assert.Contains(t, f.api.lastText(), "already paid")
}

func TestBot_CopyAddress(t *testing.T) {
	f := newFixture(t)
	f.purchases.addr = "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE"
	f.bot.handleCallbackQuery(context.Background(), callback(5, "copy_starter_bundle_1_5"))
	assert.Equal(t, "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE", f.api.lastText())

	f.purchases.addr, f.purchases.addrErr = "", purchase.ErrNoAddress
	f.bot.handleCallbackQuery(context.Background(), callback(5, "copy_starter_bundle_1_5"))
	assert.Contains(t, f.api.lastText(), "not available yet")
}

func TestBot_LookupConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := int64(123)

	f.bot.handleMessage(ctx, commandMessage(userID, "/lookup"))
	state, ok := f.bot.getState(userID)
	require.True(t, ok)
	assert.Equal(t, "lookup", state.Command)
	assert.Equal(t, 1, state.Step)

	f.bot.handleMessage(ctx, textMessage(userID, "Jane Doe"))
	assert.Equal(t, 2, state.Step)

	f.bot.handleMessage(ctx, textMessage(userID, "OR"))
	assert.Equal(t, 3, state.Step)

	f.bot.handleMessage(ctx, textMessage(userID, "skip"))
	_, ok = f.bot.getState(userID)
	assert.False(t, ok, "conversation should be cleaned up")

	require.Len(t, f.relay.queries, 1)
	assert.Equal(t, models.RelayQuery{Name: "Jane Doe", State: "OR"}, f.relay.queries[0])
	assert.Equal(t, "Found 1 record", f.api.lastText())
}

func TestBot_LookupSendsFile(t *testing.T) {
	f := newFixture(t)
	f.relay.result = models.RelayResult{Text: "see file", File: []byte("{}"), FileName: "results.json"}

	f.bot.handleMessage(context.Background(), commandMessage(9, "/lookup Jane Doe, OR, Portland"))

	last := f.api.sent[len(f.api.sent)-1].(tgbotapi.DocumentConfig)
	assert.Equal(t, "results.json", last.File.(tgbotapi.FileBytes).Name)
	assert.Equal(t, models.RelayQuery{Name: "Jane Doe", State: "OR", City: "Portland"}, f.relay.queries[0])
}

func TestBot_LookupQuotaAndEntitlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleMessage(ctx, commandMessage(9, "/lookup Jane Doe, OR"))
	assert.Equal(t, "Found 1 record", f.api.lastText())

	f.bot.handleMessage(ctx, commandMessage(9, "/lookup Jane Doe, OR"))
	assert.Contains(t, f.api.lastText(), "free lookup")
	assert.Len(t, f.relay.queries, 1)

	require.NoError(t, f.store.Grant(ctx, 9))
	f.bot.handleMessage(ctx, commandMessage(9, "/lookup Jane Doe, OR"))
	assert.Len(t, f.relay.queries, 2)
}

func TestBot_LookupTimeoutRefunds(t *testing.T) {
	f := newFixture(t)
	f.relay.err = relay.ErrTimeout

	f.bot.handleMessage(context.Background(), commandMessage(9, "/lookup Jane Doe, OR"))
	assert.Contains(t, f.api.lastText(), "No response")

	used, err := f.store.Usage(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestBot_AuditAdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.audit.Record(ctx, models.AuditEvent{
		ID:          "e1",
		Kind:        models.AuditDelivered,
		ProductID:   "starter_bundle",
		RequesterID: 42,
		CreatedAt:   time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC),
	}))

	f.bot.handleMessage(ctx, commandMessage(2, "/audit"))
	assert.Contains(t, f.api.lastText(), "Unknown command")

	f.bot.handleMessage(ctx, commandMessage(1, "/audit"))
	assert.Contains(t, f.api.lastText(), "delivered - starter_bundle (42)")
}

func TestBot_CommandInterruptsConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleMessage(ctx, commandMessage(7, "/lookup"))
	f.bot.handleMessage(ctx, commandMessage(7, "/start"))

	_, ok := f.bot.getState(7)
	assert.False(t, ok)
	assert.Contains(t, f.api.lastText(), "Welcome")
}

func newRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	NewHTTPServer(f.bot).RegisterRoutes(r)
	return r
}

func TestHTTP_GatewayWebhook(t *testing.T) {
	f := newFixture(t)
	f.purchases.webhook = purchase.VerifyResult{Outcome: purchase.OutcomeDelivered}

	body := `{"client_transaction_id":"starter_bundle_1700000000000_42","status":"paid"}`
	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/exnode", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"delivered"}`, rec.Body.String())
	require.Len(t, f.purchases.events, 1)
	assert.Equal(t, "paid", f.purchases.events[0].Status)
}

func TestHTTP_GatewayWebhookSignature(t *testing.T) {
	f := newFixture(t)
	f.bot.webhookSecret = "secret"
	f.purchases.webhook = purchase.VerifyResult{Outcome: purchase.OutcomeIgnored}
	body := []byte(`{"client_transaction_id":"starter_bundle_1700000000000_42","status":"pending"}`)

	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/exnode", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.purchases.events)

	req := httptest.NewRequest(http.MethodPost, "/webhook/exnode", bytes.NewReader(body))
	req.Header.Set("Timestamp", "1700000000")
	req.Header.Set("Signature", gateway.Sign("secret", "1700000000", body))
	rec = httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.purchases.events, 1)
}

func TestHTTP_GatewayWebhookBadPayload(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/exnode", strings.NewReader(`{"status":"paid"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_TelegramWebhook(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	update := `{"update_id":1,"message":{"message_id":1,"from":{"id":5},"chat":{"id":5},"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`
	rec = httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(update)))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Eventually(t, func() bool {
		return strings.Contains(f.api.lastText(), "Welcome")
	}, time.Second, 10*time.Millisecond)
}

func TestBot_ConcurrentConversationMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.handleMessage(ctx, commandMessage(7, "/lookup"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.bot.HandleWebhookUpdate(ctx, tgbotapi.Update{Message: textMessage(7, fmt.Sprintf("answer %d", i))})
		}(i)
	}
	wg.Wait()

	_, ok := f.bot.getState(7)
	assert.False(t, ok, "conversation should have completed")
	assert.Len(t, f.relay.queries, 1)

	f.bot.locksMu.Lock()
	defer f.bot.locksMu.Unlock()
	assert.Empty(t, f.bot.userLocks)
}

func TestBot_LookupUsesChatEntitlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const groupChatID = int64(-100)

	// orders are stored under the chat id, so delivery grants the chat
	require.NoError(t, f.store.Grant(ctx, groupChatID))

	msg := commandMessage(5, "/lookup Jane Doe, OR")
	msg.Chat = &tgbotapi.Chat{ID: groupChatID, Type: "group"}

	f.bot.handleMessage(ctx, msg)
	f.bot.handleMessage(ctx, msg)

	assert.Len(t, f.relay.queries, 2)
	assert.Equal(t, "Found 1 record", f.api.lastText())

	used, err := f.store.Usage(ctx, groupChatID)
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestBot_LookupUnavailable(t *testing.T) {
	f := newFixture(t)
	f.relay.err = relay.ErrUnavailable

	f.bot.handleMessage(context.Background(), commandMessage(9, "/lookup Jane Doe, OR"))
	assert.Contains(t, f.api.lastText(), "currently unavailable")

	used, err := f.store.Usage(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestHTTP_GatewayWebhookSurvivesClientDisconnect(t *testing.T) {
	f := newFixture(t)
	f.purchases.webhook = purchase.VerifyResult{Outcome: purchase.OutcomeDelivered}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body := `{"client_transaction_id":"starter_bundle_1700000000000_42","status":"paid"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/exnode", strings.NewReader(body)).WithContext(ctx)

	rec := httptest.NewRecorder()
	newRouter(f).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.purchases.eventErrs, 1)
	assert.NoError(t, f.purchases.eventErrs[0])
}
