package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"storefront/internal/catalog"
	"storefront/internal/delivery"
	"storefront/internal/models"
	"storefront/internal/purchase"
)

const genericErrorText = "❌ Something went wrong. Please try again or contact support: %s"

func backToMenuRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Main menu", "menu"),
	)
}

// handleMenuCallback returns to the main menu
func (b *Bot) handleMenuCallback(query *tgbotapi.CallbackQuery) {
	markup := mainMenuKeyboard()
	b.out.EditText(query.Message.Chat.ID, query.Message.MessageID, welcomeText, &markup)
}

// handleBrowseCallback lists the catalog
func (b *Bot) handleBrowseCallback(query *tgbotapi.CallbackQuery) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range b.catalog.Products() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s - %s", p.Name, p.PriceLabel), "product_"+p.ID),
		))
	}
	rows = append(rows, backToMenuRow())

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.out.EditText(query.Message.Chat.ID, query.Message.MessageID, "🛍 Our products:", &markup)
}

// handleSupportCallback shows the support contact
func (b *Bot) handleSupportCallback(query *tgbotapi.CallbackQuery) {
	markup := tgbotapi.NewInlineKeyboardMarkup(backToMenuRow())
	text := fmt.Sprintf("💬 Need help?\n\nContact %s and include your tracking ID if you have one.", b.supportContact)
	b.out.EditText(query.Message.Chat.ID, query.Message.MessageID, text, &markup)
}

// handleProductCallback shows product details
func (b *Bot) handleProductCallback(query *tgbotapi.CallbackQuery, args []string) {
	if len(args) == 0 {
		return
	}
	p, ok := b.catalog.Product(args[0])
	if !ok {
		b.sendMessage(tgbotapi.NewMessage(query.Message.Chat.ID, "❌ Product not found."))
		return
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n%s\n\n", p.Name, p.Description)
	for _, f := range p.Features {
		fmt.Fprintf(&text, "• %s\n", f)
	}
	fmt.Fprintf(&text, "\nPrice: %s", p.PriceLabel)

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💳 Buy now", "purchase_"+p.ID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back to products", "browse"),
		),
	)
	b.out.EditText(query.Message.Chat.ID, query.Message.MessageID, text.String(), &markup)
}

// handlePurchaseCallback shows the currency keyboard (2 columns)
func (b *Bot) handlePurchaseCallback(query *tgbotapi.CallbackQuery, args []string) {
	if len(args) == 0 {
		return
	}
	p, ok := b.catalog.Product(args[0])
	if !ok {
		b.sendMessage(tgbotapi.NewMessage(query.Message.Chat.ID, "❌ Product not found."))
		return
	}

	currencies := catalog.Currencies()
	var rows [][]tgbotapi.InlineKeyboardButton
	var currentRow []tgbotapi.InlineKeyboardButton
	for i, c := range currencies {
		currentRow = append(currentRow, tgbotapi.NewInlineKeyboardButtonData(
			c.Label,
			fmt.Sprintf("currency_%s|%s", p.ID, c.Code),
		))
		if len(currentRow) == 2 || i == len(currencies)-1 {
			rows = append(rows, currentRow)
			currentRow = nil
		}
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "product_"+p.ID),
	))

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	text := fmt.Sprintf("💰 %s - %s\n\nSelect a payment currency:", p.Name, p.PriceLabel)
	b.out.EditText(query.Message.Chat.ID, query.Message.MessageID, text, &markup)
}

// handleCurrencyCallback creates the order for currency_<productId>|<code>
func (b *Bot) handleCurrencyCallback(ctx context.Context, query *tgbotapi.CallbackQuery, args []string) {
	chatID := query.Message.Chat.ID
	if len(args) != 2 {
		return
	}
	productID, code := args[0], models.Currency(args[1])

	b.out.EditText(chatID, query.Message.MessageID, "⏳ Creating your order...", nil)

	tx, err := b.purchases.CreateOrder(ctx, purchase.OrderInput{
		ProductID:   productID,
		Currency:    code,
		RequesterID: chatID,
		Username:    query.From.UserName,
	})
	if err != nil {
		b.logger.Error("Failed to create order",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.String("product_id", productID),
			zap.String("currency", string(code)),
		)
		text := fmt.Sprintf(genericErrorText, b.supportContact)
		switch {
		case errors.Is(err, purchase.ErrUnknownProduct):
			text = "❌ Product not found."
		case errors.Is(err, purchase.ErrUnsupportedCurrency):
			text = "❌ This currency is not supported."
		}
		b.out.EditText(chatID, query.Message.MessageID, text, nil)
		return
	}

	name := tx.ProductID
	if p, ok := b.catalog.Product(tx.ProductID); ok {
		name = p.Name
	}
	text := fmt.Sprintf("🧾 Order created\n\n"+
		"Product: %s\n"+
		"Amount: $%s\n"+
		"Currency: %s\n"+
		"Tracking ID: %s\n\n"+
		"1. Open the payment page and complete the payment.\n"+
		"2. Press \"Verify payment\" once it is sent.",
		name, tx.Amount.StringFixed(2), tx.Currency, tx.TrackingID)

	b.out.EditText(chatID, query.Message.MessageID, text, orderKeyboard(tx))
}

func orderKeyboard(tx models.PendingTransaction) *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("💳 Pay now", tx.PaymentURL),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Verify payment", "verify_"+tx.TrackingID),
			tgbotapi.NewInlineKeyboardButtonData("📋 Copy address", "copy_"+tx.TrackingID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel order", "cancel_"+tx.TrackingID),
		),
	)
	return &markup
}

// handleVerifyCallback checks the payment and reports the outcome
func (b *Bot) handleVerifyCallback(ctx context.Context, query *tgbotapi.CallbackQuery, args []string) {
	chatID := query.Message.Chat.ID
	if len(args) == 0 {
		return
	}
	trackingID := args[0]

	res, err := b.purchases.Verify(ctx, trackingID)
	if err != nil {
		if errors.Is(err, purchase.ErrNotFound) {
			b.sendMessage(tgbotapi.NewMessage(chatID, "❌ Order not found. It may have been cancelled or expired."))
			return
		}
		b.logger.Error("Verification failed", zap.Error(err), zap.String("tracking_id", trackingID))
		b.sendMessage(tgbotapi.NewMessage(chatID, fmt.Sprintf(genericErrorText, b.supportContact)))
		return
	}

	switch res.Outcome {
	case purchase.OutcomeDelivered:
		// the resolver already messaged the buyer, including the missing asset case
		if res.DeliveryErr != nil && !errors.Is(res.DeliveryErr, delivery.ErrAssetMissing) {
			b.sendMessage(tgbotapi.NewMessage(chatID, fmt.Sprintf(
				"✅ Payment confirmed, but delivery failed. Please contact %s with tracking ID %s.",
				b.supportContact, trackingID)))
		}
	case purchase.OutcomeAlreadyCompleted:
		b.sendMessage(tgbotapi.NewMessage(chatID, "✅ This order has already been completed."))
	case purchase.OutcomePending:
		b.sendMessage(tgbotapi.NewMessage(chatID, "⏳ Payment not received yet. Please try again in a few minutes."))
	default:
		b.sendMessage(tgbotapi.NewMessage(chatID, fmt.Sprintf(
			"⚠️ Payment status: %s\n\nIf you have already paid, contact %s.", res.GatewayStatus, b.supportContact)))
	}
}

// handleCancelCallback discards a pending order and removes its message
func (b *Bot) handleCancelCallback(ctx context.Context, query *tgbotapi.CallbackQuery, args []string) {
	chatID := query.Message.Chat.ID
	if len(args) == 0 {
		return
	}

	err := b.purchases.Cancel(ctx, args[0])
	switch {
	case errors.Is(err, purchase.ErrNotFound):
		b.sendMessage(tgbotapi.NewMessage(chatID, "❌ Order not found. It may have been cancelled or expired."))
	case errors.Is(err, purchase.ErrAlreadyCompleted):
		b.sendMessage(tgbotapi.NewMessage(chatID, "This order is already paid and can't be cancelled."))
	case err != nil:
		b.logger.Error("Cancel failed", zap.Error(err), zap.String("tracking_id", args[0]))
		b.sendMessage(tgbotapi.NewMessage(chatID, fmt.Sprintf(genericErrorText, b.supportContact)))
	default:
		b.out.Delete(chatID, query.Message.MessageID)
		msg := tgbotapi.NewMessage(chatID, "❌ Order cancelled.")
		msg.ReplyMarkup = mainMenuKeyboard()
		b.sendMessage(msg)
	}
}

// handleCopyCallback sends the payout address as a separate message for copying
func (b *Bot) handleCopyCallback(ctx context.Context, query *tgbotapi.CallbackQuery, args []string) {
	chatID := query.Message.Chat.ID
	if len(args) == 0 {
		return
	}

	addr, tx, err := b.purchases.PaymentAddress(ctx, args[0])
	switch {
	case errors.Is(err, purchase.ErrNotFound):
		b.sendMessage(tgbotapi.NewMessage(chatID, "❌ Order not found. It may have been cancelled or expired."))
	case errors.Is(err, purchase.ErrNoAddress):
		b.sendMessage(tgbotapi.NewMessage(chatID, "The address is not available yet. Please use the payment page."))
	case err != nil:
		b.logger.Error("Address lookup failed", zap.Error(err), zap.String("tracking_id", args[0]))
		b.sendMessage(tgbotapi.NewMessage(chatID, fmt.Sprintf(genericErrorText, b.supportContact)))
	default:
		b.sendMessage(tgbotapi.NewMessage(chatID, fmt.Sprintf("📋 %s payment address:", tx.Currency)))
		b.sendMessage(tgbotapi.NewMessage(chatID, addr))
	}
}
