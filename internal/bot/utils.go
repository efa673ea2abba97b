package bot

import (
	"context"
	"fmt"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const maxMessageLength = 4096

// Messenger implements the outbound messaging primitives on top of the Bot API
type Messenger struct {
	api    API
	logger *zap.Logger
}

// NewMessenger wraps a Bot API client
func NewMessenger(api API, logger *zap.Logger) *Messenger {
	return &Messenger{api: api, logger: logger}
}

// SendText sends a plain text message
func (m *Messenger) SendText(_ context.Context, chatID int64, text string) error {
	_, err := m.send(tgbotapi.NewMessage(chatID, truncate(text)))
	return err
}

// SendFile sends a file from disk as a document with a caption
func (m *Messenger) SendFile(_ context.Context, chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	_, err := m.send(doc)
	return err
}

// SendBytes sends in-memory content as a document
func (m *Messenger) SendBytes(_ context.Context, chatID int64, name string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	_, err := m.send(doc)
	return err
}

// EditText replaces the text and keyboard of a sent message
func (m *Messenger) EditText(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, truncate(text))
	edit.ReplyMarkup = markup
	_, err := m.send(edit)
	return err
}

// Delete removes a message
func (m *Messenger) Delete(chatID int64, messageID int) error {
	return m.request(tgbotapi.NewDeleteMessage(chatID, messageID))
}

// AnswerCallback clears the loading state of an inline button
func (m *Messenger) AnswerCallback(queryID, text string) error {
	return m.request(tgbotapi.NewCallback(queryID, text))
}

func (m *Messenger) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, err := m.api.Send(c)
	if err != nil {
		m.logger.Error("Failed to send message", zap.Error(err))
		return msg, fmt.Errorf("telegram send: %w", err)
	}
	return msg, nil
}

func (m *Messenger) request(c tgbotapi.Chattable) error {
	if _, err := m.api.Request(c); err != nil {
		m.logger.Warn("Telegram request failed", zap.Error(err))
		return fmt.Errorf("telegram request: %w", err)
	}
	return nil
}

// sendMessage sends a prepared message, logging failures
func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) (tgbotapi.Message, error) {
	msg.Text = truncate(msg.Text)
	return b.out.send(msg)
}

func truncate(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	cut := maxMessageLength - len("…")
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}
