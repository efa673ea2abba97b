package mtproto

import (
	"context"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/relay"
)

func TestSenderID(t *testing.T) {
	msg := &tg.Message{PeerID: &tg.PeerUser{UserID: 10}}
	assert.Equal(t, int64(10), senderID(msg))

	msg = &tg.Message{PeerID: &tg.PeerChat{ChatID: 3}}
	msg.SetFromID(&tg.PeerUser{UserID: 11})
	assert.Equal(t, int64(11), senderID(msg))
}

func TestDocumentOf(t *testing.T) {
	msg := &tg.Message{PeerID: &tg.PeerUser{UserID: 10}, Message: "report"}
	assert.Nil(t, documentOf(msg))

	media := &tg.MessageMediaDocument{}
	media.SetDocument(&tg.Document{
		ID:            5,
		AccessHash:    6,
		FileReference: []byte{1, 2},
		Size:          42,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: "results.json"},
		},
	})
	msg.SetMedia(media)

	doc := documentOf(msg)
	require.NotNil(t, doc)
	assert.Equal(t, int64(5), doc.ID)
	assert.Equal(t, int64(6), doc.AccessHash)
	assert.Equal(t, "results.json", doc.FileName)
	assert.Equal(t, int64(42), doc.Size)
}

func TestOnNewMessageFanOut(t *testing.T) {
	c := &Client{subs: make(map[int]chan relay.Message), logger: zap.NewNop()}
	first, cancelFirst := c.Subscribe()
	second, cancelSecond := c.Subscribe()
	cancelSecond()
	defer cancelFirst()

	err := c.onNewMessage(context.Background(), tg.Entities{}, &tg.UpdateNewMessage{
		Message: &tg.Message{PeerID: &tg.PeerUser{UserID: 10}, Message: "Found 1 record"},
	})
	require.NoError(t, err)

	select {
	case m := <-first:
		assert.Equal(t, int64(10), m.SenderID)
		assert.Equal(t, "Found 1 record", m.Text)
		assert.Nil(t, m.Document)
	default:
		t.Fatal("subscriber did not receive the message")
	}
	assert.Empty(t, second)

	outgoing := &tg.Message{PeerID: &tg.PeerUser{UserID: 10}, Message: "/lookup", Out: true}
	require.NoError(t, c.onNewMessage(context.Background(), tg.Entities{}, &tg.UpdateNewMessage{Message: outgoing}))
	assert.Empty(t, first)
}
