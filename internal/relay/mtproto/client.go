// Package mtproto implements the relay transport as a Telegram user session on gotd.
package mtproto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/peer"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"storefront/internal/relay"
)

// ErrUnauthorized means the session file holds no valid login
var ErrUnauthorized = errors.New("relay session is not authorized, run relay-login first")

const subscriberBuffer = 16

// Config describes the user account and the relay peer
type Config struct {
	AppID       int
	AppHash     string
	SessionFile string
	// Peer is the username of the relay peer, with or without @
	Peer string
}

// Client is a long-lived user session implementing relay.Transport
type Client struct {
	client   *telegram.Client
	peerName string
	logger   *zap.Logger

	mu     sync.Mutex
	subs   map[int]chan relay.Message
	nextID int

	peerMu sync.Mutex
	peer   tg.InputPeerClass
	peerID int64
}

// New creates the client; call Run to connect
func New(cfg Config, logger *zap.Logger) *Client {
	c := &Client{
		peerName: strings.TrimPrefix(cfg.Peer, "@"),
		logger:   logger,
		subs:     make(map[int]chan relay.Message),
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(c.onNewMessage)

	c.client = telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
		UpdateHandler:  dispatcher,
		Logger:         logger.Named("mtproto"),
	})
	return c
}

// Run connects, checks the stored login and calls ready while the connection is up.
// The connection is torn down when ready returns.
func (c *Client) Run(ctx context.Context, ready func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return ErrUnauthorized
		}
		c.logger.Info("Relay session restored")
		return ready(ctx)
	})
}

// Login performs the interactive code (and optional 2FA password) login and
// persists the session file
func (c *Client) Login(ctx context.Context, phone, password string, code func(ctx context.Context) (string, error)) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		flow := auth.NewFlow(
			auth.Constant(phone, password, auth.CodeAuthenticatorFunc(
				func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
					return code(ctx)
				},
			)),
			auth.SendCodeOptions{},
		)
		if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("login: %w", err)
		}

		self, err := c.client.Self(ctx)
		if err != nil {
			return fmt.Errorf("self: %w", err)
		}
		c.logger.Info("Relay account logged in", zap.String("username", self.Username), zap.Int64("user_id", self.ID))
		return nil
	})
}

// PeerID resolves the relay peer once and caches it
func (c *Client) PeerID(ctx context.Context) (int64, error) {
	_, id, err := c.resolve(ctx)
	return id, err
}

func (c *Client) resolve(ctx context.Context) (tg.InputPeerClass, int64, error) {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()

	if c.peer != nil {
		return c.peer, c.peerID, nil
	}

	p, err := peer.DefaultResolver(c.client.API()).ResolveDomain(ctx, c.peerName)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve @%s: %w", c.peerName, err)
	}
	user, ok := p.(*tg.InputPeerUser)
	if !ok {
		return nil, 0, fmt.Errorf("@%s is not a user (%T)", c.peerName, p)
	}

	c.peer, c.peerID = user, user.UserID
	c.logger.Info("Relay peer resolved", zap.String("peer", c.peerName), zap.Int64("peer_id", user.UserID))
	return c.peer, c.peerID, nil
}

// SendText sends a message to the relay peer
func (c *Client) SendText(ctx context.Context, text string) error {
	p, _, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	if _, err := message.NewSender(c.client.API()).To(p).Text(ctx, text); err != nil {
		return fmt.Errorf("send to @%s: %w", c.peerName, err)
	}
	return nil
}

// Subscribe registers a listener for inbound messages
func (c *Client) Subscribe() (<-chan relay.Message, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan relay.Message, subscriberBuffer)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
		})
	}
}

// Download fetches a document into memory
func (c *Client) Download(ctx context.Context, doc *relay.Document) ([]byte, error) {
	var buf bytes.Buffer
	loc := &tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	}
	if _, err := downloader.NewDownloader().Download(c.client.API(), loc).Stream(ctx, &buf); err != nil {
		return nil, fmt.Errorf("download document %d: %w", doc.ID, err)
	}
	return buf.Bytes(), nil
}

func (c *Client) onNewMessage(_ context.Context, _ tg.Entities, update *tg.UpdateNewMessage) error {
	msg, ok := update.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}

	out := relay.Message{
		SenderID: senderID(msg),
		Text:     msg.Message,
		Document: documentOf(msg),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- out:
		default:
			c.logger.Warn("Relay subscriber is full, dropping message", zap.Int64("sender_id", out.SenderID))
		}
	}
	return nil
}

func senderID(msg *tg.Message) int64 {
	if from, ok := msg.GetFromID(); ok {
		if u, ok := from.(*tg.PeerUser); ok {
			return u.UserID
		}
	}
	if u, ok := msg.PeerID.(*tg.PeerUser); ok {
		return u.UserID
	}
	return 0
}

func documentOf(msg *tg.Message) *relay.Document {
	media, ok := msg.GetMedia()
	if !ok {
		return nil
	}
	md, ok := media.(*tg.MessageMediaDocument)
	if !ok {
		return nil
	}
	dc, ok := md.GetDocument()
	if !ok {
		return nil
	}
	doc, ok := dc.AsNotEmpty()
	if !ok {
		return nil
	}

	out := &relay.Document{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
		Size:          doc.Size,
	}
	for _, attr := range doc.Attributes {
		if name, ok := attr.(*tg.DocumentAttributeFilename); ok {
			out.FileName = name.FileName
		}
	}
	return out
}

var _ relay.Transport = (*Client)(nil)
