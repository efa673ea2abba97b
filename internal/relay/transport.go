package relay

import "context"

// Document is an attachment reference carried by an inbound message
type Document struct {
	ID            int64
	AccessHash    int64
	FileReference []byte
	FileName      string
	Size          int64
}

// Message is an inbound message seen on the relay account
type Message struct {
	SenderID int64
	Text     string
	Document *Document
}

// Transport is the authenticated messaging session used by the relay
type Transport interface {
	// PeerID resolves the relay peer
	PeerID(ctx context.Context) (int64, error)
	SendText(ctx context.Context, text string) error
	// Subscribe delivers inbound messages until cancel is called
	Subscribe() (msgs <-chan Message, cancel func())
	Download(ctx context.Context, doc *Document) ([]byte, error)
}
