package domain

import "time"

// InboundMedia carries the raw bytes of an attachment downloaded by a channel.
type InboundMedia struct {
	MimeType string
	Data     []byte
	Filename string
}

// InboundMessage is one message received from a messaging channel.
type InboundMessage struct {
	Channel   string
	From      string
	Kind      MessageKind
	Text      string
	Media     *InboundMedia
	Timestamp time.Time
}

// OutboundMessage is a reply routed back through the originating channel.
type OutboundMessage struct {
	Channel string
	To      string
	Content string
}
