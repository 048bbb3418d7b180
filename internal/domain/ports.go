package domain

import (
	"context"
	"io"
)

// TicketRepository is the durable store of inbound-message tickets.
type TicketRepository interface {
	CreateTicket(ctx context.Context, t Ticket) (Ticket, error)
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	ListTickets(ctx context.Context) ([]Ticket, error) // newest first
}

// TemplateRepository is the durable store of candidate tracker entries.
type TemplateRepository interface {
	// CreateTemplate inserts a new template. Status is forced to draft
	// regardless of the input.
	CreateTemplate(ctx context.Context, t Template) (Template, error)
	GetTemplate(ctx context.Context, id string) (*Template, error)
	// FindByTicket returns the most recent template for a ticket.
	FindByTicket(ctx context.Context, ticketID string) (*Template, error)
	// ListTemplates returns templates partitioned by status, each newest first.
	ListTemplates(ctx context.Context) (drafts, pushed []Template, err error)
	// MarkPushed transitions draft -> pushed atomically. If the template is
	// already pushed it returns a *ConflictError carrying the existing key.
	MarkPushed(ctx context.Context, id, trackerKey string) (*Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// MediaStore persists binary attachments and resolves references back to bytes.
type MediaStore interface {
	// Save writes content under a fresh unique name and returns its reference.
	// A new call always produces a new reference; nothing is overwritten.
	Save(ctx context.Context, data []byte, mimeType string) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// URL resolves a reference to a retrieval path for dashboard consumption.
	URL(ctx context.Context, ref string) (string, error)
}

// DraftRequirement is the input handed to the drafting service.
type DraftRequirement struct {
	Message       string      `json:"message"`
	From          string      `json:"from"`
	Kind          MessageKind `json:"kind"`
	HasAttachment bool        `json:"hasAttachment"`
}

// DraftFields is the structured result of one drafting call.
type DraftFields struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	IssueType   string `json:"issueType"`
}

// DraftGenerator turns a requirement into tracker-ready fields. One network
// call per invocation; retries are the caller's policy, not the adapter's.
type DraftGenerator interface {
	Draft(ctx context.Context, req DraftRequirement) (DraftFields, error)
}

// IssueTracker is the external tracker's create/attach surface.
type IssueTracker interface {
	CreateIssue(ctx context.Context, fields DraftFields) (key string, err error)
	AttachFile(ctx context.Context, key, filename string, r io.Reader) error
}

// MessageBus routes messages between channels and the workflow engine.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}

// Channel is a messaging-channel adapter (WhatsApp, Telegram).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
