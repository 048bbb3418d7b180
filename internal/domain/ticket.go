package domain

import "time"

// MessageKind classifies the payload of an inbound message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
	KindOther    MessageKind = "other"
)

// TicketStatus is the lifecycle state of an ingested ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketClosed     TicketStatus = "closed"
)

// Media describes a stored attachment belonging to a ticket.
type Media struct {
	MimeType   string `json:"mimetype"`
	StorageRef string `json:"filepath"`
}

// Ticket is one inbound request captured from a messaging channel.
type Ticket struct {
	ID        string       `json:"id"`
	Channel   string       `json:"channel"`
	From      string       `json:"from"`
	Kind      MessageKind  `json:"type"`
	Text      string       `json:"message"`
	Media     *Media       `json:"media,omitempty"`
	Status    TicketStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// TemplateStatus is the push state of a template. The integer encoding is
// part of the wire format consumed by the dashboard.
type TemplateStatus int

const (
	StatusDraft  TemplateStatus = 0
	StatusPushed TemplateStatus = 1
)

// Template is a tracker-ready issue drafted from a ticket. It stays a draft
// until pushed, at which point JiraKey records the created issue.
type Template struct {
	ID          string         `json:"id"`
	TicketID    string         `json:"ticketId"`
	Summary     string         `json:"summary"`
	Description string         `json:"description"`
	Priority    string         `json:"priority,omitempty"`
	IssueType   string         `json:"issueType"`
	JiraKey     string         `json:"jiraKey,omitempty"`
	Status      TemplateStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Pushed reports whether the template has already been pushed to the tracker.
func (t Template) Pushed() bool {
	return t.Status == StatusPushed
}
