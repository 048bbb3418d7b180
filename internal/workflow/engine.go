package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"ticketbridge/internal/domain"
	"ticketbridge/internal/hub"
	"ticketbridge/internal/metrics"
)

// Engine drives the ticket lifecycle: ingest inbound messages, request
// drafts, and move templates through draft -> pending -> pushed.
type Engine struct {
	tickets   domain.TicketRepository
	templates domain.TemplateRepository
	media     domain.MediaStore
	generator domain.DraftGenerator
	tracker   domain.IssueTracker
	bus       domain.MessageBus
	hub       *hub.Hub
	logger    *slog.Logger

	// pushLocks serializes pushes per template so the tracker sees at most
	// one create call even when requests race.
	pushMu    sync.Mutex
	pushLocks map[string]*sync.Mutex

	wg sync.WaitGroup
}

type Deps struct {
	Tickets   domain.TicketRepository
	Templates domain.TemplateRepository
	Media     domain.MediaStore
	Generator domain.DraftGenerator
	Tracker   domain.IssueTracker
	Bus       domain.MessageBus
	Hub       *hub.Hub
	Logger    *slog.Logger
}

func NewEngine(d Deps) *Engine {
	return &Engine{
		tickets:   d.Tickets,
		templates: d.Templates,
		media:     d.Media,
		generator: d.Generator,
		tracker:   d.Tracker,
		bus:       d.Bus,
		hub:       d.Hub,
		logger:    d.Logger,
		pushLocks: make(map[string]*sync.Mutex),
	}
}

// Run consumes the inbound bus until the context is cancelled or the bus
// closes. Each message is processed on its own goroutine so a slow drafting
// call does not stall ingestion.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return
		case msg, ok := <-e.bus.Subscribe():
			if !ok {
				e.wg.Wait()
				return
			}
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.ProcessMessage(ctx, msg)
			}()
		}
	}
}

// ProcessMessage ingests one inbound message and kicks off drafting.
func (e *Engine) ProcessMessage(ctx context.Context, msg domain.InboundMessage) {
	ticket, err := e.Ingest(ctx, msg)
	if err != nil {
		e.logger.Error("ticket ingestion failed", "channel", msg.Channel, "from", msg.From, "error", err)
		return
	}
	e.RequestDraft(ctx, ticket)
}

// Ingest persists an inbound message as a ticket. A failed media save
// degrades the ticket to text with a note instead of losing the message.
func (e *Engine) Ingest(ctx context.Context, msg domain.InboundMessage) (domain.Ticket, error) {
	ticket := domain.Ticket{
		Channel: msg.Channel,
		From:    msg.From,
		Kind:    msg.Kind,
		Text:    msg.Text,
	}

	if msg.Media != nil {
		ref, err := e.media.Save(ctx, msg.Media.Data, msg.Media.MimeType)
		if err != nil {
			e.logger.Warn("media save failed, keeping ticket without attachment",
				"from", msg.From, "error", err)
			ticket.Kind = domain.KindText
			if ticket.Text != "" {
				ticket.Text += " "
			}
			ticket.Text += "[attachment could not be stored]"
		} else {
			ticket.Media = &domain.Media{MimeType: msg.Media.MimeType, StorageRef: ref}
		}
	}

	created, err := e.tickets.CreateTicket(ctx, ticket)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("create ticket: %w", err)
	}

	metrics.TicketsIngested.Inc()
	e.logger.Info("ticket created",
		"id", created.ID,
		"channel", created.Channel,
		"from", created.From,
		"kind", created.Kind,
		"hasMedia", created.Media != nil)
	return created, nil
}

// RequestDraft asks the generator for tracker fields and stores the result
// as a draft template. Subscribers see generating, then either the draft or
// an error event. On failure the latest pointer is left untouched.
func (e *Engine) RequestDraft(ctx context.Context, ticket domain.Ticket) {
	e.hub.Broadcast(hub.Event{Name: hub.EventGenerating, Message: "Generating ticket draft..."})

	fields, err := e.generator.Draft(ctx, domain.DraftRequirement{
		Message:       ticket.Text,
		From:          ticket.From,
		Kind:          ticket.Kind,
		HasAttachment: ticket.Media != nil,
	})
	if err != nil {
		metrics.DraftsFailed.Inc()
		e.logger.Error("draft generation failed", "ticketId", ticket.ID, "error", err)
		e.hub.Broadcast(hub.Event{Name: hub.EventError, Message: "Failed to generate ticket draft"})
		return
	}

	tpl, err := e.templates.CreateTemplate(ctx, domain.Template{
		TicketID:    ticket.ID,
		Summary:     fields.Summary,
		Description: fields.Description,
		Priority:    fields.Priority,
		IssueType:   fields.IssueType,
	})
	if err != nil {
		metrics.DraftsFailed.Inc()
		e.logger.Error("draft persist failed", "ticketId", ticket.ID, "error", err)
		e.hub.Broadcast(hub.Event{Name: hub.EventError, Message: "Failed to generate ticket draft"})
		return
	}

	metrics.DraftsGenerated.Inc()
	e.logger.Info("draft generated", "templateId", tpl.ID, "ticketId", ticket.ID, "issueType", tpl.IssueType)

	// Persist first, notify after: a subscriber acting on the event must
	// be able to read the row.
	e.hub.SetLatest(&tpl)
	e.hub.Broadcast(hub.Event{Name: hub.EventDraftReady, Template: &tpl})
}

// RequestDraftAsync runs RequestDraft on a tracked goroutine. Run waits for
// all tracked work before returning, so shutdown never leaves drafting
// mid-flight against a closed store.
func (e *Engine) RequestDraftAsync(ctx context.Context, ticket domain.Ticket) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.RequestDraft(ctx, ticket)
	}()
}

// PendingFields is the reviewer-edited draft submitted for approval.
type PendingFields struct {
	TicketID    string `json:"ticketId"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	IssueType   string `json:"issueType"`
	Priority    string `json:"priority"`
}

// SaveAsPending stores reviewer-approved fields as a fresh draft template.
// The generated draft stays in place; the dashboard stops offering it as
// the latest once claimed.
func (e *Engine) SaveAsPending(ctx context.Context, f PendingFields) (domain.Template, error) {
	switch {
	case f.TicketID == "":
		return domain.Template{}, &domain.ValidationError{Field: "ticketId"}
	case f.Summary == "":
		return domain.Template{}, &domain.ValidationError{Field: "summary"}
	case f.Description == "":
		return domain.Template{}, &domain.ValidationError{Field: "description"}
	case f.IssueType == "":
		return domain.Template{}, &domain.ValidationError{Field: "issueType"}
	}

	tpl, err := e.templates.CreateTemplate(ctx, domain.Template{
		TicketID:    f.TicketID,
		Summary:     f.Summary,
		Description: f.Description,
		Priority:    f.Priority,
		IssueType:   f.IssueType,
	})
	if err != nil {
		return domain.Template{}, err
	}

	e.hub.ClearLatestFor(f.TicketID)
	e.logger.Info("template saved as pending", "templateId", tpl.ID, "ticketId", f.TicketID)
	return tpl, nil
}

// PushToTracker creates an external issue for the template and marks it
// pushed. Concurrent pushes on the same template result in exactly one
// tracker create; the losers get a ConflictError carrying the winning key.
func (e *Engine) PushToTracker(ctx context.Context, templateID string) (domain.Template, error) {
	unlock := e.lockTemplate(templateID)
	defer unlock()

	tpl, err := e.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.Template{}, err
	}
	if tpl.Pushed() {
		metrics.PushConflicts.Inc()
		e.releaseLock(templateID)
		return domain.Template{}, &domain.ConflictError{TrackerKey: tpl.JiraKey}
	}

	key, err := e.tracker.CreateIssue(ctx, domain.DraftFields{
		Summary:     tpl.Summary,
		Description: tpl.Description,
		Priority:    tpl.Priority,
		IssueType:   tpl.IssueType,
	})
	if err != nil {
		return domain.Template{}, fmt.Errorf("create tracker issue: %w", err)
	}

	e.attachTicketMedia(ctx, key, tpl.TicketID)

	updated, err := e.templates.MarkPushed(ctx, templateID, key)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			metrics.PushConflicts.Inc()
			e.releaseLock(templateID)
			return domain.Template{}, err
		}
		// The issue exists but the row did not transition. Surface the key
		// so the operator can reconcile by hand.
		return domain.Template{}, fmt.Errorf("issue %s created but template not marked pushed: %w", key, err)
	}

	metrics.PushesSucceeded.Inc()
	e.releaseLock(templateID)
	e.logger.Info("template pushed", "templateId", templateID, "key", key)
	e.notifyReporter(ctx, updated)
	return *updated, nil
}

// attachTicketMedia uploads the source ticket's attachment, best effort.
// A failed upload never fails the push.
func (e *Engine) attachTicketMedia(ctx context.Context, key, ticketID string) {
	ticket, err := e.tickets.GetTicket(ctx, ticketID)
	if err != nil || ticket.Media == nil {
		return
	}

	r, err := e.media.Open(ctx, ticket.Media.StorageRef)
	if err != nil {
		e.logger.Warn("cannot open attachment for upload", "ticketId", ticketID, "error", err)
		return
	}
	defer r.Close()

	filename := path.Base(ticket.Media.StorageRef)
	if err := e.tracker.AttachFile(ctx, key, filename, r); err != nil {
		e.logger.Warn("attachment upload failed", "key", key, "error", err)
	}
}

// notifyReporter sends a confirmation back through the originating channel,
// best effort.
func (e *Engine) notifyReporter(ctx context.Context, tpl *domain.Template) {
	ticket, err := e.tickets.GetTicket(ctx, tpl.TicketID)
	if err != nil || ticket.Channel == "" {
		return
	}
	e.bus.SendOutbound(domain.OutboundMessage{
		Channel: ticket.Channel,
		To:      ticket.From,
		Content: fmt.Sprintf("Your request has been filed as %s.", tpl.JiraKey),
	})
}

// DeleteTemplate removes a template in any state.
func (e *Engine) DeleteTemplate(ctx context.Context, templateID string) error {
	if err := e.templates.DeleteTemplate(ctx, templateID); err != nil {
		return err
	}
	e.logger.Info("template deleted", "templateId", templateID)
	return nil
}

func (e *Engine) lockTemplate(id string) func() {
	e.pushMu.Lock()
	mu, ok := e.pushLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.pushLocks[id] = mu
	}
	e.pushMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// releaseLock drops the per-template mutex once the template is terminally
// pushed, so the map does not grow with every template ever pushed. Late
// retries still hit the store's conditional update and get the conflict.
func (e *Engine) releaseLock(id string) {
	e.pushMu.Lock()
	delete(e.pushLocks, id)
	e.pushMu.Unlock()
}
