package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"ticketbridge/internal/domain"
	"ticketbridge/internal/hub"
	"ticketbridge/internal/media"
	"ticketbridge/internal/metrics"
	"ticketbridge/internal/workflow"
)

// Server exposes the dashboard API: draft review, approval, pushes, and the
// SSE update stream.
type Server struct {
	engine    *workflow.Engine
	tickets   domain.TicketRepository
	templates domain.TemplateRepository
	mediaSt   domain.MediaStore
	hub       *hub.Hub
	logger    *slog.Logger

	mux  *http.ServeMux
	http *http.Server

	metricsEnabled bool
	version        string
}

type Options struct {
	Engine         *workflow.Engine
	Tickets        domain.TicketRepository
	Templates      domain.TemplateRepository
	Media          domain.MediaStore
	Hub            *hub.Hub
	Logger         *slog.Logger
	MetricsEnabled bool
	Version        string
}

func New(opts Options) *Server {
	s := &Server{
		engine:         opts.Engine,
		tickets:        opts.Tickets,
		templates:      opts.Templates,
		mediaSt:        opts.Media,
		hub:            opts.Hub,
		logger:         opts.Logger,
		mux:            http.NewServeMux(),
		metricsEnabled: opts.MetricsEnabled,
		version:        opts.Version,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /latest-ticket-draft", s.handleLatestDraft)
	s.mux.HandleFunc("GET /jira-templates", s.handleListTemplates)
	s.mux.HandleFunc("POST /save-as-pending", s.handleSaveAsPending)
	s.mux.HandleFunc("POST /ticket/{id}/push-to-jira", s.handlePush)
	s.mux.HandleFunc("DELETE /ticket/{id}", s.handleDeleteTemplate)
	s.mux.HandleFunc("GET /ticket-updates", s.handleSSE)

	s.mux.HandleFunc("GET /tickets", s.handleListTickets)
	s.mux.HandleFunc("POST /tickets", s.handleCreateTicket)
	s.mux.HandleFunc("GET /tickets/{id}/media-path", s.handleMediaPath)

	s.mux.HandleFunc("GET /status", s.handleStatus)

	if s.metricsEnabled {
		s.mux.HandleFunc("GET /metrics", metrics.Collector.Handler())
	}

	// Local attachments are served straight from the uploads directory.
	if local, ok := s.mediaSt.(*media.LocalStore); ok {
		s.mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(local.Dir()))))
	}
}

// Mount registers an extra handler, used for channel webhooks.
func (s *Server) Mount(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start begins serving on addr and blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.withCORS(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.logger.Info("http server listening", "addr", addr)

	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.withCORS(s.mux)
}

// withCORS lets the dashboard frontend call from a different origin.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Drafts and templates ---

func (s *Server) handleLatestDraft(w http.ResponseWriter, r *http.Request) {
	// A null ticket means nothing is awaiting review.
	writeJSON(w, http.StatusOK, map[string]any{"ticket": s.hub.Latest()})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	drafts, pushed, err := s.templates.ListTemplates(r.Context())
	if err != nil {
		s.logger.Error("list templates failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	if drafts == nil {
		drafts = []domain.Template{}
	}
	if pushed == nil {
		pushed = []domain.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": map[string]any{
			"pending":   drafts,
			"completed": pushed,
		},
	})
}

func (s *Server) handleSaveAsPending(w http.ResponseWriter, r *http.Request) {
	var fields workflow.PendingFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tpl, err := s.engine.SaveAsPending(r.Context(), fields)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("save as pending failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save template")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"template": tpl})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	tpl, err := s.engine.PushToTracker(r.Context(), id)
	if err != nil {
		var conflict *domain.ConflictError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "template not found")
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   "template already pushed",
				"jiraKey": conflict.TrackerKey,
			})
		default:
			s.logger.Error("push failed", "templateId", id, "error", err)
			writeError(w, http.StatusBadGateway, "failed to push to jira")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jiraIssue": map[string]any{"key": tpl.JiraKey},
		"template":  tpl,
	})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.DeleteTemplate(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		s.logger.Error("delete failed", "templateId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "template deleted"})
}

// --- SSE ---

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)
	metrics.SSEConnections.Inc()
	defer metrics.SSEConnections.Dec()

	s.logger.Debug("sse client connected", "remote", r.RemoteAddr)

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("sse client disconnected", "remote", r.RemoteAddr)
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-sub:
			if !ok {
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
		}
	}
}

// writeSSEEvent renders one hub event. Draft-ready is delivered as an
// unnamed message carrying {"ticket": ...}; the rest are named events.
func writeSSEEvent(w http.ResponseWriter, ev hub.Event) {
	switch ev.Name {
	case hub.EventDraftReady:
		payload, _ := json.Marshal(map[string]any{"ticket": ev.Template})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	default:
		payload, _ := json.Marshal(map[string]any{"message": ev.Message})
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, payload)
	}
}

// --- Tickets ---

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.tickets.ListTickets(r.Context())
	if err != nil {
		s.logger.Error("list tickets failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}
	if tickets == nil {
		tickets = []domain.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

type createTicketRequest struct {
	From    string `json:"from"`
	Message string `json:"message"`
	Media   *struct {
		MimeType string `json:"mimetype"`
		Data     string `json:"data"` // base64
	} `json:"media,omitempty"`
}

// handleCreateTicket ingests a ticket directly over HTTP, mainly for
// dashboards and testing without a connected channel.
func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.From == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}

	msg := domain.InboundMessage{
		Channel:   "web",
		From:      req.From,
		Kind:      domain.KindText,
		Text:      req.Message,
		Timestamp: time.Now(),
	}
	if req.Media != nil {
		data, err := base64.StdEncoding.DecodeString(req.Media.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, "media data is not valid base64")
			return
		}
		msg.Kind = domain.KindDocument
		msg.Media = &domain.InboundMedia{MimeType: req.Media.MimeType, Data: data}
	}

	ticket, err := s.engine.Ingest(r.Context(), msg)
	if err != nil {
		s.logger.Error("ticket ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create ticket")
		return
	}

	// Drafting runs in the background; the dashboard learns the result
	// over the SSE stream.
	s.engine.RequestDraftAsync(context.WithoutCancel(r.Context()), ticket)

	writeJSON(w, http.StatusCreated, map[string]any{"ticket": ticket})
}

func (s *Server) handleMediaPath(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ticket, err := s.tickets.GetTicket(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ticket not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load ticket")
		return
	}
	if ticket.Media == nil {
		writeError(w, http.StatusNotFound, "ticket has no media")
		return
	}

	url, err := s.mediaSt.URL(r.Context(), ticket.Media.StorageRef)
	if err != nil {
		s.logger.Error("media url resolution failed", "ticketId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve media")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filepath": ticket.Media.StorageRef,
		"url":      url,
		"mimetype": ticket.Media.MimeType,
	})
}

// --- Status ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"uptimeSeconds": int64(metrics.Collector.Uptime().Seconds()),
		"sseClients":    s.hub.SubscriberCount(),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
