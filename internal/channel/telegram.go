package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ticketbridge/internal/config"
	"ticketbridge/internal/domain"
)

// Telegram implements domain.Channel over the Telegram Bot API using long
// polling.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
	client *http.Client
}

func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		logger:    logger,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.To, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "to", msg.To, "err", err)
			return
		}
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, msg.Content)); err != nil {
			t.logger.Error("telegram send failed", "chat_id", chatID, "err", err)
		}
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", msg.From.UserName,
		)
		return
	}

	inbound := domain.InboundMessage{
		Channel:   "telegram",
		From:      strconv.FormatInt(chatID, 10),
		Kind:      domain.KindText,
		Text:      strings.TrimSpace(msg.Text),
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	switch {
	case len(msg.Photo) > 0:
		inbound.Kind = domain.KindImage
		inbound.Text = strings.TrimSpace(msg.Caption)
		// Last entry is the largest rendition.
		photo := msg.Photo[len(msg.Photo)-1]
		t.attachFile(ctx, &inbound, photo.FileID, "image/jpeg", "")
	case msg.Document != nil:
		inbound.Kind = domain.KindDocument
		inbound.Text = strings.TrimSpace(msg.Caption)
		t.attachFile(ctx, &inbound, msg.Document.FileID, msg.Document.MimeType, msg.Document.FileName)
	case msg.Video != nil:
		inbound.Kind = domain.KindVideo
		inbound.Text = strings.TrimSpace(msg.Caption)
		t.attachFile(ctx, &inbound, msg.Video.FileID, msg.Video.MimeType, "")
	case inbound.Text == "":
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"kind", inbound.Kind,
		"hasMedia", inbound.Media != nil,
	)

	t.bus.Publish(inbound)
}

// attachFile downloads a Telegram file and attaches it to the inbound
// message. Failures leave the message without media.
func (t *Telegram) attachFile(ctx context.Context, inbound *domain.InboundMessage, fileID, mimeType, filename string) {
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		t.logger.Warn("telegram file lookup failed", "file_id", fileID, "err", err)
		return
	}

	url := file.Link(t.token)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return
	}
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("telegram file download failed", "file_id", fileID, "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("telegram file download failed", "file_id", fileID, "status", resp.StatusCode)
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		t.logger.Warn("telegram file read failed", "file_id", fileID, "err", err)
		return
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	inbound.Media = &domain.InboundMedia{
		MimeType: mimeType,
		Data:     data,
		Filename: filename,
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	return slices.Contains(t.allowFrom, userID)
}
