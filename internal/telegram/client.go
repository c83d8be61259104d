// Package telegram delivers parsed messages through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"slack2tg/internal/domain"
	"slack2tg/internal/render"
)

// Sender is the subset of *tgbotapi.BotAPI used for delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// Config configures the delivery client.
type Config struct {
	ParseMode         string
	DisableWebPreview bool
	MaxMedia          int // media group cap, at most render.MediaGroupLimit
	Retry             RetryPolicy
	Throttle          *Throttle // nil = no pacing
	Sleep             SleepFunc // nil = context-aware timer
	Logger            *slog.Logger
}

// Client sends messages to Telegram. One Client is shared by all requests;
// it holds no per-request state.
type Client struct {
	sender            Sender
	parseMode         string
	disableWebPreview bool
	maxMedia          int
	retry             RetryPolicy
	throttle          *Throttle
	sleep             SleepFunc
	logger            *slog.Logger
}

func NewClient(sender Sender, cfg Config) *Client {
	if cfg.MaxMedia <= 0 || cfg.MaxMedia > render.MediaGroupLimit {
		cfg.MaxMedia = render.MediaGroupLimit
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		sender:            sender,
		parseMode:         cfg.ParseMode,
		disableWebPreview: cfg.DisableWebPreview,
		maxMedia:          cfg.MaxMedia,
		retry:             cfg.Retry,
		throttle:          cfg.Throttle,
		sleep:             cfg.Sleep,
		logger:            cfg.Logger,
	}
}

// Deliver sends msg to destination: images first (one media group, or a
// single photo), then each document, then the text in chunks. A failure stops
// delivery; items already sent are not retracted.
func (c *Client) Deliver(ctx context.Context, destination string, msg domain.ParsedMessage) (domain.DeliveryReport, error) {
	var report domain.DeliveryReport
	chat := chatTarget(destination)

	switch {
	case len(msg.Images) > 1:
		n, err := c.SendMediaGroup(ctx, chat, msg.Images)
		if err != nil {
			return report, err
		}
		report.Photos += n
	case len(msg.Images) == 1:
		if err := c.SendPhoto(ctx, chat, msg.Images[0]); err != nil {
			return report, err
		}
		report.Photos++
	}

	for _, doc := range msg.Documents {
		if err := c.SendDocument(ctx, chat, doc); err != nil {
			return report, err
		}
		report.Documents++
	}

	n, err := c.SendText(ctx, chat, msg.Text)
	report.Chunks += n
	return report, err
}

// SendText escapes text for the configured parse mode and sends it in
// message-sized chunks, in order. It returns the number of chunks sent.
func (c *Client) SendText(ctx context.Context, chat tgbotapi.BaseChat, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if render.NeedsEscaping(c.parseMode) {
		text = render.Escape(c.parseMode, text)
	}

	sent := 0
	for _, chunk := range render.Chunk(text, render.MessageLimit) {
		cfg := tgbotapi.MessageConfig{
			BaseChat:              chat,
			Text:                  chunk,
			ParseMode:             c.parseMode,
			DisableWebPagePreview: c.disableWebPreview,
		}
		err := c.withRetry(ctx, "sendMessage", chat, func() error {
			_, err := c.sender.Send(cfg)
			return err
		})
		if err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// SendPhoto sends one photo by URL with its caption.
func (c *Client) SendPhoto(ctx context.Context, chat tgbotapi.BaseChat, item domain.MediaItem) error {
	cfg := tgbotapi.NewPhoto(0, tgbotapi.FileURL(item.URL))
	cfg.BaseChat = chat
	cfg.Caption = render.Caption(c.parseMode, item.Caption)
	if cfg.Caption != "" {
		cfg.ParseMode = c.parseMode
	}
	return c.withRetry(ctx, "sendPhoto", chat, func() error {
		_, err := c.sender.Send(cfg)
		return err
	})
}

// SendDocument sends one file by URL with its caption.
func (c *Client) SendDocument(ctx context.Context, chat tgbotapi.BaseChat, item domain.MediaItem) error {
	cfg := tgbotapi.NewDocument(0, tgbotapi.FileURL(item.URL))
	cfg.BaseChat = chat
	cfg.Caption = render.Caption(c.parseMode, item.Caption)
	if cfg.Caption != "" {
		cfg.ParseMode = c.parseMode
	}
	return c.withRetry(ctx, "sendDocument", chat, func() error {
		_, err := c.sender.Send(cfg)
		return err
	})
}

// SendMediaGroup sends up to maxMedia photos as one album. Only the first
// item carries a caption, taken from its own title. Albums need at least two
// items, so a single remaining photo is sent on its own. It returns the number
// of photos sent.
func (c *Client) SendMediaGroup(ctx context.Context, chat tgbotapi.BaseChat, items []domain.MediaItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	if len(items) > c.maxMedia {
		items = items[:c.maxMedia]
	}
	if len(items) == 1 {
		if err := c.SendPhoto(ctx, chat, items[0]); err != nil {
			return 0, err
		}
		return 1, nil
	}

	media := make([]interface{}, 0, len(items))
	for i, item := range items {
		photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(item.URL))
		if i == 0 && item.Caption != "" {
			photo.Caption = render.Caption(c.parseMode, item.Caption)
			photo.ParseMode = c.parseMode
		}
		media = append(media, photo)
	}

	cfg := tgbotapi.NewMediaGroup(chat.ChatID, media)
	cfg.ChannelUsername = chat.ChannelUsername

	err := c.withRetry(ctx, "sendMediaGroup", chat, func() error {
		_, err := c.sender.SendMediaGroup(cfg)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// chatTarget addresses numeric destinations by chat ID and anything else
// (e.g. "@channel") by username.
func chatTarget(destination string) tgbotapi.BaseChat {
	destination = strings.TrimSpace(destination)
	if id, err := strconv.ParseInt(destination, 10, 64); err == nil {
		return tgbotapi.BaseChat{ChatID: id}
	}
	return tgbotapi.BaseChat{ChannelUsername: destination}
}

func chatKey(chat tgbotapi.BaseChat) string {
	if chat.ChannelUsername != "" {
		return chat.ChannelUsername
	}
	return strconv.FormatInt(chat.ChatID, 10)
}

// ChatTarget is exported for callers that send outside Deliver.
func ChatTarget(destination string) tgbotapi.BaseChat { return chatTarget(destination) }

// Dial connects to the Bot API and verifies the token with getMe.
func Dial(token, endpoint string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is not configured")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, SharedHTTPClient(timeout))
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return bot, nil
}
