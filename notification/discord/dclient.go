// Package discord delivers notification events to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"robotcrypt/notification"
	"robotcrypt/utilities"
)

const (
	colorGreen  = 0x2ECC71
	colorRed    = 0xE74C3C
	colorOrange = 0xE67E22
	colorGrey   = 0x95A5A6
)

// Client sends notification events to a Discord webhook. An empty webhook
// URL turns the client into a no-op so the engine runs without Discord
// configured.
type Client struct {
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
}

type webhookMessage struct {
	Embeds []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Color       int    `json:"color,omitempty"`
}

func NewClient(cfg utilities.DiscordConfig, logger *zap.Logger) *Client {
	logger = logger.Named("discord")
	if cfg.WebhookURL == "" {
		logger.Warn("webhook URL empty, notifications will be dropped")
	}
	return &Client{
		webhookURL: cfg.WebhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Publish implements notification.Sink.
func (c *Client) Publish(ctx context.Context, ev notification.Event) error {
	if c.webhookURL == "" {
		return nil
	}

	title := ev.Title
	if ev.Symbol != "" {
		title = fmt.Sprintf("%s: %s", ev.Symbol, ev.Title)
	}
	msg := webhookMessage{Embeds: []embed{{
		Title:       title,
		Description: ev.Body,
		Timestamp:   ev.At.UTC().Format(time.RFC3339),
		Color:       eventColor(ev),
	}}}
	return c.sendPayload(ctx, msg)
}

func eventColor(ev notification.Event) int {
	if ev.Fatal {
		return colorRed
	}
	switch ev.Kind {
	case notification.KindPositionOpened:
		return colorGreen
	case notification.KindPositionClosed:
		return colorGrey
	case notification.KindTradingPaused, notification.KindDataGap:
		return colorOrange
	case notification.KindEscalation:
		return colorRed
	default:
		return colorGrey
	}
}

func (c *Client) sendPayload(ctx context.Context, msg webhookMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal discord message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "robot-crypt/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("event delivered", zap.Int("status", resp.StatusCode))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("discord API error: %s, response: %s", resp.Status, string(body))
}
