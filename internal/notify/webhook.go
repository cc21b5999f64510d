// Package notify sends operator alerts to Discord/Telegram for
// events that need a human to look, following the same embed/message
// shapes and retry-with-backoff transport as the pool's own webhook
// notifier.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/scavenger-mine/orchestrator/internal/util"
)

const (
	maxRetries     = 3
	retryBaseDelay = 2 * time.Second
)

// Config carries the two supported webhook destinations; either may be
// left blank to disable that channel.
type Config struct {
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string
}

// Notifier posts operator alerts to the configured channels.
type Notifier struct {
	cfg    Config
	client *http.Client
}

// New returns a Notifier using cfg.
func New(cfg Config) *Notifier {
	return &Notifier{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

// NotifyRomBuildError alerts that the ROM failed to build for a
// challenge key; the owning Work stays in Solving.
func (n *Notifier) NotifyRomBuildError(ctx context.Context, key string, cause error) {
	n.send(ctx, "ROM build failed", fmt.Sprintf("key=%s error=%v", key, cause), 0xE74C3C)
}

// NotifySolutionInvalid alerts that a submitted solution was rejected.
func (n *Notifier) NotifySolutionInvalid(ctx context.Context, address, challengeID, message string) {
	n.send(ctx, "Solution rejected", fmt.Sprintf("address=%s challenge=%s message=%s", address, challengeID, message), 0xF39C12)
}

// NotifyChallengeExpiryStorm alerts that a wallet has expired several
// challenges in a row without submitting, a sign the solver cannot
// keep pace with the challenge cadence.
func (n *Notifier) NotifyChallengeExpiryStorm(ctx context.Context, address string, count int) {
	n.send(ctx, "Challenge expiry storm", fmt.Sprintf("address=%s consecutive_expired=%d", address, count), 0xF39C12)
}

func (n *Notifier) send(ctx context.Context, title, description string, color int) {
	if n.cfg.DiscordWebhookURL != "" {
		n.sendDiscordWithRetry(ctx, title, description, color)
	}
	if n.cfg.TelegramBotToken != "" && n.cfg.TelegramChatID != "" {
		n.sendTelegramWithRetry(ctx, title+"\n"+description)
	}
}

func (n *Notifier) sendDiscordWithRetry(ctx context.Context, title, description string, color int) {
	msg := discordMessage{Embeds: []discordEmbed{{Title: title, Description: description, Color: color}}}
	body, err := json.Marshal(msg)
	if err != nil {
		util.Errorf("notify: encoding discord message: %v", err)
		return
	}

	delay := retryBaseDelay
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.DiscordWebhookURL, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests {
				time.Sleep(5 * time.Second)
				continue
			}
			if resp.StatusCode < 300 {
				return
			}
		}
		util.Warnf("notify: discord send attempt %d failed: %v", attempt+1, err)
		time.Sleep(delay)
		delay *= 2
	}
}

func (n *Notifier) sendTelegramWithRetry(ctx context.Context, text string) {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.cfg.TelegramBotToken)
	body, err := json.Marshal(map[string]string{"chat_id": n.cfg.TelegramChatID, "text": text})
	if err != nil {
		util.Errorf("notify: encoding telegram message: %v", err)
		return
	}

	delay := retryBaseDelay
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusTooManyRequests {
				time.Sleep(5 * time.Second)
				continue
			}
			if resp.StatusCode < 300 {
				return
			}
		}
		util.Warnf("notify: telegram send attempt %d failed: %v", attempt+1, err)
		time.Sleep(delay)
		delay *= 2
	}
}
