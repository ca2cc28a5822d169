// Package notify pushes accident alerts to external messengers. Delivery
// is best-effort: failures are logged and never propagate back into the
// detection pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"
)

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	BotToken        string `yaml:"bot_token"`
	ChatID          string `yaml:"chat_id"`
	Enabled         bool   `yaml:"enabled"`
	CooldownSeconds int    `yaml:"cooldown_seconds"`
}

// Telegram sends accident alerts through the Telegram bot API, with a
// per-stream cooldown so a persistent accident scene does not flood the
// chat on every analysis tick.
type Telegram struct {
	cfg        TelegramConfig
	httpClient *http.Client
	apiBase    string

	mu       sync.Mutex
	lastSent map[string]time.Time
	cooldown time.Duration
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewTelegram creates a notifier. A disabled or unconfigured notifier is
// valid; its sends are no-ops.
func NewTelegram(cfg TelegramConfig) *Telegram {
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	if cooldown == 0 {
		cooldown = 60 * time.Second
	}
	return &Telegram{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    "https://api.telegram.org",
		lastSent:   make(map[string]time.Time),
		cooldown:   cooldown,
	}
}

// Enabled reports whether the notifier will attempt sends.
func (t *Telegram) Enabled() bool {
	return t.cfg.Enabled && t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

// SendAccident pushes one accident alert with the frame as a photo.
// Sends inside the per-stream cooldown window are silently skipped.
func (t *Telegram) SendAccident(ctx context.Context, streamID, location, description string, frame []byte) error {
	if !t.Enabled() {
		return nil
	}
	if !t.checkCooldown(streamID) {
		return nil
	}

	caption := fmt.Sprintf("🚨 Accident detected\nStream: %s\nLocation: %s", streamID, location)
	if description != "" {
		caption += "\n" + description
	}

	if len(frame) > 0 {
		return t.sendPhoto(ctx, caption, frame)
	}
	return t.sendMessage(ctx, caption)
}

func (t *Telegram) checkCooldown(streamID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastSent[streamID]; ok && time.Since(last) < t.cooldown {
		return false
	}
	t.lastSent[streamID] = time.Now()
	return true
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.cfg.ChatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *Telegram) sendPhoto(ctx context.Context, caption string, photo []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", t.cfg.ChatID); err != nil {
		return err
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("photo", "accident.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(photo); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", t.apiBase, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return t.do(req)
}

func (t *Telegram) do(req *http.Request) error {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return err
	}
	var parsed telegramResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram error %d: %s", parsed.ErrorCode, parsed.Description)
	}
	return nil
}
