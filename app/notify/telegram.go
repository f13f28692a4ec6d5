package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	telegramAPI        = "https://api.telegram.org"
	telegramMessageMax = 4096
)

// Telegram posts messages to a chat through the bot API.
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

var _ Notifier = (*Telegram)(nil)

type TelegramOption func(*Telegram)

// WithTelegramBaseURL points the notifier at another bot API host.
func WithTelegramBaseURL(baseURL string) TelegramOption {
	return func(t *Telegram) {
		t.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithTelegramHTTPClient(client *http.Client) TelegramOption {
	return func(t *Telegram) {
		if client != nil {
			t.client = client
		}
	}
}

func NewTelegram(botToken, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send posts message as plain text. Messages over the API limit are cut.
func (t *Telegram) Send(ctx context.Context, message string) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	if runes := []rune(message); len(runes) > telegramMessageMax {
		message = string(runes[:telegramMessageMax])
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", message)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &result); err != nil || resp.StatusCode != http.StatusOK || !result.OK {
		return fmt.Errorf("telegram error: %s %s", resp.Status, result.Description)
	}

	return nil
}
