package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	defaultTelegramBaseURL = "https://api.telegram.org"
	// sendMessage rejects longer texts
	telegramMaxText = 4096
)

// TelegramNotifier posts alerts to one chat through the bot API.
type TelegramNotifier struct {
	enabled  bool
	botToken string
	chatID   string
	endpoint string
	client   *http.Client
}

func NewTelegramNotifier(enabled bool, botToken, chatID, baseURL string, timeout time.Duration) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}
	return &TelegramNotifier{
		enabled:  enabled,
		botToken: botToken,
		chatID:   chatID,
		endpoint: baseURL + "/bot" + botToken + "/sendMessage",
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether Notify will actually send.
func (t *TelegramNotifier) Enabled() bool {
	return t != nil && t.enabled && t.botToken != "" && t.chatID != ""
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Notify sends msg. A 429 reply comes back as *RateLimitedError so the
// manager can wait as asked.
func (t *TelegramNotifier) Notify(ctx context.Context, msg string) error {
	if !t.Enabled() {
		return nil
	}
	if len(msg) > telegramMaxText {
		msg = msg[:telegramMaxText-3] + "..."
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: msg, DisableWebPagePreview: true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// the request error carries the URL, and with it the bot token
		return fmt.Errorf("telegram send failed: %w", unwrapURLError(err))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed sendMessageResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{
			RetryAfter: time.Duration(parsed.Parameters.RetryAfter) * time.Second,
			Message:    strings.TrimSpace(parsed.Description),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(raw) == 0 || decodeErr != nil {
		return nil
	}
	if !parsed.OK {
		return fmt.Errorf("telegram api error: %s", strings.TrimSpace(parsed.Description))
	}
	return nil
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
