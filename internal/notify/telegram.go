// internal/notify/telegram.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultTelegramAPIURL is the public Bot API endpoint.
const DefaultTelegramAPIURL = "https://api.telegram.org"

// TelegramDeliverer sends messages through the Telegram Bot API.
// Identities are chat ids; actions become inline keyboard buttons.
type TelegramDeliverer struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegramDeliverer creates a deliverer for the bot token.
func NewTelegramDeliverer(token, baseURL string, client *http.Client) *TelegramDeliverer {
	if baseURL == "" {
		baseURL = DefaultTelegramAPIURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &TelegramDeliverer{token: token, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type sendMessageRequest struct {
	ChatID      string `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup *struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	} `json:"reply_markup,omitempty"`
}

// Deliver implements Deliverer.
func (t *TelegramDeliverer) Deliver(ctx context.Context, identity string, msg Message) error {
	req := sendMessageRequest{ChatID: identity, Text: msg.Text}
	if len(msg.Actions) > 0 {
		row := make([]inlineButton, 0, len(msg.Actions))
		for _, a := range msg.Actions {
			row = append(row, inlineButton{Text: a.Label, CallbackData: a.Data})
		}
		req.ReplyMarkup = &struct {
			InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
		}{InlineKeyboard: [][]inlineButton{row}}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("telegram: encode: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("telegram: http %d: undecodable response", resp.StatusCode)
	}
	if !out.OK {
		return fmt.Errorf("telegram: http %d: %s", resp.StatusCode, out.Description)
	}
	return nil
}
