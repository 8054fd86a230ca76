package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers a message to a recipient. Fire-and-forget: delivery
// failures are logged, never propagated, so a dead chat can't stall a
// booking cycle.
type Notifier interface {
	Notify(ctx context.Context, recipientID int64, message string)
}

// Telegram sends messages through the Bot API sendMessage call.
type Telegram struct {
	hc    *http.Client
	token string
	log   zerolog.Logger
}

func NewTelegram(token string, logger zerolog.Logger) *Telegram {
	return &Telegram{
		hc:    &http.Client{Timeout: 10 * time.Second},
		token: token,
		log:   logger.With().Str("component", "telegram").Logger(),
	}
}

func (t *Telegram) Notify(ctx context.Context, recipientID int64, message string) {
	body, err := json.Marshal(map[string]any{
		"chat_id": recipientID,
		"text":    message,
	})
	if err != nil {
		t.log.Error().Err(err).Msg("encode sendMessage")
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.log.Error().Err(err).Msg("build sendMessage request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.hc.Do(req)
	if err != nil {
		t.log.Error().Err(err).Int64("chat", recipientID).Msg("sendMessage failed")
		return
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.log.Error().Int("status", res.StatusCode).Int64("chat", recipientID).Msg("sendMessage rejected")
	}
}

// Log writes notifications to the process log. Used when no bot token is
// configured and as the test double's reference behavior.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, recipientID int64, message string) {
	l.Logger.Info().Int64("recipient", recipientID).Str("message", message).Msg("notify")
}
