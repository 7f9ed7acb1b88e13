package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Slack posts to an incoming webhook.
type Slack struct {
	Webhook string
	Client  *http.Client
}

func NewSlack(webhook string, timeout time.Duration) *Slack {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Slack{
		Webhook: webhook,
		Client:  &http.Client{Timeout: timeout},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *Slack) Send(ctx context.Context, title, text string) error {
	if s == nil || s.Webhook == "" {
		return &Error{Transport: "slack", Err: errors.New("not configured")}
	}
	msg := text
	if title != "" {
		msg = "*" + title + "*\n" + text
	}
	body, _ := json.Marshal(slackPayload{Text: msg})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return &Error{Transport: "slack", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return &Error{Transport: "slack", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return &Error{Transport: "slack", StatusCode: resp.StatusCode, Err: errors.New("non-2xx")}
	}
	return nil
}
