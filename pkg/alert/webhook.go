package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookNotifier posts text messages to a chat-bot webhook
// ({"msgtype":"text"} body, {"errcode":0} reply).
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

type webhookBody struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

type webhookReply struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (n *WebhookNotifier) Deliver(ctx context.Context, m Message) error {
	body := webhookBody{MsgType: "text"}
	body.Text.Content = m.Text
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("non-200 response: %d\n%s", resp.StatusCode, string(data))
	}

	var reply webhookReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("decode webhook reply: %w", err)
	}
	if reply.ErrCode != 0 {
		return fmt.Errorf("webhook error %d: %s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}
