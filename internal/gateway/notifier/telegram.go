package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bastion/internal/types"
)

// 中文说明：
// Telegram 通知器：error/critical 告警推送至指定群/频道，
// 同时承载远程控制命令面（见 commands.go）。

type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{BotToken: botToken, ChatID: chatID, Client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *Telegram) Name() string { return "telegram" }

// SendAlert 渲染告警并发送。channels 对单通道实现无意义，忽略。
func (t *Telegram) SendAlert(ctx context.Context, alert types.Alert, _ []string) error {
	return t.sendText(ctx, FromAlert(alert).RenderMarkdown())
}

// sendText 发送文本消息（带最多 3 次重试）。
func (t *Telegram) sendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram 配置不完整")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)

	payload := map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
			if !sleepRetry(ctx, time.Duration(i+1)*time.Second) {
				return ctx.Err()
			}
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		if !sleepRetry(ctx, time.Duration(i+1)*time.Second) {
			return ctx.Err()
		}
	}
	return lastErr
}

func sleepRetry(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
