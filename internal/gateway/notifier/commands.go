package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bastion/internal/logger"

	"github.com/tidwall/gjson"
)

// CommandHandler 处理一条远程命令，例如 "/pause 维护窗口"。
type CommandHandler func(ctx context.Context, command string, args string) error

// CommandPoller 轮询 Telegram getUpdates，把运维命令转发给注册的处理器。
// 只接受配置 ChatID 发来的消息，其余一律忽略。
type CommandPoller struct {
	tg       *Telegram
	handler  CommandHandler
	offset   int64
	interval time.Duration
}

func NewCommandPoller(tg *Telegram, handler CommandHandler) *CommandPoller {
	return &CommandPoller{tg: tg, handler: handler, interval: 3 * time.Second}
}

// Run 阻塞轮询直到 ctx 取消。单次轮询失败只记录，不中断。
func (p *CommandPoller) Run(ctx context.Context) {
	logger.Infof("telegram command poller started (chat_id=%s)", p.tg.ChatID)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("telegram command poller stopped")
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				logger.Warnf("telegram poll failed: %v", err)
			}
		}
	}
}

func (p *CommandPoller) pollOnce(ctx context.Context) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/getUpdates?timeout=0&offset=%d",
		p.tg.BotToken, p.offset+1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.tg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if !gjson.GetBytes(body, "ok").Bool() {
		return fmt.Errorf("telegram getUpdates not ok: %s", gjson.GetBytes(body, "description").String())
	}

	for _, upd := range gjson.GetBytes(body, "result").Array() {
		updateID := upd.Get("update_id").Int()
		if updateID > p.offset {
			p.offset = updateID
		}
		chatID := upd.Get("message.chat.id").String()
		if chatID != p.tg.ChatID {
			continue
		}
		text := strings.TrimSpace(upd.Get("message.text").String())
		if !strings.HasPrefix(text, "/") {
			continue
		}
		command, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
		command = strings.ToLower(strings.TrimSpace(command))
		if p.handler == nil {
			continue
		}
		if err := p.handler(ctx, command, strings.TrimSpace(args)); err != nil {
			logger.Warnf("remote command /%s failed: %v", command, err)
			_ = p.tg.sendText(ctx, fmt.Sprintf("命令 /%s 执行失败：%v", command, err))
		} else {
			_ = p.tg.sendText(ctx, fmt.Sprintf("命令 /%s 已执行", command))
		}
	}
	return nil
}
