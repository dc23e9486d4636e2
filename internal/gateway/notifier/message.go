package notifier

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"bastion/internal/types"
)

const maxStructuredMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的告警推送。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// FromAlert 将告警渲染为结构化推送。
func FromAlert(alert types.Alert) StructuredMessage {
	var metricLines []string
	keys := make([]string, 0, len(alert.Metrics))
	for k := range alert.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		metricLines = append(metricLines, fmt.Sprintf("%s: %.4f", k, alert.Metrics[k]))
	}
	var actionLines []string
	for _, a := range alert.Actions {
		actionLines = append(actionLines, fmt.Sprintf("/%s — %s", a.ActionID, a.Label))
	}
	return StructuredMessage{
		Icon:  levelIcon(alert.Level),
		Title: fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Level)), alert.Component),
		Sections: []MessageSection{
			{Title: "详情", Lines: []string{alert.Message}},
			{Title: "指标", Lines: metricLines},
			{Title: "可用操作", Lines: actionLines},
		},
		Footer:    "alert id: " + alert.ID,
		Timestamp: alert.Timestamp,
	}
}

func levelIcon(level types.AlertLevel) string {
	switch level {
	case types.AlertCritical:
		return "🚨"
	case types.AlertError:
		return "❌"
	case types.AlertWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// RenderMarkdown 生成 Markdown 文本，自动裁剪长度。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(strings.TrimSpace(m.Icon + " " + m.Title))
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxStructuredMessageLen {
		body = body[:maxStructuredMessageLen] + "..."
	}
	return body
}

func renderSections(secs []MessageSection) string {
	hasContent := false
	for _, sec := range secs {
		if len(sanitizeLines(sec.Lines)) > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for idx, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		title := strings.TrimSpace(sec.Title)
		if title != "" {
			b.WriteString(sanitize(title))
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		if idx != len(secs)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")
	return b.String()
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "```", "'''")
	return s
}
