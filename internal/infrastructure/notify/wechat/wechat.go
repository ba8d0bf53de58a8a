package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultModelURLBase = "https://nof1.ai/models/"
)

// Channel posts markdown messages to a WeChat Work group robot webhook.
type Channel struct {
	name         string
	webhookURL   string
	modelURLBase string
	portalURL    string
	httpClient   *http.Client
}

type Options struct {
	Name         string
	WebhookURL   string
	ModelURLBase string
	PortalURL    string
	Timeout      time.Duration
}

func New(opts Options) *Channel {
	if opts.Name == "" {
		opts.Name = "wechat"
	}
	if opts.ModelURLBase == "" {
		opts.ModelURLBase = DefaultModelURLBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Channel{
		name:         opts.Name,
		webhookURL:   opts.WebhookURL,
		modelURLBase: opts.ModelURLBase,
		portalURL:    opts.PortalURL,
		httpClient:   &http.Client{Timeout: opts.Timeout},
	}
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) Send(ctx context.Context, n port.Notification) error {
	content := n.Text
	if n.Kind == port.NotifyTrades && len(n.Events) > 0 {
		content = c.render(n.Events, n.At)
	}
	return c.post(ctx, content)
}

type webhookReq struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Content string `json:"content"`
	} `json:"markdown"`
}

type webhookResp struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (c *Channel) post(ctx context.Context, content string) error {
	var body webhookReq
	body.MsgType = "markdown"
	body.Markdown.Content = content
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %v", port.ErrChannelDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: wechat: %v", port.ErrChannelDelivery, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: wechat: read body: %v", port.ErrChannelDelivery, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: wechat http %d: %s", port.ErrChannelDelivery, resp.StatusCode, string(raw))
	}

	var out webhookResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%w: wechat: bad response: %v", port.ErrChannelDelivery, err)
	}
	if out.ErrCode != 0 {
		return fmt.Errorf("%w: wechat errcode %d: %s", port.ErrChannelDelivery, out.ErrCode, out.ErrMsg)
	}
	return nil
}

// render 按模型分组（按首次出现顺序）生成 markdown
func (c *Channel) render(events []model.TradeEvent, at time.Time) string {
	var order []string
	byModel := make(map[string][]model.TradeEvent)
	for _, ev := range events {
		id := ev.Model()
		if _, ok := byModel[id]; !ok {
			order = append(order, id)
		}
		byModel[id] = append(byModel[id], ev)
	}

	var sb strings.Builder
	sb.WriteString("🚨 **AI trading alert**\n")
	fmt.Fprintf(&sb, "⏰ Time: %s\n", at.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "📊 Detected %d trade changes:\n", len(events))
	if c.portalURL != "" {
		fmt.Fprintf(&sb, "🔗 [All positions](%s)\n", c.portalURL)
	}
	sb.WriteString("\n")

	for _, id := range order {
		fmt.Fprintf(&sb, "🤖 **%s** [View positions](%s%s)\n", id, c.modelURLBase, id)
		for _, ev := range byModel[id] {
			fmt.Fprintf(&sb, "  %s %s\n", emoji(ev), ev.Message())
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func emoji(ev model.TradeEvent) string {
	switch e := ev.(type) {
	case model.PositionOpened:
		return "🟢"
	case model.PositionClosed:
		return "🔴"
	case model.PositionChanged:
		switch e.Action {
		case model.ActionBuy:
			return "📈"
		case model.ActionSell:
			return "📉"
		default:
			return "⚙️"
		}
	case model.ModelAdded:
		return "🆕"
	case model.ModelRemoved:
		return "❌"
	}
	return "ℹ️"
}

var _ port.Channel = (*Channel)(nil)
