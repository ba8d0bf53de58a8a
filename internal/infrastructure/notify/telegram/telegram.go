package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"alphawatch/internal/application/port"
)

const (
	DefaultBaseURL   = "https://api.telegram.org"
	DefaultTimeout   = 15 * time.Second
	defaultProxyPort = "7890"
)

// Channel sends the rendered text through the Bot API sendMessage method.
type Channel struct {
	name       string
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
}

type Options struct {
	Name     string
	BotToken string
	ChatID   string
	// Proxy is host or host:port of an HTTP proxy; the port defaults to 7890.
	Proxy   string
	BaseURL string
	Timeout time.Duration
}

func New(opts Options) (*Channel, error) {
	if opts.Name == "" {
		opts.Name = "telegram"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(opts.Proxy); p != "" {
		u, err := ProxyURL(p)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(u)
	}

	return &Channel{
		name:       opts.Name,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.BotToken,
		chatID:     opts.ChatID,
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: transport},
	}, nil
}

// ProxyURL turns "host" or "host:port" into an http proxy URL.
func ProxyURL(p string) (*url.URL, error) {
	p = strings.TrimPrefix(strings.TrimPrefix(p, "http://"), "https://")
	host, port, err := net.SplitHostPort(p)
	if err != nil {
		host, port = p, defaultProxyPort
	}
	if host == "" {
		return nil, fmt.Errorf("telegram: invalid proxy %q", p)
	}
	return &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}, nil
}

func (c *Channel) Name() string { return c.name }

type sendMessageReq struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResp struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (c *Channel) Send(ctx context.Context, n port.Notification) error {
	b, err := json.Marshal(sendMessageReq{ChatID: c.chatID, Text: n.Text, ParseMode: "Markdown"})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %v", port.ErrChannelDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the url carries the token
		return fmt.Errorf("%w: telegram: %v", port.ErrChannelDelivery, redact(err, c.token))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: telegram: read body: %v", port.ErrChannelDelivery, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: telegram http %d: %s", port.ErrChannelDelivery, resp.StatusCode, string(raw))
	}

	var out apiResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%w: telegram: bad response: %v", port.ErrChannelDelivery, err)
	}
	if !out.OK {
		return fmt.Errorf("%w: telegram error %d: %s", port.ErrChannelDelivery, out.ErrorCode, out.Description)
	}
	return nil
}

func redact(err error, token string) string {
	if token == "" {
		return err.Error()
	}
	return strings.ReplaceAll(err.Error(), token, "***")
}

var _ port.Channel = (*Channel)(nil)
