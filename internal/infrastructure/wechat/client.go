package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiBase = "https://api.weixin.qq.com"

// Client talks to the WeChat mini-program login API.
type Client struct {
	AppID   string
	Secret  string
	BaseURL string
	HTTP    *http.Client
	// AllowMock accepts "mock_<openid>" codes without calling WeChat.
	AllowMock bool
}

type jscode2sessionResp struct {
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
	ErrCode    int    `json:"errcode"`
	ErrMsg     string `json:"errmsg"`
}

func (c *Client) Jscode2Session(ctx context.Context, code string) (string, error) {
	if c.AllowMock && strings.HasPrefix(strings.ToLower(code), "mock_") {
		return code[5:], nil
	}
	if c.AppID == "" || c.Secret == "" {
		return "", fmt.Errorf("wechat login not configured")
	}
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 8 * time.Second}
	}
	base := c.BaseURL
	if base == "" {
		base = apiBase
	}
	q := url.Values{}
	q.Set("appid", c.AppID)
	q.Set("secret", c.Secret)
	q.Set("js_code", code)
	q.Set("grant_type", "authorization_code")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/sns/jscode2session?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out jscode2sessionResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode jscode2session: %w", err)
	}
	if out.ErrCode != 0 {
		return "", fmt.Errorf("wechat error: %d %s", out.ErrCode, out.ErrMsg)
	}
	if out.OpenID == "" {
		return "", fmt.Errorf("wechat error: empty openid")
	}
	return out.OpenID, nil
}
