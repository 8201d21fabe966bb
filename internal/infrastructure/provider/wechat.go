package provider

import (
	"bytes"
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"mealsub-backend/internal/domain"
)

const wechatAPI = "https://api.mch.weixin.qq.com"

// REFUND is not listed. It falls back to REQUIRES_ACTION and never settles.
var wechatTradeStates = statusTable{
	"success":    domain.IntentSucceeded,
	"notpay":     domain.IntentRequiresAction,
	"userpaying": domain.IntentProcessing,
	"payerror":   domain.IntentFailed,
	"closed":     domain.IntentCanceled,
	"revoked":    domain.IntentCanceled,
}

type WechatConfig struct {
	AppID        string
	MchID        string
	MchSerial    string
	PrivateKey   string // PEM text or a path to it
	APIv3Key     string
	PlatformCert string // PEM text or a path to it
	BaseURL      string
	Description  string
}

// Wechat speaks WeChat Pay API v3: JSAPI prepay when the payer has an openid,
// Native (QR code) otherwise.
type Wechat struct {
	appID          string
	mchID          string
	mchSerial      string
	privateKey     *rsa.PrivateKey
	apiV3Key       string
	platformCert   *x509.Certificate
	platformSerial string
	baseURL        string
	notifyURL      string
	description    string
	ttl            time.Duration
	http           *http.Client
}

func NewWechat(cfg WechatConfig, notifyBase string, hc *http.Client) (*Wechat, error) {
	for name, v := range map[string]string{
		"app id": cfg.AppID, "merchant id": cfg.MchID, "merchant serial": cfg.MchSerial,
		"private key": cfg.PrivateKey, "api v3 key": cfg.APIv3Key, "platform cert": cfg.PlatformCert,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("wechat pay config incomplete: %s missing", name)
		}
	}
	pemKey, err := loadPEM(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	priv, err := parsePrivateKey(pemKey)
	if err != nil {
		return nil, err
	}
	pemCert, err := loadPEM(cfg.PlatformCert)
	if err != nil {
		return nil, err
	}
	cert, err := parseCert(pemCert)
	if err != nil {
		return nil, err
	}
	base := cfg.BaseURL
	if base == "" {
		base = wechatAPI
	}
	desc := cfg.Description
	if desc == "" {
		desc = "meal order"
	}
	return &Wechat{
		appID:          cfg.AppID,
		mchID:          cfg.MchID,
		mchSerial:      cfg.MchSerial,
		privateKey:     priv,
		apiV3Key:       cfg.APIv3Key,
		platformCert:   cert,
		platformSerial: strings.ToUpper(cert.SerialNumber.Text(16)),
		baseURL:        strings.TrimRight(base, "/"),
		notifyURL:      webhookURL(notifyBase, domain.ProviderWechat),
		description:    desc,
		ttl:            30 * time.Minute,
		http:           hc,
	}, nil
}

func (w *Wechat) Name() domain.ProviderName { return domain.ProviderWechat }

func (w *Wechat) VerifiesWebhooks() bool { return true }

func (w *Wechat) Supports(m domain.PaymentMethod) bool { return m == domain.MethodWechatPay }

type wechatPrepayReq struct {
	AppID       string       `json:"appid"`
	MchID       string       `json:"mchid"`
	Description string       `json:"description"`
	OutTradeNo  string       `json:"out_trade_no"`
	TimeExpire  string       `json:"time_expire"`
	NotifyURL   string       `json:"notify_url"`
	Amount      wechatAmount `json:"amount"`
	Payer       *wechatPayer `json:"payer,omitempty"`
	Attach      string       `json:"attach,omitempty"`
}

type wechatAmount struct {
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type wechatPayer struct {
	OpenID string `json:"openid"`
}

type wechatPrepayResp struct {
	PrepayID string `json:"prepay_id"`
	CodeURL  string `json:"code_url"`
}

// tradeNo derives the merchant order number from the payment and key so a
// retried call reuses the provider-side order.
func tradeNo(paymentID, key string) string {
	h := sha256.Sum256([]byte(paymentID + "|" + key))
	return hex.EncodeToString(h[:])[:32]
}

func (w *Wechat) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.IntentResult, error) {
	if !w.Supports(req.Payment.Method) {
		return domain.IntentResult{}, unsupported(w.Name(), req.Payment.Method)
	}
	expires := time.Now().UTC().Add(w.ttl)
	outTradeNo := tradeNo(req.Payment.ID, req.IdempotencyKey)
	body := wechatPrepayReq{
		AppID:       w.appID,
		MchID:       w.mchID,
		Description: w.description,
		OutTradeNo:  outTradeNo,
		TimeExpire:  expires.Format(time.RFC3339),
		NotifyURL:   w.notifyURL,
		Amount:      wechatAmount{Total: req.Payment.Amount.MinorUnits(), Currency: "CNY"},
		Attach:      req.Payment.ID,
	}
	path := "/v3/pay/transactions/native"
	if openID := strings.TrimSpace(req.Payer.OpenID); openID != "" {
		path = "/v3/pay/transactions/jsapi"
		body.Payer = &wechatPayer{OpenID: openID}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return domain.IntentResult{}, err
	}
	u := w.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return domain.IntentResult{}, err
	}
	auth, err := w.buildAuthorization(http.MethodPost, u, raw)
	if err != nil {
		return domain.IntentResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", auth)
	respBody, err := do(w.http, httpReq)
	if err != nil {
		return domain.IntentResult{}, fmt.Errorf("wechat prepay: %w", err)
	}
	var out wechatPrepayResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return domain.IntentResult{}, fmt.Errorf("decode wechat prepay: %w", err)
	}

	var payload map[string]any
	switch {
	case body.Payer != nil && out.PrepayID != "":
		payload, err = w.buildPayParams(out.PrepayID)
		if err != nil {
			return domain.IntentResult{}, err
		}
	case body.Payer == nil && out.CodeURL != "":
		payload = map[string]any{"codeUrl": out.CodeURL}
	default:
		return domain.IntentResult{}, errors.New("wechat prepay: response missing prepay_id/code_url")
	}
	payload["outTradeNo"] = outTradeNo
	return domain.IntentResult{
		Status:            domain.IntentRequiresAction,
		ProviderIntentRef: outTradeNo,
		ClientPayload:     payload,
		ExpiresAt:         &expires,
	}, nil
}

type wechatNotification struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Resource  notifyResource `json:"resource"`
}

type notifyResource struct {
	Algorithm      string `json:"algorithm"`
	Ciphertext     string `json:"ciphertext"`
	Nonce          string `json:"nonce"`
	AssociatedData string `json:"associated_data"`
}

type wechatTransaction struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	SuccessTime   string `json:"success_time"`
}

func (w *Wechat) ParseWebhook(_ context.Context, h http.Header, body []byte) (domain.WebhookNotice, error) {
	err := w.verifySignature(
		h.Get("Wechatpay-Timestamp"),
		h.Get("Wechatpay-Nonce"),
		string(body),
		h.Get("Wechatpay-Signature"),
		h.Get("Wechatpay-Serial"),
	)
	if err != nil {
		return domain.WebhookNotice{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	var n wechatNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return domain.WebhookNotice{}, domain.Invalid("malformed wechat notification: " + err.Error())
	}
	plain, err := w.decryptResource(n.Resource)
	if err != nil {
		return domain.WebhookNotice{}, fmt.Errorf("%w: decrypt resource: %v", ErrBadSignature, err)
	}
	var tx wechatTransaction
	if err := json.Unmarshal(plain, &tx); err != nil {
		return domain.WebhookNotice{}, domain.Invalid("malformed wechat transaction: " + err.Error())
	}
	out := domain.WebhookNotice{
		Provider:          domain.ProviderWechat,
		EventID:           n.ID,
		ProviderIntentRef: tx.OutTradeNo,
		IntentStatus:      wechatTradeStates.lookup(tx.TradeState),
	}
	if tx.TransactionID != "" {
		out.ProviderRef = &tx.TransactionID
	}
	if t, err := time.Parse(time.RFC3339, tx.SuccessTime); err == nil {
		out.PaidAt = &t
	}
	return out, nil
}

func (w *Wechat) verifySignature(timestamp, nonce, body, signature, serial string) error {
	if strings.TrimSpace(timestamp) == "" || strings.TrimSpace(nonce) == "" || strings.TrimSpace(signature) == "" {
		return errors.New("signature headers required")
	}
	if strings.TrimSpace(serial) != "" && strings.ToUpper(serial) != w.platformSerial {
		return errors.New("platform cert serial mismatch")
	}
	pub, ok := w.platformCert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("platform cert is not RSA")
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return err
	}
	h := sha256.Sum256([]byte(timestamp + "\n" + nonce + "\n" + body + "\n"))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig)
}

func (w *Wechat) decryptResource(r notifyResource) ([]byte, error) {
	key := []byte(w.apiV3Key)
	if len(key) != 32 {
		return nil, errors.New("api v3 key length invalid")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := []byte(r.Nonce)
	if len(nonce) != gcm.NonceSize() {
		return nil, errors.New("nonce length invalid")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(r.Ciphertext)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, []byte(r.AssociatedData))
}

func (w *Wechat) buildAuthorization(method, rawURL string, body []byte) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := randomString(32)
	signature, err := w.sign(method + "\n" + u.RequestURI() + "\n" + timestamp + "\n" + nonce + "\n" + string(body) + "\n")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`WECHATPAY2-SHA256-RSA2048 mchid="%s",nonce_str="%s",timestamp="%s",serial_no="%s",signature="%s"`,
		w.mchID, nonce, timestamp, w.mchSerial, signature), nil
}

func (w *Wechat) buildPayParams(prepayID string) (map[string]any, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := randomString(32)
	pkg := "prepay_id=" + prepayID
	signature, err := w.sign(w.appID + "\n" + timestamp + "\n" + nonce + "\n" + pkg + "\n")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"appId":     w.appID,
		"timeStamp": timestamp,
		"nonceStr":  nonce,
		"package":   pkg,
		"signType":  "RSA",
		"paySign":   signature,
	}, nil
}

func (w *Wechat) sign(message string) (string, error) {
	h := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, w.privateKey, crypto.SHA256, h[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func loadPEM(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("empty pem")
	}
	if strings.Contains(v, "BEGIN") {
		return []byte(v), nil
	}
	return os.ReadFile(v)
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("invalid private key")
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if k, ok := key.(*rsa.PrivateKey); ok {
			return k, nil
		}
		return nil, errors.New("private key type invalid")
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	return nil, fmt.Errorf("unsupported private key type %q", block.Type)
}

func parseCert(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("invalid cert")
	}
	return x509.ParseCertificate(block.Bytes)
}

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	const letters = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}
