package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env     string
	Port    int
	LogJSON bool

	JWTSecret   string
	GlobalRoles []string

	DatabaseURL string
	AutoMigrate bool

	MenuFile  string
	MenuURL   string
	RedisAddr string
	MenuTTL   time.Duration

	RabbitMQURL string
	Exchange    string

	BlockedCustomers []string
	ARAccount        string
	CashAccount      string

	PublicBaseURL   string
	ProviderTimeout time.Duration
	ProvidersFile   string
	Providers       Providers

	WechatAppID     string
	WechatSecret    string
	WechatMchID     string
	WechatMchSerial string
	WechatKey       string
	WechatAPIv3Key  string
	WechatCert      string

	MercadoPagoToken string
	StripeSecretKey  string
	StripePublicKey  string
	StripeWebhookKey string
}

// Providers is the routing section, also loadable from YAML.
type Providers struct {
	Default       string              `yaml:"default"`
	SafeDefault   string              `yaml:"safeDefault"`
	Enabled       []string            `yaml:"enabled"`
	Channels      map[string][]string `yaml:"channels"`
	Methods       map[string][]string `yaml:"methods"`
	WebhookTokens map[string]string   `yaml:"webhookTokens"`
}

func Default() Config {
	return Config{
		Env:             "dev",
		Port:            5000,
		LogJSON:         true,
		GlobalRoles:     []string{"admin", "ops"},
		MenuTTL:         5 * time.Minute,
		Exchange:        "mealsub.events",
		ARAccount:       "1.1.2.01",
		CashAccount:     "1.1.1.01",
		PublicBaseURL:   "http://127.0.0.1:5000",
		ProviderTimeout: 10 * time.Second,
		Providers: Providers{
			Default:     "mock",
			SafeDefault: "mock",
			Enabled:     []string{"mock"},
			Methods: map[string][]string{
				"PIX":        {"mercadopago", "mock"},
				"CARD":       {"stripe", "mercadopago", "mock"},
				"WECHAT_PAY": {"wechat", "mock"},
			},
		},
	}
}

func EnvDefaults() Config {
	return fromEnv(Default())
}

func fromEnv(c Config) Config {
	if v := os.Getenv("MEALSUB_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("MEALSUB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("MEALSUB_LOG_JSON"); v != "" {
		c.LogJSON = parseBool(v, c.LogJSON)
	}
	if v := os.Getenv("MEALSUB_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("MEALSUB_GLOBAL_ROLES"); v != "" {
		c.GlobalRoles = splitList(v)
	}
	if v := os.Getenv("MEALSUB_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("MEALSUB_AUTO_MIGRATE"); v != "" {
		c.AutoMigrate = parseBool(v, c.AutoMigrate)
	}
	if v := os.Getenv("MEALSUB_MENU_FILE"); v != "" {
		c.MenuFile = v
	}
	if v := os.Getenv("MEALSUB_MENU_URL"); v != "" {
		c.MenuURL = v
	}
	if v := os.Getenv("MEALSUB_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("MEALSUB_MENU_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.MenuTTL = d
		}
	}
	if v := os.Getenv("MEALSUB_RABBITMQ_URL"); v != "" {
		c.RabbitMQURL = v
	}
	if v := os.Getenv("MEALSUB_EXCHANGE"); v != "" {
		c.Exchange = v
	}
	if v := os.Getenv("MEALSUB_BLOCKED_CUSTOMERS"); v != "" {
		c.BlockedCustomers = splitList(v)
	}
	if v := os.Getenv("MEALSUB_AR_ACCOUNT"); v != "" {
		c.ARAccount = v
	}
	if v := os.Getenv("MEALSUB_CASH_ACCOUNT"); v != "" {
		c.CashAccount = v
	}
	if v := os.Getenv("MEALSUB_PUBLIC_BASE_URL"); v != "" {
		c.PublicBaseURL = v
	}
	if v := os.Getenv("MEALSUB_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ProviderTimeout = d
		}
	}
	if v := os.Getenv("MEALSUB_PROVIDERS_FILE"); v != "" {
		c.ProvidersFile = v
	}
	if v := os.Getenv("MEALSUB_PROVIDERS"); v != "" {
		c.Providers.Enabled = splitList(v)
	}
	if v := os.Getenv("MEALSUB_DEFAULT_PROVIDER"); v != "" {
		c.Providers.Default = v
	}
	if v := os.Getenv("MEALSUB_WEBHOOK_TOKENS"); v != "" {
		c.Providers.WebhookTokens = parsePairs(v)
	}
	if v := os.Getenv("MEALSUB_WECHAT_APPID"); v != "" {
		c.WechatAppID = v
	}
	if v := os.Getenv("MEALSUB_WECHAT_SECRET"); v != "" {
		c.WechatSecret = v
	}
	if v := os.Getenv("MEALSUB_WECHAT_MCHID"); v != "" {
		c.WechatMchID = v
	}
	if v := os.Getenv("MEALSUB_WECHAT_MCH_SERIAL"); v != "" {
		c.WechatMchSerial = v
	}
	if v := os.Getenv("MEALSUB_WECHAT_PRIVATE_KEY"); v != "" {
		c.WechatKey = v
	}
	if v := os.Getenv("MEALSUB_WECHAT_APIV3_KEY"); v != "" {
		c.WechatAPIv3Key = v
	}
	if v := os.Getenv("MEALSUB_WECHAT_PLATFORM_CERT"); v != "" {
		c.WechatCert = v
	}
	if v := os.Getenv("MEALSUB_MERCADOPAGO_TOKEN"); v != "" {
		c.MercadoPagoToken = v
	}
	if v := os.Getenv("MEALSUB_STRIPE_SECRET_KEY"); v != "" {
		c.StripeSecretKey = v
	}
	if v := os.Getenv("MEALSUB_STRIPE_PUBLISHABLE_KEY"); v != "" {
		c.StripePublicKey = v
	}
	if v := os.Getenv("MEALSUB_STRIPE_WEBHOOK_SECRET"); v != "" {
		c.StripeWebhookKey = v
	}
	return c
}

// LoadProviders overlays the routing file onto c.Providers. Keys absent from
// the file keep their current values.
func (c *Config) LoadProviders(path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read providers file: %w", err)
	}
	var p Providers
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parse providers file: %w", err)
	}
	if p.Default != "" {
		c.Providers.Default = p.Default
	}
	if p.SafeDefault != "" {
		c.Providers.SafeDefault = p.SafeDefault
	}
	if p.Enabled != nil {
		c.Providers.Enabled = p.Enabled
	}
	if p.Channels != nil {
		c.Providers.Channels = p.Channels
	}
	if p.Methods != nil {
		c.Providers.Methods = p.Methods
	}
	if p.WebhookTokens != nil {
		c.Providers.WebhookTokens = p.WebhookTokens
	}
	return nil
}

func parseBool(v string, def bool) bool {
	switch v {
	case "1", "true", "TRUE":
		return true
	case "0", "false", "FALSE":
		return false
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parsePairs reads "a=x,b=y".
func parsePairs(v string) map[string]string {
	out := map[string]string{}
	for _, s := range splitList(v) {
		k, val, ok := strings.Cut(s, "=")
		if ok && strings.TrimSpace(k) != "" {
			out[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
	}
	return out
}
