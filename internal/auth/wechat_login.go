package auth

import (
	"context"
	"strings"

	"mealsub-backend/internal/domain"
)

// SessionExchanger trades a WeChat mini-program login code for an openid.
type SessionExchanger interface {
	Jscode2Session(ctx context.Context, code string) (openID string, err error)
}

// WechatLogin signs in mini-program users. The openid doubles as the
// customer identity and is what JSAPI payments are addressed to.
type WechatLogin struct {
	Sessions SessionExchanger
	Tokens   *Tokens
}

func (l *WechatLogin) Login(ctx context.Context, code string) (string, domain.Actor, error) {
	if strings.TrimSpace(code) == "" {
		return "", domain.Actor{}, domain.Invalid("code required")
	}
	openID, err := l.Sessions.Jscode2Session(ctx, code)
	if err != nil {
		return "", domain.Actor{}, err
	}
	a := domain.Actor{
		ID:         "wx:" + openID,
		CustomerID: "wx:" + openID,
		OpenID:     openID,
		Roles:      []string{"customer"},
	}
	token, err := l.Tokens.Issue(a)
	if err != nil {
		return "", domain.Actor{}, err
	}
	return token, a, nil
}
