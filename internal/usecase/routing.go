package usecase

import (
	"fmt"
	"regexp"

	"mealsub-backend/internal/domain"
)

const maxIdempotencyKeyLen = 128

var idempotencyKeyRe = regexp.MustCompile(`^[A-Za-z0-9\-_.:]+$`)

// ValidateIdempotencyKey enforces the key contract: 1-128 characters drawn
// from letters, digits and "-_.:".
func ValidateIdempotencyKey(key string) error {
	switch {
	case key == "":
		return domain.Invalid("Idempotency-Key header is required")
	case len(key) > maxIdempotencyKeyLen:
		return domain.Invalid(fmt.Sprintf("Idempotency-Key must be at most %d characters", maxIdempotencyKeyLen))
	case !idempotencyKeyRe.MatchString(key):
		return domain.Invalid("Idempotency-Key may only contain letters, digits and -_.:")
	}
	return nil
}

// ProviderRouting decides which gateway serves a new intent.
type ProviderRouting struct {
	Default     domain.ProviderName
	SafeDefault domain.ProviderName
	Enabled     []domain.ProviderName
	Channels    map[domain.Channel][]domain.ProviderName
	Methods     map[domain.PaymentMethod][]domain.ProviderName
}

func (r ProviderRouting) enabled(p domain.ProviderName) bool {
	for _, e := range r.Enabled {
		if e == p {
			return true
		}
	}
	return false
}

// Candidates lists providers in preference order: channel preference, then the
// method priority list, then the configured default.
func (r ProviderRouting) Candidates(ch domain.Channel, m domain.PaymentMethod) []domain.ProviderName {
	var out []domain.ProviderName
	seen := map[domain.ProviderName]bool{}
	add := func(ps ...domain.ProviderName) {
		for _, p := range ps {
			if p != "" && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	if ch != "" {
		add(r.Channels[ch]...)
	}
	add(r.Methods[m]...)
	add(r.Default)
	return out
}

// Resolve picks the first enabled candidate whose gateway supports the method,
// falling back to SafeDefault. It fails validation when nothing can serve the
// method, which happens before any provider is contacted.
func (r ProviderRouting) Resolve(ch domain.Channel, m domain.PaymentMethod, gateways map[domain.ProviderName]PaymentGateway) (domain.ProviderName, PaymentGateway, error) {
	for _, p := range r.Candidates(ch, m) {
		if !r.enabled(p) {
			continue
		}
		if gw, ok := gateways[p]; ok && gw.Supports(m) {
			return p, gw, nil
		}
	}
	if gw, ok := gateways[r.SafeDefault]; ok && gw.Supports(m) {
		return r.SafeDefault, gw, nil
	}
	return "", nil, domain.Invalid(fmt.Sprintf("no payment provider supports method %s", m))
}
