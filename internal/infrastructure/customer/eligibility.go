package customer

import (
	"context"
	"strings"
)

// Blocklist denies checkout to the listed customers and allows everyone else.
type Blocklist struct {
	blocked map[string]struct{}
}

func NewBlocklist(ids ...string) *Blocklist {
	b := &Blocklist{blocked: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			b.blocked[id] = struct{}{}
		}
	}
	return b
}

func (b *Blocklist) CanCheckout(_ context.Context, customerID string) (bool, error) {
	_, blocked := b.blocked[customerID]
	return !blocked, nil
}
