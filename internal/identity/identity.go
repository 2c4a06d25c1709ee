// Package identity issues the anonymous per-participant identities the
// rest of the system keys on: "is it my turn", sync message tagging, and
// API authentication.
package identity

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrUnknownToken = errors.New("unknown identity token")

type Identity struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Token    string `json:"token"`
}

// Registry is the in-memory identity issuer. Tokens are opaque bearer
// credentials; losing one means a new identity, which is fine for
// anonymous play.
type Registry struct {
	mu      sync.Mutex
	byToken map[string]Identity
}

func NewRegistry() *Registry {
	return &Registry{byToken: make(map[string]Identity)}
}

func (r *Registry) Issue(name string) Identity {
	name = strings.TrimSpace(name)
	id := Identity{
		PlayerID: uuid.NewString(),
		Name:     name,
		Token:    uuid.NewString(),
	}
	if id.Name == "" {
		id.Name = "Player-" + id.PlayerID[:8]
	}
	r.mu.Lock()
	r.byToken[id.Token] = id
	r.mu.Unlock()
	return id
}

func (r *Registry) Resolve(token string) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byToken[token]
	if !ok {
		return Identity{}, ErrUnknownToken
	}
	return id, nil
}
