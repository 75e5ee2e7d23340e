// Package identity resolves subscriber credentials into cached identities.
// The engine treats identity as an external concern; this package holds the
// boundary interface plus a config-backed resolver.
package identity

import (
	"context"
	"strings"

	"github.com/trunkwatch/trunkwatch/errs"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// Resolver turns a bearer token into a subscriber identity. An empty token
// resolves to the anonymous identity; an unknown token is an auth error.
type Resolver interface {
	Resolve(ctx context.Context, token string) (schema.Identity, error)
}

// User is one configured subscriber account.
type User struct {
	Token        string
	Name         string
	Unrestricted bool
	Plan         *schema.Plan
	Talkgroups   []string
}

// StaticResolver resolves identities from configuration. Identities are
// immutable after construction, so Resolve is safe for concurrent use.
type StaticResolver struct {
	byToken map[string]schema.Identity
}

// NewStaticResolver indexes the configured users by token.
func NewStaticResolver(users []User) *StaticResolver {
	byToken := make(map[string]schema.Identity, len(users))
	for _, u := range users {
		token := strings.TrimSpace(u.Token)
		if token == "" {
			continue
		}
		byToken[token] = schema.Identity{
			UserID:       u.Name,
			Unrestricted: u.Unrestricted,
			Plan:         u.Plan,
			Talkgroups:   schema.NewTalkgroupSet(u.Talkgroups...),
		}
	}
	return &StaticResolver{byToken: byToken}
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, token string) (schema.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return schema.AnonymousIdentity(), nil
	}
	id, ok := r.byToken[token]
	if !ok {
		return schema.Identity{}, errs.New("identity", errs.CodeAuth,
			errs.WithReason(errs.ReasonBadCredential),
			errs.WithMessage("unknown subscriber token"))
	}
	return id, nil
}
