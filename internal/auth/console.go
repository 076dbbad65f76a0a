package auth

import (
	"context"
	"net/http"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/storage"
)

// Console identity headers, stamped by the trusted fronting proxy.
const (
	ConsoleOrgHeader  = "X-Console-Org"
	ConsoleUserHeader = "X-Console-User"
)

// Development fallbacks used when identity headers are absent outside
// production.
const (
	devConsoleOrg  = "org-default"
	devConsoleUser = "dev"
)

// ConsoleAuth authenticates console-operator requests from identity headers.
// It trusts the fronting proxy to have verified the operator; in production
// both identity headers must be present, while development fills in local
// defaults and grants owner so a bare deployment is usable immediately.
type ConsoleAuth struct {
	store      storage.KeyStore
	production bool
}

// NewConsoleAuth returns a ConsoleAuth backed by store.
func NewConsoleAuth(store storage.KeyStore, production bool) *ConsoleAuth {
	return &ConsoleAuth{store: store, production: production}
}

// Authenticate resolves the operator's actor, lazily creating the org and
// membership on first sight.
func (a *ConsoleAuth) Authenticate(ctx context.Context, r *http.Request) (*gateway.Actor, error) {
	orgID := r.Header.Get(ConsoleOrgHeader)
	userID := r.Header.Get(ConsoleUserHeader)

	if a.production {
		if orgID == "" || userID == "" {
			return nil, gateway.NewError(http.StatusUnauthorized, gateway.CodeMissingAPIKey,
				"console identity headers are required")
		}
	} else {
		if orgID == "" {
			orgID = devConsoleOrg
		}
		if userID == "" {
			userID = devConsoleUser
		}
	}

	defaultRole := gateway.RoleOwner
	if a.production {
		defaultRole = gateway.RoleMember
	}

	if _, err := a.store.EnsureOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	m, err := a.store.EnsureMembership(ctx, orgID, userID, defaultRole)
	if err != nil {
		return nil, err
	}

	return &gateway.Actor{
		OrgID:  orgID,
		UserID: userID,
		Role:   m.Role,
		Scopes: []string{"*"},
	}, nil
}

// RequireConsoleRole rejects with 403 when the actor's role ranks below
// required.
func RequireConsoleRole(actor *gateway.Actor, required gateway.Role) error {
	if actor.Role.Rank() < required.Rank() {
		return gateway.NewError(http.StatusForbidden, gateway.CodeMissingScope,
			"console role "+string(required)+" or higher required")
	}
	return nil
}
