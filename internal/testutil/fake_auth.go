package testutil

import (
	"context"
	"net/http"
	"slices"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

// StaticAuth always authenticates as the configured actor.
type StaticAuth struct {
	Actor gateway.Actor
}

// Authenticate returns a copy of the configured actor.
func (a StaticAuth) Authenticate(context.Context, *http.Request) (*gateway.Actor, error) {
	actor := a.Actor
	if actor.OrgID == "" {
		actor.OrgID = "org-test"
	}
	if actor.UserID == "" {
		actor.UserID = "user-test"
	}
	if actor.Role == "" {
		actor.Role = gateway.RoleMember
	}
	if actor.Scopes == nil {
		actor.Scopes = slices.Clone(gateway.DefaultKeyScopes)
	}
	return &actor, nil
}

// RejectAuth always rejects with the given error.
type RejectAuth struct {
	Err error
}

// Authenticate returns the configured error.
func (a RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.Actor, error) {
	return nil, a.Err
}
