package config

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	gateway "github.com/bifrost-ai/bifrost/internal"
	"github.com/bifrost-ai/bifrost/internal/storage"
)

// Bootstrap seeds organizations and API keys from the config file. Seeding is
// idempotent: entries that already exist in the store are left untouched, so
// it is safe to run on every start.
func Bootstrap(ctx context.Context, cfg *Config, store storage.KeyStore) error {
	for _, o := range cfg.Orgs {
		if o.ID == "" {
			continue
		}
		if _, err := store.EnsureOrganization(ctx, o.ID); err != nil {
			return err
		}
		if o.Owner != "" {
			if _, err := store.EnsureMembership(ctx, o.ID, o.Owner, gateway.RoleOwner); err != nil {
				return err
			}
		}
		slog.Info("bootstrapped org", "id", o.ID)
	}

	for _, k := range cfg.Keys {
		if k.Secret == "" || k.OrgID == "" {
			continue
		}
		hash := gateway.HashKey(k.Secret)
		if existing, _ := store.GetKeyByHash(ctx, hash); existing != nil {
			continue
		}

		if _, err := store.EnsureOrganization(ctx, k.OrgID); err != nil {
			return err
		}
		owner := k.Owner
		if owner == "" {
			owner = "bootstrap"
		}
		if _, err := store.EnsureMembership(ctx, k.OrgID, owner, gateway.RoleOwner); err != nil {
			return err
		}

		scopes := k.Scopes
		if len(scopes) == 0 {
			scopes = slices.Clone(gateway.DefaultKeyScopes)
		}
		key := &gateway.APIKey{
			ID:         uuid.Must(uuid.NewV7()).String(),
			OrgID:      k.OrgID,
			Label:      k.Label,
			SecretHash: hash,
			Prefix:     gateway.KeyDisplayPrefix(k.Secret),
			Status:     gateway.KeyActive,
			Scopes:     scopes,
			CreatedBy:  owner,
			CreatedAt:  time.Now().UTC(),
		}
		if err := store.CreateKey(ctx, key); err != nil {
			return err
		}
		slog.Info("bootstrapped api key", "label", k.Label, "prefix", key.Prefix)
	}

	return nil
}
