// Package storage persists per-tenant stream history and tenant config.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"shd/internal/models"
	"shd/internal/providers"
	"shd/internal/structures"
)

var ErrInvalidTenant = errors.New("invalid tenant id")

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

type HistoryStore interface {
	// Load returns an empty history for unknown tenants.
	Load(ctx context.Context, tenant string) (*models.History, error)
	Save(ctx context.Context, tenant string, h *models.History, cs models.Changeset) error
	KnownTenants(ctx context.Context) ([]string, error)
}

type ConfigStore interface {
	ClaimID(ctx context.Context, tenant string) (string, error)
	// SetClaimID stores the stream identifier; an empty id clears it.
	SetClaimID(ctx context.Context, tenant, claimID string) error
	ConfiguredTenants(ctx context.Context) (map[string]string, error)
}

type Backend interface {
	HistoryStore
	ConfigStore
	Close() error
}

func ValidTenant(tenant string) bool {
	return tenantPattern.MatchString(tenant) && tenant != "." && tenant != ".."
}

func checkTenant(tenant string) error {
	if !ValidTenant(tenant) {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenant)
	}
	return nil
}

// NewBackend opens the backend named by storage.backend.
func NewBackend(conf *structures.Config, compressor CompressorInterface, logger providers.Logger) (Backend, error) {
	switch conf.Storage.Backend {
	case structures.BackendBadger:
		logger.Infof(providers.TypeStorage, "Using badger backend at %s", conf.Storage.DataDir)
		return NewBadgerStore(BadgerOptions{Path: conf.Storage.DataDir}, compressor, logger)
	case structures.BackendRedis:
		sealer, err := NewSealer(conf.Storage.EncryptionKey)
		if err != nil {
			return nil, err
		}
		logger.Infof(providers.TypeStorage, "Using redis backend at %s (encrypted=%t)", conf.Storage.Redis.Addr, sealer.Encrypted())
		return NewRedisStore(conf.Storage.Redis, sealer, logger)
	default:
		logger.Infof(providers.TypeStorage, "Using file backend at %s", conf.Storage.DataDir)
		return NewFileStore(conf.Storage.DataDir, compressor, logger)
	}
}
