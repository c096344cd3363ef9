package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"shd/internal/models"
	"shd/internal/providers"
)

const (
	historyKeyPrefix = "history/"
	tenantKeyPrefix  = "tenant/"
	configKeyPrefix  = "config/"
)

type BadgerOptions struct {
	Path string
	// InMemory is used by tests.
	InMemory bool
}

// BadgerStore keeps one compressed document per tenant in an embedded
// LSM store.
type BadgerStore struct {
	db         *badger.DB
	compressor CompressorInterface
	logger     providers.Logger
}

func NewBadgerStore(opt BadgerOptions, compressor CompressorInterface, logger providers.Logger) (*BadgerStore, error) {
	if opt.Path == "" && !opt.InMemory {
		return nil, fmt.Errorf("badger backend requires storage.dataDir")
	}
	opts := badger.DefaultOptions(opt.Path).
		WithInMemory(opt.InMemory).
		WithLogger(nil).
		// documents are already zstd compressed
		WithCompression(options.None).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithNumMemtables(3).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)
	if opt.InMemory {
		opts.Dir, opts.ValueDir = "", ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db, compressor: compressor, logger: logger}, nil
}

func (b *BadgerStore) Load(ctx context.Context, tenant string) (*models.History, error) {
	if err := checkTenant(tenant); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(historyKeyPrefix + tenant))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.NewHistory(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history of %s: %w", tenant, err)
	}
	return decodeDocument(b.compressor, raw)
}

func (b *BadgerStore) Save(ctx context.Context, tenant string, h *models.History, cs models.Changeset) error {
	if err := checkTenant(tenant); err != nil {
		return err
	}
	if cs.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeDocument(b.compressor, h)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(historyKeyPrefix+tenant), data); err != nil {
			return fmt.Errorf("write history of %s: %w", tenant, err)
		}
		return txn.Set([]byte(tenantKeyPrefix+tenant), nil)
	})
}

func (b *BadgerStore) KnownTenants(ctx context.Context) ([]string, error) {
	var out []string
	err := b.scan(ctx, tenantKeyPrefix, func(tenant string, _ []byte) {
		out = append(out, tenant)
	})
	return out, err
}

func (b *BadgerStore) ClaimID(_ context.Context, tenant string) (string, error) {
	if err := checkTenant(tenant); err != nil {
		return "", err
	}
	var claimID string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(configKeyPrefix + tenant))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			claimID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	return claimID, err
}

func (b *BadgerStore) SetClaimID(_ context.Context, tenant, claimID string) error {
	if err := checkTenant(tenant); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := []byte(configKeyPrefix + tenant)
		if claimID == "" {
			return txn.Delete(key)
		}
		return txn.Set(key, []byte(claimID))
	})
}

func (b *BadgerStore) ConfiguredTenants(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := b.scan(ctx, configKeyPrefix, func(tenant string, val []byte) {
		out[tenant] = string(val)
	})
	return out, err
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStore) scan(ctx context.Context, prefix string, fn func(tenant string, val []byte)) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			fn(strings.TrimPrefix(string(item.Key()), prefix), val)
		}
		return nil
	})
}
