package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"

	"shd/internal/models"
	"shd/internal/providers"
)

const (
	historyFile = "history.json.zst"
	configFile  = "config.json"
)

type tenantConfig struct {
	ClaimID string `json:"claimId"`
}

// FileStore keeps one directory per tenant under dir.
type FileStore struct {
	dir        string
	compressor CompressorInterface
	logger     providers.Logger
}

func NewFileStore(dir string, compressor CompressorInterface, logger providers.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend requires storage.dataDir")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir, compressor: compressor, logger: logger}, nil
}

func (f *FileStore) tenantPath(tenant, name string) string {
	return filepath.Join(f.dir, tenant, name)
}

func (f *FileStore) Load(_ context.Context, tenant string) (*models.History, error) {
	if err := checkTenant(tenant); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.tenantPath(tenant, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return models.NewHistory(), nil
		}
		return nil, err
	}
	return decodeDocument(f.compressor, data)
}

// Save rewrites the whole document; only an empty changeset is skipped.
func (f *FileStore) Save(_ context.Context, tenant string, h *models.History, cs models.Changeset) error {
	if err := checkTenant(tenant); err != nil {
		return err
	}
	if cs.Empty() {
		return nil
	}
	data, err := encodeDocument(f.compressor, h)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(f.dir, tenant), 0755); err != nil {
		return err
	}
	return writeFileAtomic(f.tenantPath(tenant, historyFile), data)
}

// KnownTenants lists tenant directories holding a history document.
func (f *FileStore) KnownTenants(_ context.Context) ([]string, error) {
	return f.scan(historyFile)
}

func (f *FileStore) ClaimID(_ context.Context, tenant string) (string, error) {
	if err := checkTenant(tenant); err != nil {
		return "", err
	}
	conf, err := f.readConfig(tenant)
	if err != nil {
		return "", err
	}
	return conf.ClaimID, nil
}

func (f *FileStore) SetClaimID(_ context.Context, tenant, claimID string) error {
	if err := checkTenant(tenant); err != nil {
		return err
	}
	if claimID == "" {
		err := os.Remove(f.tenantPath(tenant, configFile))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	data, err := json.Marshal(tenantConfig{ClaimID: claimID})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(f.dir, tenant), 0755); err != nil {
		return err
	}
	return writeFileAtomic(f.tenantPath(tenant, configFile), data)
}

func (f *FileStore) ConfiguredTenants(_ context.Context) (map[string]string, error) {
	tenants, err := f.scan(configFile)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(tenants))
	for _, tenant := range tenants {
		conf, err := f.readConfig(tenant)
		if err != nil {
			f.logger.Warnf(providers.TypeStorage, "Skipping unreadable config of %s: %v", tenant, err)
			continue
		}
		if conf.ClaimID != "" {
			out[tenant] = conf.ClaimID
		}
	}
	return out, nil
}

func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) readConfig(tenant string) (tenantConfig, error) {
	var conf tenantConfig
	data, err := os.ReadFile(f.tenantPath(tenant, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return conf, err
	}
	if err := json.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("decode tenant config: %w", err)
	}
	return conf, nil
}

func (f *FileStore) scan(name string) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || !ValidTenant(e.Name()) {
			continue
		}
		if _, err := os.Stat(f.tenantPath(e.Name(), name)); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// writeFileAtomic writes through a temp file so a crash never leaves a
// truncated document behind.
func writeFileAtomic(fileName string, data []byte) error {
	tmpFile := fileName + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return err
	}

	if _, err = file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}

	return os.Rename(tmpFile, fileName)
}
