package controllers

import (
	"net/http"
	"strings"

	"shd/internal/apperrors"
	"shd/internal/storage"
	"shd/internal/structures"
)

const (
	DefaultTenant = "default"
	TenantHeader  = "X-Tenant-ID"
)

// TenantResolver maps a request to the tenant it acts on. Authentication
// happens upstream; in hosted mode the auth layer forwards the tenant id.
type TenantResolver interface {
	Resolve(r *http.Request) (string, error)
}

type ModeTenantResolver struct {
	hosted bool
}

func (tr *ModeTenantResolver) Resolve(r *http.Request) (string, error) {
	if !tr.hosted {
		return DefaultTenant, nil
	}
	tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
	if tenant == "" {
		return "", apperrors.SessionRequired()
	}
	if !storage.ValidTenant(tenant) {
		return "", apperrors.Validation("malformed tenant id")
	}
	return tenant, nil
}

func NewTenantResolver(conf *structures.Config) TenantResolver {
	return &ModeTenantResolver{hosted: conf.Hosted()}
}
