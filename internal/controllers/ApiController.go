package controllers

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gookit/validate"
	"github.com/shopspring/decimal"

	"shd/internal/apperrors"
	"shd/internal/models"
	"shd/internal/poller/interfaces"
	"shd/internal/providers"
	"shd/internal/services"
	"shd/internal/storage"
	"shd/internal/structures"
)

const (
	maxRequestBodySize = 1 << 20  // 1 MB
	maxImportBodySize  = 32 << 20 // 32 MB
	maxBackfillHours   = 72
	maxTipSourceLen    = 64
)

type ApiController struct {
	conf      *structures.Config
	logger    providers.Logger
	history   services.HistoryServiceInterface
	configs   storage.ConfigStore
	scheduler interfaces.SchedulerInterface
	cache     providers.CacheProviderInterface
	tenants   TenantResolver
}

func NewApiController(conf *structures.Config, logger providers.Logger, history services.HistoryServiceInterface, configs storage.Backend, scheduler interfaces.SchedulerInterface, cache providers.CacheProviderInterface, tenants TenantResolver) *ApiController {
	return &ApiController{
		conf:      conf,
		logger:    logger,
		history:   history,
		configs:   configs,
		scheduler: scheduler,
		cache:     cache,
		tenants:   tenants,
	}
}

type configRequest struct {
	ClaimID string `json:"claimId" validate:"alphaDash|maxLen:128"`
}

type configResponse struct {
	Tenant  string `json:"tenant"`
	ClaimID string `json:"claimId"`
	Polling bool   `json:"polling"`
}

type eventRequest struct {
	Live    bool   `json:"live"`
	At      *int64 `json:"at"`
	Viewers int    `json:"viewers" validate:"min:0"`
}

type tipRequest struct {
	Ts     *int64           `json:"ts"`
	Amount *decimal.Decimal `json:"amount"`
	Usd    *decimal.Decimal `json:"usd"`
	Source string           `json:"source"`
}

type importResponse struct {
	Segments int                   `json:"segments"`
	Samples  int                   `json:"samples"`
	Tips     int                   `json:"tips"`
	Dropped  models.SanitizeReport `json:"dropped"`
}

// WithTenant resolves the tenant before calling next.
func (ac *ApiController) WithTenant(next func(w http.ResponseWriter, r *http.Request, tenant string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := ac.tenants.Resolve(r)
		if err != nil {
			writeError(w, r, ac.logger, err)
			return
		}
		next(w, r, tenant)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Validation("malformed request body")
	}
	return nil
}

// decodeValidBody decodes v and runs its validate tags.
func decodeValidBody(w http.ResponseWriter, r *http.Request, v any) error {
	if err := decodeBody(w, r, maxRequestBodySize, v); err != nil {
		return err
	}
	if val := validate.Struct(v); !val.Validate() {
		return apperrors.Validation(val.Errors.One())
	}
	return nil
}

func (ac *ApiController) serveFromCacheOrCompute(w http.ResponseWriter, r *http.Request, cacheKey string, compute func() (any, error)) {
	if data, ok := ac.cache.Get(cacheKey); ok {
		writeRaw(w, http.StatusOK, data)
		return
	}

	result, err := compute()
	if err != nil {
		writeError(w, r, ac.logger, err)
		return
	}

	gson, err := json.Marshal(result)
	if err != nil {
		writeError(w, r, ac.logger, err)
		return
	}

	ac.cache.Set(cacheKey, gson)
	writeRaw(w, http.StatusOK, gson)
}

// cacheKey changes whenever the tenant's history is committed.
func (ac *ApiController) cacheKey(kind, tenant string, r *http.Request) string {
	return fmt.Sprintf("%s:%s:%d:%s", kind, tenant, ac.history.Revision(tenant), r.URL.RawQuery)
}

func (ac *ApiController) GetConfig(w http.ResponseWriter, r *http.Request, tenant string) {
	claimID, err := ac.configs.ClaimID(r.Context(), tenant)
	if err != nil {
		writeError(w, r, ac.logger, apperrors.Persistence("failed to read tenant config", err))
		return
	}
	writeJSON(w, http.StatusOK, configResponse{Tenant: tenant, ClaimID: claimID, Polling: ac.polling(tenant)})
}

func (ac *ApiController) SetConfig(w http.ResponseWriter, r *http.Request, tenant string) {
	var payload configRequest
	if err := decodeValidBody(w, r, &payload); err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	claimID := strings.TrimSpace(payload.ClaimID)
	if ac.conf.Moderation.Blocked(tenant, claimID) {
		ac.logger.Warnf(providers.TypePost, "Config change of %s held by moderation", tenant)
		writeError(w, r, ac.logger, apperrors.Blocked("configuration is on moderation hold"))
		return
	}

	if err := ac.configs.SetClaimID(r.Context(), tenant, claimID); err != nil {
		writeError(w, r, ac.logger, apperrors.Persistence("failed to save tenant config", err))
		return
	}
	ac.scheduler.Ensure(tenant, claimID)
	ac.logger.Infof(providers.TypePost, "Claim of %s set to %q", tenant, claimID)
	writeJSON(w, http.StatusOK, configResponse{Tenant: tenant, ClaimID: claimID, Polling: ac.polling(tenant)})
}

func (ac *ApiController) polling(tenant string) bool {
	for _, rec := range ac.scheduler.Health() {
		if rec.Tenant == tenant {
			return !rec.Stopped
		}
	}
	return false
}

func (ac *ApiController) ReceiveEvent(w http.ResponseWriter, r *http.Request, tenant string) {
	var payload eventRequest
	if err := decodeValidBody(w, r, &payload); err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	obs := models.Sample{Live: payload.Live, Viewers: payload.Viewers}
	if payload.At != nil {
		if *payload.At <= 0 {
			writeError(w, r, ac.logger, apperrors.Validation("at must be a positive epoch millisecond timestamp"))
			return
		}
		obs.Ts = *payload.At
	}
	if err := ac.history.RecordObservation(r.Context(), tenant, obs); err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (ac *ApiController) ReceiveTip(w http.ResponseWriter, r *http.Request, tenant string) {
	var payload tipRequest
	if err := decodeBody(w, r, maxRequestBodySize, &payload); err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	if len(payload.Source) > maxTipSourceLen {
		writeError(w, r, ac.logger, apperrors.Validation("source is too long"))
		return
	}
	tip := models.TipEvent{Amount: payload.Amount, Usd: payload.Usd, Source: payload.Source}
	if payload.Ts != nil {
		tip.Ts = *payload.Ts
	}
	if err := ac.history.RecordTip(r.Context(), tenant, tip); err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (ac *ApiController) GetSummary(w http.ResponseWriter, r *http.Request, tenant string) {
	ac.serveFromCacheOrCompute(w, r, ac.cacheKey("summary", tenant, r), func() (any, error) {
		q := parseQuery(r.URL.Query(), ac.history.Now(), true)
		return ac.history.Summary(r.Context(), tenant, q)
	})
}

func (ac *ApiController) GetPerformance(w http.ResponseWriter, r *http.Request, tenant string) {
	ac.serveFromCacheOrCompute(w, r, ac.cacheKey("performance", tenant, r), func() (any, error) {
		q := parseQuery(r.URL.Query(), ac.history.Now(), false)
		recent, _ := strconv.Atoi(r.URL.Query().Get("recent"))
		return ac.history.Performance(r.Context(), tenant, q, min(max(recent, 0), 50))
	})
}

func (ac *ApiController) BackfillCurrent(w http.ResponseWriter, r *http.Request, tenant string) {
	hours, err := strconv.ParseFloat(r.URL.Query().Get("hours"), 64)
	if err != nil || math.IsNaN(hours) || hours <= 0 || hours > maxBackfillHours {
		writeError(w, r, ac.logger, apperrors.Validation(fmt.Sprintf("hours must be within (0, %d]", maxBackfillHours)))
		return
	}
	if err = ac.history.BackfillCurrent(r.Context(), tenant, time.Duration(hours*float64(time.Hour))); err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ac *ApiController) Clear(w http.ResponseWriter, r *http.Request, tenant string) {
	if err := ac.history.Clear(r.Context(), tenant); err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ac *ApiController) Export(w http.ResponseWriter, r *http.Request, tenant string) {
	h, err := ac.history.Export(r.Context(), tenant)
	if err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (ac *ApiController) Import(w http.ResponseWriter, r *http.Request, tenant string) {
	var doc models.History
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, r, ac.logger, apperrors.Validation("malformed history document"))
		return
	}
	report, err := ac.history.Import(r.Context(), tenant, &doc)
	if err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	h, err := ac.history.Export(r.Context(), tenant)
	if err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{
		Segments: len(h.Segments),
		Samples:  len(h.Samples),
		Tips:     len(h.TipEvents),
		Dropped:  report,
	})
}

func (ac *ApiController) GetStatus(w http.ResponseWriter, r *http.Request, tenant string) {
	claimID, err := ac.configs.ClaimID(r.Context(), tenant)
	if err != nil {
		writeError(w, r, ac.logger, apperrors.Persistence("failed to read tenant config", err))
		return
	}
	status, err := ac.history.Status(r.Context(), tenant, claimID)
	if err != nil {
		writeError(w, r, ac.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
