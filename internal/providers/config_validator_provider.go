package providers

import (
	"errors"
	"fmt"
	"shd/internal/structures"

	"github.com/gookit/validate"
)

type CnfValidatorInterface interface {
	Validate() error
}

type CnfValidator struct {
	conf *structures.Config
}

// Validate runs the struct tag rules, then the cross-field checks tags cannot express.
func (cv *CnfValidator) Validate() error {
	v := validate.Struct(cv.conf)
	if !v.Validate() {
		return v.Errors
	}

	c := cv.conf
	switch c.Storage.Backend {
	case structures.BackendFile, structures.BackendBadger:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.dataDir is required for the %s backend", c.Storage.Backend)
		}
	case structures.BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for the redis backend")
		}
	}
	if c.Hosted() && c.Storage.Backend != structures.BackendRedis {
		return errors.New("hosted mode requires the redis backend")
	}
	if c.Poller.Enabled && c.Poller.ApiURL == "" {
		return errors.New("poller.apiUrl is required when the poller is enabled")
	}
	if c.Poller.Enabled && c.History.FreshnessWindow < 2*c.Poller.Interval {
		return fmt.Errorf("history.freshnessWindow (%s) must be at least twice poller.interval (%s)",
			c.History.FreshnessWindow, c.Poller.Interval)
	}
	if c.History.PadRatio > 1 {
		return errors.New("history.padRatio must be within (0, 1]")
	}
	if c.Storage.Redis.MaxFetch > 0 && c.Storage.Redis.MaxFetch < c.History.MaxSamples {
		return errors.New("storage.redis.maxFetch must not be below history.maxSamples")
	}
	return nil
}

func NewCnfValidator(conf *structures.Config) CnfValidatorInterface {
	return &CnfValidator{conf: conf}
}
