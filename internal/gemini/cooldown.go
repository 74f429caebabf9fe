// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package gemini

import (
	"math/rand/v2"
	"time"
)

const (
	// First failure cools down for a short fixed interval; from the
	// second consecutive failure on, backoff doubles from a 2-minute base.
	backoffFirst = 1 * time.Minute
	backoffBase  = 2 * time.Minute

	// Up to 10% jitter on top of the computed backoff, so a fleet of
	// processes does not retry in lockstep.
	jitterFraction = 0.10

	// The upstream provider resets daily quotas at midnight Pacific,
	// regardless of where the caller runs.
	quotaResetZone = "America/Los_Angeles"
)

// CooldownPolicy decides how long a credential stays inadmissible after a
// failure. Below the daily-failure threshold it applies exponential
// backoff with jitter; above it, the credential is parked until the
// provider's next daily quota reset.
type CooldownPolicy struct {
	DailyFailureThreshold int
	Ceiling               time.Duration

	loc        *time.Location
	nowFunc    func() time.Time // for testing
	jitterFunc func() float64   // for testing; returns [0, 1)
}

// NewCooldownPolicy builds a policy with the given threshold and backoff
// ceiling. Non-positive arguments fall back to the defaults (10 failures,
// 120 minutes).
func NewCooldownPolicy(dailyFailureThreshold int, ceiling time.Duration) *CooldownPolicy {
	if dailyFailureThreshold <= 0 {
		dailyFailureThreshold = 10
	}
	if ceiling <= 0 {
		ceiling = 120 * time.Minute
	}
	return &CooldownPolicy{
		DailyFailureThreshold: dailyFailureThreshold,
		Ceiling:               ceiling,
		loc:                   quotaLocation(),
		nowFunc:               time.Now,
		jitterFunc:            rand.Float64,
	}
}

// SetNowFunc overrides the time source (for testing).
func (p *CooldownPolicy) SetNowFunc(fn func() time.Time) { p.nowFunc = fn }

// SetJitterFunc overrides the jitter source (for testing).
func (p *CooldownPolicy) SetJitterFunc(fn func() float64) { p.jitterFunc = fn }

// Cooldown computes the hold-off duration after a failure, given the
// post-increment failure counters.
func (p *CooldownPolicy) Cooldown(consecutiveFailures, dailyFailures int) time.Duration {
	if dailyFailures > p.DailyFailureThreshold {
		return p.untilNextQuotaReset()
	}
	return p.backoff(consecutiveFailures)
}

func (p *CooldownPolicy) backoff(consecutiveFailures int) time.Duration {
	var computed time.Duration
	switch {
	case consecutiveFailures <= 1:
		computed = backoffFirst
	case consecutiveFailures-2 >= 62: // shift would overflow int64
		computed = p.Ceiling
	default:
		computed = backoffBase << (consecutiveFailures - 2)
		if computed <= 0 || computed > p.Ceiling {
			computed = p.Ceiling
		}
	}

	jitter := time.Duration(float64(computed) * jitterFraction * p.jitterFunc())
	return min(computed+jitter, p.Ceiling)
}

// untilNextQuotaReset returns the time remaining until the next midnight
// in the provider's quota timezone.
func (p *CooldownPolicy) untilNextQuotaReset() time.Duration {
	now := p.nowFunc().In(p.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, p.loc)
	return midnight.Sub(now)
}

func quotaLocation() *time.Location {
	loc, err := time.LoadLocation(quotaResetZone)
	if err != nil {
		// Hosts without tzdata get a fixed PST offset; an hour of DST
		// skew only shifts the quota-reset estimate, it never breaks
		// admission.
		return time.FixedZone("PST", -8*60*60)
	}
	return loc
}
