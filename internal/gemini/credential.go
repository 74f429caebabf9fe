// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package gemini

import (
	"log/slog"

	"github.com/tenderscope/tenderscope/internal/config"
	"github.com/tenderscope/tenderscope/internal/secrets"
)

// Credential is one usable API key: the secret plus the stable identifier
// under which its health is tracked. Carrying the identifier alongside the
// secret avoids any reverse lookup from raw key values.
type Credential struct {
	Identifier string
	Secret     string
}

// Identifier suffixes per tier, mirroring the configuration-variable
// names the health records are keyed by.
var tierAbbrev = map[string]string{
	config.TierProduction:  "PROD",
	config.TierBatch:       "BATCH",
	config.TierDevelopment: "DEV",
}

func identifierFor(tier, role string) string {
	abbrev, ok := tierAbbrev[tier]
	if !ok {
		abbrev = "DEV"
	}
	return "GEMINI_API_KEY_" + abbrev + "_" + role
}

// ResolvePool selects the ordered credential pool for the given tier:
// primary first, then backup, with empty slots filtered out. tierOverride
// takes precedence over the configured tier. Secret references
// (keyring://) are resolved through sec; a slot whose secret cannot be
// resolved is skipped with a warning rather than failing the call.
//
// An empty pool is not an error; callers treat it as "feature
// unavailable".
func ResolvePool(cfg config.GeminiConfig, tierOverride string, sec secrets.Store) ([]Credential, string) {
	tier := cfg.Tier
	if tierOverride != "" {
		tier = tierOverride
	}

	keys := cfg.Tiers[tier]
	slots := []struct {
		role  string
		value string
	}{
		{"PRIMARY", keys.Primary},
		{"BACKUP", keys.Backup},
	}

	var pool []Credential
	for _, slot := range slots {
		if slot.value == "" {
			continue
		}

		secret := slot.value
		if sec != nil {
			resolved, err := secrets.Resolve(sec, slot.value)
			if err != nil {
				slog.Warn("skipping credential with unresolvable secret",
					"tier", tier,
					"role", slot.role,
					"error", err,
				)
				continue
			}
			secret = resolved
		}

		pool = append(pool, Credential{
			Identifier: identifierFor(tier, slot.role),
			Secret:     secret,
		})
	}

	return pool, tier
}

// Identifiers returns the identifier of each credential in pool order.
func Identifiers(pool []Credential) []string {
	ids := make([]string, len(pool))
	for i, cred := range pool {
		ids[i] = cred.Identifier
	}
	return ids
}
