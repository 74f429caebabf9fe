// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package gemini

import (
	"errors"
	"strings"

	"google.golang.org/genai"
)

// Status codes worth trying the next credential for. Auth failures (401,
// 403) count as retriable because a different key in the pool may still
// be valid.
var retriableCodes = map[int]bool{
	401: true,
	403: true,
	429: true,
}

// Message markers the provider uses for quota, auth and transport
// failures. Matched case-insensitively against the full error text.
var retriableMarkers = []string{
	"429",
	"quota",
	"resource exhausted",
	"resource_exhausted",
	"rate limit",
	"401",
	"403",
	"permission",
	"unauthenticated",
	"api key not valid",
	"api_key_invalid",
	"fetch failed",
	"connection refused",
	"connection reset",
}

// IsRetriable reports whether a provider error is worth retrying with the
// next credential in the pool. Everything else is treated as a
// caller-input problem and stops the attempt loop.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) && retriableCodes[apiErr.Code] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range retriableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// errorTypeOf produces a short classification label for a health-record
// error sample.
func errorTypeOf(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return "APIError"
	}
	return "Error"
}
