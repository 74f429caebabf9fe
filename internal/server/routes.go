// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tenderscope/tenderscope/internal/store"
	tserr "github.com/tenderscope/tenderscope/pkg/errors"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "optimize-prompt",
		Method:      http.MethodPost,
		Path:        "/api/v1/prompt/optimize",
		Summary:     "Optimize a prompt",
		Description: "Rewrites the given content using the optimizer template for the requested kind.",
		Tags:        []string{"generate"},
	}, s.handleOptimizePrompt)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-keys",
		Method:      http.MethodGet,
		Path:        "/api/v1/keys",
		Summary:     "List credential health records",
		Tags:        []string{"keys"},
	}, s.handleListKeys)

	huma.Register(s.api, huma.Operation{
		OperationID: "reset-keys",
		Method:      http.MethodPost,
		Path:        "/api/v1/keys/reset",
		Summary:     "Reset all credential health records",
		Description: "Clears failure counters and cooldowns for every credential. Intended for the daily quota rollover.",
		Tags:        []string{"keys"},
	}, s.handleResetKeys)

	huma.Register(s.api, huma.Operation{
		OperationID: "service-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Service status",
		Tags:        []string{"system"},
	}, s.handleStatus)
}

// --- Request/Response types for huma ---

type optimizePromptInput struct {
	Body struct {
		Kind           string `json:"kind" minLength:"1" doc:"Template kind (title, description, features, faq, keywords)"`
		CurrentContent string `json:"current_content" doc:"Content to rewrite"`
		Philosophy     string `json:"philosophy,omitempty" doc:"Writing philosophy"`
		Framework      string `json:"framework,omitempty" doc:"Prompt framework"`
		ToolID         string `json:"tool_id,omitempty" doc:"Catalog tool for extra context"`
	}
}

type optimizePromptOutput struct {
	Body struct {
		OptimizedText string `json:"optimized_text"`
	}
}

type listKeysInput struct {
	Status string `query:"status" enum:"HEALTHY,UNHEALTHY," doc:"Filter by health status"`
}

// KeyError is one recorded failure sample.
type KeyError struct {
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	Timestamp    time.Time `json:"timestamp"`
}

// KeyStatus is the API view of one credential health record.
type KeyStatus struct {
	Identifier          string     `json:"identifier"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	DailyFailures       int        `json:"daily_failures"`
	LastCheckedAt       time.Time  `json:"last_checked_at"`
	RetryAt             *time.Time `json:"retry_at,omitempty"`
	RecentErrors        []KeyError `json:"recent_errors,omitempty"`
}

type listKeysOutput struct {
	Body struct {
		Keys []KeyStatus `json:"keys"`
	}
}

type resetKeysOutput struct {
	Body struct {
		Reset int64 `json:"reset" doc:"Number of records reset"`
	}
}

type statusOutput struct {
	Body struct {
		Status          string `json:"status"`
		GeminiAvailable bool   `json:"gemini_available"`
	}
}

// --- Handlers ---

func (s *Server) handleOptimizePrompt(ctx context.Context, in *optimizePromptInput) (*optimizePromptOutput, error) {
	if s.gemini == nil {
		return nil, huma.NewError(http.StatusServiceUnavailable, "generation service not configured")
	}

	text, err := s.gemini.OptimizePrompt(ctx, in.Body.Kind, in.Body.CurrentContent, in.Body.Philosophy, in.Body.Framework, in.Body.ToolID)
	if err != nil {
		return nil, apiError(err)
	}

	out := &optimizePromptOutput{}
	out.Body.OptimizedText = text
	return out, nil
}

func (s *Server) handleListKeys(ctx context.Context, in *listKeysInput) (*listKeysOutput, error) {
	if s.health == nil {
		return nil, huma.NewError(http.StatusServiceUnavailable, "health store not configured")
	}

	records, err := s.health.ListByStatus(ctx, store.Status(in.Status))
	if err != nil {
		return nil, apiError(err)
	}

	out := &listKeysOutput{}
	out.Body.Keys = make([]KeyStatus, 0, len(records))
	for _, rec := range records {
		out.Body.Keys = append(out.Body.Keys, keyStatusFrom(rec))
	}
	return out, nil
}

func (s *Server) handleResetKeys(ctx context.Context, _ *struct{}) (*resetKeysOutput, error) {
	if s.health == nil {
		return nil, huma.NewError(http.StatusServiceUnavailable, "health store not configured")
	}

	n, err := s.health.ResetAll(ctx)
	if err != nil {
		return nil, apiError(err)
	}

	out := &resetKeysOutput{}
	out.Body.Reset = n
	return out, nil
}

func (s *Server) handleStatus(_ context.Context, _ *struct{}) (*statusOutput, error) {
	out := &statusOutput{}
	out.Body.Status = "ok"
	out.Body.GeminiAvailable = s.gemini != nil && s.gemini.Available()
	return out, nil
}

func keyStatusFrom(rec *store.KeyHealth) KeyStatus {
	ks := KeyStatus{
		Identifier:          rec.Identifier,
		Status:              string(rec.Status),
		ConsecutiveFailures: rec.ConsecutiveFailures,
		DailyFailures:       rec.DailyFailures,
		LastCheckedAt:       rec.LastCheckedAt,
		RetryAt:             rec.RetryAt,
	}
	for _, sample := range rec.RecentErrors {
		ks.RecentErrors = append(ks.RecentErrors, KeyError{
			ErrorType:    sample.ErrorType,
			ErrorMessage: sample.ErrorMessage,
			Timestamp:    sample.Timestamp,
		})
	}
	return ks
}

// apiError translates a service error into the matching HTTP status.
func apiError(err error) error {
	return huma.NewError(tserr.HTTPStatus(err), err.Error())
}
