// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

// Package gemini is the resilient call layer in front of the Gemini
// API: it resolves the credential pool for the active deployment tier,
// gates each credential on its persisted health record, dispatches
// attempts by failover or round-robin, and streams response text back to
// the caller.
package gemini

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tenderscope/tenderscope/internal/config"
	"github.com/tenderscope/tenderscope/internal/secrets"
	"github.com/tenderscope/tenderscope/internal/store"
)

// FallbackMessage is written to the streaming sink when every credential
// is blocked or failed, so UIs always have something to display.
const FallbackMessage = "The AI service is temporarily unavailable. Please try again in a few minutes."

// Service is the caller-facing facade over the dispatch machinery.
type Service struct {
	cfg       config.GeminiConfig
	secrets   secrets.Store
	executor  *Executor
	templates TemplateReader
	catalog   Catalog

	dispatcher *Dispatcher
	call       CallFunc
}

// Option customises a Service.
type Option func(*Service)

// WithTemplates replaces the template reader.
func WithTemplates(t TemplateReader) Option {
	return func(s *Service) { s.templates = t }
}

// WithCatalog replaces the tool catalog.
func WithCatalog(c Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithCallFunc replaces the provider call (for testing).
func WithCallFunc(call CallFunc) Option {
	return func(s *Service) { s.call = call }
}

// NewService wires the call layer from configuration. The tool catalog
// is optional; a missing or unreadable catalog only disables
// catalog-backed prompt optimization.
func NewService(cfg config.GeminiConfig, health store.HealthStore, sec secrets.Store, opts ...Option) *Service {
	policy := NewCooldownPolicy(cfg.DailyFailureThreshold, time.Duration(cfg.BackoffCeilingMinutes)*time.Minute)

	s := &Service{
		cfg:       cfg,
		secrets:   sec,
		executor:  NewExecutor(cfg.Model),
		templates: NewDirTemplates(cfg.TemplateDir),
	}
	if cfg.CatalogPath != "" {
		catalog, err := LoadCatalog(cfg.CatalogPath)
		if err != nil {
			slog.Warn("tool catalog unavailable", "path", cfg.CatalogPath, "error", err)
		} else {
			s.catalog = catalog
		}
	}

	s.call = func(ctx context.Context, cred Credential, att Attempt) error {
		if att.Once {
			text, err := s.executor.Generate(ctx, cred, att.Prompt)
			if err != nil {
				return err
			}
			att.Sink(text)
			return nil
		}
		return s.executor.Stream(ctx, cred, att.Prompt, att.Sink, att.LogUsage)
	}

	for _, opt := range opts {
		opt(s)
	}

	s.dispatcher = NewDispatcher(health, NewGate(health), NewRecorder(health, policy), s.call)
	return s
}

// Available reports whether at least one credential is configured for
// the active tier. It does not consult health records; a fully
// cooling-down pool is still "configured".
func (s *Service) Available() bool {
	pool, _ := ResolvePool(s.cfg, "", s.secrets)
	return len(pool) > 0
}

// StreamGenerate runs prompt against the credential pool and forwards
// response fragments to sink in arrival order. On total failure the sink
// receives a human-readable fallback message before the error is
// returned, so callers can both display something and log the cause.
func (s *Service) StreamGenerate(ctx context.Context, prompt string, sink Sink, logUsage bool) error {
	pool, tier := ResolvePool(s.cfg, "", s.secrets)
	strategy := s.strategyFor(tier)

	err := s.dispatcher.Dispatch(ctx, strategy, pool, Attempt{
		Prompt:   prompt,
		Sink:     sink,
		LogUsage: logUsage,
	})
	if err != nil {
		slog.Error("generation failed",
			"tier", tier,
			"strategy", strategy,
			"error", err,
		)
		sink(FallbackMessage)
		return err
	}
	return nil
}

// OptimizePrompt rewrites currentContent using the template for kind,
// the requested philosophy and framework, and, when toolID is given,
// context from the tool catalog. Unlike the streaming path it returns
// only an error on failure; there is no fallback text.
func (s *Service) OptimizePrompt(ctx context.Context, kind, currentContent, philosophy, framework, toolID string) (string, error) {
	template, err := s.templates.Read(kind)
	if err != nil {
		return "", err
	}

	var tool *Tool
	if toolID != "" && s.catalog != nil {
		tool, err = s.catalog.Lookup(toolID)
		if err != nil {
			return "", err
		}
	}

	prompt := buildOptimizePrompt(template, currentContent, philosophy, framework, tool)

	pool, tier := ResolvePool(s.cfg, "", s.secrets)
	var out strings.Builder
	err = s.dispatcher.Dispatch(ctx, s.strategyFor(tier), pool, Attempt{
		Prompt: prompt,
		Sink:   func(text string) { out.WriteString(text) },
		Once:   true,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// strategyFor resolves the dispatch strategy for a tier. Production
// always uses failover so the primary/backup ordering is deterministic;
// other tiers honor the configured override.
func (s *Service) strategyFor(tier string) string {
	if tier == config.TierProduction {
		return config.StrategyFailover
	}
	if s.cfg.Strategy != "" {
		return s.cfg.Strategy
	}
	return config.StrategyFailover
}
