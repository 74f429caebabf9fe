// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package gemini

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
	"google.golang.org/genai"

	tserr "github.com/tenderscope/tenderscope/pkg/errors"
)

// Sink receives incremental text fragments in arrival order.
type Sink func(text string)

// Executor performs the actual provider calls for a single credential.
// Client handles are created lazily and cached per credential identifier;
// singleflight collapses concurrent first use so each credential gets
// exactly one client.
type Executor struct {
	model string

	mu      sync.RWMutex
	clients map[string]*genai.Client
	group   singleflight.Group
}

// NewExecutor returns an Executor issuing requests against the given
// model.
func NewExecutor(model string) *Executor {
	return &Executor{
		model:   model,
		clients: make(map[string]*genai.Client),
	}
}

func (e *Executor) clientFor(ctx context.Context, cred Credential) (*genai.Client, error) {
	e.mu.RLock()
	client, ok := e.clients[cred.Identifier]
	e.mu.RUnlock()
	if ok {
		return client, nil
	}

	v, err, _ := e.group.Do(cred.Identifier, func() (any, error) {
		e.mu.RLock()
		cached, ok := e.clients[cred.Identifier]
		e.mu.RUnlock()
		if ok {
			return cached, nil
		}

		created, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cred.Secret,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		e.clients[cred.Identifier] = created
		e.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return nil, tserr.Wrap(err, tserr.CodeGeminiUpstreamFailure, "creating provider client",
			tserr.FieldCredential(cred.Identifier))
	}
	return v.(*genai.Client), nil
}

// Stream issues a streaming generation request and forwards every text
// fragment to sink as it arrives. Provider errors raised mid-stream
// propagate unmodified so the classifier can inspect them. Usage
// telemetry, when requested, is logged only after the stream has fully
// drained.
func (e *Executor) Stream(ctx context.Context, cred Credential, prompt string, sink Sink, logUsage bool) error {
	client, err := e.clientFor(ctx, cred)
	if err != nil {
		return err
	}

	var usage *genai.GenerateContentResponseUsageMetadata
	for result, streamErr := range client.Models.GenerateContentStream(ctx, e.model, genai.Text(prompt), nil) {
		if streamErr != nil {
			return streamErr
		}

		for _, cand := range result.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					sink(part.Text)
				}
			}
		}

		if result.UsageMetadata != nil {
			usage = result.UsageMetadata
		}
	}

	if logUsage && usage != nil {
		slog.Info("token usage",
			"credential", cred.Identifier,
			"model", e.model,
			"input_tokens", usage.PromptTokenCount,
			"output_tokens", usage.CandidatesTokenCount,
			"total_tokens", usage.TotalTokenCount,
		)
	}
	return nil
}

// Generate issues a one-shot request and returns the full response text.
func (e *Executor) Generate(ctx context.Context, cred Credential, prompt string) (string, error) {
	client, err := e.clientFor(ctx, cred)
	if err != nil {
		return "", err
	}

	resp, err := client.Models.GenerateContent(ctx, e.model, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
