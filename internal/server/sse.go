// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
)

// GenerateStreamRequest is the request body for the SSE streaming
// endpoint.
type GenerateStreamRequest struct {
	Prompt   string `json:"prompt" minLength:"1" doc:"Prompt to generate from"`
	LogUsage bool   `json:"log_usage,omitempty" doc:"Log token usage after the stream completes"`
}

func (s *Server) registerSSERoute() {
	s.router.Post("/api/v1/generate/stream", s.handleGenerateStream)

	// Register the operation in the OpenAPI spec manually. The SSE
	// streaming handler needs raw http.ResponseWriter access, so it
	// cannot use Huma's standard handler signature. The chi route above
	// does the actual work; this entry exists for documentation.
	minPromptLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "generate-stream",
		Method:      http.MethodPost,
		Path:        "/api/v1/generate/stream",
		Summary:     "Stream a generation via SSE",
		Description: "Submit a prompt and receive the generated text as a stream of data events, terminated by a close event. On total credential failure the stream carries a fallback message followed by an error event.",
		Tags:        []string{"generate"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"prompt"},
						Properties: map[string]*huma.Schema{
							"prompt": {
								Type:        "string",
								MinLength:   &minPromptLen,
								Description: "Prompt to generate from",
							},
							"log_usage": {
								Type:        "boolean",
								Description: "Log token usage after the stream completes",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{
							Type:        "string",
							Description: "data events carrying {\"text\": ...} fragments, then {\"event\": \"close\"}",
						},
					},
				},
			},
			"422": {Description: "Validation error (missing prompt)"},
			"503": {Description: "Generation service not configured"},
		},
	})
}

func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	var req GenerateStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, `{"error":"prompt is required"}`, http.StatusUnprocessableEntity)
		return
	}

	if s.gemini == nil {
		http.Error(w, `{"error":"generation service not configured"}`, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// httptest.ResponseRecorder doesn't implement Flusher, but we still
	// write the events for testability.
	flusher, _ := w.(http.Flusher)

	requestID := uuid.NewString()
	writeEvent := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	err := s.gemini.StreamGenerate(r.Context(), req.Prompt, func(text string) {
		writeEvent(map[string]string{"text": text})
	}, req.LogUsage)
	if err != nil {
		// The sink already carried a readable fallback; this event is
		// for clients that track failures.
		slog.Error("stream generation failed", "request_id", requestID, "error", err)
		writeEvent(map[string]string{"error": "generation failed"})
	}

	writeEvent(map[string]string{"event": "close"})
}
