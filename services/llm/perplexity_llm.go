// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// defaultPerplexityBaseURL is Perplexity's OpenAI-compatible endpoint.
const defaultPerplexityBaseURL = "https://api.perplexity.ai"

// NewPerplexityClient builds a client for Perplexity's API.
//
// # Description
//
// Perplexity exposes an OpenAI-compatible chat completions API, so the
// client is an OpenAIClient pointed at a different base URL. Reads
// PERPLEXITY_API_KEY (falling back to the container secret at
// /run/secrets/perplexity_api_key), PERPLEXITY_BASE_URL, and
// PERPLEXITY_MODEL.
func NewPerplexityClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("PERPLEXITY_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/perplexity_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the Perplexity API Key from Podman Secrets")
		} else {
			slog.Error("PERPLEXITY_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("PERPLEXITY_API_KEY environment variable not set")
		}
	}
	baseURL := os.Getenv("PERPLEXITY_BASE_URL")
	if baseURL == "" {
		baseURL = defaultPerplexityBaseURL
	}
	model := os.Getenv("PERPLEXITY_MODEL")
	if model == "" {
		model = "sonar"
		slog.Warn("PERPLEXITY_MODEL not set, defaulting to sonar")
	}
	slog.Info("Initializing Perplexity client", "base_url", baseURL, "model", model)
	return NewOpenAIClientWithConfig(apiKey, baseURL, model), nil
}
