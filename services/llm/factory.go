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
	"errors"
	"fmt"

	"github.com/AleutianAI/chatgateway/services/gateway/datatypes"
)

// ErrUnknownProvider is returned when a request names a provider outside
// the factory's static table. Callers treat this as a configuration
// error and must not touch any persistent state afterwards.
var ErrUnknownProvider = errors.New("unknown chat provider")

// ClientOptions carries per-provider call options resolved by the factory.
type ClientOptions struct {
	Model string
}

// factoryEntry binds a provider enum value to a shared client handle and
// the concrete model name sent on each call.
type factoryEntry struct {
	client LLMClient
	model  string
}

// ClientFactory resolves provider enum values to LLM clients.
//
// # Description
//
// The factory holds one long-lived client handle per backend family and
// a static table mapping each provider value to (handle, model name).
// Several provider values share a handle; the model name travels per
// call via GenerationParams.Model. The table is built once at startup
// and never mutated, so lookups need no locking.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type ClientFactory struct {
	entries map[datatypes.Provider]factoryEntry
}

// NewClientFactory builds the provider table over the two backend handles.
//
// Panics if either handle is nil; the gateway cannot route chat requests
// without both backend families configured.
func NewClientFactory(openaiClient, perplexityClient LLMClient) *ClientFactory {
	if openaiClient == nil {
		panic("NewClientFactory: openaiClient is required")
	}
	if perplexityClient == nil {
		panic("NewClientFactory: perplexityClient is required")
	}
	return &ClientFactory{
		entries: map[datatypes.Provider]factoryEntry{
			datatypes.ProviderOpenAIGPT4o:        {client: openaiClient, model: "gpt-4o"},
			datatypes.ProviderOpenAIGPT4oMini:    {client: openaiClient, model: "gpt-4o-mini"},
			datatypes.ProviderOpenAIGPT4Turbo:    {client: openaiClient, model: "gpt-4-turbo"},
			datatypes.ProviderPerplexitySonar:    {client: perplexityClient, model: "sonar"},
			datatypes.ProviderPerplexitySonarPro: {client: perplexityClient, model: "sonar-pro"},
		},
	}
}

// Resolve returns the client handle and call options for a provider.
//
// # Outputs
//
//   - LLMClient: Shared handle for the provider's backend family.
//   - ClientOptions: Model name for the specific provider value.
//   - error: ErrUnknownProvider (wrapped with the offending value) when
//     the provider is not in the table.
func (f *ClientFactory) Resolve(provider datatypes.Provider) (LLMClient, ClientOptions, error) {
	entry, ok := f.entries[provider]
	if !ok {
		return nil, ClientOptions{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return entry.client, ClientOptions{Model: entry.model}, nil
}
