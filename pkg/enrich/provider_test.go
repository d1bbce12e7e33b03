// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_UnknownType(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Type: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown classification provider type")
}

func TestOpenAIProvider_Chat(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{
					"message":       map[string]string{"role": "assistant", "content": `{"category":"cpi"}`},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	defer server.Close()

	p, err := NewProvider(ProviderConfig{
		Type:    "openai",
		BaseURL: server.URL + "/v1",
		APIKey:  "sk-test",
		Model:   "test-model",
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages:  []Message{{Role: "user", Content: "classify this"}},
		MaxTokens: 256,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "test-model", gotPayload["model"])
	assert.Equal(t, float64(256), gotPayload["max_tokens"])
	assert.Equal(t, `{"category":"cpi"}`, resp.Message.Content)
	assert.Equal(t, 10, resp.PromptTokens)
	assert.Equal(t, 5, resp.OutputTokens)
}

func TestOpenAIProvider_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p, err := NewProvider(ProviderConfig{Type: "openai", BaseURL: server.URL, APIKey: "sk-test"})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestOllamaProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, false, payload["stream"])

		json.NewEncoder(w).Encode(map[string]any{
			"model":             "qwen2.5-coder",
			"message":           map[string]string{"role": "assistant", "content": `{"category":"skip"}`},
			"prompt_eval_count": 8,
			"eval_count":        3,
		})
	}))
	defer server.Close()

	p, err := NewProvider(ProviderConfig{Type: "ollama", BaseURL: server.URL, Model: "qwen2.5-coder"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "classify this"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"category":"skip"}`, resp.Message.Content)
	assert.Equal(t, 8, resp.PromptTokens)
}

func TestOllamaProvider_RequiresModel(t *testing.T) {
	t.Setenv("OLLAMA_MODEL", "")

	p, err := NewProvider(ProviderConfig{Type: "ollama", BaseURL: "http://localhost:1"})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not specified")
}

func TestMockProvider_DefaultSkips(t *testing.T) {
	p := &MockProvider{}
	resp, err := p.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)

	analysis, err := parseAnalysis(resp.Message.Content)
	require.NoError(t, err)
	assert.Nil(t, analysis)
}
