// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/kraklabs/solcorpus/internal/retry"
)

// Known classification categories. Anything else the model answers is
// treated as a skip verdict.
const (
	CategoryAccountDerivation = "account_derivation"
	CategoryCPI               = "cpi"
)

const systemPrompt = `You are a Solana smart contract analyzer focusing on tool and SDK usage patterns.

You will be given a Rust function with its attributes and docstring. Classify it into one of the following categories:
- (account_derivation) Account Derivations (Program Derived Address, account address validation, etc)
- (cpi) CPIs (invoke, invoke_signed, anchor cpi calls, etc)

Respond with a single JSON object and nothing else:
{"category": "<account_derivation|cpi|skip>", "description": "<brief description of the function purpose>", "sdk_usage": "<which Solana SDK calls and patterns the function relies on>"}

If the function fits neither category, answer {"category": "skip"}.`

// Analysis is the classification attached to a function. Category is one of
// the Category* constants.
type Analysis struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	SDKUsage    string `json:"sdk_usage"`
}

// Input carries the parts of a function the model sees.
type Input struct {
	Name       string
	Attributes []string
	Docstring  string
	Content    string
}

// Config controls the classifier.
type Config struct {
	Provider ProviderConfig

	// Workers bounds concurrent classification calls. Defaults to 4.
	Workers int

	// RequestsPerSecond is the client-side rate limit shared by all
	// workers. Defaults to 2 rps.
	RequestsPerSecond float64

	// MaxTokens caps the completion length. Defaults to 512.
	MaxTokens int

	Retry retry.Config

	Logger *slog.Logger
}

// Stats summarizes a classification batch.
type Stats struct {
	Analyzed int64
	Skipped  int64
	Failed   int64
}

// Classifier runs classification calls against a Provider with a shared
// rate limiter. A Classifier built without credentials is disabled: every
// call reports no analysis.
type Classifier struct {
	provider  Provider
	limiter   *rate.Limiter
	retryCfg  retry.Config
	workers   int
	maxTokens int
	log       *slog.Logger
	enabled   bool
}

// NewClassifier builds a Classifier. An openai-type provider with no API key
// (neither in cfg nor OPENAI_API_KEY) yields a disabled classifier rather
// than an error.
func NewClassifier(cfg Config) (*Classifier, error) {
	c := newClassifier(cfg)

	providerType := strings.ToLower(cfg.Provider.Type)
	if (providerType == "" || providerType == "openai" || providerType == "openai-compatible") &&
		cfg.Provider.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		c.log.Info("enrich.disabled", "reason", "no API key configured")
		c.enabled = false
		return c, nil
	}

	provider, err := NewProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	c.provider = provider
	return c, nil
}

// NewClassifierWithProvider builds a Classifier around an existing Provider.
func NewClassifierWithProvider(provider Provider, cfg Config) *Classifier {
	c := newClassifier(cfg)
	c.provider = provider
	return c
}

func newClassifier(cfg Config) *Classifier {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	return &Classifier{
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		retryCfg:  cfg.Retry.Normalize(),
		workers:   workers,
		maxTokens: maxTokens,
		log:       log,
		enabled:   true,
	}
}

// Enabled reports whether classification calls will actually be made.
func (c *Classifier) Enabled() bool { return c.enabled }

// Classify sends one function to the model. It returns (nil, nil) when the
// model answers with a skip verdict or when the classifier is disabled, and
// a non-nil error only after retries are exhausted.
func (c *Classifier) Classify(ctx context.Context, in Input) (*Analysis, error) {
	if !c.enabled {
		return nil, nil
	}

	userPrompt := buildPrompt(in)

	var resp *ChatResponse
	err := retry.Do(ctx, c.retryCfg, retry.Transient, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var chatErr error
		resp, chatErr = c.provider.Chat(ctx, ChatRequest{
			Messages: []Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
			MaxTokens: c.maxTokens,
		})
		return chatErr
	})
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", in.Name, err)
	}

	analysis, err := parseAnalysis(resp.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", in.Name, err)
	}
	if analysis == nil {
		return nil, nil
	}

	switch analysis.Category {
	case CategoryAccountDerivation, CategoryCPI:
		return analysis, nil
	default:
		c.log.Warn("enrich.classify.unknown_category",
			"function", in.Name,
			"category", analysis.Category)
		return nil, nil
	}
}

// ClassifyAll classifies a batch with a bounded worker pool. The result
// slice is index-aligned with inputs; failed or skipped entries are nil.
func (c *Classifier) ClassifyAll(ctx context.Context, inputs []Input) ([]*Analysis, Stats) {
	results := make([]*Analysis, len(inputs))
	var stats Stats

	if !c.enabled || len(inputs) == 0 {
		return results, stats
	}

	c.log.Info("enrich.start", "functions", len(inputs), "workers", c.workers)

	var analyzed, skipped, failed atomic.Int64

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < c.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				analysis, err := c.Classify(ctx, inputs[i])
				switch {
				case err != nil:
					failed.Add(1)
					c.log.Warn("enrich.classify.error",
						"function", inputs[i].Name,
						"error", err)
				case analysis == nil:
					skipped.Add(1)
				default:
					results[i] = analysis
					analyzed.Add(1)
				}
			}
		}()
	}

dispatch:
	for i := range inputs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	stats = Stats{
		Analyzed: analyzed.Load(),
		Skipped:  skipped.Load(),
		Failed:   failed.Load(),
	}
	c.log.Info("enrich.done",
		"analyzed", stats.Analyzed,
		"skipped", stats.Skipped,
		"failed", stats.Failed)
	return results, stats
}

func buildPrompt(in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Function name: %s\n", in.Name)
	fmt.Fprintf(&sb, "Attributes: %s\n", strings.Join(in.Attributes, " "))
	fmt.Fprintf(&sb, "Docstring: %s\n\n", in.Docstring)
	fmt.Fprintf(&sb, "Code:\n```rust\n%s\n```\n", in.Content)
	return sb.String()
}

// parseAnalysis decodes the model's JSON answer. Models wrap JSON in
// markdown fences often enough that the braces are located first. A skip
// verdict returns (nil, nil).
func parseAnalysis(content string) (*Analysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var raw struct {
		Category    string `json:"category"`
		Verdict     string `json:"verdict"`
		Description string `json:"description"`
		SDKUsage    string `json:"sdk_usage"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}

	if raw.Category == "" || raw.Category == "skip" || raw.Verdict == "skip" {
		return nil, nil
	}
	return &Analysis{
		Category:    raw.Category,
		Description: raw.Description,
		SDKUsage:    raw.SDKUsage,
	}, nil
}
