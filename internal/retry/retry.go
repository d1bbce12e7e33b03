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

// Package retry provides bounded retry with exponential backoff and full
// jitter for the network-facing stages (RPC scan, repository fetch,
// enrichment calls).
package retry

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Config controls retry behavior.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultConfig is a sane default for external API calls.
var DefaultConfig = Config{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Multiplier:     2.0,
}

// Normalize fills in zero values to avoid busy loops from misconfiguration.
func (c Config) Normalize() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if c.Multiplier <= 1.0 {
		c.Multiplier = DefaultConfig.Multiplier
	}
	return c
}

// Do runs fn up to cfg.MaxAttempts times, sleeping between attempts with
// exponential backoff and full jitter. Non-retryable errors (per classify)
// abort immediately. The context is honored both during fn and while sleeping.
func Do(ctx context.Context, cfg Config, classify func(error) bool, fn func(ctx context.Context) error) error {
	cfg = cfg.Normalize()

	var err error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if classify != nil && !classify(err) {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		sleep := BackoffWithJitter(cfg.InitialBackoff, attempt, cfg.Multiplier, cfg.MaxBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}

// BackoffWithJitter returns base * mult^attempt capped at capDur, with full
// jitter in [0, d].
func BackoffWithJitter(base time.Duration, attempt int, mult float64, capDur time.Duration) time.Duration {
	exp := float64(base)
	for i := 0; i < attempt; i++ {
		exp *= mult
	}
	d := time.Duration(exp)
	if d > capDur {
		d = capDur
	}
	if d <= 0 {
		return base
	}
	return time.Duration(randInt63n(int64(d) + 1))
}

// Transient classifies an error as retryable based on its text: network
// timeouts, connection failures, and HTTP 429/5xx are transient.
// Best-effort classification that avoids importing client internals.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	retrySubstr := []string{
		"timeout", "timed out", "temporarily unavailable",
		"connection refused", "connection reset", "deadline exceeded",
		"too many requests", "rate limit", "eof",
	}
	for _, s := range retrySubstr {
		if strings.Contains(msg, s) {
			return true
		}
	}
	httpRetry := []string{" 429", " 500", " 502", " 503", " 504", "code 429", "code=429"}
	for _, s := range httpRetry {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var (
	randMu  sync.Mutex
	randSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	randMu.Lock()
	defer randMu.Unlock()
	return randSrc.Int63n(n)
}
