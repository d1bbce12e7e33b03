// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := Config{MaxAttempts: 4, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := Do(context.Background(), cfg, Transient, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableAbortsImmediately(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Millisecond}

	calls := 0
	err := Do(context.Background(), cfg, Transient, func(ctx context.Context) error {
		calls++
		return errors.New("account not found")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	calls := 0
	err := Do(context.Background(), cfg, Transient, func(ctx context.Context) error {
		calls++
		return errors.New("request timed out")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_HonorsCancellationWhileSleeping(t *testing.T) {
	cfg := Config{MaxAttempts: 10, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, Transient, func(ctx context.Context) error {
			return errors.New("timeout")
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestTransient_Classification(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"dial tcp: connection refused", true},
		{"context deadline exceeded", true},
		{"server responded with 429 Too Many Requests", true},
		{"http status 503", true},
		{"unexpected EOF", true},
		{"repository not found", false},
		{"invalid base58 input", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Transient(errors.New(tt.msg)), tt.msg)
	}
	assert.False(t, Transient(nil))
}

func TestBackoffWithJitter_Capped(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := BackoffWithJitter(100*time.Millisecond, attempt, 2.0, time.Second)
		assert.LessOrEqual(t, d, time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
