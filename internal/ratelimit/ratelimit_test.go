package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func setupLimiterTest(t *testing.T, rps float64, burst int) *Keyed {
	t.Helper()
	k := New(rps, burst)
	t.Cleanup(k.Stop)
	return k
}

func TestAllow_BurstThenDeny(t *testing.T) {
	for _, burst := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("burst %d", burst), func(t *testing.T) {
			k := setupLimiterTest(t, 0.01, burst)

			for i := range burst {
				assert.True(t, k.Allow("203.0.113.7"), "call %d", i+1)
			}
			assert.False(t, k.Allow("203.0.113.7"))
		})
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	k := setupLimiterTest(t, 0.01, 1)

	require.True(t, k.Allow("vis-a"))
	assert.False(t, k.Allow("vis-a"))
	assert.True(t, k.Allow("vis-b"))
	assert.Equal(t, 2, k.Len())
}

func TestWait_PacesCalls(t *testing.T) {
	k := setupLimiterTest(t, 10, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, k.Wait(ctx, "vis-a"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, k.Wait(ctx, "vis-a"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWait_ContextDeadline(t *testing.T) {
	k := setupLimiterTest(t, 0.1, 1)
	require.True(t, k.Allow("vis-a"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, k.Wait(ctx, "vis-a"))
}

func TestSweep_ForgetsIdleKeys(t *testing.T) {
	k := setupLimiterTest(t, 0.01, 1)

	base := time.Now()
	k.now = func() time.Time { return base }
	k.Allow("stale")

	k.now = func() time.Time { return base.Add(DefaultIdleTTL - time.Second) }
	k.Allow("recent")

	k.now = func() time.Time { return base.Add(DefaultIdleTTL + time.Second) }
	assert.Equal(t, 1, k.sweep())
	assert.Equal(t, 1, k.Len())

	assert.True(t, k.Allow("stale"), "a forgotten key starts with a full bucket")
	assert.False(t, k.Allow("recent"))
}

func TestStop_Idempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	k := New(1, 1)
	k.Stop()
	k.Stop()
}
