package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottleAllowsFirstCall(t *testing.T) {
	th := &throttle{}
	require.True(t, th.allow(time.Now()))
}

func TestThrottleDropsWithinWindow(t *testing.T) {
	th := &throttle{}
	now := time.Now()
	require.True(t, th.allow(now))
	require.False(t, th.allow(now.Add(100*time.Millisecond)))
}

func TestThrottleAllowsAfterWindowElapses(t *testing.T) {
	th := &throttle{}
	now := time.Now()
	require.True(t, th.allow(now))
	require.True(t, th.allow(now.Add(throttleWindow+time.Millisecond)))
}

func TestThrottleConcurrentCallsAllowExactlyOne(t *testing.T) {
	th := &throttle{}
	now := time.Now()
	const n = 50
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- th.allow(now)
		}()
	}
	allowed := 0
	for i := 0; i < n; i++ {
		if <-results {
			allowed++
		}
	}
	require.Equal(t, 1, allowed)
}
