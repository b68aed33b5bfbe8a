package devstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlagsTransitions(t *testing.T) {
	var f Flags
	require.False(t, f.IsReadOnly())
	f.SetReadOnly()
	require.True(t, f.IsReadOnly())

	require.False(t, f.IsFailure())
	f.SetFailure()
	require.True(t, f.IsFailure())

	require.False(t, f.IsLogOverflow())
	f.SetLogOverflow(true)
	require.True(t, f.IsLogOverflow())
	f.SetLogOverflow(false)
	require.False(t, f.IsLogOverflow())
}

func TestTaskGateSingleRunner(t *testing.T) {
	var g TaskGate
	require.True(t, g.TryEnter())
	require.False(t, g.TryEnter()) // second concurrent trigger coalesces

	again := g.Leave()
	require.True(t, again) // a trigger arrived while running, caller should loop
}

func TestTaskGateReleasesWhenIdle(t *testing.T) {
	var g TaskGate
	require.True(t, g.TryEnter())
	again := g.Leave()
	require.False(t, again)
	require.True(t, g.TryEnter()) // gate is free again
}

func TestOverflowWarnerRateLimits(t *testing.T) {
	w := NewOverflowWarner(50*time.Millisecond, "")
	ctx := context.Background()
	require.True(t, w.Warn(ctx, "dev0"))
	require.False(t, w.Warn(ctx, "dev0"))
	time.Sleep(60 * time.Millisecond)
	require.True(t, w.Warn(ctx, "dev0"))
}
