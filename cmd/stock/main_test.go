package main

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dev-aquilas225/stock-sub001/internal/app"
	_ "github.com/Dev-aquilas225/stock-sub001/internal/testing/guard"
)

func memoryRuntime(t *testing.T) *app.Runtime {
	t.Helper()
	cfg := &app.Config{StoreDriver: app.StoreDriverMemory, MaxCommitAttempts: 3, RateLimitPerMinute: 10}
	rt, err := app.NewRuntime(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func TestMainSkipsInTestMode(t *testing.T) {
	require.True(t, app.InTestMode())
	main()
}

func TestRunDispatch(t *testing.T) {
	rt := memoryRuntime(t)
	ctx := context.Background()

	require.Equal(t, 0, run(ctx, rt, "help", nil))
	require.Equal(t, 2, run(ctx, rt, "bogus", nil))
	require.Equal(t, 1, run(ctx, rt, "migrate", nil))
	require.Equal(t, 1, run(ctx, rt, "jobs", []string{"stats"}))
	require.Equal(t, 1, run(ctx, rt, "reconcile", []string{"--order", "42"}))
	require.Equal(t, 2, run(ctx, rt, "reconcile", []string{"--unknown"}))
}

func TestPrintJSON(t *testing.T) {
	require.Equal(t, 0, printJSON(io.Discard, map[string]int{"moved": 2}))
	require.Equal(t, 1, printJSON(io.Discard, func() {}))
}
