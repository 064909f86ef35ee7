// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) *test.Hook {
	t.Helper()
	logger, hook := test.NewNullLogger()
	app := newApp(logger)
	err := app.RunContext(context.Background(), append([]string{"memstress", "--workers", "4", "--iterations", "200"}, args...))
	require.NoError(t, err)
	return hook
}

func lastAction(t *testing.T, hook *test.Hook, action string) *logrus.Entry {
	t.Helper()
	for i := len(hook.AllEntries()) - 1; i >= 0; i-- {
		if e := hook.AllEntries()[i]; e.Data["action"] == action {
			return e
		}
	}
	t.Fatalf("no log entry with action %q", action)
	return nil
}

func TestPoolCommand(t *testing.T) {
	for _, kind := range []string{"local", "sync", "lockfree"} {
		t.Run(kind, func(t *testing.T) {
			hook := run(t, "pool", "--kind", kind, "--capacity", "4", "--pressure", "50", "--codec", "lz4")
			e := lastAction(t, hook, "memstress_pool")
			require.Equal(t, kind, e.Data["kind"])
			require.NotZero(t, e.Data["gets"])
		})
	}
}

func TestPoolCommandParksThroughCodec(t *testing.T) {
	hook := run(t, "pool", "--kind", "sync", "--codec", "none", "--payload", "8192")
	plain := lastAction(t, hook, "memstress_pool")
	require.Equal(t, "none", plain.Data["codec"])
	require.NotZero(t, plain.Data["parked"])
	require.Equal(t, uint64(0), plain.Data["parked_packed"])
	require.Equal(t, uint64(0), plain.Data["parked_bytes_saved"])

	hook = run(t, "pool", "--kind", "sync", "--codec", "zstd", "--payload", "8192")
	packed := lastAction(t, hook, "memstress_pool")
	require.Equal(t, "zstd", packed.Data["codec"])
	require.NotZero(t, packed.Data["parked_packed"])
	require.Greater(t, packed.Data["parked_bytes_saved"], uint64(0))
}

func TestPoolCommandRejectsUnknownKind(t *testing.T) {
	logger, _ := test.NewNullLogger()
	err := newApp(logger).RunContext(context.Background(), []string{"memstress", "pool", "--kind", "weird"})
	require.ErrorContains(t, err, "unknown pool kind")

	err = newApp(logger).RunContext(context.Background(), []string{"memstress", "pool", "--codec", "brotli"})
	require.ErrorContains(t, err, "unsupported codec")
}

func TestStackCommand(t *testing.T) {
	hook := run(t, "stack", "--capacity", "4096")
	e := lastAction(t, hook, "memstress_stack")
	require.NotZero(t, e.Data["allocations"])
	require.Equal(t, uint64(0), e.Data["current_bytes"])
}

func TestArenaCommand(t *testing.T) {
	hook := run(t, "arena", "--max-total", "65536")
	e := lastAction(t, hook, "memstress_arena")
	require.Equal(t, uint64(4*200), e.Data["allocations"])
}

func TestAsyncCommand(t *testing.T) {
	hook := run(t, "async")
	e := lastAction(t, hook, "memstress_async")
	// one counter plus one record per iteration
	require.Equal(t, uint64(4*200+1), e.Data["allocations"])
}

func TestInvalidGlobalFlags(t *testing.T) {
	logger, _ := test.NewNullLogger()
	err := newApp(logger).RunContext(context.Background(), []string{"memstress", "--workers", "0", "stack"})
	require.ErrorContains(t, err, "workers must be positive")

	err = newApp(logger).RunContext(context.Background(), []string{"memstress", "--log-level", "loud", "stack"})
	require.ErrorContains(t, err, "parse log level")
}

func TestMetricsServer(t *testing.T) {
	hook := run(t, "--metrics-addr", "127.0.0.1:0", "pool", "--kind", "sync")
	e := lastAction(t, hook, "memstress_metrics_server")
	require.Contains(t, e.Data["addr"], "127.0.0.1:")
}
